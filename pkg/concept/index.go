package concept

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tobyv/researchmem/internal/observability"
	"github.com/tobyv/researchmem/internal/tracing"
	"github.com/tobyv/researchmem/pkg/embedding"
)

// RootID is the id of the synthetic root every scope's index starts with.
const RootID = "root"

var (
	ErrNodeNotFound = errors.New("concept node not found")
	ErrEmptyLabel   = errors.New("concept label is empty")
)

// Config holds the tuning knobs for insertion and promotion.
type Config struct {
	// RelatednessThreshold is the minimum cosine similarity for a concept
	// to descend into an existing child during insertion.
	RelatednessThreshold float64
	// RelatednessMargin is how much a child must beat the parent's own
	// similarity before descent (avoids over-attaching to a marginally
	// better but still weak match).
	RelatednessMargin float64
	// PromotionThreshold is the support count a tentative node needs, with
	// the margin held across that many consecutive insertions, to become
	// stable.
	PromotionThreshold int
	// SummaryRetentionCount bounds the micro-summaries kept per node.
	SummaryRetentionCount int
}

func DefaultConfig() Config {
	return Config{
		RelatednessThreshold:  0.35,
		RelatednessMargin:     0.05,
		PromotionThreshold:    3,
		SummaryRetentionCount: 3,
	}
}

// Index is the hierarchical concept index for one scope. Structural
// mutations are serialized by a single writer lock; reads may run
// concurrently and may observe a slightly stale but never torn tree.
type Index struct {
	scopeID    string
	cfg        Config
	embedder   embedding.Provider
	comparator Comparator
	logger     zerolog.Logger

	mu     sync.RWMutex
	nodes  map[string]*Node
	events []Event
}

// NewIndex builds an index containing only the root node.
func NewIndex(ctx context.Context, scopeID string, cfg Config, embedder embedding.Provider, comparator Comparator, logger zerolog.Logger) (*Index, error) {
	rootVec, err := embedOne(ctx, embedder, RootID)
	if err != nil {
		return nil, fmt.Errorf("embed root: %w", err)
	}
	root := &Node{
		ID:       RootID,
		Label:    RootID,
		LabelVec: rootVec,
		Centroid: append([]float32(nil), rootVec...),
		OwnMean:  append([]float32(nil), rootVec...),
		OwnCount: 1,
		Status:   StatusStable,
	}
	return &Index{
		scopeID:    scopeID,
		cfg:        cfg,
		embedder:   embedder,
		comparator: comparator,
		logger:     logger.With().Str("component", "concept_index").Str("scope_id", scopeID).Logger(),
		nodes:      map[string]*Node{RootID: root},
	}, nil
}

// Insert places a concept label into the hierarchy and returns the id of
// the node it landed on. Re-inserting a known label counts as a
// supporting insertion for its node instead of mutating structure.
func (i *Index) Insert(ctx context.Context, label string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "researchmem.concept", "concept.insert",
		attribute.String("scope_id", i.scopeID))
	defer span.End()
	start := time.Now()

	label = strings.TrimSpace(label)
	if label == "" {
		return "", ErrEmptyLabel
	}
	vec, err := embedOne(ctx, i.embedder, label)
	if err != nil {
		return "", fmt.Errorf("embed concept %q: %w", label, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var id string
	if existing, ok := i.nodes[nodeID(label)]; ok {
		i.supportLocked(ctx, existing, vec, "")
		id = existing.ID
	} else {
		id, err = i.insertAt(ctx, label, vec, RootID)
		if err != nil {
			return "", err
		}
	}

	observability.RecordConceptInsert(time.Since(start))
	observability.SetConceptNodes(len(i.nodes))
	return id, nil
}

// insertAt runs one step of the insertion walk at cur. Callers hold the
// write lock.
func (i *Index) insertAt(ctx context.Context, label string, vec []float32, curID string) (string, error) {
	cur, ok := i.nodes[curID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, curID)
	}

	// The root is maximally general, so the walk always descends from it.
	rel := MoreSpecific
	if curID != RootID {
		var err error
		rel, err = i.comparator.CompareGenerality(ctx, label, cur.Label)
		if err != nil {
			i.logger.Warn().Err(err).Str("label", label).Msg("generality comparison failed, treating as same_level")
			rel = SameLevel
		}
	}

	switch rel {
	case SameLevel:
		parentID := cur.ParentID
		if parentID == "" {
			parentID = curID
		}
		return i.attachLocked(label, vec, parentID, "same_level sibling"), nil

	case MoreGeneral:
		return i.rotateLocked(label, vec, cur), nil

	default: // MoreSpecific
		simParent := embedding.Cosine(vec, cur.Centroid)
		for _, cid := range cur.Children {
			child, ok := i.nodes[cid]
			if !ok {
				continue
			}
			sim := embedding.Cosine(vec, child.Centroid)
			if sim >= i.cfg.RelatednessThreshold && sim >= simParent+i.cfg.RelatednessMargin {
				// First qualifying child wins; order is insertion order.
				return i.insertAt(ctx, label, vec, cid)
			}
		}
		return i.attachLocked(label, vec, curID, "more_specific attach"), nil
	}
}

// attachLocked creates a tentative node under parentID.
func (i *Index) attachLocked(label string, vec []float32, parentID, reason string) string {
	id := nodeID(label)
	parent := i.nodes[parentID]
	n := &Node{
		ID:           id,
		Label:        label,
		ParentID:     parentID,
		LabelVec:     append([]float32(nil), vec...),
		Centroid:     append([]float32(nil), vec...),
		OwnMean:      append([]float32(nil), vec...),
		OwnCount:     1,
		SupportCount: 1,
		MarginHolds:  1,
		Status:       StatusTentative,
	}
	i.nodes[id] = n
	parent.Children = append(parent.Children, id)
	i.recomputeUpLocked(parentID)
	i.events = append(i.events, newEvent(ActionInsert, reason, map[string]float64{
		"parent_sim": embedding.Cosine(vec, parent.Centroid),
	}, id, parentID))
	i.logger.Debug().Str("node_id", id).Str("parent_id", parentID).Str("reason", reason).Msg("concept attached")
	return id
}

// rotateLocked inserts label as the new parent of cur: cur and its whole
// subtree move under the new node, and the old parent's child slot is
// taken over in place so sibling order survives.
func (i *Index) rotateLocked(label string, vec []float32, cur *Node) string {
	id := nodeID(label)
	n := &Node{
		ID:           id,
		Label:        label,
		ParentID:     cur.ParentID,
		Children:     []string{cur.ID},
		LabelVec:     append([]float32(nil), vec...),
		OwnMean:      append([]float32(nil), vec...),
		OwnCount:     1,
		SupportCount: 1,
		MarginHolds:  1,
		Status:       StatusTentative,
	}
	i.nodes[id] = n

	parent := i.nodes[cur.ParentID]
	for idx, cid := range parent.Children {
		if cid == cur.ID {
			parent.Children[idx] = id
			break
		}
	}
	cur.ParentID = id

	// The new parent's centroid is the union of the rotated node and its
	// own label evidence; recomputation walks up to the root.
	i.recomputeUpLocked(id)
	i.events = append(i.events, newEvent(ActionRotation, "more_general promotion above "+cur.ID, map[string]float64{
		"label_sim": embedding.Cosine(vec, cur.Centroid),
	}, id, cur.ID))
	i.logger.Debug().Str("node_id", id).Str("rotated_below", cur.ID).Msg("concept rotated above existing node")
	return id
}

// Attach records a supporting chunk for an existing node: support count,
// centroid, promotion state, and micro-summaries all advance.
func (i *Index) Attach(ctx context.Context, id string, vec []float32, text string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	n, ok := i.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	i.supportLocked(ctx, n, vec, text)
	return nil
}

// supportLocked applies one supporting insertion to n.
func (i *Index) supportLocked(ctx context.Context, n *Node, vec []float32, text string) {
	marginHeld := true
	scores := map[string]float64{}
	if len(vec) > 0 {
		simSelf := embedding.Cosine(vec, n.Centroid)
		scores["self_sim"] = simSelf
		if parent, ok := i.nodes[n.ParentID]; ok {
			simParent := embedding.Cosine(vec, parent.Centroid)
			scores["parent_sim"] = simParent
			marginHeld = simSelf >= simParent+i.cfg.RelatednessMargin
		}
		n.addOwnVector(vec)
		i.recomputeUpLocked(n.ID)
	}

	if n.recordSupport(marginHeld, i.cfg.PromotionThreshold) {
		i.events = append(i.events, newEvent(ActionPromotion, "support and margin thresholds met", scores, n.ID))
		i.logger.Debug().Str("node_id", n.ID).Int("support_count", n.SupportCount).Msg("concept promoted to stable")
	}

	if text != "" {
		i.mergeSummaryLocked(ctx, n, text)
	}
}

// mergeSummaryLocked folds a supporting chunk's text into n's bounded
// micro-summary list, evicting the lowest-support summary on overflow.
func (i *Index) mergeSummaryLocked(ctx context.Context, n *Node, text string) {
	base := ""
	baseWeight := -1
	for _, s := range n.Summaries {
		if s.SupportWeight > baseWeight {
			base, baseWeight = s.Text, s.SupportWeight
		}
	}
	merged, err := i.comparator.MergeSummaries(ctx, base, text)
	if err != nil {
		i.logger.Warn().Err(err).Str("node_id", n.ID).Msg("summary merge failed, keeping existing summaries")
		return
	}
	for idx := range n.Summaries {
		if n.Summaries[idx].Text == merged {
			n.Summaries[idx].SupportWeight++
			return
		}
	}
	n.Summaries = append(n.Summaries, Summary{Text: merged, SupportWeight: 1})

	if limit := i.cfg.SummaryRetentionCount; limit > 0 && len(n.Summaries) > limit {
		evict := 0
		for idx, s := range n.Summaries {
			if s.SupportWeight < n.Summaries[evict].SupportWeight {
				evict = idx
			}
		}
		evicted := n.Summaries[evict]
		n.Summaries = append(n.Summaries[:evict], n.Summaries[evict+1:]...)
		i.events = append(i.events, newEvent(ActionEviction, "summary retention bound exceeded", map[string]float64{
			"support_weight": float64(evicted.SupportWeight),
		}, n.ID))
	}
}

// recomputeUpLocked rebuilds centroids from id up to the root, so every
// ancestor reflects the union of its subtree's contributing evidence.
// Contributions are weighted by evidence count, so a child backed by fifty
// chunks pulls the ancestor centroid harder than a child backed by one.
func (i *Index) recomputeUpLocked(id string) {
	for cur := id; cur != ""; {
		n, ok := i.nodes[cur]
		if !ok {
			return
		}
		vecs := make([][]float32, 0, len(n.Children)+1)
		weights := make([]float64, 0, len(n.Children)+1)
		if len(n.OwnMean) > 0 {
			w := float64(n.OwnCount)
			if w < 1 {
				w = 1
			}
			vecs = append(vecs, n.OwnMean)
			weights = append(weights, w)
		}
		for _, cid := range n.Children {
			if child, ok := i.nodes[cid]; ok && len(child.Centroid) > 0 {
				vecs = append(vecs, child.Centroid)
				weights = append(weights, float64(i.subtreeCountLocked(cid)))
			}
		}
		if c := embedding.WeightedCentroid(vecs, weights); c != nil {
			n.Centroid = c
		}
		cur = n.ParentID
	}
}

// subtreeCountLocked sums OwnCount over a node and its descendants, with a
// floor of one per node so evidence-free nodes still register.
func (i *Index) subtreeCountLocked(id string) int {
	n, ok := i.nodes[id]
	if !ok {
		return 0
	}
	count := n.OwnCount
	if count < 1 {
		count = 1
	}
	for _, cid := range n.Children {
		count += i.subtreeCountLocked(cid)
	}
	return count
}

// ResolvePath returns the labels from just below the root down to the
// node whose centroid best matches the query. An empty slice means the
// query resolved to the root itself.
func (i *Index) ResolvePath(ctx context.Context, query string) ([]string, error) {
	qv, err := embedOne(ctx, i.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	bestID, bestSim := RootID, -1.0
	for id, n := range i.nodes {
		sim := embedding.Cosine(qv, n.Centroid)
		if sim > bestSim || (sim == bestSim && id < bestID) {
			bestID, bestSim = id, sim
		}
	}
	return i.pathLocked(bestID), nil
}

// PathOf returns the labels from just below the root down to id.
func (i *Index) PathOf(id string) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if _, ok := i.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return i.pathLocked(id), nil
}

func (i *Index) pathLocked(id string) []string {
	var labels []string
	for cur := id; cur != "" && cur != RootID; {
		n, ok := i.nodes[cur]
		if !ok {
			break
		}
		labels = append(labels, n.Label)
		cur = n.ParentID
	}
	for l, r := 0, len(labels)-1; l < r; l, r = l+1, r-1 {
		labels[l], labels[r] = labels[r], labels[l]
	}
	return labels
}

// PathString renders a resolved path in the "A > B > C" form used by
// evidence chunks and search filters.
func PathString(labels []string) string {
	return strings.Join(labels, " > ")
}

// Get returns a deep copy of one node.
func (i *Index) Get(id string) (*Node, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n, ok := i.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.Clone(), nil
}

// Nodes returns deep copies of all nodes, ordered by id.
func (i *Index) Nodes() []*Node {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*Node, 0, len(i.nodes))
	for _, n := range i.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Events returns a copy of the mutation log in append order.
func (i *Index) Events() []Event {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]Event(nil), i.events...)
}

// Len returns the node count including the root.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.nodes)
}

// Restore replaces the index contents from snapshot records. The node set
// must contain a root and form a tree.
func (i *Index) Restore(nodes []*Node, events []Event) error {
	table := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		table[n.ID] = n.Clone()
	}
	if _, ok := table[RootID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, RootID)
	}
	for _, n := range table {
		if n.ID == RootID {
			continue
		}
		parent, ok := table[n.ParentID]
		if !ok {
			return fmt.Errorf("node %s references missing parent %s", n.ID, n.ParentID)
		}
		found := false
		for _, cid := range parent.Children {
			if cid == n.ID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("node %s missing from parent %s child list", n.ID, n.ParentID)
		}
	}
	// Every node must be reachable from the root, which also rules out
	// detached cycles.
	seen := map[string]bool{}
	stack := []string{RootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := table[id]; ok {
			stack = append(stack, n.Children...)
		}
	}
	if len(seen) != len(table) {
		return errors.New("snapshot node set is not a tree rooted at root")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.nodes = table
	i.events = append([]Event(nil), events...)
	observability.SetConceptNodes(len(i.nodes))
	return nil
}

func embedOne(ctx context.Context, p embedding.Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, embedding.ErrEmbeddingFailed
	}
	return vecs[0], nil
}
