package concept

import (
	"regexp"
	"strings"
)

// Status is a node's placement confidence. Transitions are one-way:
// tentative nodes become stable once promotion criteria hold, and a
// stable node never reverts.
type Status string

const (
	StatusTentative Status = "tentative"
	StatusStable    Status = "stable"
)

// Summary is one micro-summary retained on a node.
type Summary struct {
	Text          string `json:"text"`
	SupportWeight int    `json:"support_weight"`
}

// Node is one entry in the flat node table. Parent/child relationships
// are kept as ids into the table rather than pointers, so structural
// operations (rotation in particular) stay easy to validate.
type Node struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	ParentID string   `json:"parent_id,omitempty"` // empty only for the root
	Children []string `json:"children,omitempty"`  // ordered, oldest first

	// LabelVec is the embedding of Label alone; Centroid additionally
	// reflects supporting chunks and descendant centroids.
	LabelVec []float32 `json:"label_vec"`
	Centroid []float32 `json:"centroid"`

	// ownMean/ownCount track the running average of this node's direct
	// evidence (label vector plus supporting chunk vectors), which feeds
	// the subtree centroid recomputation.
	OwnMean  []float32 `json:"own_mean"`
	OwnCount int       `json:"own_count"`

	SupportCount int       `json:"support_count"`
	Status       Status    `json:"status"`
	Summaries    []Summary `json:"summaries,omitempty"`

	// MarginHolds counts consecutive supporting insertions whose
	// similarity margin held. It resets to zero whenever the margin
	// fails, so promotion requires an uninterrupted run.
	MarginHolds int `json:"margin_holds"`
}

// recordSupport advances the promotion state machine by one supporting
// insertion and reports whether this insertion promoted the node.
// Promotion requires both enough accumulated support and the placement
// margin holding across the last threshold consecutive insertions.
func (n *Node) recordSupport(marginHeld bool, threshold int) bool {
	n.SupportCount++
	if marginHeld {
		n.MarginHolds++
	} else {
		n.MarginHolds = 0
	}
	if n.Status != StatusTentative {
		return false
	}
	if n.SupportCount >= threshold && n.MarginHolds >= threshold {
		n.Status = StatusStable
		return true
	}
	return false
}

// addOwnVector folds v into the node's running evidence mean.
func (n *Node) addOwnVector(v []float32) {
	if len(v) == 0 {
		return
	}
	if n.OwnMean == nil {
		n.OwnMean = make([]float32, len(v))
	}
	count := float32(n.OwnCount)
	for i := range n.OwnMean {
		n.OwnMean[i] = (n.OwnMean[i]*count + v[i]) / (count + 1)
	}
	n.OwnCount++
}

// Clone returns a deep copy, so readers never alias index-internal state.
func (n *Node) Clone() *Node {
	c := *n
	c.Children = append([]string(nil), n.Children...)
	c.LabelVec = append([]float32(nil), n.LabelVec...)
	c.Centroid = append([]float32(nil), n.Centroid...)
	c.OwnMean = append([]float32(nil), n.OwnMean...)
	c.Summaries = append([]Summary(nil), n.Summaries...)
	return &c
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// nodeID derives a stable id from a label, so re-inserting the same
// concept lands on the same node and snapshots replay deterministically.
func nodeID(label string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(label), "_"), "_")
	if len(s) > 48 {
		s = s[:48]
	}
	if s == "" {
		s = "node"
	}
	return "node_" + s
}
