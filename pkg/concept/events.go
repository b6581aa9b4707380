package concept

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Mutation actions recorded in the event log.
const (
	ActionInsert    = "insert"
	ActionRotation  = "rotation"
	ActionPromotion = "promotion"
	ActionEviction  = "eviction"
)

// Event records one structural mutation of the index, for audit and
// snapshot purposes.
type Event struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Action    string             `json:"action"`
	NodeIDs   []string           `json:"node_ids"`
	Reason    string             `json:"reason"`
	Scores    map[string]float64 `json:"scores,omitempty"`
}

func newEvent(action, reason string, scores map[string]float64, nodeIDs ...string) Event {
	id, _ := gonanoid.New()
	return Event{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Action:    action,
		NodeIDs:   nodeIDs,
		Reason:    reason,
		Scores:    scores,
	}
}
