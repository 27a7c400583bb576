// Package events defines resource change events and the publishers that emit them.
package events

// ChangeKind is the kind of mutation a change event reports.
type ChangeKind string

const (
	KindCreated ChangeKind = "created"
	KindUpdated ChangeKind = "updated"
	KindDeleted ChangeKind = "deleted"
)

// ResourceChangedEvent is emitted after a model instance is created, updated or
// deleted through a resource action.
type ResourceChangedEvent struct {
	Service       string         `json:"service,omitempty"`
	Resource      string         `json:"resource"`
	Action        string         `json:"action"`
	Kind          ChangeKind     `json:"kind"`
	ID            any            `json:"id,omitempty"`
	ChangedFields []string       `json:"changedFields,omitempty"`
	Record        map[string]any `json:"record,omitempty"`
	Timestamp     string         `json:"timestamp"`
}
