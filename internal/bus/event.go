package bus

import "time"

// Kind names an event. Kinds are dot-namespaced so subscribers can filter by prefix.
type Kind string

const (
	// Drafts namespace. Payload: drafts.Update.
	DraftUpdated Kind = "drafts.updated"
	DraftFailed  Kind = "drafts.failed"
	DraftPosted  Kind = "drafts.posted"
	DraftStuck   Kind = "drafts.stuck"

	// Auth namespace. Payload: auth.SessionChange.
	SessionRefreshed Kind = "auth.refreshed"
	LoggedOut        Kind = "auth.logged_out"

	// Cache namespace. Payload: cache.TrimReport.
	CacheTrimmed Kind = "cache.trimmed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// PayloadAs returns the event payload as T when it has that type.
func PayloadAs[T any](evt Event) (T, bool) {
	p, ok := evt.Payload.(T)
	return p, ok
}
