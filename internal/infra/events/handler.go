package events

// Handler processes domain events.
type Handler interface {
	// Handles returns the event types this handler subscribes to.
	Handles() []string

	// Handle processes a single event.
	Handle(event Event) error
}
