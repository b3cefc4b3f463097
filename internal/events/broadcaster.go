package events

import "github.com/google/uuid"

// Broadcaster is an explicit publish operation into the real-time channel.
// Publish calls are synchronous and return the number of connections the
// event was delivered to, so fan-out is directly observable and testable.
type Broadcaster interface {
	// PublishGlobal delivers the event to every connected client.
	PublishGlobal(ev *Event) int
	// PublishToShow delivers the event to the room subscribed to the show.
	PublishToShow(showID uuid.UUID, ev *Event) int
}

// Mirror receives a copy of every published event. Mirrors are best-effort:
// they must not block and their failures never affect delivery to clients.
type Mirror interface {
	MirrorGlobal(ev *Event)
	MirrorToShow(showID uuid.UUID, ev *Event)
}

// Tee publishes through a primary Broadcaster and mirrors each event to any
// number of secondary sinks. The returned recipient count is the primary's.
type Tee struct {
	primary Broadcaster
	mirrors []Mirror
}

// NewTee wraps primary with the given mirrors.
func NewTee(primary Broadcaster, mirrors ...Mirror) *Tee {
	return &Tee{primary: primary, mirrors: mirrors}
}

func (t *Tee) PublishGlobal(ev *Event) int {
	n := t.primary.PublishGlobal(ev)
	for _, m := range t.mirrors {
		m.MirrorGlobal(ev)
	}
	return n
}

func (t *Tee) PublishToShow(showID uuid.UUID, ev *Event) int {
	n := t.primary.PublishToShow(showID, ev)
	for _, m := range t.mirrors {
		m.MirrorToShow(showID, ev)
	}
	return n
}
