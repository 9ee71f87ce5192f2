package realtime

import (
	"log"
)

// Bridge routes typed events from REST mutations to the members of the
// event's room. It holds no state of its own: it reads the registry, never
// writes it. Delivery is fire-and-forget; a dead socket is skipped and the
// originating mutation never hears about it.
type Bridge struct {
	registry *Registry
}

func NewBridge(registry *Registry) *Bridge {
	return &Bridge{registry: registry}
}

// Publish delivers an event to every connection currently in the event's
// room, including the acting user's own connection. Filtering of
// self-originated events is a client concern.
//
// There is no acknowledgment barrier between the REST response and the
// broadcast: either may reach its client first.
func (b *Bridge) Publish(event Event) {
	b.deliver(event, b.registry.Members(event.Room()))
}

// PublishExcept delivers an event to the room, skipping one connection. The
// gateway uses it for presence joins, where the joiner bootstraps from the
// join ack instead.
func (b *Bridge) PublishExcept(event Event, exceptConnID string) {
	b.deliver(event, b.registry.MembersExcept(event.Room(), exceptConnID))
}

func (b *Bridge) deliver(event Event, conns []Conn) {
	if len(conns) == 0 {
		return
	}
	data, err := Encode(event)
	if err != nil {
		log.Printf("realtime: encode %s: %v", event.Kind(), err)
		return
	}
	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			// Socket mid-disconnect; its own cleanup removes it.
			log.Printf("realtime: drop %s to %s: %v", event.Kind(), conn.ID(), err)
		}
	}
}
