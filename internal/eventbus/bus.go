package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventPending marks a trigger being buffered on a surface.
	EventPending EventType = "pending"
	// EventPendingCleared marks a buffered trigger being dropped.
	EventPendingCleared EventType = "pending_cleared"
	// EventSuggestion invites the user to create a shortcut for an unknown trigger.
	EventSuggestion EventType = "suggestion"
	// EventSuggestionDismissed marks the suggestion going away.
	EventSuggestionDismissed EventType = "suggestion_dismissed"
	// EventExpanded marks a completed expansion.
	EventExpanded EventType = "expanded"
	// EventFailed marks an expansion that failed visibly.
	EventFailed EventType = "failed"
	// EventNotice carries a non-intrusive page notice such as invalidation.
	EventNotice EventType = "notice"
)

// Event represents a UI-facing event emitted by a content runtime.
type Event struct {
	Type     EventType
	Page     schema.PageID
	Surface  schema.SurfaceID
	Trigger  string
	Shortcut *schema.Shortcut
	Message  string
	Err      error
}

// Bus fanouts events to per-page subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.PageID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.PageID]map[chan Event]struct{}),
		log:   logger,
		depth: 64,
	}
}

// Subscribe registers a subscriber for the page and returns a channel + cancel.
func (b *Bus) Subscribe(pageID schema.PageID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	pageSubs := b.subs[pageID]
	if pageSubs == nil {
		pageSubs = make(map[chan Event]struct{})
		b.subs[pageID] = pageSubs
	}
	pageSubs[ch] = struct{}{}
	count := len(pageSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("page", pageID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[pageID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, pageID)
				}
			}
			close(ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.With("page", pageID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// Publish delivers event to every subscriber of its page. Full subscribers
// drop the event instead of blocking the publisher.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	dropped := 0
	b.mu.Lock()
	for sub := range b.subs[event.Page] {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("page", event.Page).Trace("eventbus dropped", "count", dropped, "type", event.Type)
	}
}
