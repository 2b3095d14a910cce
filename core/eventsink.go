package core

import "pkt.systems/snipline/internal/eventbus"

// EventSink receives page events from a content runtime. *eventbus.Bus
// satisfies it.
type EventSink interface {
	Publish(event eventbus.Event)
}

type discardSink struct{}

func (discardSink) Publish(eventbus.Event) {}
