package core

import (
	"time"

	"pkt.systems/pslog"
	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/internal/templating"
	"pkt.systems/snipline/schema"
)

// RuntimeDeps captures the collaborators of a content runtime. Transport is
// required; the rest are optional.
type RuntimeDeps struct {
	Page      schema.PageID
	Transport channel.Transport
	Prompter  templating.Prompter
	Events    EventSink
	Logger    pslog.Logger
	Now       func() time.Time
}
