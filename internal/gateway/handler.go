package gateway

import (
	"context"

	"github.com/danmuck/reportgate/internal/protocol"
)

// Handler turns one decoded request event into one response event. It is
// called concurrently from every connection goroutine.
type Handler interface {
	Handle(ctx context.Context, event protocol.ChannelEvent) protocol.ChannelEvent
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, event protocol.ChannelEvent) protocol.ChannelEvent

func (f HandlerFunc) Handle(ctx context.Context, event protocol.ChannelEvent) protocol.ChannelEvent {
	return f(ctx, event)
}

// StaticReply answers every request with the same event.
func StaticReply(reply protocol.ChannelEvent) Handler {
	return HandlerFunc(func(context.Context, protocol.ChannelEvent) protocol.ChannelEvent {
		return reply
	})
}
