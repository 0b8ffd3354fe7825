package tools

import (
	"context"

	"github.com/tallyfinance/tally/internal/ledger"
)

// Tool execution context keys.
// These replace mutable setter fields on tool instances, making tools thread-safe
// for concurrent execution. Values are injected into context by the pipeline
// and read by individual tools during Execute().

type toolContextKey string

const (
	ctxUser    toolContextKey = "tool_user"
	ctxMessage toolContextKey = "tool_message"
	ctxSource  toolContextKey = "tool_source"
)

// WithToolUser attaches the resolved account for this message.
func WithToolUser(ctx context.Context, u *ledger.User) context.Context {
	return context.WithValue(ctx, ctxUser, u)
}

// ToolUserFromCtx returns the resolved account, or nil when the sender
// is not linked to one.
func ToolUserFromCtx(ctx context.Context) *ledger.User {
	v, _ := ctx.Value(ctxUser).(*ledger.User)
	return v
}

// WithToolMessage attaches the raw inbound text.
func WithToolMessage(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, ctxMessage, msg)
}

func ToolMessageFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxMessage).(string)
	return v
}

// WithToolSource attaches the channel name the message arrived on.
func WithToolSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, ctxSource, source)
}

func ToolSourceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSource).(string)
	return v
}
