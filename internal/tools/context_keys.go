package tools

import "context"

// Typed context keys carrying per-call request context into tool Execute methods.
// Using unexported key types avoids collisions with other packages' context values.
type ctxKey int

const (
	ctxKeyChannel ctxKey = iota
	ctxKeyChatID
	ctxKeyPeerKind
	ctxKeySandboxKey
	ctxKeyWorkspace
	ctxKeyAsyncCB
)

func WithToolChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ctxKeyChannel, channel)
}

func ToolChannelFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyChannel).(string)
	return v
}

func WithToolChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, ctxKeyChatID, chatID)
}

func ToolChatIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyChatID).(string)
	return v
}

func WithToolPeerKind(ctx context.Context, peerKind string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerKind, peerKind)
}

func ToolPeerKindFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyPeerKind).(string)
	return v
}

// WithToolSandboxKey attaches the per-session sandbox scope key (thread-safe
// alternative to SandboxAware.SetSandboxKey, which races across concurrent calls).
func WithToolSandboxKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKeySandboxKey, key)
}

func ToolSandboxKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySandboxKey).(string)
	return v
}

// WithToolWorkspace attaches the per-user/session workspace root (managed mode).
func WithToolWorkspace(ctx context.Context, workspace string) context.Context {
	return context.WithValue(ctx, ctxKeyWorkspace, workspace)
}

func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyWorkspace).(string)
	return v
}

func WithToolAsyncCB(ctx context.Context, cb AsyncCallback) context.Context {
	return context.WithValue(ctx, ctxKeyAsyncCB, cb)
}

func ToolAsyncCBFromCtx(ctx context.Context) AsyncCallback {
	v, _ := ctx.Value(ctxKeyAsyncCB).(AsyncCallback)
	return v
}
