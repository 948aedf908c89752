package tripsync

import "context"

// Engine is the server-side synchronization core. It is stateless and
// request-scoped: every method reads and writes through the store and holds no
// locks between calls. Callers that expect concurrent pushes for the same user
// should serialize them above the engine (see cmd/syncd).
type Engine struct {
	store  TxStore
	limits Limits
}

// NewEngine builds an engine over a transactional store. Zero limits fields
// fall back to defaults.
func NewEngine(store TxStore, limits Limits) *Engine {
	return &Engine{store: store, limits: limits.withDefaults()}
}

// Limits returns the engine's active guardrails.
func (e *Engine) Limits() Limits { return e.limits }

// DetectConflicts classifies a batch without applying anything.
func (e *Engine) DetectConflicts(ctx context.Context, userID string, req PushRequest) (Classification, error) {
	return DetectConflicts(ctx, e.store, userID, req)
}
