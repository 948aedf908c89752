package tripsync

// Default guardrails. The batch limit counts trips plus deletion ids; the page
// size bounds one pull response.
const (
	DefaultMaxBatchSize = 100
	DefaultPullPageSize = 50
)

// Limits centralizes the engine's two numeric guardrails. The server never
// generates sync versions: it validates that the pushing device supplied one
// and stamps it verbatim onto every record the push touches.
type Limits struct {
	MaxBatchSize int // max trips + deletion ids per push
	PullPageSize int // max trips per pull page
}

// DefaultLimits returns the standard guardrails.
func DefaultLimits() Limits {
	return Limits{
		MaxBatchSize: DefaultMaxBatchSize,
		PullPageSize: DefaultPullPageSize,
	}
}

// withDefaults fills zero fields so a partially configured Limits is usable.
func (l Limits) withDefaults() Limits {
	if l.MaxBatchSize <= 0 {
		l.MaxBatchSize = DefaultMaxBatchSize
	}
	if l.PullPageSize <= 0 {
		l.PullPageSize = DefaultPullPageSize
	}
	return l
}

// validatePush enforces the pre-store invariants: a positive client-supplied
// version and a bounded batch. Both are checked before any store access.
func (l Limits) validatePush(req PushRequest) error {
	if req.SyncVersion <= 0 {
		return ErrVersionRequired
	}
	if len(req.Trips)+len(req.DeletedTripIDs) > l.MaxBatchSize {
		return ErrBatchTooLarge
	}
	return nil
}
