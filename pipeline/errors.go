package pipeline

import (
	"fmt"

	"github.com/unkn0wn-root/tscache/record"
)

// InvalidateError reports cache invalidations that failed after a mutation
// already committed. The mutation itself succeeded; the named keys may serve
// stale values until another invalidation lands or their records are
// rewritten.
type InvalidateError struct {
	Ts   record.Timestamp
	Keys []string // keys whose invalidation failed, in call order
	Errs []error  // parallel to Keys
}

func (e *InvalidateError) Error() string {
	switch len(e.Keys) {
	case 0:
		return fmt.Sprintf("pipeline: invalidate at %s: unknown error", e.Ts)
	case 1:
		return fmt.Sprintf("pipeline: invalidate %q at %s failed: %v", e.Keys[0], e.Ts, e.Errs[0])
	default:
		return fmt.Sprintf("pipeline: invalidate %d keys at %s failed (first %q: %v)",
			len(e.Keys), e.Ts, e.Keys[0], e.Errs[0])
	}
}

func (e *InvalidateError) Unwrap() []error { return e.Errs }
