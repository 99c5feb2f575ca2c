package health

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// Guard runs c with its own timeout and converts a panic, a hang or an
// invalid status into an ERROR result naming the check. It never panics and
// always returns within timeout (plus scheduling slack) when timeout > 0.
//
// A check that ignores its context keeps running in the background after
// Guard returns; its late result is discarded. Use a Runner when the same
// checks run repeatedly.
func Guard(ctx context.Context, c Check, timeout time.Duration) Result {
	r, _ := guard(ctx, c, timeout)
	return r
}

// guard is Guard that also returns, when the check was abandoned, a channel
// closed once the abandoned invocation returns. It is nil otherwise.
func guard(ctx context.Context, c Check, timeout time.Duration) (Result, <-chan struct{}) {
	name := c.Name()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan Result, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				ch <- Error(name, fmt.Sprintf("check panicked: %v", r),
					"this is a bug in the check; re-run with --log-level debug and report it").
					WithDetail("code", core.CodeCheckPanicked).
					WithDetail("stack", string(debug.Stack()))
			}
		}()
		r := c.Run(ctx)
		r.Name = name
		if !r.Status.Valid() {
			r = Error(name, fmt.Sprintf("check returned invalid status %d", int(r.Status)), "")
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		// prefer a result that raced with the deadline
		select {
		case r := <-ch:
			return r, nil
		default:
		}
		return contextResult(name, ctx.Err(), timeout), finished
	}
}

// Runner guards checks across repeated runs. A check abandoned after its
// timeout is not launched again until the abandoned invocation returns.
type Runner struct {
	timeout time.Duration
	logger  *logging.Logger

	mu    sync.Mutex
	stuck map[string]int
}

// NewRunner creates a runner enforcing timeout on every check.
func NewRunner(timeout time.Duration, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		timeout: timeout,
		logger:  logger,
		stuck:   make(map[string]int),
	}
}

// Run guards one invocation of c. While an earlier invocation of the same
// check is still running past its timeout, Run reports ERROR without
// launching c.
func (r *Runner) Run(ctx context.Context, c Check) Result {
	name := c.Name()
	r.mu.Lock()
	hung := r.stuck[name] > 0
	r.mu.Unlock()
	if hung {
		return Error(name, "previous run still hung",
			"the check ignored its timeout and has not returned; restart the process if it never does").
			WithDetail("code", core.CodeCheckTimedOut)
	}

	res, abandoned := guard(ctx, c, r.timeout)
	if abandoned == nil {
		return res
	}

	r.mu.Lock()
	r.stuck[name]++
	r.mu.Unlock()
	r.logger.Warn("check abandoned; it keeps running in the background",
		"check", name, "timeout", r.timeout)

	go func() {
		<-abandoned
		r.mu.Lock()
		if r.stuck[name]--; r.stuck[name] <= 0 {
			delete(r.stuck, name)
		}
		r.mu.Unlock()
		r.logger.Info("abandoned check returned", "check", name)
	}()
	return res
}

// Abandoned returns the names of checks still running past their timeout.
func (r *Runner) Abandoned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.stuck))
	for n := range r.stuck {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func contextResult(name string, err error, timeout time.Duration) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		derr := core.ErrCheckTimeout(name)
		return Error(name, derr.Message,
			"the probed dependency is not answering; raise diagnostics.check_timeout if it is merely slow").
			WithDetail("code", derr.Code).
			WithDetail("timeout", timeout.String())
	}
	return Error(name, "check cancelled", "")
}
