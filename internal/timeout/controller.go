// Package timeout implements the soft -> grace -> hard escalation policy
// shared by every caller that needs to stop a child process.
package timeout

import (
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// State is a controller lifecycle state.
type State int

const (
	// StateIdle means Start has not been called.
	StateIdle State = iota
	// StateArmed means the clocks are running and nothing has fired.
	StateArmed
	// StateSoftExpired means the graceful callback ran; the grace clock runs.
	StateSoftExpired
	// StateHardExpired means the forceful callback ran. Terminal.
	StateHardExpired
	// StateCancelled means Cancel was called; the kill sequence still completes.
	StateCancelled
	// StateStopped means the controller was disarmed before anything fired.
	StateStopped
)

// String returns a lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateSoftExpired:
		return "soft_expired"
	case StateHardExpired:
		return "hard_expired"
	case StateCancelled:
		return "cancelled"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller owns one escalation sequence. Create one per execution.
type Controller struct {
	clock  core.Clock
	logger *logging.Logger
	grace  time.Duration

	mu       sync.Mutex
	state    State
	onSoft   func()
	onHard   func()
	softSent bool
	hardSent bool
	disarmed bool

	cancelCh chan struct{}
	stopCh   chan struct{}
	killed   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewController creates an idle controller. A non-positive grace period
// falls back to core.DefaultGracePeriod.
func NewController(clock core.Clock, grace time.Duration, logger *logging.Logger) *Controller {
	if grace <= 0 {
		grace = core.DefaultGracePeriod
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		clock:    core.ClockOrReal(clock),
		logger:   logger,
		grace:    grace,
		cancelCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		killed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start arms the controller. soft <= 0 (or soft >= hard) disables the soft
// stage; hard <= 0 falls back to core.DefaultHardTimeout. onSoft sends the
// graceful signal and onHard the forceful one; both run on the controller's
// goroutine and must not block for long.
func (c *Controller) Start(soft, hard time.Duration, onSoft, onHard func()) error {
	if hard <= 0 {
		hard = core.DefaultHardTimeout
	}
	if soft >= hard {
		soft = 0
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return core.ErrValidation(core.CodeInvalidTimeout,
			fmt.Sprintf("controller already started (state %s)", state))
	}
	c.state = StateArmed
	c.onSoft = onSoft
	c.onHard = onHard

	var softTimer core.Timer
	if soft > 0 {
		softTimer = c.clock.NewTimer(soft)
	}
	hardTimer := c.clock.NewTimer(hard)
	c.mu.Unlock()

	c.logger.Debug("timeout: armed", "soft", soft, "hard", hard, "grace", c.grace)

	go c.loop(softTimer, hardTimer)
	return nil
}

// Cancel propagates an external cancellation into the graceful-then-forceful
// sequence. Safe from any state and any goroutine.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.state = StateCancelled
		c.mu.Unlock()
		close(c.killed)
		c.stopOnce.Do(func() { close(c.stopCh) })
		close(c.done)
		return
	}
	c.mu.Unlock()

	select {
	case c.cancelCh <- struct{}{}:
	default:
	}
}

// Stop disarms the controller after the child exited on its own. Signals
// already sent are kept in the state; nothing further fires.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateArmed || c.state == StateIdle {
		c.state = StateStopped
	}
	c.disarmed = true
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Intervened reports whether the graceful or forceful callback has run.
func (c *Controller) Intervened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.softSent || c.hardSent
}

// Killed is closed once the forceful callback has returned.
func (c *Controller) Killed() <-chan struct{} {
	return c.killed
}

// Done is closed when the controller goroutine exits.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) loop(softTimer, hardTimer core.Timer) {
	defer close(c.done)

	var graceTimer core.Timer
	defer func() {
		for _, t := range []core.Timer{softTimer, hardTimer, graceTimer} {
			if t != nil {
				t.Stop()
			}
		}
	}()

	softC := timerC(softTimer)
	hardC := timerC(hardTimer)
	var graceC <-chan time.Time

	for {
		select {
		case <-softC:
			softC = nil
			if c.transitionSoft(StateSoftExpired) {
				graceTimer = c.clock.NewTimer(c.grace)
				graceC = graceTimer.C()
				c.fireSoft("soft timeout")
			}

		case <-c.cancelCh:
			c.mu.Lock()
			prev := c.state
			switch prev {
			case StateArmed, StateSoftExpired:
				c.state = StateCancelled
			}
			c.mu.Unlock()

			if prev == StateArmed {
				softC = nil
				graceTimer = c.clock.NewTimer(c.grace)
				graceC = graceTimer.C()
				c.fireSoft("cancelled")
			}

		case <-graceC:
			c.fireHard("grace period elapsed")
			return

		case <-hardC:
			c.fireHard("hard timeout")
			return

		case <-c.stopCh:
			return
		}
	}
}

// transitionSoft moves Armed -> next and reports whether it happened.
func (c *Controller) transitionSoft(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		return false
	}
	c.state = next
	return true
}

func (c *Controller) fireSoft(reason string) {
	c.mu.Lock()
	if c.disarmed {
		c.mu.Unlock()
		return
	}
	c.softSent = true
	fn := c.onSoft
	c.mu.Unlock()

	c.logger.Warn("timeout: sending graceful terminate", "reason", reason, "grace", c.grace)
	if fn != nil {
		fn()
	}
}

func (c *Controller) fireHard(reason string) {
	c.mu.Lock()
	if c.disarmed || c.hardSent {
		c.mu.Unlock()
		return
	}
	if c.state != StateCancelled {
		c.state = StateHardExpired
	}
	c.hardSent = true
	fn := c.onHard
	c.mu.Unlock()

	c.logger.Error("timeout: sending forceful kill", "reason", reason)
	if fn != nil {
		fn()
	}
	close(c.killed)
}

func timerC(t core.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
