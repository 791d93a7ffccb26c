// Package fallback boots a persisted default image when no upload
// arrives in time.
//
// An [Arbiter] is armed at startup with a short grace period. If the
// first upload command arrives before the period expires, the loader
// disarms the arbiter and the upload proceeds. Otherwise the arbiter
// fires: it reads the default image, validates it against the target,
// and transfers control, after which the device belongs to that image.
// The race between an upload and the timer is decided exactly once,
// under the arbiter's lock; [Arbiter.Disarm] reports the winner.
package fallback

import (
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/ardnew/softboot/boot"
	"github.com/ardnew/softboot/elf32"
	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/target"
)

// DefaultDelay is the grace period before the default image boots.
const DefaultDelay = 500 * time.Millisecond

// State describes where an arbiter is in its lifecycle.
type State int

// Arbiter lifecycle states.
const (
	StateIdle     State = iota // Created, not yet armed
	StateArmed                 // Timer pending
	StateDisarmed              // Cancelled before the timer fired
	StateFiring                // Default boot committed
	StateFailed                // Default boot failed; terminal
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateDisarmed:
		return "disarmed"
	case StateFiring:
		return "firing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option configures an arbiter.
type Option func(*Arbiter)

// WithSuspend installs a hook invoked once the default boot is
// committed, before the image is read. The loader uses it to stop
// serving uploads so transport reads cannot race the boot.
func WithSuspend(fn func()) Option {
	return func(a *Arbiter) { a.suspend = fn }
}

// WithOnFailure installs a hook invoked with the cause when the default
// boot fails. The arbiter is terminal at that point; the hook decides
// what the device does next.
func WithOnFailure(fn func(error)) Option {
	return func(a *Arbiter) { a.onFail = fn }
}

// Arbiter decides between an incoming upload and the persisted default
// image.
type Arbiter struct {
	tgt     target.Target
	fsys    fs.FS
	path    string
	delay   time.Duration
	suspend func()
	onFail  func(error)

	mu    sync.Mutex
	state State
	timer *time.Timer
}

// New creates an arbiter that boots the image at path within fsys on
// tgt, delay after [Arbiter.Arm]. A delay of zero or less selects
// [DefaultDelay].
func New(tgt target.Target, fsys fs.FS, path string, delay time.Duration, opts ...Option) *Arbiter {
	if delay <= 0 {
		delay = DefaultDelay
	}
	a := &Arbiter{
		tgt:   tgt,
		fsys:  fsys,
		path:  path,
		delay: delay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current lifecycle state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Fired reports whether the default boot ever started, successfully or
// not.
func (a *Arbiter) Fired() bool {
	s := a.State()
	return s == StateFiring || s == StateFailed
}

// Arm starts the grace period. It may be called once, on a fresh
// arbiter.
func (a *Arbiter) Arm() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return fmt.Errorf("%w: fallback is %s", pkg.ErrAlreadyRunning, a.state)
	}
	a.state = StateArmed
	a.timer = time.AfterFunc(a.delay, a.fire)
	pkg.LogInfo(pkg.ComponentFallback, "armed",
		"delay", a.delay, "image", a.path)
	return nil
}

// Disarm cancels the pending default boot. It returns true when the
// default image can no longer take the device, so an upload may
// proceed; false means the boot is already committed and the upload
// lost the race. Disarm is idempotent, and disarming an arbiter that
// already failed returns true: nothing is booting, the device may as
// well serve uploads.
func (a *Arbiter) Disarm() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateFiring:
		return false
	case StateArmed:
		a.timer.Stop()
		a.state = StateDisarmed
		pkg.LogInfo(pkg.ComponentFallback, "disarmed by upload")
		return true
	case StateIdle:
		a.state = StateDisarmed
		return true
	default: // StateDisarmed, StateFailed
		return true
	}
}

// fire runs on the timer goroutine when the grace period expires.
func (a *Arbiter) fire() {
	a.mu.Lock()
	if a.state != StateArmed {
		// Disarm won the race after the timer was already queued.
		a.mu.Unlock()
		return
	}
	a.state = StateFiring
	a.mu.Unlock()

	pkg.LogInfo(pkg.ComponentFallback, "no upload in time, booting default image",
		"image", a.path)
	if a.suspend != nil {
		a.suspend()
	}

	img, err := fs.ReadFile(a.fsys, a.path)
	if err != nil {
		a.fail(fmt.Errorf("read default image: %w", err))
		return
	}
	plan, err := elf32.Parse(img)
	if err != nil {
		a.fail(fmt.Errorf("parse default image: %w", err))
		return
	}
	if err := boot.Validate(a.tgt, plan); err != nil {
		a.fail(fmt.Errorf("validate default image: %w", err))
		return
	}
	boot.Execute(a.tgt, plan) // never returns
}

func (a *Arbiter) fail(err error) {
	a.mu.Lock()
	a.state = StateFailed
	a.mu.Unlock()
	pkg.LogError(pkg.ComponentFallback, "default boot failed", "error", err)
	if a.onFail != nil {
		a.onFail(err)
	}
}
