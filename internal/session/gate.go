// Package session implements the auto-lock gate in front of an unlocked vault.
package session

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melvsalonga/securepass/internal/common"
	"github.com/melvsalonga/securepass/krypto"
)

// State of the gate.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Lock reasons carried by events.
const (
	ReasonTimeout = "timeout"
	ReasonForced  = "forced"
	ReasonLogout  = "logout"
	ReasonUnlock  = "unlock"
)

const (
	MinTimeoutMinutes     = 1
	MaxTimeoutMinutes     = 60
	DefaultTimeoutMinutes = 15
)

// Event is delivered to listeners on every state transition.
type Event struct {
	State  State
	Reason string
	At     time.Time
}

// Authenticator re-checks a master password and hands back the vault key.
type Authenticator interface {
	Authenticate(username, password string) (string, *krypto.SecretKey, error)
}

// Timer is the subset of *time.Timer the gate needs.
type Timer interface {
	Stop() bool
}

// Options configures a Gate.
type Options struct {
	Auth           Authenticator
	TimeoutMinutes float64
	// Disabled turns auto-lock off; ForceLock still works.
	Disabled  bool
	Logger    *zap.SugaredLogger
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

// Listener observes transitions. A returned error or panic is logged and
// does not stop delivery to the other listeners.
type Listener func(Event) error

// Status is a point-in-time view of the gate.
type Status struct {
	State          State         `json:"-"`
	StateName      string        `json:"state"`
	AutoLock       bool          `json:"autoLock"`
	TimeoutMinutes float64       `json:"timeoutMinutes"`
	TimeUntilLock  time.Duration `json:"-"`
	RemainingMs    int64         `json:"timeUntilLockMs"`
	Username       string        `json:"username,omitempty"`
}

// Gate is the Locked/Unlocked state machine with an inactivity timer.
type Gate struct {
	mu        sync.Mutex
	auth      Authenticator
	log       *zap.SugaredLogger
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer

	state        State
	enabled      bool
	timeout      time.Duration
	lastActivity time.Time
	timer        Timer
	generation   uint64

	username  string
	accountID string
	key       *krypto.SecretKey

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

func validateTimeout(minutes float64) (time.Duration, error) {
	if math.IsNaN(minutes) || minutes < MinTimeoutMinutes || minutes > MaxTimeoutMinutes {
		return 0, common.Invalid("timeout", fmt.Sprintf("must be between %d and %d minutes", MinTimeoutMinutes, MaxTimeoutMinutes))
	}
	return time.Duration(minutes * float64(time.Minute)), nil
}

// New returns a locked gate.
func New(opts Options) (*Gate, error) {
	if opts.TimeoutMinutes == 0 {
		opts.TimeoutMinutes = DefaultTimeoutMinutes
	}
	timeout, err := validateTimeout(opts.TimeoutMinutes)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Gate{
		auth:      opts.Auth,
		log:       opts.Logger,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
		state:     Locked,
		enabled:   !opts.Disabled,
		timeout:   timeout,
		listeners: make(map[int]Listener),
	}, nil
}

// Subscribe registers l and returns a function that removes it.
func (g *Gate) Subscribe(l Listener) func() {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = l
	return func() {
		g.listenersMu.Lock()
		defer g.listenersMu.Unlock()
		delete(g.listeners, id)
	}
}

func (g *Gate) notify(ev Event) {
	g.listenersMu.Lock()
	ls := make([]Listener, 0, len(g.listeners))
	// Deliver in subscription order.
	for i := 0; i < g.nextID; i++ {
		if l, ok := g.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	g.listenersMu.Unlock()

	for _, l := range ls {
		g.deliver(l, ev)
	}
}

func (g *Gate) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Errorw("session listener panicked", "state", ev.State.String(), "panic", r)
		}
	}()
	if err := l(ev); err != nil {
		g.log.Errorw("session listener failed", "state", ev.State.String(), "error", err)
	}
}

// Open unlocks the gate for an account that was just authenticated. The gate
// takes ownership of key.
func (g *Gate) Open(username, accountID string, key *krypto.SecretKey) {
	g.mu.Lock()
	old := g.key
	g.username, g.accountID, g.key = username, accountID, key
	g.state = Unlocked
	g.touchLocked()
	ev := Event{State: Unlocked, Reason: ReasonUnlock, At: g.now()}
	g.mu.Unlock()

	if old != nil && old != key {
		old.Destroy()
	}
	g.notify(ev)
}

// Unlock re-authenticates the current user. On failure the gate stays locked.
func (g *Gate) Unlock(password string) error {
	g.mu.Lock()
	username := g.username
	g.mu.Unlock()
	if username == "" || g.auth == nil {
		return fmt.Errorf("no signed-in user: %w", common.ErrLocked)
	}

	accountID, key, err := g.auth.Authenticate(username, password)
	if err != nil {
		g.log.Warnw("unlock rejected", "username", username)
		return err
	}
	g.Open(username, accountID, key)
	g.log.Infow("session unlocked", "username", username)
	return nil
}

// RegisterActivity resets the inactivity deadline.
func (g *Gate) RegisterActivity() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Unlocked {
		return
	}
	g.touchLocked()
}

func (g *Gate) touchLocked() {
	g.lastActivity = g.now()
	g.scheduleLocked()
}

// scheduleLocked replaces the pending timer with one for the current deadline.
func (g *Gate) scheduleLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.generation++
	if g.state != Unlocked || !g.enabled {
		return
	}
	gen := g.generation
	wait := g.timeout - g.now().Sub(g.lastActivity)
	if wait < 0 {
		wait = 0
	}
	g.timer = g.afterFunc(wait, func() { g.expire(gen) })
}

func (g *Gate) expire(gen uint64) {
	g.mu.Lock()
	if gen != g.generation || g.state != Unlocked || !g.enabled {
		g.mu.Unlock()
		return
	}
	if remaining := g.timeout - g.now().Sub(g.lastActivity); remaining > 0 {
		g.scheduleLocked()
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.lock(ReasonTimeout, false)
}

// ForceLock locks immediately regardless of the timer.
func (g *Gate) ForceLock() {
	g.lock(ReasonForced, false)
}

// Logout locks and forgets the signed-in user.
func (g *Gate) Logout() {
	g.lock(ReasonLogout, true)
}

func (g *Gate) lock(reason string, forget bool) {
	g.mu.Lock()
	wasUnlocked := g.state == Unlocked
	g.state = Locked
	key := g.key
	g.key = nil
	if forget {
		g.username, g.accountID = "", ""
	}
	g.scheduleLocked()
	ev := Event{State: Locked, Reason: reason, At: g.now()}
	g.mu.Unlock()

	if key != nil {
		key.Destroy()
	}
	if wasUnlocked {
		g.log.Infow("session locked", "reason", reason)
		g.notify(ev)
	}
}

// SetTimeout changes the inactivity timeout. Values outside 1-60 minutes are rejected.
func (g *Gate) SetTimeout(minutes float64) error {
	d, err := validateTimeout(minutes)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeout = d
	g.scheduleLocked()
	return nil
}

// SetEnabled toggles auto-lock. Enabling restarts the inactivity window.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled == enabled {
		return
	}
	g.enabled = enabled
	if enabled {
		g.lastActivity = g.now()
	}
	g.scheduleLocked()
}

// TimeUntilLock is zero when locked or when auto-lock is off.
func (g *Gate) TimeUntilLock() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainingLocked()
}

func (g *Gate) remainingLocked() time.Duration {
	if g.state != Unlocked || !g.enabled {
		return 0
	}
	remaining := g.timeout - g.now().Sub(g.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State reports whether the gate is locked.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Status returns a snapshot for display.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	remaining := g.remainingLocked()
	return Status{
		State:          g.state,
		StateName:      g.state.String(),
		AutoLock:       g.enabled,
		TimeoutMinutes: g.timeout.Minutes(),
		TimeUntilLock:  remaining,
		RemainingMs:    remaining.Milliseconds(),
		Username:       g.username,
	}
}

// Account returns the signed-in user, if any.
func (g *Gate) Account() (username, accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.username, g.accountID
}

// Key returns a copy of the session key. The caller must Destroy it.
func (g *Gate) Key() (*krypto.SecretKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Unlocked || g.key == nil {
		return nil, common.ErrLocked
	}
	return g.key.Clone()
}
