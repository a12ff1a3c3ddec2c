// Package alert decides which candidate alerts are dispatched. The
// Controller enforces a per-key cooldown and a global daily cap; the
// Dispatcher runs admitted alerts through journaling and notification.
package alert

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Type names an alert family.
type Type string

const (
	TypeTechnicalAnalysis Type = "technical_analysis"
	TypePriceChange       Type = "price_change"
	TypeVolumeSpike       Type = "volume_spike"
)

// Key identifies one cooldown slot.
type Key struct {
	Symbol string `json:"symbol"`
	Type   Type   `json:"type"`
}

func (k Key) String() string { return k.Symbol + ":" + string(k.Type) }

// Result is the outcome of an admission check.
type Result int

const (
	Admitted Result = iota
	SuppressedCooldown
	SuppressedDailyCap
)

func (r Result) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case SuppressedCooldown:
		return "suppressed_cooldown"
	case SuppressedDailyCap:
		return "suppressed_daily_cap"
	default:
		return "unknown"
	}
}

// Config parameterises the Controller.
type Config struct {
	Cooldown  time.Duration
	MaxPerDay int
	// Location defines the local date used for the daily reset. Nil means UTC.
	Location *time.Location
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Controller owns the cooldown state. All of it sits behind one mutex, so
// check-and-mark is a single atomic step and the daily budget is shared.
type Controller struct {
	cooldown  time.Duration
	maxPerDay int
	loc       *time.Location
	now       func() time.Time

	mu         sync.Mutex
	lastSent   map[Key]time.Time
	dailyCount int
	resetDate  string // YYYY-MM-DD in loc
}

// NewController creates a Controller with an empty state.
func NewController(cfg Config) *Controller {
	c := &Controller{
		cooldown:  cfg.Cooldown,
		maxPerDay: cfg.MaxPerDay,
		loc:       cfg.Location,
		now:       cfg.Now,
		lastSent:  make(map[Key]time.Time),
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.resetDate = c.dateOf(c.now())
	return c
}

func (c *Controller) dateOf(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// rolloverLocked resets the daily counter when the local date has changed.
// It runs lazily on each check; there is no background timer.
func (c *Controller) rolloverLocked(now time.Time) {
	if d := c.dateOf(now); d != c.resetDate {
		c.resetDate = d
		c.dailyCount = 0
	}
}

// TryAdmit decides whether an alert for key may be sent now and, if so,
// records it as sent. A key becomes admissible again exactly Cooldown after
// its last admission. It never fails.
func (c *Controller) TryAdmit(key Key) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.rolloverLocked(now)

	if c.dailyCount >= c.maxPerDay {
		return SuppressedDailyCap
	}
	if last, ok := c.lastSent[key]; ok && now.Sub(last) < c.cooldown {
		return SuppressedCooldown
	}

	c.lastSent[key] = now
	c.dailyCount++
	return Admitted
}

// DailyCount returns the alerts admitted since the last reset, applying a
// pending date rollover first.
func (c *Controller) DailyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked(c.now())
	return c.dailyCount
}

// Cooldown describes one key that is still cooling down.
type Cooldown struct {
	Key       Key           `json:"key"`
	LastSent  time.Time     `json:"last_sent"`
	Remaining time.Duration `json:"remaining"`
}

// ActiveCooldowns lists keys that would currently be suppressed by their
// cooldown, sorted by key.
func (c *Controller) ActiveCooldowns() []Cooldown {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []Cooldown
	for k, last := range c.lastSent {
		if rem := c.cooldown - now.Sub(last); rem > 0 {
			out = append(out, Cooldown{Key: k, LastSent: last, Remaining: rem})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// State is a serialisable copy of the cooldown state.
type State struct {
	LastSent   map[string]time.Time `json:"last_sent"` // keyed by Key.String()
	DailyCount int                  `json:"daily_count"`
	ResetDate  string               `json:"daily_reset_date"`
}

// Snapshot exports the current state. Keys whose cooldown has expired are
// omitted since they carry no information.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	st := State{
		LastSent:   make(map[string]time.Time, len(c.lastSent)),
		DailyCount: c.dailyCount,
		ResetDate:  c.resetDate,
	}
	for k, t := range c.lastSent {
		if now.Sub(t) < c.cooldown {
			st.LastSent[k.String()] = t
		}
	}
	return st
}

// Restore replaces the state with st. Entries with malformed keys are
// skipped. A snapshot from an earlier date restores only the cooldowns; the
// daily counter rolls over on the next check.
func (c *Controller) Restore(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSent = make(map[Key]time.Time, len(st.LastSent))
	for s, t := range st.LastSent {
		k, ok := parseKey(s)
		if !ok {
			continue
		}
		c.lastSent[k] = t
	}
	c.dailyCount = st.DailyCount
	c.resetDate = st.ResetDate
	if c.resetDate == "" {
		c.resetDate = c.dateOf(c.now())
	}
}

func parseKey(s string) (Key, bool) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Key{}, false
	}
	return Key{Symbol: s[:i], Type: Type(s[i+1:])}, true
}
