package aithena

import (
	"log/slog"
	"sync"
	"time"
)

// UsageKind identifies the type of metered action a UsageEvent records.
type UsageKind string

const (
	UsageKindChat  UsageKind = "chat_completion"
	UsageKindImage UsageKind = "image_generation"
)

// UsageEvent is a single metered action: one chat completion or one image
// generation, with its cost and measured quantities. Events are immutable
// once recorded.
type UsageEvent struct {
	UserID         uint64
	Kind           UsageKind
	Cost           float64
	RequestTokens  int
	ResponseTokens int
	TotalTokens    int
	ImageCount     int
	Timestamp      time.Time
}

// UsageTotals is the sum of cost, tokens and images over a set of
// UsageEvents.
type UsageTotals struct {
	Cost           float64 `json:"cost"`
	RequestTokens  int     `json:"request_tokens"`
	ResponseTokens int     `json:"response_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	Images         int     `json:"images"`
}

func (t *UsageTotals) add(e UsageEvent) {
	t.Cost += e.Cost
	t.RequestTokens += e.RequestTokens
	t.ResponseTokens += e.ResponseTokens
	t.TotalTokens += e.TotalTokens
	t.Images += e.ImageCount
}

// UsageLedger tracks per-user API usage over a rolling time window, plus
// lifetime totals for the current process. It's the source of truth for
// AccessPolicy's cap checks; the durable history lives in ExchangeStore.
//
// Events older than the configured interval are pruned both when new
// events are recorded and when windowed aggregates are read, so an idle
// user's window strictly decays by wall clock even if they never issue
// another command themselves.
//
// All methods are safe for concurrent use.
type UsageLedger struct {
	mu     sync.Mutex
	config *Config
	logger *slog.Logger

	// windowed per-user event buffers, pruned on record and on read
	events map[uint64][]UsageEvent

	// process-lifetime totals, never pruned (reset on restart)
	lifetime map[uint64]UsageTotals

	// now is swappable for tests
	now func() time.Time
}

// NewUsageLedger returns an empty ledger whose window length follows
// config's usage cost interval.
func NewUsageLedger(config *Config, logger *slog.Logger) *UsageLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageLedger{
		config:   config,
		logger:   logger.With(loggerNameKey, "usage_ledger"),
		events:   map[uint64][]UsageEvent{},
		lifetime: map[uint64]UsageTotals{},
		now:      time.Now,
	}
}

// Record appends the event to its user's buffer and updates lifetime
// totals, pruning any events that have aged out of the window.
func (l *UsageLedger) Record(event UsageEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	l.events[event.UserID] = append(
		l.pruneLocked(event.UserID),
		event,
	)

	totals := l.lifetime[event.UserID]
	totals.add(event)
	l.lifetime[event.UserID] = totals

	l.logger.Info(
		"recorded usage",
		"user_id", event.UserID,
		"kind", event.Kind,
		"cost", event.Cost,
		"total_tokens", event.TotalTokens,
		"images", event.ImageCount,
		"windowed_cost", l.windowedLocked(event.UserID).Cost,
		"lifetime_cost", totals.Cost,
	)
}

// Windowed returns the user's usage totals within the rolling window.
// Users with no recorded events get all-zero totals.
func (l *UsageLedger) Windowed(userID uint64) UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowedLocked(userID)
}

// WindowedCost returns the user's total cost within the rolling window.
func (l *UsageLedger) WindowedCost(userID uint64) float64 {
	return l.Windowed(userID).Cost
}

// WindowedTokens returns the user's total token count within the rolling
// window.
func (l *UsageLedger) WindowedTokens(userID uint64) int {
	return l.Windowed(userID).TotalTokens
}

// WindowedImages returns the number of images the user generated within
// the rolling window.
func (l *UsageLedger) WindowedImages(userID uint64) int {
	return l.Windowed(userID).Images
}

// Lifetime returns the user's totals over the life of this process.
func (l *UsageLedger) Lifetime(userID uint64) UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lifetime[userID]
}

// WindowedAll returns combined windowed totals across every user.
func (l *UsageLedger) WindowedAll() UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()

	var totals UsageTotals
	for userID := range l.events {
		for _, e := range l.pruneLocked(userID) {
			totals.add(e)
		}
	}
	return totals
}

// LifetimeAll returns combined lifetime totals across every user.
func (l *UsageLedger) LifetimeAll() UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()

	var totals UsageTotals
	for _, t := range l.lifetime {
		totals.Cost += t.Cost
		totals.RequestTokens += t.RequestTokens
		totals.ResponseTokens += t.ResponseTokens
		totals.TotalTokens += t.TotalTokens
		totals.Images += t.Images
	}
	return totals
}

func (l *UsageLedger) windowedLocked(userID uint64) UsageTotals {
	var totals UsageTotals
	for _, e := range l.pruneLocked(userID) {
		totals.add(e)
	}
	return totals
}

// pruneLocked drops the user's expired events and returns the surviving
// buffer. Callers must hold l.mu. Empty buffers are deleted from the map
// so inactive users don't pin memory.
//
// Buffers are not strictly timestamp-ordered: events carry the exchange
// timestamp taken before the provider call, so a slow request can land
// after a faster, later-stamped one. Every event is checked.
func (l *UsageLedger) pruneLocked(userID uint64) []UsageEvent {
	buf := l.events[userID]
	if len(buf) == 0 {
		return nil
	}
	_, interval := l.config.UsageLimit()
	cutoff := l.now().Add(-interval)

	kept := buf[:0]
	for _, e := range buf {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(l.events, userID)
		return nil
	}
	l.events[userID] = kept
	return kept
}
