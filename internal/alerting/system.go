package alerting

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"otc-risk-shield/internal/clock"
)

var (
	// ErrInvalidDirection is returned for directions other than up, down or both.
	ErrInvalidDirection = errors.New("invalid alert direction")
	// ErrInvalidThreshold is returned for non-positive thresholds.
	ErrInvalidThreshold = errors.New("invalid alert threshold")
)

// Direction selects which moves an alert watches.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	// DirectionBoth registers one up and one down alert.
	DirectionBoth Direction = "both"
)

// ParseDirection accepts up, down or both, case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectionUp, DirectionDown, DirectionBoth:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// State is the latch position of an alert.
type State string

const (
	StateIdle  State = "idle"
	StateArmed State = "armed"
	StateFired State = "fired"
)

// Severity grades a fired alert.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// highSeverityChange is the absolute move above which an event is graded high.
const highSeverityChange = 0.05

// Alert is a single latch. Threshold is signed: positive for up, negative for down.
type Alert struct {
	ID        int        `json:"id"`
	Symbol    string     `json:"token"`
	Threshold float64    `json:"threshold"`
	Direction Direction  `json:"direction"`
	State     State      `json:"state"`
	FiredAt   *time.Time `json:"fired_at,omitempty"`
}

// Event is an append-only record of a fired alert.
type Event struct {
	AlertID   int       `json:"alert_id"`
	Symbol    string    `json:"token"`
	Direction Direction `json:"direction"`
	Threshold float64   `json:"threshold"`
	Change    float64   `json:"actual_change"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
}

// System owns every alert and the event log. It is safe for concurrent use.
type System struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu     sync.Mutex
	alerts []*Alert
	events []Event
	nextID int
}

// NewSystem constructs an empty alert system. A nil clock uses wall time.
func NewSystem(clk clock.Clock, logger zerolog.Logger) *System {
	if clk == nil {
		clk = clock.Real{}
	}
	return &System{
		clock:  clk,
		logger: logger.With().Str("component", "alert_system").Logger(),
	}
}

// Add registers armed alerts for symbol. threshold is the unsigned relative move, e.g. 0.02.
func (s *System) Add(symbol string, threshold float64, direction Direction) ([]Alert, error) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	if _, err := ParseDirection(string(direction)); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]Alert, 0, 2)
	if direction == DirectionUp || direction == DirectionBoth {
		added = append(added, s.add(symbol, threshold, DirectionUp))
	}
	if direction == DirectionDown || direction == DirectionBoth {
		added = append(added, s.add(symbol, -threshold, DirectionDown))
	}

	s.logger.Info().Str("symbol", symbol).
		Str("direction", string(direction)).
		Float64("threshold_pct", threshold*100).
		Msg("alert added")
	return added, nil
}

func (s *System) add(symbol string, threshold float64, direction Direction) Alert {
	s.nextID++
	a := &Alert{ID: s.nextID, Symbol: symbol, Threshold: threshold, Direction: direction, State: StateArmed}
	s.alerts = append(s.alerts, a)
	return *a
}

// Check evaluates every armed alert for symbol against the move from previous to current and
// returns the events fired by this call. A zero previous price is ignored.
func (s *System) Check(symbol string, current, previous float64) []Event {
	if previous == 0 {
		return nil
	}
	change := (current - previous) / previous
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []Event
	for _, a := range s.alerts {
		if a.Symbol != symbol || a.State != StateArmed {
			continue
		}
		hit := (a.Direction == DirectionUp && change >= a.Threshold) ||
			(a.Direction == DirectionDown && change <= a.Threshold)
		if !hit {
			continue
		}

		now := s.clock.Now()
		a.State = StateFired
		a.FiredAt = &now

		severity := SeverityMedium
		if math.Abs(change) > highSeverityChange {
			severity = SeverityHigh
		}
		ev := Event{
			AlertID:   a.ID,
			Symbol:    a.Symbol,
			Direction: a.Direction,
			Threshold: a.Threshold,
			Change:    change,
			Price:     current,
			Timestamp: now,
			Severity:  severity,
		}
		s.events = append(s.events, ev)
		fired = append(fired, ev)

		s.logger.Warn().Str("symbol", a.Symbol).
			Str("direction", string(a.Direction)).
			Float64("change_pct", change*100).
			Float64("price", current).
			Str("severity", string(severity)).
			Msg("alert fired")
	}
	return fired
}

// Fork copies symbol's alerts, latch states included, into a detached system with an empty event
// log. Concurrent trials check their own fork so one trial firing does not latch a sibling; Merge
// folds the fork's events back.
func (s *System) Fork(symbol string) *System {
	symbol = strings.ToUpper(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	f := &System{clock: s.clock, logger: s.logger, nextID: s.nextID}
	for _, a := range s.alerts {
		if a.Symbol != symbol {
			continue
		}
		cp := *a
		f.alerts = append(f.alerts, &cp)
	}
	return f
}

// Merge appends events fired on a fork to the log and latches the alerts they refer to.
func (s *System) Merge(events []Event) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		for _, a := range s.alerts {
			if a.ID != ev.AlertID || a.State != StateArmed {
				continue
			}
			firedAt := ev.Timestamp
			a.State = StateFired
			a.FiredAt = &firedAt
		}
		s.events = append(s.events, ev)
	}
}

// Reset re-arms fired alerts for symbol and returns how many changed.
func (s *System) Reset(symbol string) int {
	return s.transition(strings.ToUpper(symbol), StateFired, StateArmed)
}

// ResetAll re-arms every fired alert.
func (s *System) ResetAll() int {
	return s.transition("", StateFired, StateArmed)
}

// Disarm parks armed alerts for symbol; they ignore Check until Arm.
func (s *System) Disarm(symbol string) int {
	return s.transition(strings.ToUpper(symbol), StateArmed, StateIdle)
}

// Arm re-activates idle alerts for symbol.
func (s *System) Arm(symbol string) int {
	return s.transition(strings.ToUpper(symbol), StateIdle, StateArmed)
}

func (s *System) transition(symbol string, from, to State) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.alerts {
		if (symbol != "" && a.Symbol != symbol) || a.State != from {
			continue
		}
		a.State = to
		if to == StateArmed {
			a.FiredAt = nil
		}
		n++
	}
	return n
}

// Alerts returns a copy of every registered alert.
func (s *System) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = *a
	}
	return out
}

// Recent returns the events fired within window of now, oldest first.
func (s *System) Recent(window time.Duration) []Event {
	cutoff := s.clock.Now().Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}
