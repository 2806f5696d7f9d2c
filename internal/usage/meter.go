package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoCaller is returned when a request carries no caller identity
var ErrNoCaller = errors.New("caller identity is required for metered extraction")

// LimitReason tells which free-tier limit was hit
type LimitReason string

const (
	ReasonFileTooLarge LimitReason = "file_too_large"
	ReasonDailyLimit   LimitReason = "daily_limit"
)

// LimitError reports a request rejected by the free tier
type LimitError struct {
	Reason     LimitReason
	Limit      int64
	UpgradeURL string
}

func (e *LimitError) Error() string {
	switch e.Reason {
	case ReasonFileTooLarge:
		return fmt.Sprintf("file exceeds the free tier limit of %d bytes", e.Limit)
	default:
		return fmt.Sprintf("free tier limit of %d extractions per day reached", e.Limit)
	}
}

// Status is the usage of one caller on one day
type Status struct {
	Caller      string `json:"caller"`
	Day         string `json:"day"`
	Used        int    `json:"used"`
	Limit       int    `json:"limit"`
	Remaining   int    `json:"remaining"`
	MaxFileSize int64  `json:"max_file_size"`
	UpgradeURL  string `json:"upgrade_url,omitempty"`
}

// Unlimited reports whether no daily limit applies
func (s *Status) Unlimited() bool {
	return s.Limit <= 0
}

// Meter enforces the free tier: a daily extraction quota per caller and a
// maximum upload size
type Meter struct {
	counter     Counter
	dailyLimit  int
	maxFileSize int64
	upgradeURL  string
	now         func() time.Time
}

// MeterOption configures a Meter
type MeterOption func(*Meter)

// WithClock replaces the time source
func WithClock(now func() time.Time) MeterOption {
	return func(m *Meter) {
		m.now = now
	}
}

// NewMeter creates a meter. A non-positive dailyLimit or maxFileSize disables that check.
func NewMeter(counter Counter, dailyLimit int, maxFileSize int64, upgradeURL string, opts ...MeterOption) *Meter {
	m := &Meter{
		counter:     counter,
		dailyLimit:  dailyLimit,
		maxFileSize: maxFileSize,
		upgradeURL:  upgradeURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reservation is one extraction counted against a caller's quota before it
// runs. Release it when the extraction fails.
type Reservation struct {
	counter Counter
	caller  string
	day     string
	Used    int
}

// Release returns the reserved extraction to the quota
func (r *Reservation) Release(ctx context.Context) error {
	return r.counter.Decrement(ctx, r.caller, r.day)
}

// Reserve rejects the request when the file is too large or the caller has
// used up today's quota. Otherwise it counts the extraction right away, so
// concurrent requests from one caller cannot overrun the quota.
func (m *Meter) Reserve(ctx context.Context, caller string, size int64) (*Reservation, error) {
	if caller == "" {
		return nil, ErrNoCaller
	}

	if m.maxFileSize > 0 && size > m.maxFileSize {
		return nil, &LimitError{Reason: ReasonFileTooLarge, Limit: m.maxFileSize, UpgradeURL: m.upgradeURL}
	}

	day := Day(m.now())
	used, counted, err := m.counter.IncrementIfBelow(ctx, caller, day, m.dailyLimit)
	if err != nil {
		return nil, err
	}
	if !counted {
		return nil, &LimitError{Reason: ReasonDailyLimit, Limit: int64(m.dailyLimit), UpgradeURL: m.upgradeURL}
	}

	return &Reservation{counter: m.counter, caller: caller, day: day, Used: used}, nil
}

// Status returns today's usage for caller
func (m *Meter) Status(ctx context.Context, caller string) (*Status, error) {
	if caller == "" {
		return nil, ErrNoCaller
	}

	day := Day(m.now())
	used, err := m.counter.Count(ctx, caller, day)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Caller:      caller,
		Day:         day,
		Used:        used,
		Limit:       m.dailyLimit,
		MaxFileSize: m.maxFileSize,
		UpgradeURL:  m.upgradeURL,
	}
	if m.dailyLimit > 0 {
		status.Remaining = m.dailyLimit - used
		if status.Remaining < 0 {
			status.Remaining = 0
		}
	}
	return status, nil
}
