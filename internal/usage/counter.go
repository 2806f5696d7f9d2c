package usage

import (
	"context"
	"time"
)

// DayFormat is the layout of the day component of counter keys
const DayFormat = "2006-01-02"

// Counter counts extractions per caller and UTC day
type Counter interface {
	// Count returns the number of extractions recorded for caller on day
	Count(ctx context.Context, caller, day string) (int, error)
	// IncrementIfBelow atomically records one extraction unless limit is
	// already reached. It returns the resulting count and whether it counted.
	// A non-positive limit always counts.
	IncrementIfBelow(ctx context.Context, caller, day string, limit int) (int, bool, error)
	// Decrement takes back one recorded extraction. Counts never drop below zero.
	Decrement(ctx context.Context, caller, day string) error
}

// Day returns the counter key for the UTC day containing t
func Day(t time.Time) string {
	return t.UTC().Format(DayFormat)
}
