package stk

import "time"

type TimeUnit string

const (
	UnitMinute      TimeUnit = "minute"
	UnitSecond      TimeUnit = "second"
	UnitTenthSecond TimeUnit = "tenth_second"
)

const (
	DefaultToneDuration = 2 * time.Second
	DefaultUITimeout    = 40 * time.Second
)

// Duration is the card's (time unit, interval) pair.
type Duration struct {
	Unit     TimeUnit `json:"unit"`
	Interval int      `json:"interval"`
}

// Milliseconds converts the pair using the TS 102 223 unit definitions.
// Unknown units are treated as seconds.
func (d Duration) Milliseconds() int64 {
	interval := int64(d.Interval)
	switch d.Unit {
	case UnitMinute:
		return interval * 60000
	case UnitTenthSecond:
		return interval * 100
	default:
		return interval * 1000
	}
}

func (d *Duration) Clone() *Duration {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

// EffectiveTimeout returns d as a time.Duration, or fallback when d is unset
// or resolves to zero.
func EffectiveTimeout(d *Duration, fallback time.Duration) time.Duration {
	if d == nil {
		return fallback
	}
	ms := d.Milliseconds()
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
