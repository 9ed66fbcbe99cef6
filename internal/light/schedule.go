package light

import "time"

const day = 24 * time.Hour

// StageVoltage is the voltage range of a plant stage in percent.
type StageVoltage struct {
	Min, Max float64
}

// StageVoltages maps plant stage to light voltage range.
var StageVoltages = map[string]StageVoltage{
	"Germination": {20, 30},
	"Clones":      {20, 30},
	"EarlyVeg":    {30, 55},
	"MidVeg":      {40, 70},
	"LateVeg":     {50, 80},
	"EarlyFlower": {70, 90},
	"MidFlower":   {80, 100},
	"LateFlower":  {70, 95},
}

// ClockOf returns the time since local midnight of t.
func ClockOf(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// IsOn reports whether clock lies in [on, off), wrapping past midnight when
// off is earlier than on.
func IsOn(clock, on, off time.Duration) bool {
	switch {
	case on == off:
		return false
	case on < off:
		return clock >= on && clock < off
	}
	return clock >= on || clock < off
}

// InSunrise reports whether clock lies in [on, on+dur).
func InSunrise(clock, on, dur time.Duration) bool {
	if dur <= 0 {
		return false
	}
	return wrap(clock-on) < dur
}

// InSunset reports whether clock lies in [off-dur, off].
func InSunset(clock, off, dur time.Duration) bool {
	if dur <= 0 {
		return false
	}
	return wrap(off-clock) <= dur
}

func wrap(d time.Duration) time.Duration {
	d %= day
	if d < 0 {
		d += day
	}
	return d
}
