// Package sensor turns raw readings into room climate figures.
package sensor

import (
	"math"
	"strconv"
	"strings"
)

// Unavailable is reported when no reading could be averaged.
const Unavailable = "unavailable"

// Magnus coefficients for dew point.
const (
	magnusA = 17.27
	magnusB = 237.7
)

// Reading is one entity value as reported by the host.
type Reading struct {
	EntityID string `json:"entity_id"`
	Value    any    `json:"value"`
}

// Round rounds v to n decimal places.
func Round(v float64, n int) float64 {
	p := math.Pow(10, float64(n))
	return math.Round(v*p) / p
}

// Numeric parses a host value. Invalid markers and non-numbers report false.
func Numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Mean returns the arithmetic mean of the parseable readings.
func Mean(readings []Reading) (float64, bool) {
	var sum float64
	var n int
	for _, r := range readings {
		if f, ok := Numeric(r.Value); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// AverageValue returns the mean rounded to 2 decimals, or Unavailable.
func AverageValue(readings []Reading) any {
	m, ok := Mean(readings)
	if !ok {
		return Unavailable
	}
	return Round(m, 2)
}

// DewPoint computes the dew point in °C with the Magnus formula.
func DewPoint(t, rh float64) float64 {
	if rh <= 0 {
		return math.NaN()
	}
	gamma := magnusA*t/(magnusB+t) + math.Log(rh/100)
	return Round(magnusB*gamma/(magnusA-gamma), 2)
}

// SaturationVP returns the saturation vapor pressure in kPa at t °C.
func SaturationVP(t float64) float64 {
	return 0.6108 * math.Exp(17.27*t/(t+237.3))
}

// ActualVP returns the partial vapor pressure in kPa at t °C and rh percent.
func ActualVP(t, rh float64) float64 {
	return SaturationVP(t) * rh / 100
}

// CurrentVPD computes leaf VPD in kPa. The leaf is offset °C cooler than the air.
func CurrentVPD(t, rh, leafOffset float64) float64 {
	leaf := t - leafOffset
	return Round(SaturationVP(leaf)-rh/100*SaturationVP(t), 2)
}

// ClassicVPD is the air VPD without leaf offset.
func ClassicVPD(t, rh float64) float64 {
	return CurrentVPD(t, rh, 0)
}

// DewVPD computes VPD from air temperature and dew point.
func DewVPD(t, dewPoint float64) float64 {
	return Round(SaturationVP(t)-SaturationVP(dewPoint), 3)
}

// PerfectVPD returns the midpoint of vpdRange and the band tolerance percent around it.
func PerfectVPD(lo, hi, tolerance float64) (perfection, min, max float64) {
	perfection = Round((lo+hi)/2, 3)
	delta := perfection * tolerance / 100
	return perfection, Round(perfection-delta, 3), Round(perfection+delta, 3)
}

// Light units accepted by LightToPPFD.
const (
	UnitLux   = "lux"
	UnitLumen = "lumen"
	UnitPPFD  = "ppfd"
)

// luxPerPPFD approximates full-spectrum LED light.
const luxPerPPFD = 0.0185

// LightToPPFD converts a light reading to µmol·m⁻²·s⁻¹. Lumen readings are spread over areaM2.
func LightToPPFD(intensity float64, unit string, areaM2 float64) float64 {
	switch strings.ToLower(unit) {
	case UnitLumen:
		if areaM2 <= 0 {
			areaM2 = 1
		}
		return Round(intensity/areaM2*luxPerPPFD, 2)
	case UnitPPFD:
		return Round(intensity, 2)
	default:
		return Round(intensity*luxPerPPFD, 2)
	}
}

// LuxToPPFD converts an illuminance reading.
func LuxToPPFD(lux float64) float64 { return LightToPPFD(lux, UnitLux, 0) }

// LumenToPPFD converts a luminous flux spread over areaM2.
func LumenToPPFD(lumen, areaM2 float64) float64 { return LightToPPFD(lumen, UnitLumen, areaM2) }

// DLI integrates PPFD over the daily light hours in mol·m⁻²·day⁻¹.
func DLI(ppfd, hours float64) float64 {
	return Round(ppfd*3600*hours/1e6, 2)
}

// Kind classifies an entity id by the sensor quantity it reports.
func Kind(entityID string) string {
	id := strings.ToLower(entityID)
	switch {
	case strings.Contains(id, "dewpoint") || strings.Contains(id, "dew_point"):
		return "dewpoint"
	case strings.Contains(id, "temperature") || strings.HasSuffix(id, "_temp"):
		return "temperature"
	case strings.Contains(id, "humidity"):
		return "humidity"
	case strings.Contains(id, "co2"):
		return "co2"
	case strings.Contains(id, "moisture"):
		return "moisture"
	case strings.Contains(id, "ppfd"):
		return "ppfd"
	case strings.Contains(id, "dli"):
		return "dli"
	case strings.Contains(id, "lux") || strings.Contains(id, "illuminance"):
		return "lux"
	case strings.Contains(id, "lumen"):
		return "lumen"
	case strings.Contains(id, "_duty"):
		return "duty"
	case strings.Contains(id, "_voltage") || strings.Contains(id, "intensity"):
		return "voltage"
	case strings.HasSuffix(id, "_ph") || strings.Contains(id, "_ph_"):
		return "ph"
	case strings.HasSuffix(id, "_ec") || strings.Contains(id, "_ec_"):
		return "ec"
	case strings.Contains(id, "tds"):
		return "tds"
	}
	return ""
}
