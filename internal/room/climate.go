package room

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/sensor"
	"github.com/dokzlo13/tentd/internal/store"
)

// readingBuckets maps a sensor kind to its workData list.
var readingBuckets = map[string]string{
	"temperature": "temperature",
	"humidity":    "humidity",
	"dewpoint":    "dewpoint",
	"moisture":    "moisture",
	"co2":         "co2",
	"ph":          "ph",
	"ec":          "ec",
	"lux":         "light",
	"lumen":       "light",
	"ppfd":        "light",
}

// AmbientOf reports whether entityID is an ambient or outside climate sensor. where
// is "Ambient" or "Outside", kind is temperature or humidity.
func AmbientOf(entityID string) (where, kind string, ok bool) {
	id := strings.ToLower(host.ObjectID(entityID))
	switch {
	case strings.Contains(id, "ambient"):
		where = "Ambient"
	case strings.Contains(id, "outside"):
		where = "Outside"
	default:
		return "", "", false
	}
	kind = sensor.Kind(entityID)
	if kind != "temperature" && kind != "humidity" {
		return "", "", false
	}
	return where, kind, true
}

// ApplyAmbient mirrors an ambient or outside reading into tentData.
func (r *Room) ApplyAmbient(where, kind string, value any) bool {
	f, ok := sensor.Numeric(value)
	if !ok {
		return false
	}
	key := "Temp"
	if kind == "humidity" {
		key = "Hum"
	}
	r.store.Update(func(tx *store.Tx) {
		tx.SetPath("tentData."+where+key, sensor.Round(f, 2))
		if where != "Ambient" {
			return
		}
		t, h := tx.Float("tentData.AmbientTemp"), tx.Float("tentData.AmbientHum")
		if h > 0 {
			tx.SetPath("tentData.AmbientDew", sensor.Round(sensor.DewPoint(t, h), 2))
		}
	})
	return true
}

// ApplyReading stores a sensor reading and, when the climate changed, recomputes
// VPD and runs the tent mode.
func (r *Room) ApplyReading(entityID string, value any) {
	if r.ingest(entityID, value) {
		r.updateVPD()
	}
}

// ingest updates workData and the aggregate for one reading. It reports whether
// temperature or humidity changed.
func (r *Room) ingest(entityID string, value any) bool {
	f, ok := sensor.Numeric(value)
	if !ok {
		return false
	}
	kind := sensor.Kind(entityID)
	if kind == "tds" {
		r.store.SetPath("Hydro.tds_current", sensor.Round(f, 2))
		return false
	}
	bucket, ok := readingBuckets[kind]
	if !ok {
		return false
	}

	readings := r.readings(bucket)
	found := false
	for i := range readings {
		if readings[i].EntityID == entityID {
			readings[i].Value = f
			found = true
		}
	}
	if !found {
		readings = append(readings, sensor.Reading{EntityID: entityID, Value: f})
	}
	list := make([]any, len(readings))
	for i, rd := range readings {
		list[i] = map[string]any{"entity_id": rd.EntityID, "value": rd.Value}
	}
	r.store.SetPath("workData."+bucket, list)

	return r.aggregate(bucket, readings)
}

func (r *Room) readings(bucket string) []sensor.Reading {
	raw, _ := r.store.GetPath("workData." + bucket)
	list, _ := raw.([]any)
	out := make([]sensor.Reading, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["entity_id"].(string)
		out = append(out, sensor.Reading{EntityID: id, Value: m["value"]})
	}
	return out
}

func (r *Room) aggregate(bucket string, readings []sensor.Reading) bool {
	if bucket == "light" {
		r.aggregateLight(readings)
		return false
	}
	mean, ok := sensor.Mean(readings)
	if !ok {
		return false
	}
	mean = sensor.Round(mean, 2)

	switch bucket {
	case "temperature":
		return r.store.SetPath("tentData.temperature", mean)
	case "humidity":
		return r.store.SetPath("tentData.humidity", mean)
	case "co2":
		r.store.Update(func(tx *store.Tx) {
			tx.SetPath("tentData.co2Level", mean)
			tx.SetPath("controlOptionData.co2ppm.current", mean)
		})
	case "ph":
		r.store.SetPath("Hydro.ph_current", mean)
	case "ec":
		r.store.SetPath("Hydro.ec_current", mean)
	}
	return false
}

func (r *Room) aggregateLight(readings []sensor.Reading) {
	area := r.store.Float("growAreaM2")
	var sum float64
	var n int
	for _, rd := range readings {
		f, ok := sensor.Numeric(rd.Value)
		if !ok {
			continue
		}
		sum += sensor.LightToPPFD(f, sensor.Kind(rd.EntityID), area)
		n++
	}
	if n == 0 {
		return
	}
	ppfd := sensor.Round(sum/float64(n), 2)
	r.store.Update(func(tx *store.Tx) {
		tx.SetPath("tentData.PPFD", ppfd)
		tx.SetPath("tentData.DLI", sensor.DLI(ppfd, r.lightHours()))
	})
}

// lightHours is the scheduled photoperiod.
func (r *Room) lightHours() float64 {
	on, okOn := r.store.Duration("isPlantDay.lightOnTime")
	off, okOff := r.store.Duration("isPlantDay.lightOffTime")
	if !okOn || !okOff {
		return 0
	}
	d := off - on
	if d <= 0 {
		d += 24 * time.Hour
	}
	return d.Hours()
}

// climateKnown reports whether at least one temperature and one humidity reading
// has been ingested.
func (r *Room) climateKnown() bool {
	return len(r.readings("temperature")) > 0 && len(r.readings("humidity")) > 0
}

// RecomputeVPD derives dew point and VPD from the averaged climate. It reports
// false until both temperature and humidity readings are known.
func (r *Room) RecomputeVPD() bool {
	if !r.climateKnown() {
		return false
	}
	t := r.store.Float("tentData.temperature")
	rh := r.store.Float("tentData.humidity")
	if rh <= 0 {
		return false
	}
	vpd := sensor.CurrentVPD(t, rh, r.store.Float("tentData.leafTempOffset"))
	r.store.Update(func(tx *store.Tx) {
		tx.SetPath("tentData.dewpoint", sensor.Round(sensor.DewPoint(t, rh), 2))
		tx.SetPath("vpd.current", vpd)
	})
	return true
}

// updateVPD recomputes VPD, publishes the snapshot and runs the tent mode.
func (r *Room) updateVPD() {
	if !r.RecomputeVPD() {
		return
	}
	r.bus.Publish(store.TopicVPDCreation, r.store.GrowData(r.now().UTC()))
	d := r.modes.SelectAction()
	log.Debug().Str("room", r.name).Float64("vpd", r.store.Float("vpd.current")).Str("mode", d.Mode).Str("direction", d.Direction).Msg("VPD updated")
}

// applyStage loads the VPD range and climate limits of the current plant stage.
func (r *Room) applyStage() {
	stage := r.store.String("plantStage")
	if lo, hi, ok := r.stageRange(stage); ok {
		r.store.SetPath("vpd.range", []any{lo, hi})
	}
	r.applyLimits()
	r.applyPerfection()
	log.Info().Str("room", r.name).Str("stage", stage).Float64("perfection", r.store.Float("vpd.perfection")).Msg("Plant stage applied")
}

func (r *Room) stageRange(stage string) (float64, float64, bool) {
	if raw, ok := r.store.GetPath("plantStages." + stage + ".vpdRange"); ok {
		if lo, hi, ok := pair(raw); ok {
			return lo, hi, true
		}
	}
	if l, ok := store.StageTable[stage]; ok {
		return l.VPDRange[0], l.VPDRange[1], true
	}
	return 0, 0, false
}

func pair(raw any) (float64, float64, bool) {
	list, ok := raw.([]any)
	if !ok || len(list) != 2 {
		return 0, 0, false
	}
	lo, ok1 := store.ToFloat(list[0])
	hi, ok2 := store.ToFloat(list[1])
	return lo, hi, ok1 && ok2
}

// applyLimits sets the temperature and humidity envelope from the plant stage, or
// from the user min/max values while minMaxControl is on.
func (r *Room) applyLimits() {
	base := "plantStages." + r.store.String("plantStage") + "."
	limits := map[string]float64{
		"minTemp":     r.store.Float(base + "minTemp"),
		"maxTemp":     r.store.Float(base + "maxTemp"),
		"minHumidity": r.store.Float(base + "minHumidity"),
		"maxHumidity": r.store.Float(base + "maxHumidity"),
	}
	if r.store.Bool("controlOptions.minMaxControl") {
		for key, src := range map[string]string{
			"minTemp":     "minTemp",
			"maxTemp":     "maxTemp",
			"minHumidity": "minHum",
			"maxHumidity": "maxHum",
		} {
			if v := r.store.Float("controlOptionData.minmax." + src); v > 0 {
				limits[key] = v
			}
		}
	}
	r.store.Update(func(tx *store.Tx) {
		for key, v := range limits {
			tx.SetPath("tentData."+key, v)
		}
	})
}

// applyPerfection recomputes the perfection band from range and tolerance.
func (r *Room) applyPerfection() {
	raw, _ := r.store.GetPath("vpd.range")
	lo, hi, ok := pair(raw)
	if !ok {
		return
	}
	perfection, pmin, pmax := sensor.PerfectVPD(lo, hi, r.store.Float("vpd.tolerance"))
	r.store.Update(func(tx *store.Tx) {
		tx.SetPath("vpd.perfection", perfection)
		tx.SetPath("vpd.perfectMin", pmin)
		tx.SetPath("vpd.perfectMax", pmax)
	})
}
