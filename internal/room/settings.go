package room

import (
	"fmt"
	"strings"
	"time"

	"github.com/dokzlo13/tentd/internal/feed"
	"github.com/dokzlo13/tentd/internal/growplan"
	"github.com/dokzlo13/tentd/internal/mode"
	"github.com/dokzlo13/tentd/internal/sensor"
	"github.com/dokzlo13/tentd/internal/store"
)

// Hook is the follow-up work a setting needs once its value changed.
type Hook int

const (
	HookNone Hook = iota
	HookStage
	HookLimits
	HookTolerance
	HookVPD
	HookHydro
	HookRetrieve
	HookBounds
	HookPlantTime
	HookDrying
	HookLight
)

// parser validates a raw host value and returns the value to store.
type parser func(raw any) (any, error)

// Setting maps one configuration entity to a store path.
type Setting struct {
	Path  string
	parse parser
	Hook  Hook
}

func enum(values ...string) parser {
	return func(raw any) (any, error) {
		s := strings.TrimSpace(fmt.Sprint(raw))
		for _, v := range values {
			if strings.EqualFold(v, s) {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(values, ", "))
	}
}

func yesNo(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "YES", "ON", "TRUE":
			return true, nil
		case "NO", "OFF", "FALSE":
			return false, nil
		}
	}
	return nil, fmt.Errorf("%v is not YES or NO", raw)
}

func number(lo, hi float64) parser {
	return func(raw any) (any, error) {
		f, ok := sensor.Numeric(raw)
		if !ok {
			return nil, fmt.Errorf("%v is not a number", raw)
		}
		if f < lo || f > hi {
			return nil, fmt.Errorf("%g is outside %g-%g", f, lo, hi)
		}
		return f, nil
	}
}

func clock(raw any) (any, error) {
	s := strings.TrimSpace(fmt.Sprint(raw))
	d, ok := store.ParseClock(s)
	if !ok {
		return nil, fmt.Errorf("%q is not HH:MM:SS", s)
	}
	return formatClock(d), nil
}

func formatClock(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func date(raw any) (any, error) {
	s := strings.TrimSpace(fmt.Sprint(raw))
	if _, err := growplan.ParseDate(s, time.Local); err != nil {
		return nil, err
	}
	return s, nil
}

func text(raw any) (any, error) {
	return strings.TrimSpace(fmt.Sprint(raw)), nil
}

// Settings is the jump table from configuration entity key to setter. The key is the
// object id between "ogb_" and the room suffix, e.g. ogb_vpdtolerance_<room>.
var Settings = map[string]Setting{
	// Selects
	"tentmode":   {"tentMode", enum(mode.Modes...), HookNone},
	"plantstage": {"plantStage", enum(store.PlantStages...), HookStage},
	"dryingmode": {"drying.currentDryMode", enum(mode.DryingModes...), HookDrying},
	"hydromode":  {"Hydro.Mode", enum(mode.HydroModes...), HookHydro},
	"feedmode":   {"Feed.Mode", enum(feed.Disabled, feed.Automatic, feed.OwnPlan), HookNone},

	// Control options
	"lightcontrol":       {"controlOptions.lightbyOGBControl", yesNo, HookLight},
	"vpdlightcontrol":    {"controlOptions.vpdLightControl", yesNo, HookNone},
	"nightvpdhold":       {"controlOptions.nightVPDHold", yesNo, HookNone},
	"vpddevicedampening": {"controlOptions.vpdDeviceDampening", yesNo, HookNone},
	"co2control":         {"controlOptions.co2Control", yesNo, HookNone},
	"workmode":           {"controlOptions.workMode", yesNo, HookNone},
	"minmaxcontrol":      {"controlOptions.minMaxControl", yesNo, HookLimits},
	"ownweights":         {"controlOptions.ownWeights", yesNo, HookNone},
	"ambientcontrol":     {"controlOptions.ambientControl", yesNo, HookNone},
	"owndevicesets":      {"controlOptions.ownDeviceSetup", yesNo, HookNone},
	"hydrocycle":         {"Hydro.Cycle", yesNo, HookHydro},
	"hydroretrieve":      {"Hydro.Retrieve", yesNo, HookRetrieve},

	// VPD
	"vpdtolerance":   {"vpd.tolerance", number(0, 25), HookTolerance},
	"vpdtarget":      {"vpd.targeted", number(0, 5), HookNone},
	"leaftempoffset": {"tentData.leafTempOffset", number(0, 5), HookVPD},

	// Min/max envelope
	"mintemp": {"controlOptionData.minmax.minTemp", number(0, 35), HookLimits},
	"maxtemp": {"controlOptionData.minmax.maxTemp", number(0, 35), HookLimits},
	"minhum":  {"controlOptionData.minmax.minHum", number(0, 100), HookLimits},
	"maxhum":  {"controlOptionData.minmax.maxHum", number(0, 100), HookLimits},

	// CO2
	"co2minvalue":    {"controlOptionData.co2ppm.minPPM", number(0, 2000), HookNone},
	"co2maxvalue":    {"controlOptionData.co2ppm.maxPPM", number(0, 2000), HookNone},
	"co2targetvalue": {"controlOptionData.co2ppm.target", number(0, 2000), HookNone},

	// Weights
	"temperatureweight": {"controlOptionData.weights.temp", number(0, 2), HookNone},
	"humidityweight":    {"controlOptionData.weights.hum", number(0, 2), HookNone},

	// Device bounds
	"exhaustminmax":     {"DeviceMinMax.Exhaust.active", yesNo, HookBounds},
	"exhaustdutymin":    {"DeviceMinMax.Exhaust.minDuty", number(0, 100), HookBounds},
	"exhaustdutymax":    {"DeviceMinMax.Exhaust.maxDuty", number(0, 100), HookBounds},
	"intakeminmax":      {"DeviceMinMax.Intake.active", yesNo, HookBounds},
	"intakedutymin":     {"DeviceMinMax.Intake.minDuty", number(0, 100), HookBounds},
	"intakedutymax":     {"DeviceMinMax.Intake.maxDuty", number(0, 100), HookBounds},
	"ventminmax":        {"DeviceMinMax.Ventilation.active", yesNo, HookBounds},
	"ventdutymin":       {"DeviceMinMax.Ventilation.minDuty", number(0, 100), HookBounds},
	"ventdutymax":       {"DeviceMinMax.Ventilation.maxDuty", number(0, 100), HookBounds},
	"lightminmax":       {"DeviceMinMax.Light.active", yesNo, HookBounds},
	"lightvoltagemin":   {"DeviceMinMax.Light.minVoltage", number(0, 100), HookBounds},
	"lightvoltagemax":   {"DeviceMinMax.Light.maxVoltage", number(0, 100), HookBounds},

	// Light schedule
	"lightontime":  {"isPlantDay.lightOnTime", clock, HookLight},
	"lightofftime": {"isPlantDay.lightOffTime", clock, HookLight},
	"sunrisetime":  {"isPlantDay.sunRiseTime", clock, HookLight},
	"sunsettime":   {"isPlantDay.sunSetTime", clock, HookLight},

	// Plant
	"strainname":       {"strainName", text, HookNone},
	"growarea":         {"growAreaM2", number(0.1, 100), HookNone},
	"growstartdate":    {"plantDates.growstartdate", date, HookPlantTime},
	"bloomswitchdate":  {"plantDates.bloomswitchdate", date, HookPlantTime},
	"breederbloomdays": {"plantDates.breederbloomdays", number(0, 200), HookPlantTime},

	// Hydro
	"hydrointervall":   {"Hydro.Intervall", number(0, 1440), HookHydro},
	"hydroduration":    {"Hydro.Duration", number(0, 3600), HookHydro},
	"retrieveinterval": {"Hydro.R_Intervall", number(0, 1440), HookRetrieve},
	"retrieveduration": {"Hydro.R_Duration", number(0, 3600), HookRetrieve},
	"reservoirsize":    {"Hydro.ReservoirL", number(0, 1000), HookNone},

	// Feed
	"feedphtarget": {"Feed.PH_Target", number(0, 14), HookNone},
	"feedectarget": {"Feed.EC_Target", number(0, 5), HookNone},
	"feedflowrate": {"Feed.FlowRate", number(0.1, 100), HookNone},
	"feednuta":     {"Feed.Nut_A_ml", number(0, 50), HookNone},
	"feednutb":     {"Feed.Nut_B_ml", number(0, 50), HookNone},
	"feednutc":     {"Feed.Nut_C_ml", number(0, 50), HookNone},
}

// hooks maps store paths to the hook of their setting so changes from any source,
// not only Dispatch, trigger the follow-up.
var hooks = func() map[string]Hook {
	m := make(map[string]Hook, len(Settings))
	for _, s := range Settings {
		if s.Hook != HookNone {
			m[s.Path] = s.Hook
		}
	}
	return m
}()

// KeyOf extracts the setting key from a configuration entity id of room.
func KeyOf(entityID, room string) string {
	obj := strings.ToLower(entityID)
	if i := strings.IndexByte(obj, '.'); i >= 0 {
		obj = obj[i+1:]
	}
	obj = strings.TrimPrefix(obj, "ogb_")
	suffix := "_" + strings.ToLower(strings.ReplaceAll(room, " ", "_"))
	return strings.TrimSuffix(obj, suffix)
}
