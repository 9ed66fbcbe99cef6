package store

import "github.com/dokzlo13/tentd/internal/sensor"

// PlantStages lists the plant stages in growth order.
var PlantStages = []string{
	"Germination", "Clones", "EarlyVeg", "MidVeg", "LateVeg",
	"EarlyFlower", "MidFlower", "LateFlower",
}

// StageLimits is one row of the static plant-stage table.
type StageLimits struct {
	VPDRange    [2]float64
	MinTemp     float64
	MaxTemp     float64
	MinHumidity float64
	MaxHumidity float64
}

// StageTable maps plant stage to its environmental envelope.
var StageTable = map[string]StageLimits{
	"Germination": {VPDRange: [2]float64{0.35, 0.70}, MinTemp: 20, MaxTemp: 24, MinHumidity: 65, MaxHumidity: 80},
	"Clones":      {VPDRange: [2]float64{0.40, 0.85}, MinTemp: 20, MaxTemp: 24, MinHumidity: 60, MaxHumidity: 80},
	"EarlyVeg":    {VPDRange: [2]float64{0.60, 0.90}, MinTemp: 20, MaxTemp: 26, MinHumidity: 55, MaxHumidity: 70},
	"MidVeg":      {VPDRange: [2]float64{0.80, 1.00}, MinTemp: 22, MaxTemp: 27, MinHumidity: 55, MaxHumidity: 65},
	"LateVeg":     {VPDRange: [2]float64{1.00, 1.20}, MinTemp: 22, MaxTemp: 27, MinHumidity: 50, MaxHumidity: 60},
	"EarlyFlower": {VPDRange: [2]float64{1.00, 1.30}, MinTemp: 22, MaxTemp: 26, MinHumidity: 50, MaxHumidity: 60},
	"MidFlower":   {VPDRange: [2]float64{1.10, 1.40}, MinTemp: 21, MaxTemp: 25, MinHumidity: 45, MaxHumidity: 55},
	"LateFlower":  {VPDRange: [2]float64{1.20, 1.50}, MinTemp: 20, MaxTemp: 24, MinHumidity: 40, MaxHumidity: 50},
}

// IsStage reports whether name is a known plant stage.
func IsStage(name string) bool {
	_, ok := StageTable[name]
	return ok
}

// Capability names in the capability index.
const (
	CapHeat       = "canHeat"
	CapCool       = "canCool"
	CapClimate    = "canClimate"
	CapHumidify   = "canHumidify"
	CapDehumidify = "canDehumidify"
	CapVentilate  = "canVentilate"
	CapExhaust    = "canExhaust"
	CapIntake     = "canIntake"
	CapLight      = "canLight"
	CapPump       = "canPump"
	CapCO2        = "canCO2"
)

// Capabilities lists every capability in index order.
var Capabilities = []string{
	CapHeat, CapCool, CapClimate, CapHumidify, CapDehumidify, CapVentilate,
	CapExhaust, CapIntake, CapLight, CapPump, CapCO2,
}

// DefaultCooldowns are per-capability cooldowns in minutes.
var DefaultCooldowns = map[string]float64{
	CapHumidify:   3,
	CapDehumidify: 4,
	CapCool:       2,
	CapHeat:       1,
	CapExhaust:    1,
	CapIntake:     1,
	CapVentilate:  1,
	CapLight:      1,
	CapCO2:        2,
	CapClimate:    2,
}

// Defaults returns a fresh default room state tree.
func Defaults() map[string]any {
	stage := "Germination"
	limits := StageTable[stage]
	tolerance := 10.0
	perfection, perfectMin, perfectMax := sensor.PerfectVPD(limits.VPDRange[0], limits.VPDRange[1], tolerance)

	stages := make(map[string]any, len(StageTable))
	for name, l := range StageTable {
		stages[name] = map[string]any{
			"vpdRange":    []any{l.VPDRange[0], l.VPDRange[1]},
			"minTemp":     l.MinTemp,
			"maxTemp":     l.MaxTemp,
			"minHumidity": l.MinHumidity,
			"maxHumidity": l.MaxHumidity,
		}
	}

	caps := make(map[string]any, len(Capabilities))
	for _, c := range Capabilities {
		caps[c] = map[string]any{"state": false, "count": 0.0, "devEntities": []any{}}
	}

	cooldowns := make(map[string]any, len(DefaultCooldowns))
	for c, m := range DefaultCooldowns {
		cooldowns[c] = m
	}

	return map[string]any{
		"tentMode":    "VPD Perfection",
		"mainControl": "HomeAssistant",
		"plantStage":  stage,
		"strainName":  "",
		"growAreaM2":  1.0,
		"tentData": map[string]any{
			"temperature":    0.0,
			"humidity":       0.0,
			"dewpoint":       0.0,
			"co2Level":       400.0,
			"leafTempOffset": 0.0,
			"minTemp":        limits.MinTemp,
			"maxTemp":        limits.MaxTemp,
			"minHumidity":    limits.MinHumidity,
			"maxHumidity":    limits.MaxHumidity,
			"PPFD":           0.0,
			"DLI":            0.0,
			"AmbientTemp":    0.0,
			"AmbientHum":     0.0,
			"AmbientDew":     0.0,
			"OutsideTemp":    0.0,
			"OutsideHum":     0.0,
		},
		"vpd": map[string]any{
			"current":    0.0,
			"targeted":   0.0,
			"tolerance":  tolerance,
			"range":      []any{limits.VPDRange[0], limits.VPDRange[1]},
			"perfection": perfection,
			"perfectMin": perfectMin,
			"perfectMax": perfectMax,
		},
		"isPlantDay": map[string]any{
			"islightON":    false,
			"lightOnTime":  "",
			"lightOffTime": "",
			"sunRiseTime":  "",
			"sunSetTime":   "",
		},
		"controlOptions": map[string]any{
			"lightbyOGBControl":  false,
			"vpdLightControl":    false,
			"nightVPDHold":       false,
			"vpdDeviceDampening": false,
			"co2Control":         false,
			"workMode":           false,
			"minMaxControl":      false,
			"ownWeights":         false,
			"ambientControl":     false,
			"ownDeviceSetup":     false,
		},
		"controlOptionData": map[string]any{
			"co2ppm":  map[string]any{"target": 1000.0, "current": 400.0, "minPPM": 400.0, "maxPPM": 1200.0},
			"weights": map[string]any{"temp": 1.0, "hum": 1.0, "defaultValue": 1.0},
			"minmax": map[string]any{
				"minTemp": 0.0, "maxTemp": 0.0, "minHum": 0.0, "maxHum": 0.0,
			},
			"cooldowns": cooldowns,
		},
		"plantStages": stages,
		"plantDates": map[string]any{
			"growstartdate":    "",
			"bloomswitchdate":  "",
			"breederbloomdays": 0.0,
			"planttotaldays":   0.0,
			"totalbloomdays":   0.0,
			"daysToChopChop":   0.0,
		},
		"Hydro": map[string]any{
			"Active":      false,
			"Mode":        "OFF",
			"Cycle":       false,
			"Intervall":   0.0,
			"Duration":    0.0,
			"Retrieve":    false,
			"R_Active":    false,
			"R_Intervall": 0.0,
			"R_Duration":  0.0,
			"ReservoirL":  10.0,
			"ec_current":  0.0,
			"tds_current": 0.0,
			"ph_current":  0.0,
			"oxi_current": 0.0,
			"sal_current": 0.0,
			"WaterTEMP":   0.0,
		},
		"Feed": map[string]any{
			"Mode":      "Disabled",
			"Active":    false,
			"PH_Target": 6.0,
			"EC_Target": 1.2,
			"FlowRate":  1.0,
			"Nut_A_ml":  0.0,
			"Nut_B_ml":  0.0,
			"Nut_C_ml":  0.0,
			"Nut_W_ml":  0.0,
			"Nut_X_ml":  0.0,
			"Nut_Y_ml":  0.0,
			"Nut_PH_ml": 0.0,
		},
		"drying": map[string]any{
			"currentDryMode":  "",
			"mode_start_time": "",
			"modes": map[string]any{
				"ElClassico": map[string]any{
					"start":    map[string]any{"targetTemp": 20.0, "targetHumidity": 62.0, "durationHours": 72.0},
					"halfTime": map[string]any{"targetTemp": 20.0, "targetHumidity": 60.0, "durationHours": 72.0},
					"endTime":  map[string]any{"targetTemp": 20.0, "targetHumidity": 58.0, "durationHours": 48.0},
				},
				"5DayDry": map[string]any{
					"start":    map[string]any{"targetTemp": 17.2, "targetVPD": 0.63, "durationHours": 48.0},
					"halfTime": map[string]any{"targetTemp": 17.2, "targetVPD": 0.74, "durationHours": 24.0},
					"endTime":  map[string]any{"targetTemp": 17.2, "targetVPD": 0.87, "durationHours": 48.0},
				},
				"DewBased": map[string]any{
					"start":    map[string]any{"targetTemp": 20.0, "targetDewPoint": 12.25, "durationHours": 96.0},
					"halfTime": map[string]any{"targetTemp": 20.0, "targetDewPoint": 11.1, "durationHours": 96.0},
					"endTime":  map[string]any{"targetTemp": 20.0, "targetDewPoint": 11.1, "durationHours": 48.0},
				},
			},
		},
		"capabilities": caps,
		"DeviceMinMax": map[string]any{
			"Exhaust":     map[string]any{"active": false, "minDuty": 10.0, "maxDuty": 95.0, "default": map[string]any{"min": 10.0, "max": 95.0}},
			"Intake":      map[string]any{"active": false, "minDuty": 10.0, "maxDuty": 95.0, "default": map[string]any{"min": 10.0, "max": 95.0}},
			"Ventilation": map[string]any{"active": false, "minDuty": 85.0, "maxDuty": 100.0, "default": map[string]any{"min": 85.0, "max": 100.0}},
			"Light":       map[string]any{"active": false, "minVoltage": 20.0, "maxVoltage": 50.0, "default": map[string]any{"min": 20.0, "max": 50.0}},
		},
		"DeviceProfiles": map[string]any{
			"Exhaust":      profile("both", CapExhaust, "reduce", "lowers temperature and humidity", ""),
			"Intake":       profile("temperature", CapIntake, "reduce", "brings in cooler air", "humidity"),
			"Ventilation":  profile("temperature", CapVentilate, "reduce", "mixes canopy air", ""),
			"Humidifier":   profile("humidity", CapHumidify, "increase", "raises humidity", ""),
			"Dehumidifier": profile("humidity", CapDehumidify, "reduce", "lowers humidity", "temperature"),
			"Heater":       profile("temperature", CapHeat, "increase", "raises temperature", ""),
			"Cooler":       profile("temperature", CapCool, "reduce", "lowers temperature", ""),
			"Climate":      profile("both", CapClimate, "reduce", "conditions air", ""),
			"Light":        profile("temperature", CapLight, "increase", "adds radiant heat", ""),
		},
		"workData": map[string]any{
			"temperature": []any{},
			"humidity":    []any{},
			"dewpoint":    []any{},
			"moisture":    []any{},
			"co2":         []any{},
			"ec":          []any{},
			"ph":          []any{},
			"light":       []any{},
			"Devices":     []any{},
		},
	}
}

func profile(kind, capability, direction, effect, side string) map[string]any {
	p := map[string]any{
		"type":      kind,
		"cap":       capability,
		"direction": direction,
		"effect":    effect,
	}
	if side != "" {
		p["sideEffect"] = side
	}
	return p
}
