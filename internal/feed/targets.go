package feed

import "github.com/dokzlo13/tentd/internal/store"

// Feed modes.
const (
	Disabled  = "Disabled"
	Automatic = "Automatic"
	OwnPlan   = "OwnPlan"
)

// Targets are the reservoir setpoints and nutrient ratios in ml per litre.
type Targets struct {
	PH float64
	EC float64
	A  float64
	B  float64
	C  float64
}

// StageTargets are the Automatic mode defaults per plant stage.
var StageTargets = map[string]Targets{
	"Germination": {PH: 6.2, EC: 0.4, A: 0.5, B: 0.5, C: 0.2},
	"Clones":      {PH: 6.0, EC: 0.6, A: 0.7, B: 0.7, C: 0.3},
	"EarlyVeg":    {PH: 5.9, EC: 1.0, A: 1.2, B: 1.0, C: 0.5},
	"MidVeg":      {PH: 5.8, EC: 1.4, A: 1.8, B: 1.5, C: 0.6},
	"LateVeg":     {PH: 5.8, EC: 1.6, A: 2.0, B: 1.8, C: 0.7},
	"EarlyFlower": {PH: 6.0, EC: 1.8, A: 1.8, B: 2.2, C: 0.8},
	"MidFlower":   {PH: 6.1, EC: 2.0, A: 1.6, B: 2.6, C: 1.0},
	"LateFlower":  {PH: 6.2, EC: 1.4, A: 1.0, B: 1.8, C: 0.6},
}

// TargetsFor resolves the active targets for mode. ok is false when dosing is off.
func TargetsFor(mode string, s *store.Store) (Targets, bool) {
	switch mode {
	case Automatic:
		t, ok := StageTargets[s.String("plantStage")]
		return t, ok
	case OwnPlan:
		return Targets{
			PH: s.Float("Feed.PH_Target"),
			EC: s.Float("Feed.EC_Target"),
			A:  s.Float("Feed.Nut_A_ml"),
			B:  s.Float("Feed.Nut_B_ml"),
			C:  s.Float("Feed.Nut_C_ml"),
		}, true
	}
	return Targets{}, false
}
