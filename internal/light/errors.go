package light

import "fmt"

// Reasons a light step can be refused.
const (
	ReasonNotDimmable  = "not dimmable"
	ReasonLightOff     = "light is off"
	ReasonNoOGBControl = "light not controlled by tentd"
	ReasonNoVPDControl = "vpd light control disabled"
	ReasonSunPhase     = "sun phase active"
)

// Refusal is returned when a step request is not applied.
type Refusal struct {
	Device string
	Reason string
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("light %s: %s", r.Device, r.Reason)
}
