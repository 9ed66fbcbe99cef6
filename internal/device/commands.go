package device

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/host"
)

// TurnOn switches the device on. Dimmable devices take the requested level clamped
// to their bounds; the stored level only changes when the host accepted the call.
func (d *Device) TurnOn(ctx context.Context, opt On) error {
	requested := opt.BrightnessPct
	if requested == 0 {
		requested = opt.Percentage
	}

	d.mu.Lock()
	level := d.level
	if d.Dimmable && requested > 0 {
		level = clamp(requested, d.minLevel, d.maxLevel)
	}
	d.mu.Unlock()

	var err error
	switch {
	case d.Type == Climate:
		err = d.call(ctx, "turn_on", "climate", "turn_on", map[string]any{"entity_id": d.ControlEntity()})
	case d.IsAcInfinity:
		err = d.call(ctx, "turn_on", "select", "select_option", map[string]any{"entity_id": d.firstOption("select"), "option": "On"})
		if err == nil && d.Dimmable {
			err = d.SetValue(ctx, math.Round(level/10))
		}
	case d.Dimmable && d.firstSwitch("light") != "" && (d.IsTasmota || d.Type == Light):
		err = d.call(ctx, "turn_on", "light", "turn_on", map[string]any{"entity_id": d.firstSwitch("light"), "brightness_pct": level})
	case d.Dimmable && d.firstSwitch("fan") != "":
		err = d.call(ctx, "turn_on", "fan", "turn_on", map[string]any{"entity_id": d.firstSwitch("fan"), "percentage": level})
	default:
		id := d.ControlEntity()
		err = d.call(ctx, "turn_on", host.Domain(id), "turn_on", map[string]any{"entity_id": id})
	}
	if err != nil {
		return err
	}

	if d.Dimmable {
		d.mu.Lock()
		d.level = level
		d.mu.Unlock()
	}
	log.Debug().Str("room", d.Room).Str("device", d.Name).Float64("level", level).Msg("Device turned on")
	return nil
}

// TurnOff switches the device off.
func (d *Device) TurnOff(ctx context.Context) error {
	switch {
	case d.Type == Climate:
		return d.SetMode(ctx, "off")
	case d.IsAcInfinity:
		return d.call(ctx, "turn_off", "select", "select_option", map[string]any{"entity_id": d.firstOption("select"), "option": "Off"})
	default:
		id := d.ControlEntity()
		return d.call(ctx, "turn_off", host.Domain(id), "turn_off", map[string]any{"entity_id": id})
	}
}

// SetValue writes n to the device's number entity.
func (d *Device) SetValue(ctx context.Context, n float64) error {
	id := d.firstOption("number")
	if id == "" {
		return &CommandError{Room: d.Room, Device: d.Name, Op: "set_value", Err: ErrNoControlEntity}
	}
	return d.call(ctx, "set_value", "number", "set_value", map[string]any{"entity_id": id, "value": n})
}

// SetMode selects an HVAC mode on climate devices or an option on select-driven ones.
func (d *Device) SetMode(ctx context.Context, mode string) error {
	if d.Type == Climate {
		return d.call(ctx, "set_mode", "climate", "set_hvac_mode", map[string]any{"entity_id": d.ControlEntity(), "hvac_mode": mode})
	}
	id := d.firstOption("select")
	if id == "" {
		return &CommandError{Room: d.Room, Device: d.Name, Op: "set_mode", Err: ErrNoControlEntity}
	}
	return d.call(ctx, "set_mode", "select", "select_option", map[string]any{"entity_id": id, "option": mode})
}

func (d *Device) call(ctx context.Context, op, domain, service string, data map[string]any) error {
	if err := d.host.Call(ctx, domain, service, data); err != nil {
		cerr := &CommandError{Room: d.Room, Device: d.Name, Op: op, Err: err}
		log.Error().Err(err).Str("room", d.Room).Str("device", d.Name).Str("service", domain+"."+service).Msg("Device command failed")
		return cerr
	}
	return nil
}
