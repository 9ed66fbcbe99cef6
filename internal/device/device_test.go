package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/tentd/internal/eventbus"
	"github.com/dokzlo13/tentd/internal/host"
	"github.com/dokzlo13/tentd/internal/sensor"
	"github.com/dokzlo13/tentd/internal/store"
)

func newDevice(t *testing.T, name string, typ Type, entities map[string]any) (*Device, *host.Memory) {
	t.Helper()
	h := host.NewMemory()
	var readings []sensor.Reading
	for id, v := range entities {
		h.AddEntity(id, "tent", v)
		readings = append(readings, sensor.Reading{EntityID: id, Value: v})
	}
	d := New(name, typ, "tent", h, store.New("tent"))
	require.NoError(t, d.Init(readings))
	return d, h
}

func TestInit_DimmableFanSeedsFromDutySensor(t *testing.T) {
	d, _ := newDevice(t, "exhaust", Exhaust, map[string]any{
		"fan.exhaust_tent":    "on",
		"sensor.exhaust_duty": 40.0,
	})

	assert.True(t, d.Dimmable)
	assert.False(t, d.IsAcInfinity)
	assert.Equal(t, 40.0, d.Level())
	lo, hi := d.Bounds()
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 95.0, hi)
}

func TestInit_ClampsSeededLevel(t *testing.T) {
	d, _ := newDevice(t, "ventilation", Ventilation, map[string]any{
		"fan.ventilation_tent":    "on",
		"sensor.ventilation_duty": 20.0,
	})
	assert.Equal(t, 85.0, d.Level())
}

func TestInit_NoControlEntity(t *testing.T) {
	d := New("heater", Heater, "tent", host.NewMemory(), store.New("tent"))
	err := d.Init([]sensor.Reading{{EntityID: "sensor.heater_temperature", Value: 20.0}})
	assert.ErrorIs(t, err, ErrNoControlEntity)
}

func TestTurnOn_ClampsToBounds(t *testing.T) {
	d, h := newDevice(t, "exhaust", Exhaust, map[string]any{"fan.exhaust_tent": "off"})

	require.NoError(t, d.TurnOn(context.Background(), On{Percentage: 100}))
	assert.Equal(t, 95.0, d.Level())

	calls := h.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "fan", calls[0].Domain)
	assert.Equal(t, 95.0, calls[0].Data["percentage"])
	assert.True(t, d.Running(context.Background()))

	require.NoError(t, d.TurnOn(context.Background(), On{Percentage: 1}))
	assert.Equal(t, 10.0, d.Level())
}

func TestTurnOn_AcInfinityUsesSelectAndNumber(t *testing.T) {
	d, h := newDevice(t, "exhaust", Exhaust, map[string]any{
		"select.exhaust_mode":  "Off",
		"number.exhaust_speed": 5.0,
	})
	require.True(t, d.IsAcInfinity)
	require.True(t, d.Dimmable)

	require.NoError(t, d.TurnOn(context.Background(), On{Percentage: 73}))

	calls := h.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "select_option", calls[0].Service)
	assert.Equal(t, "On", calls[0].Data["option"])
	assert.Equal(t, "set_value", calls[1].Service)
	assert.Equal(t, 7.0, calls[1].Data["value"])
	assert.True(t, d.Running(context.Background()))
}

func TestTurnOn_TasmotaUsesLightBrightness(t *testing.T) {
	d, h := newDevice(t, "intake", Intake, map[string]any{"light.intake_tent": "off"})
	require.True(t, d.IsTasmota)

	require.NoError(t, d.TurnOn(context.Background(), On{BrightnessPct: 60}))
	calls := h.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "light", calls[0].Domain)
	assert.Equal(t, 60.0, calls[0].Data["brightness_pct"])
}

func TestChange_StepsAndClamps(t *testing.T) {
	d, _ := newDevice(t, "exhaust", Exhaust, map[string]any{
		"fan.exhaust_tent":    "on",
		"sensor.exhaust_duty": 93.0,
	})

	require.NoError(t, d.Change(context.Background(), true))
	assert.Equal(t, 95.0, d.Level())
	require.NoError(t, d.Change(context.Background(), false))
	assert.Equal(t, 90.0, d.Level())
}

func TestChange_NotDimmableIsNoop(t *testing.T) {
	d, h := newDevice(t, "heater", Heater, map[string]any{"switch.heater_tent": "off"})
	require.NoError(t, d.Change(context.Background(), true))
	assert.Empty(t, h.Calls())
}

func TestCommandError_LevelUnchanged(t *testing.T) {
	d, h := newDevice(t, "exhaust", Exhaust, map[string]any{
		"fan.exhaust_tent":    "off",
		"sensor.exhaust_duty": 50.0,
	})
	h.FailCalls("fan.exhaust_tent", errors.New("unreachable"))

	err := d.TurnOn(context.Background(), On{Percentage: 80})
	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "exhaust", cerr.Device)
	assert.Equal(t, 50.0, d.Level())
	assert.False(t, d.Running(context.Background()))
}

func TestApply_Climate(t *testing.T) {
	d, h := newDevice(t, "climate", Climate, map[string]any{"climate.climate_tent": "off"})

	require.NoError(t, d.Apply(context.Background(), Increase))
	require.NoError(t, d.Apply(context.Background(), Reduce))

	calls := h.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "dry", calls[0].Data["hvac_mode"])
	assert.Equal(t, "cool", calls[1].Data["hvac_mode"])
}

func TestAttach_SubscribesCapabilityTopics(t *testing.T) {
	d, h := newDevice(t, "heater", Heater, map[string]any{"switch.heater_tent": "off"})
	bus := eventbus.New("tent")
	defer bus.Close(context.Background())

	d.Attach(bus)
	bus.Publish(Topic(Increase, store.CapHeat), nil)
	assert.Eventually(t, func() bool { return d.Running(context.Background()) }, time.Second, 10*time.Millisecond)

	bus.Publish(Topic(Reduce, store.CapHeat), nil)
	assert.Eventually(t, func() bool { return !d.Running(context.Background()) }, time.Second, 10*time.Millisecond)

	d.Detach()
	h.Reset()
	bus.Publish(Topic(Increase, store.CapHeat), nil)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.Calls())
}

func TestAttach_PumpAction(t *testing.T) {
	d, _ := newDevice(t, "waterpump", WaterPump, map[string]any{"switch.waterpump_tent": "off"})
	bus := eventbus.New("tent")
	defer bus.Close(context.Background())

	d.Attach(bus)
	bus.Publish(TopicPumpAction, PumpAction{Type: MistPump, On: true})
	bus.Publish(TopicPumpAction, PumpAction{Type: WaterPump, On: true})
	assert.Eventually(t, func() bool { return d.Running(context.Background()) }, time.Second, 10*time.Millisecond)
}

func TestAttach_PumpCommandsKeepOrder(t *testing.T) {
	d, h := newDevice(t, "waterpump", WaterPump, map[string]any{"switch.waterpump_tent": "off"})
	bus := eventbus.NewWithConfig("tent", 2, 4)
	defer bus.Close(context.Background())
	d.Attach(bus)
	defer d.Detach()

	const pairs = 500
	for i := 0; i < pairs; i++ {
		bus.Publish(TopicPumpAction, PumpAction{Device: "waterpump", On: false})
		bus.Publish(TopicPumpAction, PumpAction{Device: "waterpump", On: true})
	}

	calls := h.Calls()
	require.Len(t, calls, 2*pairs)
	for i, c := range calls {
		want := "turn_off"
		if i%2 == 1 {
			want = "turn_on"
		}
		require.Equal(t, want, c.Service, "call %d", i)
	}
	assert.True(t, d.Running(context.Background()))
}

func TestDecideClimateMode(t *testing.T) {
	all := map[string]bool{"heat": true, "cool": true, "dry": true}
	assert.Equal(t, "dry", DecideClimateMode(Increase, all))
	assert.Equal(t, "heat", DecideClimateMode(Increase, map[string]bool{"heat": true}))
	assert.Equal(t, "cool", DecideClimateMode(Reduce, all))
	assert.Equal(t, "", DecideClimateMode(Eval, all))
	assert.Equal(t, "", DecideClimateMode(Reduce, map[string]bool{"heat": true}))
}

func TestClassify(t *testing.T) {
	tests := map[string]Type{
		"exhaust":        Exhaust,
		"dehumidifier":   Dehumidifier,
		"humidifier":     Humidifier,
		"rdwcpump":       RDWCPump,
		"dwcpump":        DWCPump,
		"retrievepump":   RetrievePump,
		"feedpumpphdown": FeedPumpPHDown,
		"growlight":      Light,
		"lightsensor":    Sensor,
	}
	for name, want := range tests {
		got, ok := Classify(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := Classify("toaster")
	assert.False(t, ok)
}

func TestTypeCapabilityAndTopic(t *testing.T) {
	assert.Equal(t, store.CapPump, FeedPumpA.Capability())
	assert.True(t, MistPump.IsHydroPump())
	assert.False(t, RetrievePump.IsHydroPump())
	assert.Equal(t, "Increase Exhaust", Topic(Increase, Exhaust.Capability()))
	assert.Equal(t, "Reduce CO2", Topic(Reduce, CO2.Capability()))
}
