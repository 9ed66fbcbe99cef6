// Package premium connects a room to the premium planner: it applies pushed action
// batches exactly once, forwards batch requests and publishes grow-data snapshots.
package premium

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/action"
	"github.com/dokzlo13/tentd/internal/eventbus"
	hostmqtt "github.com/dokzlo13/tentd/internal/host/mqtt"
	"github.com/dokzlo13/tentd/internal/ledger"
	"github.com/dokzlo13/tentd/internal/mode"
	"github.com/dokzlo13/tentd/internal/store"
)

const publishTimeout = 5 * time.Second

// Transport is the broker side of the uplink. *hostmqtt.Client implements it.
type Transport interface {
	Topics() hostmqtt.Topics
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	SubscribeTopic(topic string, handler hostmqtt.MessageHandler) error
}

// Ledger records completed batches.
type Ledger interface {
	HasCompleted(ctx context.Context, idempotencyKey string) bool
	Append(ctx context.Context, e ledger.Entry) error
}

// Emitter routes actions through the room's emission path.
type Emitter interface {
	EmitDirect(source string, actions []action.Action) action.Plan
}

// Result describes what Apply did with a batch.
type Result struct {
	ID        string
	Duplicate bool
	Plan      action.Plan
}

// Uplink is the premium connection of one room.
type Uplink struct {
	room      string
	store     *store.Store
	bus       *eventbus.Bus
	transport Transport
	ledger    Ledger
	emitter   Emitter
	plans     *PlanStore

	mu     sync.Mutex
	ctx    context.Context
	unsubs []func()
}

// New creates an uplink. plans may be nil.
func New(room string, s *store.Store, bus *eventbus.Bus, t Transport, l Ledger, e Emitter, plans *PlanStore) *Uplink {
	return &Uplink{
		room:      room,
		store:     s,
		bus:       bus,
		transport: t,
		ledger:    l,
		emitter:   e,
		plans:     plans,
		ctx:       context.Background(),
	}
}

// Start subscribes to batches and grow plans on the broker and to VPD publications
// and premium requests on the bus.
func (u *Uplink) Start(ctx context.Context) error {
	u.mu.Lock()
	u.ctx = ctx
	u.mu.Unlock()

	topics := u.transport.Topics()
	if err := u.transport.SubscribeTopic(topics.PremiumActions(u.room), u.handleBatch); err != nil {
		return fmt.Errorf("failed to subscribe to premium actions: %w", err)
	}
	if u.plans != nil {
		if err := u.transport.SubscribeTopic(topics.PremiumGrowPlans(u.room), u.handlePlan); err != nil {
			return fmt.Errorf("failed to subscribe to grow plans: %w", err)
		}
	}

	u.mu.Lock()
	u.unsubs = append(u.unsubs,
		u.bus.Subscribe(store.TopicVPDCreation, u.onVPDCreation),
		u.bus.Subscribe(mode.TopicPremiumRequest, u.onPremiumRequest),
	)
	u.mu.Unlock()

	log.Info().Str("room", u.room).Str("topic", topics.PremiumActions(u.room)).Msg("Premium uplink started")
	return nil
}

// Stop removes the bus subscriptions.
func (u *Uplink) Stop() {
	u.mu.Lock()
	unsubs := u.unsubs
	u.unsubs = nil
	u.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (u *Uplink) baseCtx() context.Context {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ctx
}

func (u *Uplink) handleBatch(_ string, payload []byte) error {
	var b Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	_, err := u.Apply(u.baseCtx(), b)
	return err
}

// Apply emits the winning action per device of b unless b was already applied.
// Batches are only accepted while the tent mode matches their controller type.
func (u *Uplink) Apply(ctx context.Context, b Batch) (Result, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	res := Result{ID: b.ID}
	ctrl := strings.ToUpper(strings.TrimSpace(b.ControllerType))

	if !controllerTypes[ctrl] {
		return res, fmt.Errorf("%w: controller type %q", ErrInvalidBatch, b.ControllerType)
	}
	if u.ledger.HasCompleted(ctx, b.ID) {
		log.Info().Str("room", u.room).Str("batch", b.ID).Msg("Premium batch already applied, skipping")
		res.Duplicate = true
		return res, nil
	}

	tentMode := u.store.String("tentMode")
	if mode.ControllerType(tentMode) != ctrl {
		u.record(ctx, ledger.EventBatchFailed, b, map[string]any{"reason": "mode mismatch", "tentMode": tentMode})
		return res, fmt.Errorf("%w: batch %s is %s, tent mode is %q", ErrControllerMismatch, b.ID, ctrl, tentMode)
	}

	actions := Winners(b.Actions)
	res.Plan = u.emitter.EmitDirect("premium:"+ctrl, actions)
	u.record(ctx, ledger.EventBatchCompleted, b, map[string]any{
		"received": len(b.Actions),
		"emitted":  len(res.Plan.Actions),
	})

	log.Info().Str("room", u.room).Str("batch", b.ID).Str("controller", ctrl).Int("actions", len(res.Plan.Actions)).Msg("Premium batch applied")
	return res, nil
}

func (u *Uplink) record(ctx context.Context, typ ledger.EventType, b Batch, payload map[string]any) {
	payload["controller_type"] = b.ControllerType
	err := u.ledger.Append(ctx, ledger.Entry{
		EventType:      typ,
		Room:           u.room,
		Source:         "premium",
		IdempotencyKey: b.ID,
		Payload:        payload,
	})
	if err != nil {
		log.Error().Err(err).Str("room", u.room).Str("batch", b.ID).Msg("Failed to record premium batch")
	}
}

// PublishGrowData sends a grow-data snapshot to the planner.
func (u *Uplink) PublishGrowData(ctx context.Context, g store.GrowData) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode grow data: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return u.transport.Publish(ctx, u.transport.Topics().PremiumGrowData(u.room), payload, false)
}

func (u *Uplink) onVPDCreation(ev eventbus.Event) {
	g, ok := ev.Payload.(store.GrowData)
	if !ok {
		return
	}
	if err := u.PublishGrowData(u.baseCtx(), g); err != nil {
		log.Debug().Err(err).Str("room", u.room).Msg("Grow data not published")
	}
}

func (u *Uplink) onPremiumRequest(ev eventbus.Event) {
	req, ok := ev.Payload.(mode.PremiumRequest)
	if !ok || req.Room != u.room {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"room":            req.Room,
		"controller_type": req.ControllerType,
		"grow_data":       u.store.GrowData(time.Now().UTC()),
	})
	if err != nil {
		log.Error().Err(err).Str("room", u.room).Msg("Failed to encode premium request")
		return
	}
	ctx, cancel := context.WithTimeout(u.baseCtx(), publishTimeout)
	defer cancel()
	if err := u.transport.Publish(ctx, u.transport.Topics().PremiumRequest(u.room), payload, false); err != nil {
		log.Warn().Err(err).Str("room", u.room).Str("controller", req.ControllerType).Msg("Premium request not sent")
	}
}
