// Package mqtt implements the host contract over an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/tentd/internal/config"
	"github.com/dokzlo13/tentd/internal/host"
)

const (
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
)

// MessageHandler is the callback signature for raw topic subscriptions.
type MessageHandler func(topic string, payload []byte) error

// Client is a host.Host backed by retained state topics on a broker.
type Client struct {
	client  pahomqtt.Client
	cfg     config.MQTTConfig
	topics  Topics
	limiter *rate.Limiter

	mu       sync.RWMutex
	states   map[string]any
	registry map[string][]host.Entity

	subMu   sync.RWMutex
	subs    map[uint64]func(host.StateChange)
	nextSub uint64
	topicsM map[string]MessageHandler
}

var _ host.Host = (*Client)(nil)

// Connect dials the broker and subscribes to state and registry topics.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		topics:   Topics{Prefix: cfg.Prefix},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
		states:   make(map[string]any),
		registry: make(map[string][]host.Entity),
		subs:     make(map[uint64]func(host.StateChange)),
		topicsM:  make(map[string]MessageHandler),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(cfg.ConnectTimeout.Duration()).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		c.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout.Duration()) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout.Duration())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// Topics returns the topic layout of this client.
func (c *Client) Topics() Topics { return c.topics }

func (c *Client) restoreSubscriptions() {
	c.client.Subscribe(c.topics.AllStates(), byte(c.cfg.QoS), c.wrapHandler(c.handleState))
	c.client.Subscribe(c.topics.AllRegistries(), byte(c.cfg.QoS), c.wrapHandler(c.handleRegistry))

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, h := range c.topicsM {
		c.client.Subscribe(topic, byte(c.cfg.QoS), c.wrapHandler(h))
	}
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panic recovered")
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("MQTT handler returned error")
		}
	}
}

func (c *Client) handleState(topic string, payload []byte) error {
	entityID, ok := c.topics.ParseState(topic)
	if !ok {
		return nil
	}
	value := ParsePayload(payload)

	c.mu.Lock()
	old, seen := c.states[entityID]
	c.states[entityID] = value
	c.mu.Unlock()

	if seen && old == value {
		return nil
	}
	c.publishChange(host.StateChange{EntityID: entityID, Old: old, New: value})
	return nil
}

func (c *Client) handleRegistry(topic string, payload []byte) error {
	area, ok := c.topics.ParseRegistry(topic)
	if !ok {
		return nil
	}
	var entities []host.Entity
	if err := json.Unmarshal(payload, &entities); err != nil {
		return fmt.Errorf("invalid registry for area %s: %w", area, err)
	}
	for i := range entities {
		entities[i].Area = area
	}

	c.mu.Lock()
	c.registry[area] = entities
	c.mu.Unlock()

	log.Debug().Str("area", area).Int("entities", len(entities)).Msg("Registry updated")
	return nil
}

func (c *Client) publishChange(sc host.StateChange) {
	c.subMu.RLock()
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(host.StateChange), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, c.subs[id])
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(sc)
	}
}

// State implements host.Host from the retained state cache.
func (c *Client) State(_ context.Context, entityID string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.states[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrUnknownEntity, entityID)
	}
	return v, nil
}

// Call implements host.Host by publishing a command to the entity's set topic.
func (c *Client) Call(ctx context.Context, domain, service string, data map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	objectID := service
	if id, ok := data["entity_id"].(string); ok && id != "" {
		objectID = host.ObjectID(id)
	}
	payload, err := json.Marshal(map[string]any{"service": service, "data": data})
	if err != nil {
		return fmt.Errorf("failed to encode call: %w", err)
	}
	return c.Publish(ctx, c.topics.Set(domain, objectID), payload, false)
}

// Subscribe implements host.Host.
func (c *Client) Subscribe(handler func(host.StateChange)) func() {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = handler
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Entities implements host.Host from the last registry published for area.
func (c *Client) Entities(_ context.Context, area string) ([]host.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	src := c.registry[area]
	out := make([]host.Entity, len(src))
	for i, e := range src {
		e.State = c.states[e.EntityID]
		out[i] = e
	}
	return out, nil
}

// FireEvent implements host.Host.
func (c *Client) FireEvent(ctx context.Context, eventType string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return c.Publish(ctx, c.topics.Event(eventType), payload, false)
}

// Publish sends payload on topic and waits for the broker acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(defaultPublishTimeout):
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// SubscribeTopic registers a raw handler. It is restored after reconnects.
func (c *Client) SubscribeTopic(topic string, handler MessageHandler) error {
	c.subMu.Lock()
	c.topicsM[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, byte(c.cfg.QoS), c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// IsConnected reports the broker connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
}
