package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SyncHandlersRunInOrder(t *testing.T) {
	b := New("tent")
	defer b.Close(context.Background())

	var got []int
	b.SubscribeSync("VPDCreation", func(Event) { got = append(got, 1) })
	b.SubscribeSync("VPDCreation", func(Event) { got = append(got, 2) })

	b.Publish("VPDCreation", nil)
	assert.Equal(t, []int{1, 2}, got)
}

func TestBus_AsyncDelivery(t *testing.T) {
	b := New("tent")
	defer b.Close(context.Background())

	done := make(chan any, 1)
	b.Subscribe("RoomUpdate", func(ev Event) { done <- ev.Payload })

	b.Publish("RoomUpdate", 42)
	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("async handler not invoked")
	}
}

func TestBus_PanicDoesNotStopOtherHandlers(t *testing.T) {
	b := New("tent")
	defer b.Close(context.Background())

	called := false
	b.SubscribeSync("x", func(Event) { panic("boom") })
	b.SubscribeSync("x", func(Event) { called = true })

	require.NotPanics(t, func() { b.Publish("x", nil) })
	assert.True(t, called)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New("tent")
	defer b.Close(context.Background())

	n := 0
	unsub := b.SubscribeSync("x", func(Event) { n++ })
	b.Publish("x", nil)
	unsub()
	b.Publish("x", nil)

	assert.Equal(t, 1, n)
	assert.False(t, b.HasSubscribers("x"))
}

func TestBus_PublishHostForwards(t *testing.T) {
	b := New("tent")
	defer b.Close(context.Background())

	var mu sync.Mutex
	var topics []string
	b.SetHostForwarder(func(topic string, payload any) {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
	})

	b.Publish("local", nil)
	b.PublishHost("LogForClient", map[string]any{"Name": "tent"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"LogForClient"}, topics)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := New("tent")
	b.Subscribe("x", func(Event) {})
	b.Close(context.Background())

	assert.NotPanics(t, func() { b.Publish("x", nil) })
	assert.NotPanics(t, func() { b.Close(context.Background()) })
}
