package bus_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ricirt/marketplace-realtime/internal/bus"
	"github.com/ricirt/marketplace-realtime/internal/domain"
)

type broadcast struct {
	channel string
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcast
}

func (r *recordingBroadcaster) Broadcast(channel, event string, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, broadcast{channel, event, payload})
	return 1
}

func (r *recordingBroadcaster) snapshot() []broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast(nil), r.calls...)
}

func TestRouter_ChatMessagePreservesBytes(t *testing.T) {
	rec := &recordingBroadcaster{}
	r := bus.NewRouter(rec, zap.NewNop(), bus.RouterHooks{})

	msg := `{"id":"m1","conversationId":"c1","senderId":"u1","content":"hé é","type":"text","createdAt":"2024-01-01T00:00:00Z"}`
	r.Handle(domain.TopicChatMessage, []byte(`{"conversationId":"c1","message":`+msg+`}`))

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "conv:c1", calls[0].channel)
	assert.Equal(t, bus.EventMessageNew, calls[0].event)
	assert.Equal(t, msg, string(calls[0].payload.(json.RawMessage)))
}

func TestRouter_CRMUpdateUsesEventName(t *testing.T) {
	rec := &recordingBroadcaster{}
	r := bus.NewRouter(rec, zap.NewNop(), bus.RouterHooks{})

	r.Handle(domain.TopicCRMUpdate, []byte(`{"sellerId":"s1","event":"lead:moved","data":{"stage":"won"}}`))

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "crm:s1", calls[0].channel)
	assert.Equal(t, "lead:moved", calls[0].event)
	assert.JSONEq(t, `{"stage":"won"}`, string(calls[0].payload.(json.RawMessage)))
}

func TestRouter_NotificationGoesToIdentityChannel(t *testing.T) {
	rec := &recordingBroadcaster{}
	r := bus.NewRouter(rec, zap.NewNop(), bus.RouterHooks{})

	r.Handle(domain.TopicNotification, []byte(`{"userId":"u9","notification":{"id":"n1","title":"Hi"}}`))

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "user:u9", calls[0].channel)
	assert.Equal(t, bus.EventNotification, calls[0].event)
}

func TestRouter_DropsMalformedAndContinues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &recordingBroadcaster{}
	var dropped []string
	r := bus.NewRouter(rec, zap.New(core), bus.RouterHooks{
		OnDropped: func(topic string) { dropped = append(dropped, topic) },
	})

	r.Handle(domain.TopicChatMessage, []byte(`not json`))
	r.Handle(domain.TopicChatMessage, []byte(`{"conversationId":"","message":{"id":"m1"}}`))
	r.Handle(domain.TopicCRMUpdate, []byte(`{"sellerId":"s1"}`))
	r.Handle(domain.TopicNotification, []byte(`{"userId":"u1","notification":null}`))
	r.Handle("something.else", []byte(`{}`))
	r.Handle(domain.TopicNotification, []byte(`{"userId":"u1","notification":{"id":"n1"}}`))

	assert.Len(t, rec.snapshot(), 1, "only the valid message is broadcast")
	assert.Len(t, dropped, 5)
	assert.Equal(t, 5, logs.FilterMessage("dropping bus message").Len())
	for _, entry := range logs.All() {
		assert.Contains(t, entry.ContextMap(), "topic")
	}
}

// Two simulated processes share a hub: a publish from either reaches the
// router of both.
func TestRouter_CrossProcessFanOut(t *testing.T) {
	hub := bus.NewMemoryHub()
	busA, busB := hub.Bus(), hub.Bus()
	recA, recB := &recordingBroadcaster{}, &recordingBroadcaster{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.NewRouter(recA, zap.NewNop(), bus.RouterHooks{}).Run(ctx, busA)
	go bus.NewRouter(recB, zap.NewNop(), bus.RouterHooks{}).Run(ctx, busB)
	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	pub := bus.NewPublisher(busA, nil)
	msg := &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hello", Type: domain.MessageText}
	require.NoError(t, pub.PublishChatMessage(ctx, msg))

	for _, rec := range []*recordingBroadcaster{recA, recB} {
		require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
		got := rec.snapshot()[0]
		assert.Equal(t, "conv:c1", got.channel)
		var decoded domain.Message
		require.NoError(t, json.Unmarshal(got.payload.(json.RawMessage), &decoded))
		assert.Equal(t, "hello", decoded.Content)
	}
}

func TestRouter_ChatEvent(t *testing.T) {
	rec := &recordingBroadcaster{}
	r := bus.NewRouter(rec, zap.NewNop(), bus.RouterHooks{})

	r.Handle(domain.TopicChatEvent, []byte(`{"conversationId":"c1","event":"typing:update","data":{"userId":"u1","isTyping":true}}`))
	r.Handle(domain.TopicChatEvent, []byte(`{"conversationId":"c1"}`))

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "conv:c1", calls[0].channel)
	assert.Equal(t, "typing:update", calls[0].event)
}
