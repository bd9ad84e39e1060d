package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-service/internal/model"
	"github.com/sells-group/enrichment-service/internal/pubsub"
)

type fakeBus struct {
	events  chan pubsub.Message
	stopped bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(chan pubsub.Message, 16)}
}

func (f *fakeBus) SubscribePattern(_ context.Context, _ string) (<-chan pubsub.Message, func(), error) {
	return f.events, func() { f.stopped = true }, nil
}

func recv(t *testing.T, s *session) serverMessage {
	t.Helper()
	select {
	case raw := <-s.send:
		var msg serverMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session message")
		return serverMessage{}
	}
}

func TestHub_RoomMembership(t *testing.T) {
	hub := NewHub()
	a, b := newSession(), newSession()

	hub.Join("job-1", a)
	hub.Join("job-1", b)
	hub.Join("job-2", a)
	assert.Equal(t, 2, hub.RoomSize("job-1"))
	assert.Equal(t, 1, hub.RoomSize("job-2"))

	hub.Leave("job-1", b)
	assert.Equal(t, 1, hub.RoomSize("job-1"))

	hub.LeaveAll(a)
	assert.Equal(t, 0, hub.RoomSize("job-1"))
	assert.Equal(t, 0, hub.RoomSize("job-2"))
}

func TestHub_BroadcastOnlyReachesRoomMembers(t *testing.T) {
	hub := NewHub()
	member, outsider := newSession(), newSession()

	hub.Join("job-1", member)
	hub.Join("job-2", outsider)

	hub.Broadcast("job-1", []byte("hello"))

	select {
	case raw := <-member.send:
		assert.Equal(t, "hello", string(raw))
	case <-time.After(time.Second):
		t.Fatal("room member did not receive broadcast")
	}

	select {
	case <-outsider.send:
		t.Fatal("outsider received a message for another room")
	default:
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub()
	slow := newSession()
	hub.Join("job-1", slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < cap(slow.send)+10; i++ {
			hub.Broadcast("job-1", []byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestGateway_RelaysProgressToRoom(t *testing.T) {
	bus := newFakeBus()
	gw := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	subscriber := newSession()
	gw.Hub().Join("job-7", subscriber)

	progress := model.AgentProgress{JobID: "job-7", Iteration: 3, TotalIterations: 5}
	payload, err := json.Marshal(progress)
	require.NoError(t, err)
	bus.events <- pubsub.Message{
		Channel: model.ProgressTopic("job-7"),
		Payload: string(payload),
	}

	msg := recv(t, subscriber)
	assert.Equal(t, "progress", msg.Event)
	assert.Equal(t, "job-7", msg.JobID)

	var got model.AgentProgress
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, 3, got.Iteration)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, bus.stopped)
}

func TestGateway_WireFormatUsesEventKeys(t *testing.T) {
	bus := newFakeBus()
	gw := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gw.Run(ctx) }()

	s := newSession()
	gw.Hub().Join("job-1", s)
	bus.events <- pubsub.Message{
		Channel: model.ProgressTopic("job-1"),
		Payload: `{"iteration":1}`,
	}

	select {
	case raw := <-s.send:
		var keys map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &keys))
		assert.Contains(t, keys, "event")
		assert.Contains(t, keys, "jobId")
		assert.Contains(t, keys, "payload")
	case <-time.After(2 * time.Second):
		t.Fatal("no message relayed")
	}
}

func TestGateway_UnsubscribedJobIsDropped(t *testing.T) {
	bus := newFakeBus()
	gw := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gw.Run(ctx) }()

	watcher := newSession()
	gw.Hub().Join("job-watched", watcher)

	// An event for a room nobody joined, then one for the watched room.
	bus.events <- pubsub.Message{
		Channel: model.ProgressTopic("job-ignored"),
		Payload: `{"jobId":"job-ignored","iteration":1}`,
	}
	bus.events <- pubsub.Message{
		Channel: model.ProgressTopic("job-watched"),
		Payload: `{"jobId":"job-watched","iteration":1}`,
	}

	msg := recv(t, watcher)
	assert.Equal(t, "job-watched", msg.JobID)
	assert.Empty(t, watcher.send)
}

func TestGateway_IgnoresMalformedChannels(t *testing.T) {
	bus := newFakeBus()
	gw := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gw.Run(ctx) }()

	s := newSession()
	gw.Hub().Join("job-1", s)

	bus.events <- pubsub.Message{Channel: "unrelated:channel", Payload: "{}"}
	bus.events <- pubsub.Message{
		Channel: model.ProgressTopic("job-1"),
		Payload: `{"jobId":"job-1"}`,
	}

	msg := recv(t, s)
	assert.Equal(t, "job-1", msg.JobID)
}
