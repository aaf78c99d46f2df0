package sse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesOnlyJobSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	a, unsubA := hub.Subscribe("job-a")
	defer unsubA()
	b, unsubB := hub.Subscribe("job-b")
	defer unsubB()

	hub.Publish("job-a", Event{Name: "start", Data: []byte(`{"type":"start","total":1}`)})

	select {
	case ev := <-a:
		assert.Equal(t, "start", ev.Name)
	default:
		t.Fatal("expected event for job-a")
	}
	select {
	case <-b:
		t.Fatal("job-b must not receive job-a events")
	default:
	}
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsub := hub.Subscribe("job")
	defer unsub()
	for range 100 {
		hub.Publish("job", Event{Name: "item"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ch, unsub := hub.Subscribe("job")
	require.Equal(t, 1, hub.Subscribers("job"))
	unsub()
	unsub()
	assert.Zero(t, hub.Subscribers("job"))
	_, open := <-ch
	assert.False(t, open)
	hub.Publish("job", Event{Name: "done"})
}

func TestEventFraming(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := Event{Name: "done", Data: []byte(`{"sent":1}`)}.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "event: done\ndata: {\"sent\":1}\n\n", buf.String())
}
