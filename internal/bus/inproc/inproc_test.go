package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/fleetsched/internal/bus"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	var received []any
	sub, err := b.Subscribe("topic", func(msg any) {
		received = append(received, msg)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("topic", "one"))
	require.NoError(t, b.Publish("topic", "two"))
	require.NoError(t, b.Publish("other", "three"))

	assert.Equal(t, []any{"one", "two"}, received,
		"per-publisher order is preserved, other topics ignored")

	sub.Unsubscribe()
	require.NoError(t, b.Publish("topic", "four"))
	assert.Len(t, received, 2, "no delivery after unsubscribe")
}

func TestBus_Subscribers(t *testing.T) {
	b := New()
	defer b.Close()

	assert.Equal(t, 0, b.Subscribers("topic"))

	sub1, err := b.Subscribe("topic", func(any) {})
	require.NoError(t, err)
	sub2, err := b.Subscribe("topic", func(any) {})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Subscribers("topic"))

	sub1.Unsubscribe()
	sub2.Unsubscribe()
	assert.Equal(t, 0, b.Subscribers("topic"))
}

func TestBus_CallAndServe(t *testing.T) {
	b := New()
	defer b.Close()

	reg, err := b.Serve("echo", func(req any) any {
		return req
	})
	require.NoError(t, err)
	defer reg.Close()

	resp, err := b.Call(context.Background(), "echo", "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", resp)
}

func TestBus_CallUnknownService(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Call(context.Background(), "nobody", nil)
	assert.ErrorIs(t, err, bus.ErrUnknownService)
}

func TestBus_CallHonorsContext(t *testing.T) {
	b := New()
	defer b.Close()

	blocked := make(chan struct{})
	_, err := b.Serve("slow", func(any) any {
		<-blocked
		return nil
	})
	require.NoError(t, err)
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = b.Call(ctx, "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_ServeReplacesHandler(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Serve("svc", func(any) any { return "old" })
	require.NoError(t, err)

	// новый активный узел перехватывает сервис
	_, err = b.Serve("svc", func(any) any { return "new" })
	require.NoError(t, err)

	resp, err := b.Call(context.Background(), "svc", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", resp)
}

func TestBus_ClosedBus(t *testing.T) {
	b := New()
	b.Close()

	assert.ErrorIs(t, b.Publish("topic", nil), bus.ErrClosed)

	_, err := b.Subscribe("topic", func(any) {})
	assert.ErrorIs(t, err, bus.ErrClosed)

	_, err = b.Call(context.Background(), "svc", nil)
	assert.ErrorIs(t, err, bus.ErrClosed)
}
