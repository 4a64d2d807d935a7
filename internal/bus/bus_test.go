package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []Payload
}

func (r *recorder) handle(_ context.Context, _ string, p Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestPublish_DeliversToSubscribers(t *testing.T) {
	b := New(nil)
	var a, c recorder
	b.Subscribe(TopicActivate, a.handle)
	b.Subscribe(TopicActivate, c.handle)
	b.Subscribe(TopicDeactivate, c.handle)

	n := b.Publish(context.Background(), TopicActivate, Payload{"error": nil})

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, c.count())
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := New(nil)
	assert.Equal(t, 0, b.Publish(context.Background(), "nobody", nil))
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	b := New(nil)
	var r recorder
	unsub := b.Subscribe(TopicUpdateToken, r.handle)

	b.Publish(context.Background(), TopicUpdateToken, Payload{})
	unsub()
	unsub()
	b.Publish(context.Background(), TopicUpdateToken, Payload{})

	assert.Equal(t, 1, r.count())
	assert.Equal(t, 0, b.Subscribers(TopicUpdateToken))
}

func TestSubscribeOnce_FiresOnce(t *testing.T) {
	b := New(nil)
	var r recorder
	b.SubscribeOnce(TopicUpdateToken, r.handle)

	b.Publish(context.Background(), TopicUpdateToken, Payload{"updateToken": "a"})
	b.Publish(context.Background(), TopicUpdateToken, Payload{"updateToken": "b"})

	require.Equal(t, 1, r.count())
	assert.Equal(t, "a", r.got[0]["updateToken"])
	assert.Equal(t, 0, b.Subscribers(TopicUpdateToken))
}

func TestSubscribeOnce_UnsubscribeBeforeFire(t *testing.T) {
	b := New(nil)
	var r recorder
	unsub := b.SubscribeOnce(TopicDeviceDeregistered, r.handle)
	unsub()

	b.Publish(context.Background(), TopicDeviceDeregistered, Payload{})
	assert.Equal(t, 0, r.count())
}

func TestPublish_HandlerMayPublish(t *testing.T) {
	b := New(nil)
	var r recorder
	b.Subscribe(TopicRegisterDevice, func(ctx context.Context, _ string, _ Payload) {
		b.Publish(ctx, TopicUpdateToken, Payload{"updateToken": "tok"})
	})
	b.SubscribeOnce(TopicUpdateToken, r.handle)

	b.Publish(context.Background(), TopicRegisterDevice, Payload{"isNew": true})
	assert.Equal(t, 1, r.count())
}

func TestSubscribeOnce_ConcurrentPublishFiresOnce(t *testing.T) {
	b := New(nil)
	var r recorder
	b.SubscribeOnce(TopicDeviceDeregistered, r.handle)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(context.Background(), TopicDeviceDeregistered, Payload{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.count())
}
