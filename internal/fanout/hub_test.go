package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-messaging/pkg/constants"
)

func TestNewHub_Buffer(t *testing.T) {
	assert.Equal(t, constants.SubscriptionBuffer, NewHub(constants.SubscriptionBuffer).buffer)
	assert.Equal(t, constants.SubscriptionBuffer, NewHub(0).buffer)
	assert.Equal(t, 4, NewHub(4).buffer)
}

func TestHub_DeliversToTopicSubscribers(t *testing.T) {
	hub := NewHub(8)
	defer hub.Close()

	got := make(chan Event, 1)
	sub := hub.Subscribe("conversation:a", func(ev Event) { got <- ev })
	defer sub.Unsubscribe()
	other := hub.Subscribe("conversation:b", func(ev Event) { t.Errorf("unexpected event on b: %+v", ev) })
	defer other.Unsubscribe()

	require.NoError(t, hub.Publish(context.Background(), Event{Topic: "conversation:a", Type: EventMessageCreated, MessageID: "m1"}))

	select {
	case ev := <-got:
		assert.Equal(t, "m1", ev.MessageID)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_DeliveryIsSerializedPerSubscription(t *testing.T) {
	hub := NewHub(64)
	defer hub.Close()

	var (
		inFlight int32
		overlap  int32
		count    int32
		wg       sync.WaitGroup
	)
	wg.Add(50)
	sub := hub.Subscribe("t", func(ev Event) {
		defer wg.Done()
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&count, 1)
		atomic.AddInt32(&inFlight, -1)
	})
	defer sub.Unsubscribe()

	var pub sync.WaitGroup
	for i := 0; i < 50; i++ {
		pub.Add(1)
		go func() {
			defer pub.Done()
			_ = hub.Publish(context.Background(), Event{Topic: "t", Type: EventMessageCreated})
		}()
	}
	pub.Wait()
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap))
	assert.Equal(t, int32(50), atomic.LoadInt32(&count))
}

func TestHub_FullQueueDropsOldest(t *testing.T) {
	hub := NewHub(2)
	defer hub.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	sub := hub.Subscribe("t", func(ev Event) {
		if ev.MessageID == "block" {
			<-release
		}
		mu.Lock()
		seen = append(seen, ev.MessageID)
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, Event{Topic: "t", MessageID: "block"}))
	require.Eventually(t, func() bool { return len(sub.queue) == 0 }, time.Second, time.Millisecond)

	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, hub.Publish(ctx, Event{Topic: "t", MessageID: id}))
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"block", "3", "4"}, seen)
	mu.Unlock()
}

func TestSubscription_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	var calls int32
	sub := hub.Subscribe("t", func(Event) { atomic.AddInt32(&calls, 1) })
	assert.Equal(t, 1, hub.SubscriberCount("t"))

	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 0, hub.SubscriberCount("t"))
	select {
	case <-sub.Done():
	default:
		t.Fatal("done not closed")
	}

	require.NoError(t, hub.Publish(context.Background(), Event{Topic: "t"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSubscription_UnsubscribeFromHandler(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	var sub *Subscription
	ready := make(chan struct{})
	sub = hub.Subscribe("t", func(Event) {
		<-ready
		sub.Unsubscribe()
	})
	close(ready)

	require.NoError(t, hub.Publish(context.Background(), Event{Topic: "t"}))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("unsubscribe from handler did not complete")
	}
}

func TestHub_HandlerPanicDoesNotKillSubscription(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	got := make(chan string, 2)
	sub := hub.Subscribe("t", func(ev Event) {
		if ev.MessageID == "boom" {
			panic("boom")
		}
		got <- ev.MessageID
	})
	defer sub.Unsubscribe()

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, Event{Topic: "t", MessageID: "boom"}))
	require.NoError(t, hub.Publish(ctx, Event{Topic: "t", MessageID: "ok"}))

	select {
	case id := <-got:
		assert.Equal(t, "ok", id)
	case <-time.After(time.Second):
		t.Fatal("subscription stopped after panic")
	}
}
