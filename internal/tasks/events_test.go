package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDropsOldestWhenFull(t *testing.T) {
	var dropped []EventType
	b := newBroker(2, func(t EventType) { dropped = append(dropped, t) })
	ch, unsubscribe := b.subscribe("")
	defer unsubscribe()

	b.publish(Event{Seq: 1, Type: EventCreated})
	b.publish(Event{Seq: 2, Type: EventNeedsInput})
	b.publish(Event{Seq: 3, Type: EventReady})

	first, second := <-ch, <-ch
	assert.Equal(t, uint64(2), first.Seq)
	assert.Equal(t, uint64(3), second.Seq)
	assert.Equal(t, []EventType{EventCreated}, dropped)
}

func TestBrokerFiltersByTask(t *testing.T) {
	b := newBroker(4, nil)
	ch, unsubscribe := b.subscribe("t-1")
	defer unsubscribe()

	b.publish(Event{TaskID: "t-2", Type: EventCreated})
	b.publish(Event{TaskID: "t-1", Type: EventReady})

	evts := drain(ch)
	require.Len(t, evts, 1)
	assert.Equal(t, EventReady, evts[0].Type)
}

func TestBrokerUnsubscribeClosesOnce(t *testing.T) {
	b := newBroker(1, nil)
	ch, unsubscribe := b.subscribe("")
	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.count())

	b.publish(Event{Type: EventCreated})
}

func TestKeyLockSerializesSameKey(t *testing.T) {
	k := newKeyLock()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "same")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, k.size())
}

func TestKeyLockHonoursContext(t *testing.T) {
	k := newKeyLock()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	other, err := k.Lock(context.Background(), "b")
	require.NoError(t, err, "different keys never contend")
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
