package notify_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cipherfeed/pkg/models"
	"cipherfeed/pkg/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := notify.NewBus(4)
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	require.Equal(t, 2, b.Subscribers())

	ev := models.Event{Type: models.EventSubmitted, RecordID: 7, TS: time.Now().Unix()}
	b.Publish(ev)

	for _, ch := range []<-chan models.Event{ch1, ch2} {
		select {
		case got := <-ch:
			require.Equal(t, models.EventSubmitted, got.Type)
			require.Equal(t, uint64(7), got.RecordID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := notify.NewBus(2)
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(models.Event{Type: models.EventProcessed, RecordID: uint64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	require.Equal(t, uint64(8), b.Dropped())
	require.Len(t, ch, 2)
}

func TestCancelStopsDelivery(t *testing.T) {
	b := notify.NewBus(4)
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	require.Equal(t, 0, b.Subscribers())

	// channel is closed, so a receive completes immediately
	_, open := <-ch
	require.False(t, open)

	// double cancel is safe
	cancel()

	b.Publish(models.Event{Type: models.EventSubmitted, RecordID: 1})
	require.Equal(t, uint64(0), b.Dropped())
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := notify.NewBus(4)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Close()
	_, open := <-ch
	require.False(t, open)

	// after close everything is a no-op
	b.Publish(models.Event{Type: models.EventSubmitted})
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	_, open = <-ch2
	require.False(t, open)
}
