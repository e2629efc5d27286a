package chat

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainPreservesOrder(t *testing.T) {
	q := NewOutboundQueue()
	q.Enqueue(QueuedSend{Text: "m1", CorrelationID: "c1"})
	q.Enqueue(QueuedSend{Text: "m2", CorrelationID: "c2"})
	q.Enqueue(QueuedSend{Text: "m3", CorrelationID: "c3"})

	var sent []string
	err := q.DrainInto(func(item QueuedSend) error {
		sent = append(sent, item.Text)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, sent)
	assert.Equal(t, 0, q.Len())
}

func TestQueueDrainFailureRequeuesRemainderInOrder(t *testing.T) {
	q := NewOutboundQueue()
	q.Enqueue(QueuedSend{Text: "m1"})
	q.Enqueue(QueuedSend{Text: "m2"})
	q.Enqueue(QueuedSend{Text: "m3"})

	wantErr := errors.New("socket gone")
	var sent []string
	err := q.DrainInto(func(item QueuedSend) error {
		if item.Text == "m2" {
			return wantErr
		}
		sent = append(sent, item.Text)
		return nil
	})

	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, []string{"m1"}, sent)
	assert.Equal(t, 2, q.Len())

	sent = sent[:0]
	require.NoError(t, q.DrainInto(func(item QueuedSend) error {
		sent = append(sent, item.Text)
		return nil
	}))
	assert.Equal(t, []string{"m2", "m3"}, sent)
}

func TestQueueEnqueueDuringDrainLandsBehindBatch(t *testing.T) {
	q := NewOutboundQueue()
	q.Enqueue(QueuedSend{Text: "m1"})

	var sent []string
	err := q.DrainInto(func(item QueuedSend) error {
		if item.Text == "m1" {
			// A send losing the race with the flush appends concurrently.
			q.Enqueue(QueuedSend{Text: "m2"})
		}
		sent = append(sent, item.Text)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, sent)
	assert.Equal(t, 1, q.Len())
}

func TestQueueConcurrentEnqueueIsLossless(t *testing.T) {
	q := NewOutboundQueue()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(QueuedSend{Text: "m"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, q.Len())
}
