package chat

import "sync"

// QueuedSend is the minimal payload needed to retransmit a message that has
// not yet been handed to an open channel.
type QueuedSend struct {
	Text          string
	CorrelationID string
}

// OutboundQueue holds messages that could not be transmitted immediately, in
// submission order, for replay once a channel is ready. Safe for concurrent
// use.
type OutboundQueue struct {
	mu    sync.Mutex
	items []QueuedSend
}

// NewOutboundQueue returns an empty queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{}
}

// Enqueue appends an item to the tail.
func (q *OutboundQueue) Enqueue(item QueuedSend) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Len reports the number of queued items.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainInto atomically takes the full current contents and invokes transmit
// once per item in original order. Items enqueued concurrently with the
// drain land behind the drained batch. If a transmit fails, the failed item
// and everything after it are put back at the head so order is preserved for
// the next flush.
func (q *OutboundQueue) DrainInto(transmit func(QueuedSend) error) error {
	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	for i, item := range batch {
		if err := transmit(item); err != nil {
			q.mu.Lock()
			rest := make([]QueuedSend, 0, len(batch)-i+len(q.items))
			rest = append(rest, batch[i:]...)
			rest = append(rest, q.items...)
			q.items = rest
			q.mu.Unlock()
			return err
		}
	}
	return nil
}
