package storage

import (
	"fmt"
	"sync"
)

type pending struct {
	delivery Delivery
	acked    bool
}

// AckTracker turns out-of-order acks into contiguous commit points, one
// sequence per partition. Deliveries must be tracked in fetch order.
type AckTracker struct {
	mu         sync.Mutex
	partitions map[int][]*pending
}

func NewAckTracker() *AckTracker {
	return &AckTracker{partitions: make(map[int][]*pending)}
}

func (t *AckTracker) Track(d Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partitions[d.Partition] = append(t.partitions[d.Partition], &pending{delivery: d})
}

// Done marks d as acked. It returns the last delivery of the acked prefix of
// d's partition, if the prefix grew.
func (t *AckTracker) Done(d Delivery) (Delivery, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.partitions[d.Partition]
	found := false
	for _, p := range queue {
		if p.delivery.Offset == d.Offset {
			p.acked = true
			found = true
			break
		}
	}
	if !found {
		return Delivery{}, false, fmt.Errorf("delivery %d/%d is not tracked", d.Partition, d.Offset)
	}

	var (
		commit Delivery
		ok     bool
	)
	for len(queue) > 0 && queue[0].acked {
		commit, ok = queue[0].delivery, true
		queue = queue[1:]
	}
	t.partitions[d.Partition] = queue

	return commit, ok, nil
}

// Pending returns how many tracked deliveries are not committable yet.
func (t *AckTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, queue := range t.partitions {
		count += len(queue)
	}
	return count
}
