package sngateway

import sn "github.com/mqttsn/gateway/internal/mqttsn"

// queuedPublish is one entry on the gateway-wide publish FIFO (§4.5 step 4):
// a PUBLISH already resolved to a topic-id, awaiting fan-out to subscribers.
type queuedPublish struct {
	topicID uint16
	data    []byte
	flags   sn.Flags
}

// publishFIFO is the bounded, fixed-capacity global publish queue
// (MAX_QUEUED_PUBLISH, §5). On overflow the new item is dropped and never
// enters, the same "drop new" policy as the per-session sleepy queue.
type publishFIFO struct {
	buf  [sn.MaxQueuedPublish]queuedPublish
	head int
	len  int
}

func (q *publishFIFO) push(p queuedPublish) bool {
	if q.len == len(q.buf) {
		return false
	}
	idx := (q.head + q.len) % len(q.buf)
	q.buf[idx] = p
	q.len++
	return true
}

func (q *publishFIFO) pop() (queuedPublish, bool) {
	if q.len == 0 {
		return queuedPublish{}, false
	}
	p := q.buf[q.head]
	q.buf[q.head] = queuedPublish{}
	q.head = (q.head + 1) % len(q.buf)
	q.len--
	return p, true
}

// sleepyQueue is a per-session bounded FIFO of serialized PUBLISH frames
// (§4.6), capacity MAX_BUFFERED_MSGS. On overflow, new frames are dropped.
type sleepyQueue struct {
	buf  [sn.DefaultMaxBuffered][]byte
	head int
	len  int
}

func (q *sleepyQueue) push(frame []byte) bool {
	if q.len == len(q.buf) {
		return false
	}
	idx := (q.head + q.len) % len(q.buf)
	q.buf[idx] = append([]byte(nil), frame...)
	q.len++
	return true
}

func (q *sleepyQueue) pop() ([]byte, bool) {
	if q.len == 0 {
		return nil, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.len--
	return f, true
}

func (q *sleepyQueue) clear() { *q = sleepyQueue{} }

func (q *sleepyQueue) Len() int { return q.len }
