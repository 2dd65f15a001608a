package vulkan

import (
	"github.com/spectraldrift/aurora/engine/core"
)

/**
 * @brief The single source of truth for GPU-side resource lifetime.
 *
 * Every submission is assigned a strictly increasing serial. A serial is
 * observed complete when that submission's fence is seen signaled. Because
 * the frame ring is recycled FIFO, observing serial N implies every serial
 * <= N is also complete.
 */
type SerialTracker struct {
	nextSerial    uint64
	completed     uint64
	lastSubmitted uint64
}

func NewSerialTracker() *SerialTracker {
	return &SerialTracker{nextSerial: 1}
}

// Next assigns the serial for the submission about to happen.
func (st *SerialTracker) Next() uint64 {
	serial := st.nextSerial
	st.nextSerial++
	st.lastSubmitted = serial
	return serial
}

// PendingSerial is the serial the next submission will receive. Resources
// referenced while recording must be kept alive at least until this serial.
func (st *SerialTracker) PendingSerial() uint64 {
	return st.nextSerial
}

// LastSubmitted is the most recently assigned serial.
func (st *SerialTracker) LastSubmitted() uint64 {
	return st.lastSubmitted
}

// Observe records that the given serial's GPU work is complete. Serials are
// issued FIFO, so completion must never be observed out of order.
func (st *SerialTracker) Observe(serial uint64) {
	core.Assertf(serial >= st.completed,
		"completion serial went backwards: observed %d after %d", serial, st.completed)
	core.Assertf(serial <= st.lastSubmitted,
		"observed serial %d that was never submitted (last=%d)", serial, st.lastSubmitted)
	st.completed = serial
}

// Completed returns the highest serial known to be complete.
func (st *SerialTracker) Completed() uint64 {
	return st.completed
}

type deferredRelease struct {
	retireSerial uint64
	release      func()
}

/**
 * @brief Serial-gated deferred destruction queue.
 *
 * Used for every deferred-destruction path (buffers, textures, pipelines,
 * target images) - no frame-count heuristics.
 */
type DeferredReleaseQueue struct {
	entries []deferredRelease
}

func NewDeferredReleaseQueue() *DeferredReleaseQueue {
	return &DeferredReleaseQueue{}
}

// Enqueue schedules release to run once completedSerial >= retireSerial.
func (q *DeferredReleaseQueue) Enqueue(retireSerial uint64, release func()) {
	q.entries = append(q.entries, deferredRelease{retireSerial: retireSerial, release: release})
}

// Collect runs every entry whose retire serial has been observed complete.
func (q *DeferredReleaseQueue) Collect(completedSerial uint64) {
	writeIdx := 0
	for _, e := range q.entries {
		if e.retireSerial <= completedSerial {
			e.release()
		} else {
			q.entries[writeIdx] = e
			writeIdx++
		}
	}
	q.entries = q.entries[:writeIdx]
}

// Clear runs everything unconditionally. Only valid after a device wait idle.
func (q *DeferredReleaseQueue) Clear() {
	for _, e := range q.entries {
		e.release()
	}
	q.entries = nil
}

func (q *DeferredReleaseQueue) Len() int {
	return len(q.entries)
}
