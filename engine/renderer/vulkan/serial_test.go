package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialTrackerAscends(t *testing.T) {
	st := NewSerialTracker()

	first := st.Next()
	second := st.Next()
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)
	assert.Equal(t, second, st.LastSubmitted())
	assert.Equal(t, uint64(0), st.Completed())
}

func TestSerialTrackerObserve(t *testing.T) {
	st := NewSerialTracker()
	a := st.Next()
	b := st.Next()

	st.Observe(a)
	assert.Equal(t, a, st.Completed())

	// Re-observing an already-completed serial is harmless.
	st.Observe(a)
	assert.Equal(t, a, st.Completed())

	st.Observe(b)
	assert.Equal(t, b, st.Completed())
}

func TestDeferredReleaseOrdering(t *testing.T) {
	st := NewSerialTracker()
	q := NewDeferredReleaseQueue()

	s1 := st.Next()
	s2 := st.Next()

	var destroyed []uint64
	q.Enqueue(s1, func() { destroyed = append(destroyed, s1) })
	q.Enqueue(s2, func() { destroyed = append(destroyed, s2) })

	// Nothing completed yet: nothing may be destroyed.
	q.Collect(st.Completed())
	assert.Empty(t, destroyed)

	st.Observe(s1)
	q.Collect(st.Completed())
	assert.Equal(t, []uint64{s1}, destroyed)
	assert.Equal(t, 1, q.Len())

	st.Observe(s2)
	q.Collect(st.Completed())
	assert.Equal(t, []uint64{s1, s2}, destroyed)
	assert.Equal(t, 0, q.Len())
}

func TestDeferredReleaseClearRunsEverything(t *testing.T) {
	q := NewDeferredReleaseQueue()

	ran := 0
	q.Enqueue(10, func() { ran++ })
	q.Enqueue(20, func() { ran++ })

	q.Clear()
	assert.Equal(t, 2, ran)
	assert.Equal(t, 0, q.Len())
}
