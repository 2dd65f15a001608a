package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spectraldrift/aurora/engine/core"
)

type fakeFence struct {
	signaled bool
	waits    int
	waitErr  error
}

func (f *fakeFence) Wait(timeoutNs uint64) error {
	f.waits++
	if f.waitErr != nil {
		return f.waitErr
	}
	f.signaled = true
	return nil
}

func (f *fakeFence) Poll() (bool, error) {
	return f.signaled, nil
}

func (f *fakeFence) Reset() error {
	f.signaled = false
	return nil
}

func newTestFrame(index int) *VulkanFrame {
	return &VulkanFrame{
		Index:       index,
		UniformRing: NewRingBuffer("uniform", 1024),
		VertexRing:  NewRingBuffer("vertex", 1024),
		StagingRing: NewRingBuffer("staging", 1024),
		fence:       &fakeFence{},
	}
}

func newTestRing(slots int) *FrameRing {
	frames := make([]*VulkanFrame, slots)
	for i := range frames {
		frames[i] = newTestFrame(i)
	}
	return NewFrameRing(frames)
}

func TestFrameRingAcquireReturnsDistinctSlots(t *testing.T) {
	ring := newTestRing(2)

	a, err := ring.Acquire()
	assert.NoError(t, err)
	ring.BeginRecording(a, 0)
	ring.Submit(a)

	b, err := ring.Acquire()
	assert.NoError(t, err)
	assert.NotEqual(t, a.Index, b.Index)
}

func TestFrameRingTwoSlotsThreeSubmits(t *testing.T) {
	ring := newTestRing(2)

	first, err := ring.Acquire()
	assert.NoError(t, err)
	ring.BeginRecording(first, 0)
	firstSerial := ring.Submit(first)

	second, err := ring.Acquire()
	assert.NoError(t, err)
	ring.BeginRecording(second, 1)
	ring.Submit(second)

	// Dirty the first slot's allocator so reuse proves the reset.
	firstFence := first.fence.(*fakeFence)
	assert.Equal(t, 0, firstFence.waits)

	third, err := ring.Acquire()
	assert.NoError(t, err)

	// The ring was exhausted, so the third acquire had to wait on the
	// oldest in-flight fence and hand back that same slot.
	assert.Equal(t, 1, firstFence.waits)
	assert.Same(t, first, third)
	assert.Equal(t, firstSerial, ring.Serials().Completed())

	ring.BeginRecording(third, 0)
	assert.Equal(t, uint64(0), third.UniformRing.Used())
	assert.Equal(t, uint64(0), third.VertexRing.Used())
	assert.Equal(t, uint64(0), third.StagingRing.Used())
}

func TestFrameRingSerialsAscend(t *testing.T) {
	ring := newTestRing(3)

	var last uint64
	for i := 0; i < 6; i++ {
		frame, err := ring.Acquire()
		assert.NoError(t, err)
		ring.BeginRecording(frame, uint32(i%3))
		serial := ring.Submit(frame)
		assert.Greater(t, serial, last)
		last = serial
	}
}

func TestFrameRingFenceFailureIsDeviceLost(t *testing.T) {
	ring := newTestRing(1)

	frame, err := ring.Acquire()
	assert.NoError(t, err)
	ring.BeginRecording(frame, 0)
	ring.Submit(frame)
	frame.fence.(*fakeFence).waitErr = core.ErrDeviceLost

	_, err = ring.Acquire()
	assert.ErrorIs(t, err, core.ErrDeviceLost)
}

func TestFrameRingCollectCompletedDrainsSignaled(t *testing.T) {
	ring := newTestRing(2)

	a, _ := ring.Acquire()
	ring.BeginRecording(a, 0)
	serialA := ring.Submit(a)

	b, _ := ring.Acquire()
	ring.BeginRecording(b, 1)
	ring.Submit(b)

	released := 0
	ring.Deferred().Enqueue(serialA, func() { released++ })

	// Nothing signaled: collect is a no-op and the release stays queued.
	assert.NoError(t, ring.CollectCompleted())
	assert.Equal(t, 0, released)

	a.fence.(*fakeFence).signaled = true
	assert.NoError(t, ring.CollectCompleted())
	assert.Equal(t, 1, released)
	assert.Equal(t, FRAME_STATE_AVAILABLE, a.State())
	assert.Equal(t, FRAME_STATE_IN_FLIGHT, b.State())
}

func TestFrameRingWaitIdleRetiresEverything(t *testing.T) {
	ring := newTestRing(3)

	var lastSerial uint64
	for i := 0; i < 3; i++ {
		frame, _ := ring.Acquire()
		ring.BeginRecording(frame, uint32(i))
		lastSerial = ring.Submit(frame)
	}

	assert.NoError(t, ring.WaitIdle())
	assert.Equal(t, lastSerial, ring.Serials().Completed())
	frame, err := ring.Acquire()
	assert.NoError(t, err)
	assert.NotNil(t, frame)
}
