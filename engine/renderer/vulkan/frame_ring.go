package vulkan

import (
	"fmt"

	"github.com/spectraldrift/aurora/engine/containers"
	"github.com/spectraldrift/aurora/engine/core"
)

// How long Acquire waits on the oldest fence before declaring the device lost.
const frameFenceTimeoutNs = 5 * 1000 * 1000 * 1000

/**
 * FrameRing cycles a fixed set of frame slots through
 * Available -> Recording -> InFlight -> Available. Slots are recycled FIFO,
 * so observing one submission's completion proves every earlier submission
 * is complete as well. That ordering is what makes the serial tracker a
 * sound basis for deferred destruction.
 *
 * Acquire is the single blocking point of the whole renderer. Everything
 * else either succeeds immediately or fails soft.
 */
type FrameRing struct {
	frames    []*VulkanFrame
	available *containers.RingQueue[*VulkanFrame]
	inFlight  *containers.RingQueue[*VulkanFrame]

	serials  *SerialTracker
	deferred *DeferredReleaseQueue
}

func NewFrameRing(frames []*VulkanFrame) *FrameRing {
	core.Assert(len(frames) > 0, "frame ring requires at least one slot")

	ring := &FrameRing{
		frames:    frames,
		available: containers.NewRingQueue[*VulkanFrame](len(frames)),
		inFlight:  containers.NewRingQueue[*VulkanFrame](len(frames)),
		serials:   NewSerialTracker(),
		deferred:  NewDeferredReleaseQueue(),
	}
	for _, frame := range frames {
		frame.state = FRAME_STATE_AVAILABLE
		ring.available.Enqueue(frame)
	}
	return ring
}

func (r *FrameRing) Serials() *SerialTracker {
	return r.serials
}

func (r *FrameRing) Deferred() *DeferredReleaseQueue {
	return r.deferred
}

func (r *FrameRing) SlotCount() int {
	return len(r.frames)
}

/**
 * Acquire returns an available frame slot. When every slot is in flight it
 * retires the oldest one first, waiting on that slot's fence. A fence
 * timeout or wait failure means the device is gone and is reported as
 * core.ErrDeviceLost.
 */
func (r *FrameRing) Acquire() (*VulkanFrame, error) {
	if r.available.IsEmpty() {
		if err := r.retireOldest(); err != nil {
			return nil, err
		}
	}

	frame, err := r.available.Dequeue()
	if err != nil {
		return nil, fmt.Errorf("frame ring has no available slot after retirement: %w", err)
	}
	core.Assert(frame.state == FRAME_STATE_AVAILABLE, "acquired frame is not available")
	return frame, nil
}

/**
 * CollectCompleted opportunistically retires in-flight frames whose fences
 * have already signaled, without blocking. Called at frame start so deferred
 * releases and ring resets happen as early as the GPU allows.
 */
func (r *FrameRing) CollectCompleted() error {
	for !r.inFlight.IsEmpty() {
		oldest, err := r.inFlight.Peek()
		if err != nil {
			return err
		}
		done, err := oldest.fence.Poll()
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		if err := r.retireOldest(); err != nil {
			return err
		}
	}
	return nil
}

// BeginRecording resets the slot's transient state and tags it with the
// swapchain image it will render into.
func (r *FrameRing) BeginRecording(frame *VulkanFrame, imageIndex uint32) {
	core.Assert(frame.state == FRAME_STATE_AVAILABLE, "cannot begin recording on a non-available frame")

	frame.UniformRing.Reset()
	frame.VertexRing.Reset()
	frame.StagingRing.Reset()
	frame.ImageIndex = imageIndex
	frame.state = FRAME_STATE_RECORDING
}

/**
 * Submit assigns the next completion serial and moves the frame to the
 * in-flight queue. The actual queue submission is recorded by the caller;
 * this method owns only the lifecycle bookkeeping, which keeps the protocol
 * testable without a device.
 */
func (r *FrameRing) Submit(frame *VulkanFrame) uint64 {
	core.Assert(frame.state == FRAME_STATE_RECORDING, "cannot submit a frame that is not recording")

	serial := r.serials.Next()
	frame.Serial = serial
	frame.state = FRAME_STATE_IN_FLIGHT
	if err := r.inFlight.Enqueue(frame); err != nil {
		// The queue is sized to the slot count; overflow means a slot was
		// submitted twice without retirement.
		core.LogFatal("frame ring in-flight overflow: %v", err)
	}
	return serial
}

// WaitIdle retires every in-flight frame, blocking until the GPU has drained.
func (r *FrameRing) WaitIdle() error {
	for !r.inFlight.IsEmpty() {
		if err := r.retireOldest(); err != nil {
			return err
		}
	}
	return nil
}

func (r *FrameRing) retireOldest() error {
	oldest, err := r.inFlight.Peek()
	if err != nil {
		return fmt.Errorf("frame ring exhausted with nothing in flight: %w", err)
	}

	if err := oldest.fence.Wait(frameFenceTimeoutNs); err != nil {
		core.LogError("fence wait failed while retiring frame %d: %v", oldest.Index, err)
		return core.ErrDeviceLost
	}

	// FIFO recycling makes this observation cover every earlier submission.
	r.serials.Observe(oldest.Serial)
	r.deferred.Collect(r.serials.Completed())

	if _, err := r.inFlight.Dequeue(); err != nil {
		return err
	}
	oldest.state = FRAME_STATE_AVAILABLE
	return r.available.Enqueue(oldest)
}
