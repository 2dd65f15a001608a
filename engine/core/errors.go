package core

import (
	"errors"
)

var (
	// ErrRingExhausted is returned by the per-frame ring allocators when a
	// request does not fit in the remaining capacity of the current frame.
	// Recoverable: the caller drops or retries the work next frame.
	ErrRingExhausted = errors.New("ring allocator exhausted for this frame")
	// ErrSwapchainOutOfDate signals that the swapchain was recreated and the
	// current frame should be skipped.
	ErrSwapchainOutOfDate = errors.New("swapchain out of date, frame skipped")
	// ErrNoFreeSlots is returned when the bindless slot pool is empty.
	// Recoverable: assignment is retried at the next frame start.
	ErrNoFreeSlots = errors.New("no free bindless slots")
	// ErrDeviceLost is fatal; no recovery is attempted mid-frame.
	ErrDeviceLost = errors.New("device lost")
	ErrUnknown    = errors.New("unknown")
)
