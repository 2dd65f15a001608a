package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spectraldrift/aurora/engine/core"
)

func TestRingBufferAlignment(t *testing.T) {
	rb := NewRingBuffer("test", 1024)

	a, err := rb.Allocate(10, 256)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), a.Offset)

	b, err := rb.Allocate(10, 256)
	assert.NoError(t, err)
	assert.Equal(t, uint64(256), b.Offset)

	c, err := rb.Allocate(1, 4)
	assert.NoError(t, err)
	assert.Equal(t, uint64(268), c.Offset)
}

func TestRingBufferNeverWraps(t *testing.T) {
	rb := NewRingBuffer("test", 256)

	_, err := rb.Allocate(200, 1)
	assert.NoError(t, err)

	// The remaining 56 bytes cannot satisfy this; the allocator must fail
	// rather than hand back an offset overlapping in-flight data.
	_, err = rb.Allocate(100, 1)
	assert.ErrorIs(t, err, core.ErrRingExhausted)

	// A fitting request still succeeds after the failure.
	alloc, err := rb.Allocate(56, 1)
	assert.NoError(t, err)
	assert.Equal(t, uint64(200), alloc.Offset)
	assert.Equal(t, uint64(0), rb.Remaining())
}

func TestRingBufferOversizedRequest(t *testing.T) {
	rb := NewRingBuffer("test", 64)

	_, err := rb.Allocate(65, 1)
	assert.ErrorIs(t, err, core.ErrRingExhausted)
	assert.Equal(t, uint64(0), rb.Used())
}

func TestRingBufferResetRestoresCapacity(t *testing.T) {
	rb := NewRingBuffer("test", 128)

	_, err := rb.Allocate(128, 1)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), rb.Remaining())

	rb.Reset()
	assert.Equal(t, uint64(128), rb.Remaining())
	assert.Equal(t, uint64(128), rb.HighWater)

	alloc, err := rb.Allocate(64, 1)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), alloc.Offset)
}

func TestRingBufferAllocationIsWritable(t *testing.T) {
	rb := NewRingBuffer("test", 64)

	alloc, err := rb.Allocate(16, 4)
	assert.NoError(t, err)
	assert.Len(t, alloc.Bytes, 16)

	copy(alloc.Bytes, []byte("deadbeefdeadbeef"))
	next, err := rb.Allocate(16, 4)
	assert.NoError(t, err)
	assert.NotEqual(t, alloc.Offset, next.Offset)
}
