package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

// RingAllocation is a sub-range of a ring buffer valid for the current frame.
type RingAllocation struct {
	Offset uint64
	Size   uint64
	// Bytes is the mapped CPU window for the allocation. Nil for rings
	// created without a backing device buffer.
	Bytes []byte
}

/**
 * @brief Bump-pointer allocator over a single host-visible buffer.
 *
 * One ring exists per concern (uniform, vertex, staging) per frame record.
 * Allocation never wraps within a frame: wrapping would make in-flight data
 * corruption representable. Exhaustion is reported with
 * core.ErrRingExhausted and is recoverable.
 */
type RingBuffer struct {
	Name      string
	Capacity  uint64
	HighWater uint64

	offset uint64
	mapped []byte

	handle vk.Buffer
	memory vk.DeviceMemory
}

func makeAlignUp(a uint64, align uint64) uint64 {
	m := a % align
	if m == 0 {
		return a
	}
	a = (a - m) + align
	return a
}

// NewRingBuffer creates a ring with no device backing. The frame ring uses
// these directly in tests; production rings come from NewDeviceRingBuffer.
func NewRingBuffer(name string, capacity uint64) *RingBuffer {
	return &RingBuffer{
		Name:     name,
		Capacity: capacity,
		mapped:   make([]byte, capacity),
	}
}

// NewDeviceRingBuffer allocates a host-visible, persistently mapped buffer
// for the ring.
func NewDeviceRingBuffer(context *VulkanContext, name string, capacity uint64, usage vk.BufferUsageFlags) (*RingBuffer, error) {
	rb := &RingBuffer{Name: name, Capacity: capacity}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(capacity),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create ring buffer '%s': %s", name, VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	rb.handle = handle

	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, rb.handle, &memRequirements)
	memRequirements.Deref()

	memoryIndex := context.FindMemoryIndex(memRequirements.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memoryIndex < 0 {
		err := fmt.Errorf("no host-visible memory type for ring buffer '%s'", name)
		core.LogError(err.Error())
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &memory); res != vk.Success {
		err := fmt.Errorf("failed to allocate %d bytes for ring buffer '%s'", capacity, name)
		core.LogError(err.Error())
		return nil, err
	}
	rb.memory = memory

	if res := vk.BindBufferMemory(context.Device.LogicalDevice, rb.handle, rb.memory, 0); res != vk.Success {
		err := fmt.Errorf("failed to bind memory for ring buffer '%s'", name)
		core.LogError(err.Error())
		return nil, err
	}

	var pData unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, rb.memory, 0, vk.DeviceSize(capacity), 0, &pData); res != vk.Success {
		err := fmt.Errorf("failed to map ring buffer '%s'", name)
		core.LogError(err.Error())
		return nil, err
	}
	rb.mapped = unsafe.Slice((*byte)(pData), capacity)

	return rb, nil
}

// Allocate reserves size bytes at the requested alignment. The allocation is
// valid until the ring's frame record is reused.
func (rb *RingBuffer) Allocate(size uint64, align uint64) (RingAllocation, error) {
	if align == 0 {
		align = 1
	}
	offset := makeAlignUp(rb.offset, align)
	if offset+size > rb.Capacity {
		// Report, do not wrap. The caller drops the work or grows the ring
		// at the next frame boundary.
		return RingAllocation{}, fmt.Errorf("ring '%s': %d bytes requested, %d remaining: %w",
			rb.Name, size, rb.Capacity-rb.offset, core.ErrRingExhausted)
	}
	rb.offset = offset + size
	if rb.offset > rb.HighWater {
		rb.HighWater = rb.offset
	}

	alloc := RingAllocation{Offset: offset, Size: size}
	if rb.mapped != nil {
		alloc.Bytes = rb.mapped[offset : offset+size]
	}
	return alloc, nil
}

// Reset rewinds the ring. Only legal once the frame's prior submission is
// known complete.
func (rb *RingBuffer) Reset() {
	rb.offset = 0
}

func (rb *RingBuffer) Remaining() uint64 {
	return rb.Capacity - rb.offset
}

func (rb *RingBuffer) Used() uint64 {
	return rb.offset
}

// Handle returns the device buffer backing the ring, if any.
func (rb *RingBuffer) Handle() vk.Buffer {
	return rb.handle
}

func (rb *RingBuffer) Destroy(context *VulkanContext) {
	if rb.memory != nil {
		vk.UnmapMemory(context.Device.LogicalDevice, rb.memory)
		vk.FreeMemory(context.Device.LogicalDevice, rb.memory, context.Allocator)
		rb.memory = nil
	}
	if rb.handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, rb.handle, context.Allocator)
		rb.handle = nil
	}
	rb.mapped = nil
}
