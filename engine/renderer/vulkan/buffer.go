package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

// BufferID is the engine-facing buffer handle. Valid from creation even
// though the GPU object may not exist yet.
type BufferID uint32

type BufferUsage int

const (
	BUFFER_USAGE_VERTEX BufferUsage = iota
	BUFFER_USAGE_INDEX
	BUFFER_USAGE_STORAGE
)

// VulkanBuffer is a device-local buffer plus its memory.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	Name   string
}

func BufferCreate(context *VulkanContext, size uint64, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags, name string) (*VulkanBuffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var handle vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create buffer '%s': %s", name, VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryIndex < 0 {
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, fmt.Errorf("no suitable memory type for buffer '%s'", name)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &memory); res != vk.Success {
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, fmt.Errorf("failed to allocate %d bytes for buffer '%s'", size, name)
	}
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(context.Device.LogicalDevice, memory, context.Allocator)
		vk.DestroyBuffer(context.Device.LogicalDevice, handle, context.Allocator)
		return nil, fmt.Errorf("failed to bind memory for buffer '%s'", name)
	}

	return &VulkanBuffer{Handle: handle, Memory: memory, Size: size, Name: name}, nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = nil
	}
}

// bufferBackend isolates device work so the manager's protocol runs in tests
// without a GPU.
type bufferBackend interface {
	Create(size uint64, usage BufferUsage, name string) (*VulkanBuffer, error)
	Record(cb *VulkanCommandBuffer, stagingBuffer vk.Buffer, alloc RingAllocation, dst *VulkanBuffer, dstOffset uint64)
	Release(buffer *VulkanBuffer)
}

type bufferRecord struct {
	id             BufferID
	name           string
	usage          BufferUsage
	gpu            *VulkanBuffer
	lastUsedSerial uint64
}

/**
 * BufferManager owns engine-visible buffers. Creation is lazy: a handle is
 * valid immediately, the device object appears at the first data update.
 * Deletion is deferred behind the completion serial like every other
 * destruction path.
 */
type BufferManager struct {
	backend  bufferBackend
	serials  *SerialTracker
	deferred *DeferredReleaseQueue

	records map[BufferID]*bufferRecord
	nextID  BufferID
}

func NewBufferManager(backend bufferBackend, serials *SerialTracker, deferred *DeferredReleaseQueue) *BufferManager {
	return &BufferManager{
		backend:  backend,
		serials:  serials,
		deferred: deferred,
		records:  make(map[BufferID]*bufferRecord),
		nextID:   1,
	}
}

// Create hands out a handle without touching the device.
func (bm *BufferManager) Create(name string, usage BufferUsage) BufferID {
	id := bm.nextID
	bm.nextID++
	bm.records[id] = &bufferRecord{id: id, name: name, usage: usage}
	return id
}

/**
 * Update stages data into the buffer, materializing or growing the device
 * object as needed. Staging exhaustion is recoverable: the caller drops the
 * update or retries next frame. A grown buffer's old object is retired
 * behind the serial, never freed in place.
 */
func (bm *BufferManager) Update(ctx UploadCtx, id BufferID, offset uint64, data []byte) error {
	rec, ok := bm.records[id]
	if !ok {
		return fmt.Errorf("update on unknown buffer %d", id)
	}

	needed := offset + uint64(len(data))
	if rec.gpu == nil || rec.gpu.Size < needed {
		if err := bm.materialize(rec, needed); err != nil {
			return err
		}
	}

	staging := ctx.Frame().StagingRing
	alloc, err := staging.Allocate(uint64(len(data)), copyOffsetAlignment)
	if err != nil {
		if errors.Is(err, core.ErrRingExhausted) {
			return err
		}
		return fmt.Errorf("staging update for buffer '%s': %w", rec.name, err)
	}
	copy(alloc.Bytes, data)

	bm.backend.Record(ctx.CommandBuffer(), staging.Handle(), alloc, rec.gpu, offset)
	return nil
}

// Handle resolves the id for binding. The buffer must have been updated at
// least once; binding a never-filled buffer is a caller contract violation.
func (bm *BufferManager) Handle(id BufferID) (vk.Buffer, error) {
	rec, ok := bm.records[id]
	if !ok {
		return nil, fmt.Errorf("unknown buffer %d", id)
	}
	if rec.gpu == nil {
		return nil, fmt.Errorf("buffer '%s' bound before any data update", rec.name)
	}
	rec.lastUsedSerial = bm.serials.PendingSerial()
	return rec.gpu.Handle, nil
}

// Exists reports whether the handle is live (created and not deleted).
func (bm *BufferManager) Exists(id BufferID) bool {
	_, ok := bm.records[id]
	return ok
}

// Delete retires the buffer. The handle dies now; the GPU object once its
// last possible use has completed.
func (bm *BufferManager) Delete(id BufferID) {
	rec, ok := bm.records[id]
	if !ok {
		return
	}
	delete(bm.records, id)
	if rec.gpu == nil {
		return
	}
	gpu := rec.gpu
	bm.deferred.Enqueue(bm.serials.PendingSerial(), func() {
		bm.backend.Release(gpu)
	})
}

// Shutdown frees every live buffer. Only legal after the device has idled.
func (bm *BufferManager) Shutdown() {
	for id, rec := range bm.records {
		if rec.gpu != nil {
			bm.backend.Release(rec.gpu)
		}
		delete(bm.records, id)
	}
}

func (bm *BufferManager) materialize(rec *bufferRecord, size uint64) error {
	gpu, err := bm.backend.Create(size, rec.usage, rec.name)
	if err != nil {
		return fmt.Errorf("materializing buffer '%s': %w", rec.name, err)
	}
	if rec.gpu != nil {
		old := rec.gpu
		bm.deferred.Enqueue(bm.serials.PendingSerial(), func() {
			bm.backend.Release(old)
		})
	}
	rec.gpu = gpu
	return nil
}

// vulkanBufferBackend is the production backend.
type vulkanBufferBackend struct {
	context *VulkanContext
}

func newVulkanBufferBackend(context *VulkanContext) *vulkanBufferBackend {
	return &vulkanBufferBackend{context: context}
}

func (b *vulkanBufferBackend) Create(size uint64, usage BufferUsage, name string) (*VulkanBuffer, error) {
	flags := vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	switch usage {
	case BUFFER_USAGE_VERTEX:
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	case BUFFER_USAGE_INDEX:
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	case BUFFER_USAGE_STORAGE:
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	return BufferCreate(b.context, size, flags, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), name)
}

func (b *vulkanBufferBackend) Record(cb *VulkanCommandBuffer, stagingBuffer vk.Buffer, alloc RingAllocation, dst *VulkanBuffer, dstOffset uint64) {
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(alloc.Offset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(alloc.Size),
	}
	vk.CmdCopyBuffer(cb.Handle, stagingBuffer, dst.Handle, 1, []vk.BufferCopy{region})
}

func (b *vulkanBufferBackend) Release(buffer *VulkanBuffer) {
	buffer.Destroy(b.context)
}
