package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type frameState int

const (
	FRAME_STATE_AVAILABLE frameState = iota
	FRAME_STATE_RECORDING
	FRAME_STATE_IN_FLIGHT
)

/**
 * VulkanFrame is one reusable slot of the frame ring. It owns the command
 * buffer, the completion fence, the per-frame semaphores and the three
 * transient ring allocators. A frame is either available for reuse or in
 * flight on the GPU, never both.
 */
type VulkanFrame struct {
	Index int

	CommandBuffer  *VulkanCommandBuffer
	ImageAvailable vk.Semaphore
	RenderComplete vk.Semaphore

	UniformRing *RingBuffer
	VertexRing  *RingBuffer
	StagingRing *RingBuffer

	// Bulk descriptor set for the bindless sampler table, one per frame so
	// writes never race a submission that is still consuming it.
	BindlessSet vk.DescriptorSet

	// Swapchain image this frame is rendering into, tagged at begin.
	ImageIndex uint32

	// Serial of the most recent submission made from this slot.
	Serial uint64

	fence frameFence
	state frameState
}

type FrameRingConfig struct {
	UniformRingSize uint64
	VertexRingSize  uint64
	StagingRingSize uint64
}

func NewVulkanFrame(context *VulkanContext, pool vk.CommandPool, index int, cfg FrameRingConfig) (*VulkanFrame, error) {
	frame := &VulkanFrame{
		Index: index,
		state: FRAME_STATE_AVAILABLE,
	}

	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	frame.CommandBuffer = cb

	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var imageAvailable, renderComplete vk.Semaphore
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreInfo, context.Allocator, &imageAvailable); !VulkanResultIsSuccess(res) {
		return nil, vkError("failed to create image-available semaphore", res)
	}
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreInfo, context.Allocator, &renderComplete); !VulkanResultIsSuccess(res) {
		return nil, vkError("failed to create render-complete semaphore", res)
	}
	frame.ImageAvailable = imageAvailable
	frame.RenderComplete = renderComplete

	// Created signaled so a wait on a never-submitted slot returns at once.
	fence, err := NewFence(context, true)
	if err != nil {
		return nil, err
	}
	frame.fence = fence

	frame.UniformRing, err = NewDeviceRingBuffer(context, uniformRingName(index), cfg.UniformRingSize,
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
	if err != nil {
		return nil, err
	}
	frame.VertexRing, err = NewDeviceRingBuffer(context, vertexRingName(index), cfg.VertexRingSize,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	if err != nil {
		return nil, err
	}
	frame.StagingRing, err = NewDeviceRingBuffer(context, stagingRingName(index), cfg.StagingRingSize,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return nil, err
	}

	return frame, nil
}

func (f *VulkanFrame) Destroy(context *VulkanContext, pool vk.CommandPool) {
	if f.StagingRing != nil {
		f.StagingRing.Destroy(context)
	}
	if f.VertexRing != nil {
		f.VertexRing.Destroy(context)
	}
	if f.UniformRing != nil {
		f.UniformRing.Destroy(context)
	}
	if vf, ok := f.fence.(*VulkanFence); ok && vf != nil {
		vf.Destroy()
	}
	if f.RenderComplete != nil {
		vk.DestroySemaphore(context.Device.LogicalDevice, f.RenderComplete, context.Allocator)
		f.RenderComplete = nil
	}
	if f.ImageAvailable != nil {
		vk.DestroySemaphore(context.Device.LogicalDevice, f.ImageAvailable, context.Allocator)
		f.ImageAvailable = nil
	}
	if f.CommandBuffer != nil {
		f.CommandBuffer.Free(context, pool)
		f.CommandBuffer = nil
	}
}

func (f *VulkanFrame) State() frameState {
	return f.state
}

func uniformRingName(index int) string {
	return fmt.Sprintf("uniform-ring-%d", index)
}

func vertexRingName(index int) string {
	return fmt.Sprintf("vertex-ring-%d", index)
}

func stagingRingName(index int) string {
	return fmt.Sprintf("staging-ring-%d", index)
}
