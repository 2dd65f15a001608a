package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

// frameFence is the synchronization surface the frame ring depends on. The
// production implementation is VulkanFence; ring-protocol tests substitute
// an in-memory fake.
type frameFence interface {
	// Wait blocks until signaled. A timeout or device loss is fatal.
	Wait(timeoutNs uint64) error
	// Poll reports whether the fence is signaled without blocking.
	Poll() (bool, error)
	Reset() error
}

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool

	context *VulkanContext
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
		context:    context,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		err := fmt.Errorf("failed to create fence")
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != nil {
		vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

func (vf *VulkanFence) Wait(timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		// A fence that never signals means the device stopped making
		// progress. Treated the same as device loss.
		core.LogError("vk_fence_wait - Timed out")
		return core.ErrDeviceLost
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
		return core.ErrDeviceLost
	default:
		return fmt.Errorf("vk_fence_wait failed: %s", VulkanResultString(result))
	}
}

func (vf *VulkanFence) Poll() (bool, error) {
	if vf.IsSignaled {
		return true, nil
	}
	result := vk.GetFenceStatus(vf.context.Device.LogicalDevice, vf.Handle)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	case vk.ErrorDeviceLost:
		return false, core.ErrDeviceLost
	default:
		return false, fmt.Errorf("vkGetFenceStatus failed: %s", VulkanResultString(result))
	}
}

func (vf *VulkanFence) Reset() error {
	if vf.IsSignaled {
		if res := vk.ResetFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
			err := fmt.Errorf("failed to reset fence")
			core.LogError(err.Error())
			return err
		}
		vf.IsSignaled = false
	}
	return nil
}
