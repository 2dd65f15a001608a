package vulkan

import (
	vk "github.com/goki/vulkan"
)

// vulkanTextureUploader is the device-backed uploader. It records the
// staged copy and both layout transitions, leaving the image resident and
// shader-readable once the frame's submission completes.
type vulkanTextureUploader struct {
	context  *VulkanContext
	samplers *SamplerCache
}

func newVulkanTextureUploader(context *VulkanContext, samplers *SamplerCache) *vulkanTextureUploader {
	return &vulkanTextureUploader{context: context, samplers: samplers}
}

func (u *vulkanTextureUploader) Record(cb *VulkanCommandBuffer, stagingBuffer vk.Buffer, alloc RingAllocation, px TexturePixels, name string) (*VulkanImage, TextureDescriptor, error) {
	image, err := ImageCreate(
		u.context,
		vk.ImageType2d,
		px.Width,
		px.Height,
		1,
		px.Format,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectColorBit),
		name)
	if err != nil {
		return nil, TextureDescriptor{}, err
	}

	image.TransitionLayout(cb, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ImageLayoutTransferDstOptimal)

	region := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(alloc.Offset),
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: px.Width, Height: px.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(cb.Handle, stagingBuffer, image.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})

	image.TransitionLayout(cb, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ImageLayoutShaderReadOnlyOptimal)

	sampler, err := u.samplers.Get(DefaultSamplerConfig())
	if err != nil {
		image.ImageDestroy(u.context)
		return nil, TextureDescriptor{}, err
	}

	return image, TextureDescriptor{View: image.View, Sampler: sampler, Slot: SlotAbsent}, nil
}

func (u *vulkanTextureUploader) Release(image *VulkanImage) {
	if image != nil {
		image.ImageDestroy(u.context)
	}
}
