package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

const (
	// Set 0 carries the per-frame uniform ring as a dynamic uniform buffer,
	// set 1 the bindless sampler table.
	descriptorSetGlobal   = 0
	descriptorSetBindless = 1
)

/**
 * DescriptorManager owns the two descriptor set layouts and one set of each
 * per frame in flight. The pool is sized from the live set count, not from
 * a per-draw estimate: descriptor writes only ever race the GPU if a set is
 * shared across frames, so one of each per frame slot is exactly enough.
 */
type DescriptorManager struct {
	context *VulkanContext

	GlobalLayout   vk.DescriptorSetLayout
	BindlessLayout vk.DescriptorSetLayout

	pool vk.DescriptorPool

	globalSets   []vk.DescriptorSet
	bindlessSets []vk.DescriptorSet

	slotCount uint32
}

func NewDescriptorManager(context *VulkanContext, frames []*VulkanFrame, slotCount uint32) (*DescriptorManager, error) {
	deviceMax := context.Device.MaxSamplerDescriptorCount()
	core.Assert(slotCount <= deviceMax, "bindless slot count exceeds device sampler descriptor limit")

	dm := &DescriptorManager{
		context:   context,
		slotCount: slotCount,
	}
	framesInFlight := uint32(len(frames))

	globalBinding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}
	globalLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{globalBinding},
	}
	var globalLayout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &globalLayoutInfo, context.Allocator, &globalLayout); !VulkanResultIsSuccess(res) {
		return nil, vkError("failed to create global descriptor set layout", res)
	}
	dm.GlobalLayout = globalLayout

	bindlessBinding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: slotCount,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}
	bindlessLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{bindlessBinding},
	}
	var bindlessLayout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &bindlessLayoutInfo, context.Allocator, &bindlessLayout); !VulkanResultIsSuccess(res) {
		return nil, vkError("failed to create bindless descriptor set layout", res)
	}
	dm.BindlessLayout = bindlessLayout

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: framesInFlight},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: slotCount * framesInFlight},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       2 * framesInFlight,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &pool); !VulkanResultIsSuccess(res) {
		return nil, vkError("failed to create descriptor pool", res)
	}
	dm.pool = pool

	dm.globalSets = make([]vk.DescriptorSet, framesInFlight)
	dm.bindlessSets = make([]vk.DescriptorSet, framesInFlight)
	for i := range frames {
		globalSet, err := dm.allocateSet(dm.GlobalLayout)
		if err != nil {
			return nil, err
		}
		dm.globalSets[i] = globalSet

		bindlessSet, err := dm.allocateSet(dm.BindlessLayout)
		if err != nil {
			return nil, err
		}
		dm.bindlessSets[i] = bindlessSet
		frames[i].BindlessSet = bindlessSet

		dm.writeGlobal(globalSet, frames[i].UniformRing)
	}

	return dm, nil
}

func (dm *DescriptorManager) allocateSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     dm.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(dm.context.Device.LogicalDevice, &allocInfo, &sets[0]); !VulkanResultIsSuccess(res) {
		return nil, vkError("failed to allocate descriptor set", res)
	}
	return sets[0], nil
}

// writeGlobal points the frame's global set at its whole uniform ring; draws
// select their block with a dynamic offset.
func (dm *DescriptorManager) writeGlobal(set vk.DescriptorSet, ring *RingBuffer) {
	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: ring.Handle(),
		Offset: 0,
		Range:  vk.DeviceSize(maxUniformBlockSize),
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      0,
		DstArrayElement: 0,
		DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
		DescriptorCount: 1,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	}
	vk.UpdateDescriptorSets(dm.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// GlobalSet returns the frame's uniform set for binding with a dynamic
// offset.
func (dm *DescriptorManager) GlobalSet(frameIndex int) vk.DescriptorSet {
	return dm.globalSets[frameIndex]
}

// WriteBindlessSlots rewrites the given slots of the frame's sampler table.
// Unoccupied slots resolve through the texture manager to the fallback, so
// every array element the shader can index stays valid.
func (dm *DescriptorManager) WriteBindlessSlots(frameIndex int, tm *TextureManager, slots []uint32) {
	if len(slots) == 0 {
		return
	}
	set := dm.bindlessSets[frameIndex]

	writes := make([]vk.WriteDescriptorSet, 0, len(slots))
	imageInfos := make([]vk.DescriptorImageInfo, len(slots))
	for i, slot := range slots {
		desc := tm.DescriptorForSlot(slot)
		imageInfos[i] = vk.DescriptorImageInfo{
			Sampler:     desc.Sampler,
			ImageView:   desc.View,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      0,
			DstArrayElement: slot,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			PImageInfo:      imageInfos[i : i+1],
		})
	}
	vk.UpdateDescriptorSets(dm.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
}

// WriteBindlessAll seeds a frame's whole table, fallback everywhere a
// texture is not assigned. Called once per frame slot at init and after a
// swapchain recreate invalidates views.
func (dm *DescriptorManager) WriteBindlessAll(frameIndex int, tm *TextureManager) {
	slots := make([]uint32, dm.slotCount)
	for i := range slots {
		slots[i] = uint32(i)
	}
	dm.WriteBindlessSlots(frameIndex, tm, slots)
}

func (dm *DescriptorManager) Layouts() []vk.DescriptorSetLayout {
	return []vk.DescriptorSetLayout{dm.GlobalLayout, dm.BindlessLayout}
}

func (dm *DescriptorManager) Destroy() {
	device := dm.context.Device.LogicalDevice
	if dm.pool != nil {
		vk.DestroyDescriptorPool(device, dm.pool, dm.context.Allocator)
		dm.pool = nil
	}
	if dm.BindlessLayout != nil {
		vk.DestroyDescriptorSetLayout(device, dm.BindlessLayout, dm.context.Allocator)
		dm.BindlessLayout = nil
	}
	if dm.GlobalLayout != nil {
		vk.DestroyDescriptorSetLayout(device, dm.GlobalLayout, dm.context.Allocator)
		dm.GlobalLayout = nil
	}
}
