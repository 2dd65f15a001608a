package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

// SamplerConfig is the comparable key for the sampler cache. Most textures
// share a handful of configurations, so samplers are pooled rather than
// created per texture.
type SamplerConfig struct {
	Filter      vk.Filter
	AddressMode vk.SamplerAddressMode
	Anisotropy  bool
}

func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Filter:      vk.FilterLinear,
		AddressMode: vk.SamplerAddressModeRepeat,
		Anisotropy:  true,
	}
}

type SamplerCache struct {
	context  *VulkanContext
	samplers map[SamplerConfig]vk.Sampler
}

func NewSamplerCache(context *VulkanContext) *SamplerCache {
	return &SamplerCache{
		context:  context,
		samplers: make(map[SamplerConfig]vk.Sampler),
	}
}

func (sc *SamplerCache) Get(config SamplerConfig) (vk.Sampler, error) {
	if sampler, ok := sc.samplers[config]; ok {
		return sampler, nil
	}

	anisotropy := vk.Bool32(vk.False)
	var maxAnisotropy float32 = 1.0
	if config.Anisotropy {
		anisotropy = vk.Bool32(vk.True)
		maxAnisotropy = 16.0
	}

	createInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        config.Filter,
		MinFilter:        config.Filter,
		AddressModeU:     config.AddressMode,
		AddressModeV:     config.AddressMode,
		AddressModeW:     config.AddressMode,
		AnisotropyEnable: anisotropy,
		MaxAnisotropy:    maxAnisotropy,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
		CompareOp:        vk.CompareOpAlways,
		MipmapMode:       vk.SamplerMipmapModeLinear,
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(sc.context.Device.LogicalDevice, &createInfo, sc.context.Allocator, &sampler); res != vk.Success {
		err := vkError("failed to create sampler", res)
		core.LogError(err.Error())
		return nil, err
	}
	sc.samplers[config] = sampler
	return sampler, nil
}

func (sc *SamplerCache) Destroy() {
	for config, sampler := range sc.samplers {
		vk.DestroySampler(sc.context.Device.LogicalDevice, sampler, sc.context.Allocator)
		delete(sc.samplers, config)
	}
}
