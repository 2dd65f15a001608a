package vulkan

import (
	vk "github.com/goki/vulkan"
)

// Attachment counts for the geometry buffer. Emissive deliberately sits last
// so lighting shaders can ignore it when a material has none.
const (
	GBufferAlbedo   = 0
	GBufferPosition = 1
	GBufferNormal   = 2
	GBufferSpecular = 3
	GBufferEmissive = 4
	GBufferCount    = 5
)

// maxColorAttachments bounds the contract's format array so it stays
// comparable and usable as a pipeline cache key component.
const maxColorAttachments = GBufferCount

/**
 * TargetContract is the tuple a pipeline must match to be compatible with a
 * render target: color formats and count, depth format, sample count. Value
 * type, comparable, folded into pipeline cache keys.
 */
type TargetContract struct {
	ColorFormats [maxColorAttachments]vk.Format
	ColorCount   uint32
	DepthFormat  vk.Format
	Samples      vk.SampleCountFlagBits
}

/**
 * RenderTarget is a closed set of target variants. Exactly one is active at
 * any time; the variant carries everything needed to describe its contract.
 * Keeping this a sum type rather than a set of flags makes "which target and
 * is it active" a single value instead of a consistency problem.
 */
type RenderTarget interface {
	Contract() TargetContract
	targetName() string
}

// SwapchainWithDepth is the main scene target: one swapchain color
// attachment plus the shared depth buffer.
type SwapchainWithDepth struct {
	ColorFormat vk.Format
	DepthFormat vk.Format
}

func (t SwapchainWithDepth) Contract() TargetContract {
	c := TargetContract{ColorCount: 1, DepthFormat: t.DepthFormat, Samples: vk.SampleCount1Bit}
	c.ColorFormats[0] = t.ColorFormat
	return c
}

func (t SwapchainWithDepth) targetName() string { return "swapchain+depth" }

// SwapchainNoDepth writes the swapchain without depth. Used by the deferred
// lighting resolve and by UI composition, where the G-buffer or scene depth
// is read as a texture instead.
type SwapchainNoDepth struct {
	ColorFormat vk.Format
}

func (t SwapchainNoDepth) Contract() TargetContract {
	c := TargetContract{ColorCount: 1, DepthFormat: vk.FormatUndefined, Samples: vk.SampleCount1Bit}
	c.ColorFormats[0] = t.ColorFormat
	return c
}

func (t SwapchainNoDepth) targetName() string { return "swapchain" }

// DeferredGBuffer is the five-attachment geometry target consumed by the
// lighting pass.
type DeferredGBuffer struct {
	ColorFormats [GBufferCount]vk.Format
	DepthFormat  vk.Format
}

func (t DeferredGBuffer) Contract() TargetContract {
	c := TargetContract{ColorCount: GBufferCount, DepthFormat: t.DepthFormat, Samples: vk.SampleCount1Bit}
	copy(c.ColorFormats[:], t.ColorFormats[:])
	return c
}

func (t DeferredGBuffer) targetName() string { return "gbuffer" }

// Offscreen renders into a standalone color image for post effects and
// render-to-texture surfaces.
type Offscreen struct {
	ColorFormat vk.Format
	DepthFormat vk.Format
	Width       uint32
	Height      uint32
}

func (t Offscreen) Contract() TargetContract {
	c := TargetContract{ColorCount: 1, DepthFormat: t.DepthFormat, Samples: vk.SampleCount1Bit}
	c.ColorFormats[0] = t.ColorFormat
	return c
}

func (t Offscreen) targetName() string { return "offscreen" }
