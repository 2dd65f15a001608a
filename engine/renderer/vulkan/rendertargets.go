package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

type passKey struct {
	contract TargetContract
	clear    bool
}

/**
 * VulkanRenderTargets owns every attachment image the renderer can draw
 * into, the render pass variants compiled for them and the framebuffers
 * tying the two together. It is the Vulkan half of the render session: the
 * session decides which pass to open, this type records it and keeps the
 * per-image layout trackers honest.
 */
type VulkanRenderTargets struct {
	context *VulkanContext

	width  uint32
	height uint32

	Main     SwapchainWithDepth
	Lighting SwapchainNoDepth
	GBuffer  DeferredGBuffer

	gbufferImages [GBufferCount]*VulkanImage

	offscreenTarget Offscreen
	offscreenImage  *VulkanImage
	offscreenDepth  *VulkanImage

	// Pass variants are compiled on first use and live for the manager's
	// lifetime. Formats never change at runtime, so entries stay valid
	// across swapchain recreates.
	passes map[passKey]*VulkanRenderPass

	mainFramebuffers     []*VulkanFramebuffer
	lightingFramebuffers []*VulkanFramebuffer
	gbufferFramebuffer   *VulkanFramebuffer
	offscreenFramebuffer *VulkanFramebuffer

	// Last-known layout of each swapchain image. Swapchain images are bare
	// handles, so they get a shadow tracker instead of a VulkanImage.
	swapchainLayouts []vk.ImageLayout

	cb         *VulkanCommandBuffer
	imageIndex uint32
	activePass *VulkanRenderPass

	ClearColor [4]float32
}

func NewVulkanRenderTargets(context *VulkanContext) (*VulkanRenderTargets, error) {
	rt := &VulkanRenderTargets{
		context:    context,
		passes:     make(map[passKey]*VulkanRenderPass),
		ClearColor: [4]float32{0.0, 0.0, 0.2, 1.0},
	}

	colorFormat := context.Swapchain.ImageFormat.Format
	depthFormat := context.Device.DepthFormat

	rt.Main = SwapchainWithDepth{ColorFormat: colorFormat, DepthFormat: depthFormat}
	rt.Lighting = SwapchainNoDepth{ColorFormat: colorFormat}
	rt.GBuffer = DeferredGBuffer{
		ColorFormats: [GBufferCount]vk.Format{
			GBufferAlbedo:   vk.FormatR8g8b8a8Unorm,
			GBufferPosition: vk.FormatR16g16b16a16Sfloat,
			GBufferNormal:   vk.FormatR16g16b16a16Sfloat,
			GBufferSpecular: vk.FormatR8g8b8a8Unorm,
			GBufferEmissive: vk.FormatR8g8b8a8Unorm,
		},
		DepthFormat: depthFormat,
	}

	if err := rt.createSizedResources(); err != nil {
		return nil, err
	}
	return rt, nil
}

// createSizedResources builds everything tied to the current swapchain
// extent: attachment images, framebuffers, layout trackers.
func (rt *VulkanRenderTargets) createSizedResources() error {
	swapchain := rt.context.Swapchain
	rt.width = swapchain.Extent.Width
	rt.height = swapchain.Extent.Height

	for i := 0; i < GBufferCount; i++ {
		name := fmt.Sprintf("gbuffer-%d", i)
		image, err := ImageCreate(
			rt.context,
			vk.ImageType2d,
			rt.width,
			rt.height,
			1,
			rt.GBuffer.ColorFormats[i],
			vk.ImageTilingOptimal,
			vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
			true,
			vk.ImageAspectFlags(vk.ImageAspectColorBit),
			name)
		if err != nil {
			return err
		}
		rt.gbufferImages[i] = image
	}

	// Framebuffers are compatible across clear/load variants of the same
	// contract, so one per target is enough. Compile the clear variant up
	// front to have a pass handle to build them against.
	mainPass, err := rt.ensurePass(rt.Main.Contract(), true)
	if err != nil {
		return err
	}
	lightingPass, err := rt.ensurePass(rt.Lighting.Contract(), true)
	if err != nil {
		return err
	}
	gbufferPass, err := rt.ensurePass(rt.GBuffer.Contract(), true)
	if err != nil {
		return err
	}

	imageCount := int(swapchain.ImageCount)
	rt.mainFramebuffers = make([]*VulkanFramebuffer, imageCount)
	rt.lightingFramebuffers = make([]*VulkanFramebuffer, imageCount)
	rt.swapchainLayouts = make([]vk.ImageLayout, imageCount)
	for i := 0; i < imageCount; i++ {
		rt.swapchainLayouts[i] = vk.ImageLayoutUndefined

		fb, err := FramebufferCreate(rt.context, mainPass, rt.width, rt.height,
			[]vk.ImageView{swapchain.Views[i], swapchain.DepthAttachment.View})
		if err != nil {
			return err
		}
		rt.mainFramebuffers[i] = fb

		fb, err = FramebufferCreate(rt.context, lightingPass, rt.width, rt.height,
			[]vk.ImageView{swapchain.Views[i]})
		if err != nil {
			return err
		}
		rt.lightingFramebuffers[i] = fb
	}

	gbufferViews := make([]vk.ImageView, 0, GBufferCount+1)
	for i := 0; i < GBufferCount; i++ {
		gbufferViews = append(gbufferViews, rt.gbufferImages[i].View)
	}
	gbufferViews = append(gbufferViews, swapchain.DepthAttachment.View)
	rt.gbufferFramebuffer, err = FramebufferCreate(rt.context, gbufferPass, rt.width, rt.height, gbufferViews)
	if err != nil {
		return err
	}

	return nil
}

func (rt *VulkanRenderTargets) destroySizedResources() {
	if rt.gbufferFramebuffer != nil {
		rt.gbufferFramebuffer.Destroy(rt.context)
		rt.gbufferFramebuffer = nil
	}
	for _, fb := range rt.lightingFramebuffers {
		fb.Destroy(rt.context)
	}
	rt.lightingFramebuffers = nil
	for _, fb := range rt.mainFramebuffers {
		fb.Destroy(rt.context)
	}
	rt.mainFramebuffers = nil
	for i, image := range rt.gbufferImages {
		if image != nil {
			image.ImageDestroy(rt.context)
			rt.gbufferImages[i] = nil
		}
	}
}

// Resize rebuilds all extent-dependent resources after a swapchain recreate.
// Pass variants survive since formats do not change.
func (rt *VulkanRenderTargets) Resize() error {
	core.Assert(rt.activePass == nil, "cannot resize render targets while a pass is active")
	rt.destroySizedResources()
	if err := rt.createSizedResources(); err != nil {
		return err
	}
	if rt.offscreenImage != nil {
		// Offscreen surfaces keep their own extent; only the framebuffer
		// referencing destroyed views must be rebuilt.
		return rt.recreateOffscreenFramebuffer()
	}
	return nil
}

func (rt *VulkanRenderTargets) Destroy() {
	rt.destroyOffscreen()
	rt.destroySizedResources()
	for key, pass := range rt.passes {
		pass.Destroy(rt.context)
		delete(rt.passes, key)
	}
}

// BindFrame points the recorder at the frame's command buffer and swapchain
// image. Must be called before any pass is begun for the frame.
func (rt *VulkanRenderTargets) BindFrame(cb *VulkanCommandBuffer, imageIndex uint32) {
	rt.cb = cb
	rt.imageIndex = imageIndex
}

func (rt *VulkanRenderTargets) ensurePass(contract TargetContract, clear bool) (*VulkanRenderPass, error) {
	key := passKey{contract: contract, clear: clear}
	if pass, ok := rt.passes[key]; ok {
		return pass, nil
	}
	pass, err := RenderPassCreate(rt.context, contract, clear, vk.ImageLayoutColorAttachmentOptimal)
	if err != nil {
		return nil, err
	}
	rt.passes[key] = pass
	return pass, nil
}

func (rt *VulkanRenderTargets) BeginPass(target RenderTarget, clear bool) error {
	core.Assert(rt.cb != nil, "BeginPass called with no bound frame")
	core.Assert(rt.activePass == nil, "BeginPass called while a pass is already active")

	pass, err := rt.ensurePass(target.Contract(), clear)
	if err != nil {
		return err
	}

	var framebuffer *VulkanFramebuffer
	switch t := target.(type) {
	case SwapchainWithDepth:
		framebuffer = rt.mainFramebuffers[rt.imageIndex]
		rt.prepareSwapchainColor(clear)
		rt.context.Swapchain.DepthAttachment.Layout = vk.ImageLayoutDepthStencilAttachmentOptimal
	case SwapchainNoDepth:
		framebuffer = rt.lightingFramebuffers[rt.imageIndex]
		rt.prepareSwapchainColor(clear)
	case DeferredGBuffer:
		framebuffer = rt.gbufferFramebuffer
		if !clear {
			for _, image := range rt.gbufferImages {
				image.TransitionLayout(rt.cb, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ImageLayoutColorAttachmentOptimal)
			}
		}
		for _, image := range rt.gbufferImages {
			image.Layout = pass.ColorFinalLayout
		}
		rt.context.Swapchain.DepthAttachment.Layout = vk.ImageLayoutDepthStencilAttachmentOptimal
	case Offscreen:
		core.Assert(rt.offscreenFramebuffer != nil, "offscreen target requested before CreateOffscreen")
		framebuffer = rt.offscreenFramebuffer
		if !clear {
			rt.offscreenImage.TransitionLayout(rt.cb, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ImageLayoutColorAttachmentOptimal)
		}
		rt.offscreenImage.Layout = pass.ColorFinalLayout
		pass.Begin(rt.cb, framebuffer.Handle, t.Width, t.Height, rt.ClearColor)
		rt.activePass = pass
		return nil
	default:
		return fmt.Errorf("unknown render target %q", target.targetName())
	}

	pass.Begin(rt.cb, framebuffer.Handle, rt.width, rt.height, rt.ClearColor)
	rt.activePass = pass
	return nil
}

// prepareSwapchainColor moves the current swapchain image into the layout a
// load pass expects, then advances the tracker to the pass's final layout.
// Clear passes accept any origin so they only advance the tracker.
func (rt *VulkanRenderTargets) prepareSwapchainColor(clear bool) {
	current := rt.swapchainLayouts[rt.imageIndex]
	if !clear && current != vk.ImageLayoutColorAttachmentOptimal {
		ImageBarrier(rt.cb, rt.context.Swapchain.Images[rt.imageIndex],
			vk.ImageAspectFlags(vk.ImageAspectColorBit), 1,
			current, vk.ImageLayoutColorAttachmentOptimal)
	}
	rt.swapchainLayouts[rt.imageIndex] = vk.ImageLayoutColorAttachmentOptimal
}

func (rt *VulkanRenderTargets) EndPass() {
	core.Assert(rt.activePass != nil, "EndPass called with no active pass")
	rt.activePass.End(rt.cb)
	rt.activePass = nil
}

func (rt *VulkanRenderTargets) TransitionToShaderRead(target RenderTarget) error {
	core.Assert(rt.activePass == nil, "cannot transition attachments while a pass is active")

	switch target.(type) {
	case DeferredGBuffer:
		for _, image := range rt.gbufferImages {
			image.TransitionLayout(rt.cb, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ImageLayoutShaderReadOnlyOptimal)
		}
		return nil
	case Offscreen:
		rt.offscreenImage.TransitionLayout(rt.cb, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ImageLayoutShaderReadOnlyOptimal)
		return nil
	default:
		return fmt.Errorf("target %q has no sampled attachments", target.targetName())
	}
}

// PreparePresent moves the frame's swapchain image to the present layout.
// Recorded as the last thing before the command buffer ends.
func (rt *VulkanRenderTargets) PreparePresent() {
	core.Assert(rt.activePass == nil, "cannot present with a pass still active")

	current := rt.swapchainLayouts[rt.imageIndex]
	if current != vk.ImageLayoutPresentSrc {
		ImageBarrier(rt.cb, rt.context.Swapchain.Images[rt.imageIndex],
			vk.ImageAspectFlags(vk.ImageAspectColorBit), 1,
			current, vk.ImageLayoutPresentSrc)
		rt.swapchainLayouts[rt.imageIndex] = vk.ImageLayoutPresentSrc
	}
}

// GBufferViews returns the views lighting shaders sample. Valid only after
// EndDeferredGeometry has moved the images to a readable layout.
func (rt *VulkanRenderTargets) GBufferViews() [GBufferCount]vk.ImageView {
	var views [GBufferCount]vk.ImageView
	for i, image := range rt.gbufferImages {
		views[i] = image.View
	}
	return views
}

/**
 * CreateOffscreen builds a render-to-texture surface with its own extent.
 * One offscreen surface exists at a time; creating a new one retires the
 * previous image through the caller's deferred-release path, so this
 * returns the old image for the caller to enqueue.
 */
func (rt *VulkanRenderTargets) CreateOffscreen(width, height uint32) (Offscreen, *VulkanImage, error) {
	old := rt.offscreenImage
	if rt.offscreenFramebuffer != nil {
		rt.offscreenFramebuffer.Destroy(rt.context)
		rt.offscreenFramebuffer = nil
	}
	rt.offscreenImage = nil

	target := Offscreen{
		ColorFormat: rt.context.Swapchain.ImageFormat.Format,
		DepthFormat: vk.FormatUndefined,
		Width:       width,
		Height:      height,
	}

	image, err := ImageCreate(
		rt.context,
		vk.ImageType2d,
		width,
		height,
		1,
		target.ColorFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectColorBit),
		core.DebugName("offscreen-color"))
	if err != nil {
		return Offscreen{}, old, err
	}
	rt.offscreenImage = image
	rt.offscreenTarget = target

	if err := rt.recreateOffscreenFramebuffer(); err != nil {
		return Offscreen{}, old, err
	}
	return target, old, nil
}

func (rt *VulkanRenderTargets) recreateOffscreenFramebuffer() error {
	pass, err := rt.ensurePass(rt.offscreenTarget.Contract(), true)
	if err != nil {
		return err
	}
	fb, err := FramebufferCreate(rt.context, pass, rt.offscreenTarget.Width, rt.offscreenTarget.Height,
		[]vk.ImageView{rt.offscreenImage.View})
	if err != nil {
		return err
	}
	rt.offscreenFramebuffer = fb
	return nil
}

func (rt *VulkanRenderTargets) OffscreenImage() *VulkanImage {
	return rt.offscreenImage
}

func (rt *VulkanRenderTargets) destroyOffscreen() {
	if rt.offscreenFramebuffer != nil {
		rt.offscreenFramebuffer.Destroy(rt.context)
		rt.offscreenFramebuffer = nil
	}
	if rt.offscreenImage != nil {
		rt.offscreenImage.ImageDestroy(rt.context)
		rt.offscreenImage = nil
	}
	if rt.offscreenDepth != nil {
		rt.offscreenDepth.ImageDestroy(rt.context)
		rt.offscreenDepth = nil
	}
}
