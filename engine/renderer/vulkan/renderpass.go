package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

/**
 * VulkanRenderPass wraps a pass compiled for one target contract and one
 * load behavior. Clear passes declare their attachments' initial layout as
 * undefined, so a clear can never be paired with a preserve transition;
 * the contradiction is unrepresentable rather than checked.
 */
type VulkanRenderPass struct {
	Handle      vk.RenderPass
	Contract    TargetContract
	ClearOnLoad bool
	// Layout the color attachments are left in when the pass ends.
	ColorFinalLayout vk.ImageLayout
}

func RenderPassCreate(context *VulkanContext, contract TargetContract, clearOnLoad bool, colorFinalLayout vk.ImageLayout) (*VulkanRenderPass, error) {
	core.Assert(contract.ColorCount > 0 && contract.ColorCount <= maxColorAttachments, "render pass contract has no color attachments")

	loadOp := vk.AttachmentLoadOpLoad
	initialLayout := vk.ImageLayoutColorAttachmentOptimal
	if clearOnLoad {
		loadOp = vk.AttachmentLoadOpClear
		// Clearing discards prior contents, so the pass accepts any origin.
		initialLayout = vk.ImageLayoutUndefined
	}

	hasDepth := contract.DepthFormat != vk.FormatUndefined
	attachmentCount := contract.ColorCount
	if hasDepth {
		attachmentCount++
	}

	attachments := make([]vk.AttachmentDescription, 0, attachmentCount)
	colorRefs := make([]vk.AttachmentReference, 0, contract.ColorCount)
	for i := uint32(0); i < contract.ColorCount; i++ {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         contract.ColorFormats[i],
			Samples:        contract.Samples,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initialLayout,
			FinalLayout:    colorFinalLayout,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: i,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: contract.ColorCount,
		PColorAttachments:    colorRefs,
	}

	if hasDepth {
		depthInitial := vk.ImageLayoutDepthStencilAttachmentOptimal
		depthLoadOp := vk.AttachmentLoadOpLoad
		if clearOnLoad {
			depthInitial = vk.ImageLayoutUndefined
			depthLoadOp = vk.AttachmentLoadOpClear
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         contract.DepthFormat,
			Samples:        contract.Samples,
			LoadOp:         depthLoadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  depthInitial,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		depthRef := vk.AttachmentReference{
			Attachment: contract.ColorCount,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		subpass.PDepthStencilAttachment = &depthRef
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: attachmentCount,
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		err := vkError("failed to create render pass", res)
		core.LogError(err.Error())
		return nil, err
	}

	return &VulkanRenderPass{
		Handle:           handle,
		Contract:         contract,
		ClearOnLoad:      clearOnLoad,
		ColorFinalLayout: colorFinalLayout,
	}, nil
}

func (rp *VulkanRenderPass) Destroy(context *VulkanContext) {
	if rp.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, rp.Handle, context.Allocator)
		rp.Handle = nil
	}
}

// Begin records the pass begin with per-attachment clear values. Clear values
// are ignored by the driver for load passes but must still be sized to the
// attachment count.
func (rp *VulkanRenderPass) Begin(cb *VulkanCommandBuffer, framebuffer vk.Framebuffer, width, height uint32, clearColor [4]float32) {
	clearCount := rp.Contract.ColorCount
	if rp.Contract.DepthFormat != vk.FormatUndefined {
		clearCount++
	}
	clearValues := make([]vk.ClearValue, clearCount)
	for i := uint32(0); i < rp.Contract.ColorCount; i++ {
		clearValues[i].SetColor(clearColor[:])
	}
	if rp.Contract.DepthFormat != vk.FormatUndefined {
		clearValues[clearCount-1].SetDepthStencil(1.0, 0)
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: clearCount,
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (rp *VulkanRenderPass) End(cb *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(cb.Handle)
	cb.State = COMMAND_BUFFER_STATE_RECORDING
}
