package vulkan

/**
 * Capability tokens. Each one is constructible only by the state transition
 * that makes it true, so holding one is proof of the state: a FrameCtx means
 * a frame is recording, a RenderCtx means a pass is active, an UploadCtx
 * means no pass is active and transfers are legal. Functions that need a
 * state take the token instead of checking a flag, which turns "draw with no
 * active frame" from a runtime bug into an unwritable call.
 */
type FrameCtx struct {
	frame *VulkanFrame
}

func newFrameCtx(frame *VulkanFrame) FrameCtx {
	return FrameCtx{frame: frame}
}

func (c FrameCtx) Frame() *VulkanFrame {
	return c.frame
}

func (c FrameCtx) CommandBuffer() *VulkanCommandBuffer {
	return c.frame.CommandBuffer
}

// RenderCtx carries the active target's contract for pipeline selection.
type RenderCtx struct {
	FrameCtx
	contract TargetContract
}

func newRenderCtx(frame FrameCtx, contract TargetContract) RenderCtx {
	return RenderCtx{FrameCtx: frame, contract: contract}
}

func (c RenderCtx) Contract() TargetContract {
	return c.contract
}

// UploadCtx gates the upload phase: copy commands may only be recorded while
// no render pass is open.
type UploadCtx struct {
	frame *VulkanFrame
}

func newUploadCtx(frame *VulkanFrame) UploadCtx {
	return UploadCtx{frame: frame}
}

func (c UploadCtx) Frame() *VulkanFrame {
	return c.frame
}

func (c UploadCtx) CommandBuffer() *VulkanCommandBuffer {
	return c.frame.CommandBuffer
}
