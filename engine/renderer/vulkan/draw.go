package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

/**
 * GeometryDraw is one draw call's worth of state. Every field is explicit;
 * no dynamic state is inherited from a previous draw. Vertex and index data
 * come either from a persistent buffer (by id) or from the frame's transient
 * vertex ring (by allocation), never both.
 */
type GeometryDraw struct {
	Shader        string
	Blend         BlendMode
	StencilEnable bool
	StencilRef    uint32
	Layout        VertexLayout

	VertexBuffer BufferID
	VertexAlloc  RingAllocation

	IndexBuffer BufferID
	IndexAlloc  RingAllocation
	Indexed     bool

	VertexCount uint32
	IndexCount  uint32

	// Dynamic offset into the frame's uniform ring for the bound block.
	UniformOffset uint32

	PushConstants []byte
}

// SetViewport records the viewport applied to every subsequent draw of the
// frame. Y is flipped so world space stays right-handed with the swapchain.
func (vr *VulkanRenderer) SetViewport(ctx FrameCtx, x, y, width, height float32) {
	vr.viewport = vk.Viewport{
		X:        x,
		Y:        y + height,
		Width:    width,
		Height:   -height,
		MinDepth: 0,
		MaxDepth: 1,
	}
}

func (vr *VulkanRenderer) SetScissor(ctx FrameCtx, x, y int32, width, height uint32) {
	vr.scissor = vk.Rect2D{
		Offset: vk.Offset2D{X: x, Y: y},
		Extent: vk.Extent2D{Width: width, Height: height},
	}
}

/**
 * DrawGeometry records one draw. The render token proves a pass is active;
 * the pipeline is resolved through the cache against the token's contract, so
 * the same material draws correctly into the swapchain, the G-buffer or an
 * offscreen surface.
 */
func (vr *VulkanRenderer) DrawGeometry(ctx RenderCtx, draw GeometryDraw) error {
	frame := ctx.Frame()
	cb := frame.CommandBuffer

	modules, ok := vr.shaders.Get(draw.Shader)
	if !ok {
		return fmt.Errorf("draw references unknown shader '%s'", draw.Shader)
	}

	pipeline, err := vr.pipelines.Get(modules, ctx.Contract(), draw.Blend, draw.StencilEnable, draw.Layout)
	if err != nil {
		return err
	}
	pipeline.Bind(cb)

	// Full dynamic state on every call. Nothing carries over between draws.
	vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{vr.viewport})
	vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{vr.scissor})
	vk.CmdSetLineWidth(cb.Handle, 1.0)
	vk.CmdSetDepthBias(cb.Handle, 0, 0, 0)
	vk.CmdSetBlendConstants(cb.Handle, &[4]float32{1, 1, 1, 1})
	vk.CmdSetStencilReference(cb.Handle, vk.StencilFaceFlags(vk.StencilFrontAndBack), draw.StencilRef)

	vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointGraphics, pipeline.PipelineLayout,
		0, 2,
		[]vk.DescriptorSet{vr.descriptors.GlobalSet(frame.Index), frame.BindlessSet},
		1, []uint32{draw.UniformOffset})

	if len(draw.PushConstants) > 0 {
		core.Assert(len(draw.PushConstants) <= 128, "push constant payload exceeds the declared range")
		vk.CmdPushConstants(cb.Handle, pipeline.PipelineLayout,
			vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
			0, uint32(len(draw.PushConstants)), unsafe.Pointer(&draw.PushConstants[0]))
	}

	if modules.Kind == SHADER_KIND_VERTEX_ATTRIBUTES {
		vertexBuffer, vertexOffset, err := vr.resolveVertexSource(frame, draw)
		if err != nil {
			return err
		}
		vk.CmdBindVertexBuffers(cb.Handle, 0, 1, []vk.Buffer{vertexBuffer}, []vk.DeviceSize{vertexOffset})
	}

	if draw.Indexed {
		indexBuffer, indexOffset, err := vr.resolveIndexSource(frame, draw)
		if err != nil {
			return err
		}
		vk.CmdBindIndexBuffer(cb.Handle, indexBuffer, indexOffset, vk.IndexTypeUint32)
		vk.CmdDrawIndexed(cb.Handle, draw.IndexCount, 1, 0, 0, 0)
	} else {
		vk.CmdDraw(cb.Handle, draw.VertexCount, 1, 0, 0)
	}

	return nil
}

func (vr *VulkanRenderer) resolveVertexSource(frame *VulkanFrame, draw GeometryDraw) (vk.Buffer, vk.DeviceSize, error) {
	if draw.VertexBuffer != 0 {
		handle, err := vr.buffers.Handle(draw.VertexBuffer)
		if err != nil {
			return nil, 0, err
		}
		return handle, 0, nil
	}
	core.Assert(draw.VertexAlloc.Size > 0, "draw supplies neither a vertex buffer nor transient vertices")
	return frame.VertexRing.Handle(), vk.DeviceSize(draw.VertexAlloc.Offset), nil
}

func (vr *VulkanRenderer) resolveIndexSource(frame *VulkanFrame, draw GeometryDraw) (vk.Buffer, vk.DeviceSize, error) {
	if draw.IndexBuffer != 0 {
		handle, err := vr.buffers.Handle(draw.IndexBuffer)
		if err != nil {
			return nil, 0, err
		}
		return handle, 0, nil
	}
	core.Assert(draw.IndexAlloc.Size > 0, "indexed draw supplies neither an index buffer nor transient indices")
	return frame.VertexRing.Handle(), vk.DeviceSize(draw.IndexAlloc.Offset), nil
}

// AllocTransientVertices reserves frame-lifetime vertex ring space. The
// returned allocation's Bytes window is written by the caller before the draw
// is recorded.
func (vr *VulkanRenderer) AllocTransientVertices(ctx FrameCtx, size uint64) (RingAllocation, error) {
	return ctx.Frame().VertexRing.Allocate(size, 4)
}

/**
 * AllocUniformBlock reserves an aligned uniform ring block and returns both
 * the CPU window and the dynamic offset draws bind with. Alignment follows
 * the device's minimum uniform offset alignment.
 */
func (vr *VulkanRenderer) AllocUniformBlock(ctx FrameCtx, size uint64) (RingAllocation, uint32, error) {
	core.Assert(size <= maxUniformBlockSize, "uniform block exceeds the descriptor's declared range")
	alloc, err := ctx.Frame().UniformRing.Allocate(size, vr.context.Device.MinUniformBufferOffsetAlignment())
	if err != nil {
		return RingAllocation{}, 0, err
	}
	return alloc, uint32(alloc.Offset), nil
}
