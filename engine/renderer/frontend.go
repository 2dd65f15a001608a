package renderer

import (
	"errors"
	"fmt"

	"github.com/spectraldrift/aurora/engine/config"
	"github.com/spectraldrift/aurora/engine/core"
	"github.com/spectraldrift/aurora/engine/platform"
	"github.com/spectraldrift/aurora/engine/renderer/vulkan"
)

// UniformBlock identifies one of the uniform ranges a draw can depend on.
type UniformBlock int

const (
	UNIFORM_BLOCK_GLOBAL UniformBlock = iota
	UNIFORM_BLOCK_MATERIAL
	UNIFORM_BLOCK_OBJECT

	uniformBlockCount
)

// Material is the draw-facing bundle: which shader, how to blend, which
// texture. The texture is referenced by id; residency is the backend's
// problem and a not-yet-resident texture samples the fallback.
type Material struct {
	Shader        string
	Blend         vulkan.BlendMode
	Texture       vulkan.TextureID
	StencilEnable bool
	StencilRef    uint32
}

/**
 * Renderer is the engine-facing draw table. It owns the per-frame adapter
 * state the backend deliberately does not track: whether SetupFrame ran,
 * which uniform blocks are bound, and the warn-once guard for draws issued
 * outside a frame.
 *
 * Calls arrive from the engine's own loop; contract violations (draw before
 * SetupFrame, bind after a dependent draw) are integration bugs and are
 * asserted rather than tolerated.
 */
type Renderer struct {
	backend *vulkan.VulkanRenderer

	frameActive bool
	frameCtx    vulkan.FrameCtx
	setupDone   bool

	uniformOffsets [uniformBlockCount]uint32
	uniformBound   [uniformBlockCount]bool

	warnedNoFrame bool
}

func New(p *platform.Platform, cfg *config.RendererConfig, loader vulkan.TextureLoader) *Renderer {
	return &Renderer{
		backend: vulkan.New(p, cfg, loader),
	}
}

func (r *Renderer) Initialize() error {
	return r.backend.Initialize()
}

func (r *Renderer) Shutdown() {
	r.backend.Shutdown()
}

func (r *Renderer) Backend() *vulkan.VulkanRenderer {
	return r.backend
}

/**
 * BeginFrame advances the frame ring. A skipped frame (swapchain out of
 * date, surface minimized) returns false with no error; the engine just
 * tries again next tick.
 */
func (r *Renderer) BeginFrame() (bool, error) {
	core.Assert(!r.frameActive, "BeginFrame called twice without EndFrame")

	ctx, err := r.backend.BeginFrame()
	if err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			return false, nil
		}
		return false, err
	}

	r.frameCtx = ctx
	r.frameActive = true
	r.setupDone = false
	r.warnedNoFrame = false
	for i := range r.uniformBound {
		r.uniformBound[i] = false
	}
	return true, nil
}

/**
 * SetupFrame configures the frame's viewport and scissor. Exactly once per
 * frame, immediately after BeginFrame, before any draw or clear. It does not
 * begin a render pass; the first draw does that lazily.
 */
func (r *Renderer) SetupFrame(width, height uint32) {
	core.Assert(r.frameActive, "SetupFrame called with no active frame")
	core.Assert(!r.setupDone, "SetupFrame called twice in one frame")

	r.backend.SetViewport(r.frameCtx, 0, 0, float32(width), float32(height))
	r.backend.SetScissor(r.frameCtx, 0, 0, width, height)
	r.setupDone = true
}

// RequestClear asks that the next pass begin clears its attachments. One
// shot; consumed by the first pass that starts after the request.
func (r *Renderer) RequestClear() {
	core.Assert(r.frameActive, "RequestClear called with no active frame")
	r.backend.Session().RequestClear()
}

// EnsureCleared opens the current target's pass so a pending clear request
// is consumed even when the frame records no draws. Present-only frames use
// this to avoid showing stale or undefined swapchain contents.
func (r *Renderer) EnsureCleared() error {
	core.Assert(r.frameActive, "EnsureCleared called with no active frame")
	core.Assert(r.setupDone, "EnsureCleared issued before SetupFrame")
	_, err := r.backend.BeginRendering(r.frameCtx)
	return err
}

// SetClip narrows the scissor for subsequent draws. ResetClip restores the
// full frame.
func (r *Renderer) SetClip(x, y int32, width, height uint32) {
	core.Assert(r.frameActive, "SetClip called with no active frame")
	r.backend.SetScissor(r.frameCtx, x, y, width, height)
}

func (r *Renderer) ResetClip(width, height uint32) {
	core.Assert(r.frameActive, "ResetClip called with no active frame")
	r.backend.SetScissor(r.frameCtx, 0, 0, width, height)
}

/**
 * BindUniformBuffer copies a uniform block into the frame's uniform ring and
 * remembers its dynamic offset. Must precede any draw in the same frame that
 * names the block.
 */
func (r *Renderer) BindUniformBuffer(block UniformBlock, data []byte) error {
	core.Assert(r.frameActive, "BindUniformBuffer called with no active frame")
	core.Assert(block >= 0 && block < uniformBlockCount, "unknown uniform block")

	alloc, offset, err := r.backend.AllocUniformBlock(r.frameCtx, uint64(len(data)))
	if err != nil {
		return fmt.Errorf("binding uniform block %d: %w", block, err)
	}
	copy(alloc.Bytes, data)
	r.uniformOffsets[block] = offset
	r.uniformBound[block] = true
	return nil
}

/**
 * RenderGeometry draws a mesh from persistent buffers. The pass is begun
 * lazily on the first draw; every draw sets its full dynamic state. Outside
 * a frame the call is dropped with one warning for the gap, never a crash.
 */
func (r *Renderer) RenderGeometry(material Material, block UniformBlock, layout vulkan.VertexLayout,
	vertexBuffer, indexBuffer vulkan.BufferID, indexCount uint32) error {
	if !r.guardDraw("RenderGeometry") {
		return nil
	}

	draw := vulkan.GeometryDraw{
		Shader:        material.Shader,
		Blend:         material.Blend,
		StencilEnable: material.StencilEnable,
		StencilRef:    material.StencilRef,
		Layout:        layout,
		VertexBuffer:  vertexBuffer,
		IndexBuffer:   indexBuffer,
		Indexed:       true,
		IndexCount:    indexCount,
		UniformOffset: r.uniformOffset(block),
		PushConstants: r.pushConstantsFor(material),
	}

	ctx, err := r.backend.BeginRendering(r.frameCtx)
	if err != nil {
		return err
	}
	if err := r.backend.DrawGeometry(ctx, draw); err != nil {
		return err
	}
	core.MetricsIncrementModelDraw()
	return nil
}

/**
 * RenderImmediate draws transient geometry (debug lines, UI quads) whose
 * vertices live only for this frame in the vertex ring. Ring exhaustion
 * drops the draw softly; the frame still completes.
 */
func (r *Renderer) RenderImmediate(material Material, block UniformBlock, layout vulkan.VertexLayout,
	vertices []byte, vertexCount uint32) error {
	if !r.guardDraw("RenderImmediate") {
		return nil
	}

	alloc, err := r.backend.AllocTransientVertices(r.frameCtx, uint64(len(vertices)))
	if err != nil {
		if errors.Is(err, core.ErrRingExhausted) {
			core.LogWarn("vertex ring exhausted, dropping immediate draw: %v", err)
			return nil
		}
		return err
	}
	copy(alloc.Bytes, vertices)

	draw := vulkan.GeometryDraw{
		Shader:        material.Shader,
		Blend:         material.Blend,
		StencilEnable: material.StencilEnable,
		StencilRef:    material.StencilRef,
		Layout:        layout,
		VertexAlloc:   alloc,
		VertexCount:   vertexCount,
		UniformOffset: r.uniformOffset(block),
		PushConstants: r.pushConstantsFor(material),
	}

	ctx, err := r.backend.BeginRendering(r.frameCtx)
	if err != nil {
		return err
	}
	if err := r.backend.DrawGeometry(ctx, draw); err != nil {
		return err
	}
	core.MetricsIncrementPrimDraw()
	return nil
}

// guardDraw enforces the draw-call preconditions that are recoverable: a
// draw with no active frame is dropped and reported once per gap.
func (r *Renderer) guardDraw(op string) bool {
	if !r.frameActive {
		if !r.warnedNoFrame {
			core.LogWarn("%s called with no active frame, dropping draws until the next BeginFrame.", op)
			r.warnedNoFrame = true
		}
		return false
	}
	core.Assert(r.setupDone, "draw issued before SetupFrame")
	return true
}

func (r *Renderer) uniformOffset(block UniformBlock) uint32 {
	core.Assertf(r.uniformBound[block], "uniform block %d used before BindUniformBuffer this frame", block)
	return r.uniformOffsets[block]
}

// pushConstantsFor packs the material's bindless slot for the fragment
// shader. A non-resident texture resolves to the fallback slot here, so the
// draw proceeds with a flat color instead of failing.
func (r *Renderer) pushConstantsFor(material Material) []byte {
	desc := r.backend.Textures().Describe(material.Texture)
	slot := desc.Slot
	return []byte{byte(slot), byte(slot >> 8), byte(slot >> 16), byte(slot >> 24)}
}

// Deferred flow. Each method forwards to the session, which owns the pass
// ordering invariants.

func (r *Renderer) BeginDeferredPass(clear bool) error {
	core.Assert(r.frameActive, "BeginDeferredPass called with no active frame")
	_, err := r.backend.Session().BeginDeferredPass(clear)
	return err
}

func (r *Renderer) EndDeferredGeometry() error {
	core.Assert(r.frameActive, "EndDeferredGeometry called with no active frame")
	return r.backend.Session().EndDeferredGeometry()
}

func (r *Renderer) RestoreMainTarget() {
	core.Assert(r.frameActive, "RestoreMainTarget called with no active frame")
	r.backend.Session().RestoreMainTarget()
}

// Buffer lifecycle. Creation is lazy: the id is usable immediately, the GPU
// object exists after the first update, deletion waits for GPU completion.

func (r *Renderer) CreateBuffer(name string, usage vulkan.BufferUsage) vulkan.BufferID {
	return r.backend.Buffers().Create(name, usage)
}

func (r *Renderer) UpdateBufferData(id vulkan.BufferID, offset uint64, data []byte) error {
	core.Assert(r.frameActive, "UpdateBufferData called with no active frame")
	ctx := r.backend.Uploads(r.frameCtx)
	return r.backend.Buffers().Update(ctx, id, offset, data)
}

func (r *Renderer) DeleteBuffer(id vulkan.BufferID) {
	r.backend.Buffers().Delete(id)
}

// Texture access. AcquireTexture hands out the id; the first Describe from a
// draw queues the upload.

func (r *Renderer) AcquireTexture(name string) vulkan.TextureID {
	return r.backend.Textures().Acquire(name)
}

func (r *Renderer) ReleaseTexture(id vulkan.TextureID) {
	r.backend.Textures().Retire(id)
}

// Capability and property queries, so the engine can align its own writes.

type Capability string

const (
	CapabilityBindlessTextures Capability = "bindless-textures"
	CapabilityDeferredShading  Capability = "deferred-shading"
	CapabilityVertexPulling    Capability = "vertex-pulling"
)

func (r *Renderer) IsCapable(cap Capability) bool {
	switch cap {
	case CapabilityBindlessTextures, CapabilityDeferredShading, CapabilityVertexPulling:
		return true
	default:
		return false
	}
}

type Property string

const (
	PropertyUniformOffsetAlignment Property = "uniform-offset-alignment"
	PropertyMaxSamplerDescriptors  Property = "max-sampler-descriptors"
)

func (r *Renderer) GetProperty(prop Property) (uint64, error) {
	switch prop {
	case PropertyUniformOffsetAlignment:
		return r.backend.Device().MinUniformBufferOffsetAlignment(), nil
	case PropertyMaxSamplerDescriptors:
		return uint64(r.backend.Device().MaxSamplerDescriptorCount()), nil
	default:
		return 0, fmt.Errorf("unknown property %q", prop)
	}
}

/**
 * EndFrame submits and presents. The adapter's frame state is cleared even
 * on error so the next BeginFrame starts from a known state.
 */
func (r *Renderer) EndFrame() error {
	core.Assert(r.frameActive, "EndFrame called with no active frame")

	err := r.backend.EndFrame(r.frameCtx)
	r.frameActive = false
	r.frameCtx = vulkan.FrameCtx{}
	core.MetricsFrameReset()
	return err
}
