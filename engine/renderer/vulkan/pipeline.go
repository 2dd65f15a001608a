package vulkan

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

type ShaderKind int

const (
	// SHADER_KIND_VERTEX_ATTRIBUTES consumes a bound vertex buffer through
	// a declared layout.
	SHADER_KIND_VERTEX_ATTRIBUTES ShaderKind = iota
	// SHADER_KIND_VERTEX_PULLING fetches vertex data from storage buffers
	// by index and ignores any bound layout.
	SHADER_KIND_VERTEX_PULLING
)

// ShaderModules identifies one compiled vertex/fragment pair. ContentHash
// covers the SPIR-V bytes so a hot-reloaded shader gets fresh pipelines.
type ShaderModules struct {
	Name        string
	Kind        ShaderKind
	Vertex      vk.ShaderModule
	Fragment    vk.ShaderModule
	ContentHash uint64
}

type VertexAttribute struct {
	Location uint32
	Offset   uint32
	Format   vk.Format
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// Hash folds the layout into a single comparable value for pipeline keys.
func (vl VertexLayout) Hash() uint64 {
	h := fnv.New64a()
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], vl.Stride)
	h.Write(scratch[:])
	for _, attr := range vl.Attributes {
		binary.LittleEndian.PutUint32(scratch[:], attr.Location)
		h.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:], attr.Offset)
		h.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:], uint32(attr.Format))
		h.Write(scratch[:])
	}
	return h.Sum64()
}

// HashShaderContent hashes SPIR-V words for ShaderModules.ContentHash.
func HashShaderContent(spirv ...[]byte) uint64 {
	h := fnv.New64a()
	for _, blob := range spirv {
		h.Write(blob)
	}
	return h.Sum64()
}

type BlendMode int

const (
	BLEND_MODE_NONE BlendMode = iota
	BLEND_MODE_ALPHA
	BLEND_MODE_ADDITIVE
)

/**
 * PipelineKey is the full identity of a cached pipeline: shader, target
 * contract, blend and stencil configuration, and the vertex layout hash.
 * Vertex-pulling shaders ignore bound layouts, so their keys carry a zero
 * layout hash and all layouts collapse onto one entry.
 */
type PipelineKey struct {
	ShaderName       string
	ShaderHash       uint64
	Contract         TargetContract
	Blend            BlendMode
	StencilEnable    bool
	VertexLayoutHash uint64
}

type VulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
}

func (pipeline *VulkanPipeline) Bind(cb *VulkanCommandBuffer) {
	vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, pipeline.Handle)
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	if pipeline.Handle != nil {
		vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
		pipeline.Handle = nil
	}
	if pipeline.PipelineLayout != nil {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
		pipeline.PipelineLayout = nil
	}
}

// PipelineCompileFn builds the pipeline for a key on a cache miss.
type PipelineCompileFn func(key PipelineKey, modules ShaderModules, layout VertexLayout) (*VulkanPipeline, error)

/**
 * PipelineCache maps keys to compiled pipelines for the process lifetime.
 * Entries are immutable once inserted. The lock allows a future
 * multi-threaded recorder; today a single thread exercises it.
 */
type PipelineCache struct {
	mu      sync.RWMutex
	entries map[PipelineKey]*VulkanPipeline
	compile PipelineCompileFn
}

func NewPipelineCache(compile PipelineCompileFn) *PipelineCache {
	core.Assert(compile != nil, "pipeline cache requires a compile function")
	return &PipelineCache{
		entries: make(map[PipelineKey]*VulkanPipeline),
		compile: compile,
	}
}

/**
 * Get returns the pipeline for the shader/target/blend combination,
 * compiling it on first use. Equal keys always return the same pipeline
 * object.
 */
func (pc *PipelineCache) Get(modules ShaderModules, contract TargetContract, blend BlendMode, stencilEnable bool, layout VertexLayout) (*VulkanPipeline, error) {
	key := PipelineKey{
		ShaderName:       modules.Name,
		ShaderHash:       modules.ContentHash,
		Contract:         contract,
		Blend:            blend,
		StencilEnable:    stencilEnable,
		VertexLayoutHash: layout.Hash(),
	}
	if modules.Kind == SHADER_KIND_VERTEX_PULLING {
		key.VertexLayoutHash = 0
	}

	pc.mu.RLock()
	pipeline, ok := pc.entries[key]
	pc.mu.RUnlock()
	if ok {
		return pipeline, nil
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pipeline, ok := pc.entries[key]; ok {
		return pipeline, nil
	}

	pipeline, err := pc.compile(key, modules, layout)
	if err != nil {
		return nil, fmt.Errorf("compiling pipeline for shader '%s': %w", modules.Name, err)
	}
	pc.entries[key] = pipeline
	core.LogDebug("Pipeline compiled for shader '%s' (%d cached).", modules.Name, len(pc.entries))
	return pipeline, nil
}

func (pc *PipelineCache) Size() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.entries)
}

func (pc *PipelineCache) Destroy(context *VulkanContext) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for key, pipeline := range pc.entries {
		pipeline.Destroy(context)
		delete(pc.entries, key)
	}
}

/**
 * NewVulkanPipelineCompiler returns the production compile function. Dynamic
 * state is maximized so the number of distinct pipelines stays proportional
 * to shader x contract x blend mode rather than per-draw material state.
 */
func NewVulkanPipelineCompiler(context *VulkanContext, setLayouts []vk.DescriptorSetLayout, passFor func(TargetContract) (*VulkanRenderPass, error)) PipelineCompileFn {
	return func(key PipelineKey, modules ShaderModules, layout VertexLayout) (*VulkanPipeline, error) {
		renderPass, err := passFor(key.Contract)
		if err != nil {
			return nil, err
		}
		return buildGraphicsPipeline(context, key, modules, layout, setLayouts, renderPass)
	}
}

func buildGraphicsPipeline(context *VulkanContext, key PipelineKey, modules ShaderModules, layout VertexLayout, setLayouts []vk.DescriptorSetLayout, renderPass *VulkanRenderPass) (*VulkanPipeline, error) {
	out := &VulkanPipeline{}

	// Viewport and scissor are dynamic; the counts still have to be declared.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: key.Contract.Samples,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if key.Contract.DepthFormat != vk.FormatUndefined {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if key.StencilEnable {
		depthStencil.StencilTestEnable = vk.True
	}

	// One blend state per color attachment, all identical.
	blendAttachment := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	switch key.Blend {
	case BLEND_MODE_ALPHA:
		blendAttachment.BlendEnable = vk.True
		blendAttachment.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blendAttachment.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blendAttachment.ColorBlendOp = vk.BlendOpAdd
		blendAttachment.SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
		blendAttachment.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blendAttachment.AlphaBlendOp = vk.BlendOpAdd
	case BLEND_MODE_ADDITIVE:
		blendAttachment.BlendEnable = vk.True
		blendAttachment.SrcColorBlendFactor = vk.BlendFactorOne
		blendAttachment.DstColorBlendFactor = vk.BlendFactorOne
		blendAttachment.ColorBlendOp = vk.BlendOpAdd
		blendAttachment.SrcAlphaBlendFactor = vk.BlendFactorOne
		blendAttachment.DstAlphaBlendFactor = vk.BlendFactorOne
		blendAttachment.AlphaBlendOp = vk.BlendOpAdd
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, key.Contract.ColorCount)
	for i := range blendAttachments {
		blendAttachments[i] = blendAttachment
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		AttachmentCount: key.Contract.ColorCount,
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateLineWidth,
		vk.DynamicStateDepthBias,
		vk.DynamicStateBlendConstants,
		vk.DynamicStateStencilReference,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertex input: empty for vertex-pulling shaders, which read their
	// vertices from storage buffers.
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if modules.Kind == SHADER_KIND_VERTEX_ATTRIBUTES {
		binding := vk.VertexInputBindingDescription{
			Binding:   0,
			Stride:    layout.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
		attributes := make([]vk.VertexInputAttributeDescription, len(layout.Attributes))
		for i, attr := range layout.Attributes {
			attributes[i] = vk.VertexInputAttributeDescription{
				Location: attr.Location,
				Binding:  0,
				Format:   attr.Format,
				Offset:   attr.Offset,
			}
		}
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{binding}
		vertexInput.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInput.PVertexAttributeDescriptions = attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pushRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		Offset:     0,
		Size:       128,
	}
	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushRange},
	}

	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &layoutCreateInfo, context.Allocator, &pipelineLayout); !VulkanResultIsSuccess(res) {
		return nil, vkError("vkCreatePipelineLayout failed", res)
	}
	out.PipelineLayout = pipelineLayout

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: modules.Vertex,
			PName:  VulkanSafeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: modules.Fragment,
			PName:  VulkanSafeString("main"),
		},
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              out.PipelineLayout,
		RenderPass:          renderPass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(
		context.Device.LogicalDevice,
		vk.NullPipelineCache,
		1,
		[]vk.GraphicsPipelineCreateInfo{createInfo},
		context.Allocator,
		pipelines); !VulkanResultIsSuccess(res) {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, out.PipelineLayout, context.Allocator)
		return nil, vkError("vkCreateGraphicsPipelines failed", res)
	}
	out.Handle = pipelines[0]

	return out, nil
}
