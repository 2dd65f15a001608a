package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func countingCompiler(compiles *int) PipelineCompileFn {
	return func(key PipelineKey, modules ShaderModules, layout VertexLayout) (*VulkanPipeline, error) {
		*compiles++
		return &VulkanPipeline{}, nil
	}
}

func testLayout() VertexLayout {
	return VertexLayout{
		Stride: 32,
		Attributes: []VertexAttribute{
			{Location: 0, Offset: 0, Format: vk.FormatR32g32b32Sfloat},
			{Location: 1, Offset: 12, Format: vk.FormatR32g32Sfloat},
		},
	}
}

func TestPipelineCacheIdempotence(t *testing.T) {
	compiles := 0
	cache := NewPipelineCache(countingCompiler(&compiles))
	modules := ShaderModules{Name: "material", ContentHash: 42}
	main, _, _ := testTargets()

	first, err := cache.Get(modules, main.Contract(), BLEND_MODE_ALPHA, false, testLayout())
	assert.NoError(t, err)
	second, err := cache.Get(modules, main.Contract(), BLEND_MODE_ALPHA, false, testLayout())
	assert.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, compiles)
	assert.Equal(t, 1, cache.Size())
}

func TestPipelineCacheKeyComponents(t *testing.T) {
	compiles := 0
	cache := NewPipelineCache(countingCompiler(&compiles))
	modules := ShaderModules{Name: "material", ContentHash: 42}
	main, lighting, gbuffer := testTargets()

	for _, contract := range []TargetContract{main.Contract(), lighting.Contract(), gbuffer.Contract()} {
		_, err := cache.Get(modules, contract, BLEND_MODE_NONE, false, testLayout())
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, compiles)

	// Blend mode and stencil enable are key components.
	_, _ = cache.Get(modules, main.Contract(), BLEND_MODE_ALPHA, false, testLayout())
	_, _ = cache.Get(modules, main.Contract(), BLEND_MODE_NONE, true, testLayout())
	assert.Equal(t, 5, compiles)

	// A reloaded shader with different content is a different pipeline.
	reloaded := ShaderModules{Name: "material", ContentHash: 43}
	_, _ = cache.Get(reloaded, main.Contract(), BLEND_MODE_NONE, false, testLayout())
	assert.Equal(t, 6, compiles)
}

func TestVertexPullingCollapsesLayouts(t *testing.T) {
	compiles := 0
	cache := NewPipelineCache(countingCompiler(&compiles))
	modules := ShaderModules{Name: "pulling", Kind: SHADER_KIND_VERTEX_PULLING, ContentHash: 7}
	main, _, _ := testTargets()

	first, err := cache.Get(modules, main.Contract(), BLEND_MODE_NONE, false, testLayout())
	assert.NoError(t, err)

	other := VertexLayout{Stride: 12, Attributes: []VertexAttribute{{Location: 0, Format: vk.FormatR32g32b32Sfloat}}}
	second, err := cache.Get(modules, main.Contract(), BLEND_MODE_NONE, false, other)
	assert.NoError(t, err)

	// The layout does not reach a vertex-pulling pipeline's key.
	assert.Same(t, first, second)
	assert.Equal(t, 1, compiles)

	// An attribute shader with the same layouts compiles two entries.
	attrModules := ShaderModules{Name: "attrs", Kind: SHADER_KIND_VERTEX_ATTRIBUTES, ContentHash: 7}
	_, _ = cache.Get(attrModules, main.Contract(), BLEND_MODE_NONE, false, testLayout())
	_, _ = cache.Get(attrModules, main.Contract(), BLEND_MODE_NONE, false, other)
	assert.Equal(t, 3, compiles)
}

func TestVertexLayoutHashIsStable(t *testing.T) {
	a := testLayout()
	b := testLayout()
	assert.Equal(t, a.Hash(), b.Hash())

	b.Attributes[1].Offset = 16
	assert.NotEqual(t, a.Hash(), b.Hash())
}
