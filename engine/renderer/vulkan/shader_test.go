package vulkan

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpirvWordsLittleEndian(t *testing.T) {
	// SPIR-V magic number in little-endian byte order.
	data := []byte{0x03, 0x02, 0x23, 0x07}
	words, err := spirvWords(data)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, uint32(0x07230203), words[0])
}

func TestSpirvWordsRejectsBadLengths(t *testing.T) {
	_, err := spirvWords(nil)
	assert.Error(t, err)
	_, err = spirvWords([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestShaderNameFromPath(t *testing.T) {
	name, ok := shaderNameFromPath("shaders/basic.vert.spv")
	require.True(t, ok)
	assert.Equal(t, "basic", name)

	name, ok = shaderNameFromPath("/abs/path/deferred_lighting.frag.spv")
	require.True(t, ok)
	assert.Equal(t, "deferred_lighting", name)

	_, ok = shaderNameFromPath("shaders/basic.vert")
	assert.False(t, ok, "uncompiled sources are not reload candidates")
	_, ok = shaderNameFromPath("shaders/notes.txt")
	assert.False(t, ok)
}

func TestHashShaderContentCoversAllBlobs(t *testing.T) {
	vert := make([]byte, 8)
	frag := make([]byte, 8)
	base := HashShaderContent(vert, frag)

	binary.LittleEndian.PutUint32(frag[4:], 1)
	assert.NotEqual(t, base, HashShaderContent(vert, frag),
		"a fragment-only edit must change the pair's identity")
	assert.Equal(t, base, HashShaderContent(make([]byte, 8), make([]byte, 8)))
}
