package vulkan

/**
 * @brief Bindless slots reserved for builtin textures. Slot 0 is the
 * fallback; a shader reading any slot index always gets a valid sample.
 */
const (
	SlotFallback uint32 = 0
	SlotBase     uint32 = 1
	SlotNormal   uint32 = 2
	SlotSpecular uint32 = 3

	BuiltinSlotCount uint32 = 4
)

// SlotAbsent marks a texture that holds no bindless slot.
const SlotAbsent uint32 = ^uint32(0)

// Buffer-to-image copy offsets must be 4-byte aligned.
const copyOffsetAlignment uint64 = 4

/**
 * @brief Max number of descriptor-visible textures.
 * @todo TODO: make configurable per device limits
 */
const VULKAN_MAX_TEXTURE_COUNT uint32 = 1024

// Largest uniform block a draw may bind from the uniform ring. The global
// descriptor covers this range; the dynamic offset selects the block.
const maxUniformBlockSize uint64 = 1024
