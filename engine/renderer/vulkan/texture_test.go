package vulkan

import (
	"fmt"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

type fakeUploader struct {
	uploads  int
	releases int
	failNext bool
}

func (f *fakeUploader) Record(cb *VulkanCommandBuffer, stagingBuffer vk.Buffer, alloc RingAllocation, px TexturePixels, name string) (*VulkanImage, TextureDescriptor, error) {
	if f.failNext {
		f.failNext = false
		return nil, TextureDescriptor{}, fmt.Errorf("forced upload failure")
	}
	f.uploads++
	image := &VulkanImage{Width: px.Width, Height: px.Height, Format: px.Format, Name: name}
	return image, TextureDescriptor{Slot: SlotAbsent}, nil
}

func (f *fakeUploader) Release(image *VulkanImage) {
	f.releases++
}

type textureFixture struct {
	manager  *TextureManager
	uploader *fakeUploader
	slots    *SlotTable
	serials  *SerialTracker
	deferred *DeferredReleaseQueue
	frame    *VulkanFrame
}

func solidPixels(side uint32) TexturePixels {
	return TexturePixels{
		Data:   make([]byte, side*side*4),
		Width:  side,
		Height: side,
		Format: vk.FormatR8g8b8a8Unorm,
	}
}

func newTextureFixture(t *testing.T, stagingSize uint64, slotCapacity uint32, loader TextureLoader) *textureFixture {
	t.Helper()
	fx := &textureFixture{
		uploader: &fakeUploader{},
		slots:    NewSlotTable(slotCapacity),
		serials:  NewSerialTracker(),
		deferred: NewDeferredReleaseQueue(),
	}
	fx.manager = NewTextureManager(fx.uploader, fx.slots, fx.serials, fx.deferred, loader, stagingSize)
	fx.frame = &VulkanFrame{
		UniformRing: NewRingBuffer("uniform", 1024),
		VertexRing:  NewRingBuffer("vertex", 1024),
		StagingRing: NewRingBuffer("staging", stagingSize),
	}
	return fx
}

func (fx *textureFixture) flush(t *testing.T) {
	t.Helper()
	assert.NoError(t, fx.manager.FlushPendingUploads(newUploadCtx(fx.frame)))
}

func TestDescribeIsTotal(t *testing.T) {
	fx := newTextureFixture(t, 1<<20, 64, nil)

	// Never-seen, zero and wildly out-of-range ids all resolve to the same
	// fallback without blocking or erroring.
	fallback := fx.manager.FallbackDescriptor()
	assert.Equal(t, fallback, fx.manager.Describe(0))
	assert.Equal(t, fallback, fx.manager.Describe(TextureID(99999)))
	assert.Equal(t, fallback, fx.manager.Describe(fx.manager.Acquire("floor")))
}

func TestDescribeQueuesOnceAndUploadsOnFlush(t *testing.T) {
	loaded := 0
	loader := func(id TextureID) (TexturePixels, error) {
		loaded++
		return solidPixels(4), nil
	}
	fx := newTextureFixture(t, 1<<20, 64, loader)

	id := TextureID(100)
	first := fx.manager.Describe(id)
	second := fx.manager.Describe(id)
	assert.Equal(t, first, second)
	assert.False(t, fx.manager.Resident(id))

	fx.flush(t)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, fx.uploader.uploads)
	assert.True(t, fx.manager.Resident(id))

	resident := fx.manager.Describe(id)
	assert.NotEqual(t, SlotAbsent, resident.Slot)
	assert.NotEqual(t, fx.manager.FallbackDescriptor().Slot, resident.Slot)
}

func TestStagingExhaustionLeavesQueued(t *testing.T) {
	fx := newTextureFixture(t, 1<<20, 64, nil)

	// Two textures whose payloads cannot both fit the per-frame staging
	// ring at once.
	big := solidPixels(8) // 256 bytes
	fx.frame.StagingRing = NewRingBuffer("staging", 300)
	a := TextureID(100)
	b := TextureID(101)
	fx.manager.Create(a, "a", big)
	fx.manager.Create(b, "b", big)

	fx.flush(t)
	assert.True(t, fx.manager.Resident(a))
	// b stayed queued, no failure, no crash.
	assert.False(t, fx.manager.Resident(b))
	assert.Equal(t, fx.manager.FallbackDescriptor(), fx.manager.Describe(b))

	// Next frame the ring resets and the retry succeeds.
	fx.frame.StagingRing.Reset()
	fx.flush(t)
	assert.True(t, fx.manager.Resident(b))
}

func TestOversizedTextureFailsPermanently(t *testing.T) {
	fx := newTextureFixture(t, 128, 64, nil)

	id := TextureID(100)
	fx.manager.Create(id, "huge", solidPixels(64))
	fx.flush(t)

	assert.False(t, fx.manager.Resident(id))
	assert.Equal(t, fx.manager.FallbackDescriptor(), fx.manager.Describe(id))

	// A later flush does not retry a failed texture.
	fx.flush(t)
	assert.Equal(t, 0, fx.uploader.uploads)
}

func TestUploadErrorFails(t *testing.T) {
	fx := newTextureFixture(t, 1<<20, 64, nil)
	fx.uploader.failNext = true

	id := TextureID(100)
	fx.manager.Create(id, "bad", solidPixels(4))
	fx.flush(t)

	assert.False(t, fx.manager.Resident(id))
	assert.Equal(t, fx.manager.FallbackDescriptor(), fx.manager.Describe(id))
}

func TestRetirementWaitsForSerial(t *testing.T) {
	fx := newTextureFixture(t, 1<<20, 64, nil)

	id := TextureID(100)
	fx.manager.Create(id, "tex", solidPixels(4))
	fx.flush(t)
	assert.True(t, fx.manager.Resident(id))

	// The texture was described during a frame that is about to submit.
	fx.manager.Describe(id)
	retireSerial := fx.serials.PendingSerial()
	fx.manager.Retire(id)
	assert.Equal(t, fx.manager.FallbackDescriptor(), fx.manager.Describe(id))
	assert.Equal(t, 0, fx.uploader.releases)

	// Not destroyed while the observed serial is behind the retire serial.
	submitted := fx.serials.Next()
	assert.Equal(t, retireSerial, submitted)
	fx.deferred.Collect(fx.serials.Completed())
	assert.Equal(t, 0, fx.uploader.releases)

	fx.serials.Observe(submitted)
	fx.deferred.Collect(fx.serials.Completed())
	assert.Equal(t, 1, fx.uploader.releases)

	// The id now behaves like one that never existed.
	assert.Equal(t, fx.manager.FallbackDescriptor(), fx.manager.Describe(id))
}

func TestSlotExhaustionRetriedNextFrame(t *testing.T) {
	// Capacity for the builtins plus exactly one streamed texture.
	fx := newTextureFixture(t, 1<<20, BuiltinSlotCount+1, nil)

	a := TextureID(100)
	b := TextureID(101)
	fx.manager.Create(a, "a", solidPixels(4))
	fx.manager.Create(b, "b", solidPixels(4))
	fx.flush(t)

	assert.True(t, fx.manager.Resident(a))
	assert.True(t, fx.manager.Resident(b))

	// Only one slot existed; the loser samples through the fallback slot
	// but keeps its own view.
	slotA := fx.slots.SlotOf(a)
	slotB := fx.slots.SlotOf(b)
	assert.True(t, (slotA == SlotAbsent) != (slotB == SlotAbsent))

	loser := a
	if slotB == SlotAbsent {
		loser = b
	}
	assert.Equal(t, SlotFallback, fx.manager.Describe(loser).Slot)

	// Retiring the winner frees the slot; the frame-start retry picks it up.
	winner := a
	if loser == a {
		winner = b
	}
	fx.manager.Retire(winner)
	fx.manager.AssignPendingSlots()
	assert.NotEqual(t, SlotAbsent, fx.slots.SlotOf(loser))
	assert.NotEqual(t, SlotFallback, fx.manager.Describe(loser).Slot)
}

func TestCreateReplacesResidentTexture(t *testing.T) {
	fx := newTextureFixture(t, 1<<20, 64, nil)

	id := TextureID(100)
	fx.manager.Create(id, "tex", solidPixels(4))
	fx.flush(t)
	assert.True(t, fx.manager.Resident(id))

	// Re-create with new pixels: the old image is retired behind the
	// serial, the new upload queues.
	fx.manager.Create(id, "tex", solidPixels(8))
	assert.False(t, fx.manager.Resident(id))

	fx.flush(t)
	assert.True(t, fx.manager.Resident(id))

	serial := fx.serials.Next()
	fx.serials.Observe(serial)
	fx.deferred.Collect(fx.serials.Completed())
	assert.Equal(t, 1, fx.uploader.releases)
	assert.True(t, fx.manager.Resident(id))
}

func TestTextureDataSizeBlockMath(t *testing.T) {
	// BC1: 8 bytes per 4x4 block, dimensions rounded up to whole blocks.
	assert.Equal(t, uint64(8), textureDataSize(vk.FormatBc1RgbaUnormBlock, 4, 4))
	assert.Equal(t, uint64(8), textureDataSize(vk.FormatBc1RgbaUnormBlock, 1, 1))
	assert.Equal(t, uint64(32), textureDataSize(vk.FormatBc1RgbaUnormBlock, 8, 5))

	// BC3 and BC7: 16 bytes per block.
	assert.Equal(t, uint64(16), textureDataSize(vk.FormatBc3UnormBlock, 4, 4))
	assert.Equal(t, uint64(16), textureDataSize(vk.FormatBc7UnormBlock, 3, 3))

	// Uncompressed.
	assert.Equal(t, uint64(64), textureDataSize(vk.FormatR8g8b8a8Unorm, 4, 4))
	assert.Equal(t, uint64(128), textureDataSize(vk.FormatR16g16b16a16Sfloat, 4, 4))
}
