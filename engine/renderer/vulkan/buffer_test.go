package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"

	"github.com/spectraldrift/aurora/engine/core"
)

type fakeBufferBackend struct {
	creates  int
	records  int
	releases int
}

func (f *fakeBufferBackend) Create(size uint64, usage BufferUsage, name string) (*VulkanBuffer, error) {
	f.creates++
	return &VulkanBuffer{Size: size, Name: name}, nil
}

func (f *fakeBufferBackend) Record(cb *VulkanCommandBuffer, stagingBuffer vk.Buffer, alloc RingAllocation, dst *VulkanBuffer, dstOffset uint64) {
	f.records++
}

func (f *fakeBufferBackend) Release(buffer *VulkanBuffer) {
	f.releases++
}

type bufferFixture struct {
	manager  *BufferManager
	backend  *fakeBufferBackend
	serials  *SerialTracker
	deferred *DeferredReleaseQueue
	frame    *VulkanFrame
}

func newBufferFixture(stagingSize uint64) *bufferFixture {
	fx := &bufferFixture{
		backend:  &fakeBufferBackend{},
		serials:  NewSerialTracker(),
		deferred: NewDeferredReleaseQueue(),
	}
	fx.manager = NewBufferManager(fx.backend, fx.serials, fx.deferred)
	fx.frame = &VulkanFrame{StagingRing: NewRingBuffer("staging", stagingSize)}
	return fx
}

func TestBufferCreationIsLazy(t *testing.T) {
	fx := newBufferFixture(1024)

	id := fx.manager.Create("mesh", BUFFER_USAGE_VERTEX)
	assert.True(t, fx.manager.Exists(id))
	assert.Equal(t, 0, fx.backend.creates)

	// Binding before the first update is a contract violation surfaced as
	// an error, not a nil handle.
	_, err := fx.manager.Handle(id)
	assert.Error(t, err)

	assert.NoError(t, fx.manager.Update(newUploadCtx(fx.frame), id, 0, make([]byte, 64)))
	assert.Equal(t, 1, fx.backend.creates)
	assert.Equal(t, 1, fx.backend.records)
}

func TestBufferUpdateGrows(t *testing.T) {
	fx := newBufferFixture(1024)
	ctx := newUploadCtx(fx.frame)

	id := fx.manager.Create("mesh", BUFFER_USAGE_VERTEX)
	assert.NoError(t, fx.manager.Update(ctx, id, 0, make([]byte, 64)))
	assert.NoError(t, fx.manager.Update(ctx, id, 64, make([]byte, 64)))
	assert.Equal(t, 2, fx.backend.creates)

	// The outgrown object is not freed until its serial clears.
	assert.Equal(t, 0, fx.backend.releases)
	serial := fx.serials.Next()
	fx.serials.Observe(serial)
	fx.deferred.Collect(fx.serials.Completed())
	assert.Equal(t, 1, fx.backend.releases)
}

func TestBufferUpdateStagingExhaustion(t *testing.T) {
	fx := newBufferFixture(32)

	id := fx.manager.Create("mesh", BUFFER_USAGE_VERTEX)
	err := fx.manager.Update(newUploadCtx(fx.frame), id, 0, make([]byte, 64))
	assert.ErrorIs(t, err, core.ErrRingExhausted)

	// The handle survives a dropped update.
	assert.True(t, fx.manager.Exists(id))
}

func TestBufferDeleteDefersRelease(t *testing.T) {
	fx := newBufferFixture(1024)

	id := fx.manager.Create("mesh", BUFFER_USAGE_INDEX)
	assert.NoError(t, fx.manager.Update(newUploadCtx(fx.frame), id, 0, make([]byte, 16)))

	fx.manager.Delete(id)
	assert.False(t, fx.manager.Exists(id))
	assert.Equal(t, 0, fx.backend.releases)

	serial := fx.serials.Next()
	fx.serials.Observe(serial)
	fx.deferred.Collect(fx.serials.Completed())
	assert.Equal(t, 1, fx.backend.releases)
}

func TestBufferDeleteNeverMaterialized(t *testing.T) {
	fx := newBufferFixture(1024)

	id := fx.manager.Create("mesh", BUFFER_USAGE_VERTEX)
	fx.manager.Delete(id)
	assert.False(t, fx.manager.Exists(id))

	fx.deferred.Collect(^uint64(0))
	assert.Equal(t, 0, fx.backend.releases)
}
