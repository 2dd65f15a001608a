package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spectraldrift/aurora/engine/core"
)

// TextureID is the engine-facing texture handle. Zero is never a valid id.
type TextureID uint32

// Reserved ids for the builtin textures occupying the pinned bindless slots.
const (
	textureIDFallback TextureID = 1
	textureIDBase     TextureID = 2
	textureIDNormal   TextureID = 3
	textureIDSpecular TextureID = 4
	firstStreamableID TextureID = 16
)

// TexturePixels is one texture's CPU-side payload, ready for staging.
type TexturePixels struct {
	Data   []byte
	Width  uint32
	Height uint32
	Format vk.Format
}

// TextureLoader resolves a texture id to pixel data. Called only during the
// upload phase, never from a draw.
type TextureLoader func(id TextureID) (TexturePixels, error)

// TextureDescriptor is what a draw call consumes: a view, a sampler and the
// bindless slot shaders index with. For any texture that is not resident the
// manager substitutes the fallback descriptor, so every value of this type
// handed out is safe to sample.
type TextureDescriptor struct {
	View    vk.ImageView
	Sampler vk.Sampler
	Slot    uint32
}

/**
 * Residency states. A record is in exactly one; transitions happen only
 * inside the manager. "Missing" has no value here because a missing texture
 * has no record at all.
 */
type textureState interface {
	stateName() string
}

// stateQueued: upload requested but not yet recorded. Pixels may be nil, in
// which case the loader resolves them at flush time.
type stateQueued struct {
	pixels *TexturePixels
}

func (stateQueued) stateName() string { return "queued" }

// stateResident: image and view valid; the only state a draw may read.
type stateResident struct {
	image          *VulkanImage
	descriptor     TextureDescriptor
	lastUsedSerial uint64
}

func (stateResident) stateName() string { return "resident" }

// stateFailed: permanently unusable. The record stays so the failure is not
// rediscovered and re-logged every frame.
type stateFailed struct {
	reason string
}

func (stateFailed) stateName() string { return "failed" }

// stateRetired: slot reclaimed, GPU destruction pending the retire serial.
type stateRetired struct {
	retireSerial uint64
}

func (stateRetired) stateName() string { return "retired" }

type textureRecord struct {
	id       TextureID
	name     string
	state    textureState
	inQueue  bool
	warnOnce bool
}

// textureUploader records the actual GPU work of an upload. Narrow on
// purpose: the manager owns every state decision, the uploader only turns
// "staged pixels" into "resident image".
type textureUploader interface {
	Record(cb *VulkanCommandBuffer, stagingBuffer vk.Buffer, alloc RingAllocation, px TexturePixels, name string) (*VulkanImage, TextureDescriptor, error)
	Release(image *VulkanImage)
}

/**
 * TextureManager decouples "a draw wants this texture" from "its bytes are
 * on the GPU". Describe is callable any time, returns in bounded time and
 * never errors; all GPU work happens in FlushPendingUploads, which only an
 * UploadCtx holder can run. Destruction is deferred behind completion
 * serials, never synchronous.
 */
type TextureManager struct {
	uploader textureUploader
	slots    *SlotTable
	serials  *SerialTracker
	deferred *DeferredReleaseQueue
	loader   TextureLoader

	records map[TextureID]*textureRecord
	queue   []TextureID

	// Resident textures still waiting for a bindless slot, retried at
	// frame start.
	pendingSlots []TextureID

	fallback TextureDescriptor

	// Largest request any staging ring could ever satisfy. Anything bigger
	// fails permanently instead of queueing forever.
	stagingCapacity uint64

	nextID TextureID
}

func NewTextureManager(uploader textureUploader, slots *SlotTable, serials *SerialTracker, deferred *DeferredReleaseQueue, loader TextureLoader, stagingCapacity uint64) *TextureManager {
	return &TextureManager{
		uploader:        uploader,
		slots:           slots,
		serials:         serials,
		deferred:        deferred,
		loader:          loader,
		records:         make(map[TextureID]*textureRecord),
		stagingCapacity: stagingCapacity,
		nextID:          firstStreamableID,
	}
}

// FallbackDescriptor returns the descriptor substituted for anything not
// resident. Valid after CreateBuiltins.
func (tm *TextureManager) FallbackDescriptor() TextureDescriptor {
	return tm.fallback
}

/**
 * CreateBuiltins uploads the four guaranteed-resident textures and pins them
 * to the reserved slots. Runs at init with a dedicated staging ring; failure
 * here is fatal to initialization since the fallback protocol depends on it.
 */
func (tm *TextureManager) CreateBuiltins(cb *VulkanCommandBuffer, staging *RingBuffer) error {
	builtins := []struct {
		id    TextureID
		slot  uint32
		name  string
		pixel [4]byte
	}{
		// Magenta fallback makes a missing texture visible at a glance.
		{textureIDFallback, SlotFallback, "builtin-fallback", [4]byte{255, 0, 255, 255}},
		{textureIDBase, SlotBase, "builtin-base", [4]byte{255, 255, 255, 255}},
		// Flat tangent-space normal.
		{textureIDNormal, SlotNormal, "builtin-normal", [4]byte{128, 128, 255, 255}},
		{textureIDSpecular, SlotSpecular, "builtin-specular", [4]byte{0, 0, 0, 255}},
	}

	const side = 16
	for _, builtin := range builtins {
		data := make([]byte, side*side*4)
		for i := 0; i < side*side; i++ {
			copy(data[i*4:], builtin.pixel[:])
		}
		px := TexturePixels{Data: data, Width: side, Height: side, Format: vk.FormatR8g8b8a8Unorm}

		alloc, err := staging.Allocate(uint64(len(data)), copyOffsetAlignment)
		if err != nil {
			return fmt.Errorf("staging builtin '%s': %w", builtin.name, err)
		}
		copy(alloc.Bytes, data)

		image, descriptor, err := tm.uploader.Record(cb, staging.Handle(), alloc, px, builtin.name)
		if err != nil {
			return fmt.Errorf("uploading builtin '%s': %w", builtin.name, err)
		}
		descriptor.Slot = builtin.slot
		tm.records[builtin.id] = &textureRecord{
			id:    builtin.id,
			name:  builtin.name,
			state: stateResident{image: image, descriptor: descriptor},
		}
		tm.slots.AssignBuiltin(builtin.slot, builtin.id)

		if builtin.id == textureIDFallback {
			tm.fallback = descriptor
		}
	}

	core.LogInfo("Builtin textures created.")
	return nil
}

// Acquire reserves a fresh id for a streamed texture. The id is immediately
// valid to describe; it resolves to the fallback until its upload lands.
func (tm *TextureManager) Acquire(name string) TextureID {
	id := tm.nextID
	tm.nextID++
	tm.records[id] = &textureRecord{id: id, name: name, state: stateQueued{}}
	tm.enqueue(id)
	return id
}

// Create registers engine-provided pixel data for the id, queueing the
// upload. Replacing a resident texture retires the old image first.
func (tm *TextureManager) Create(id TextureID, name string, px TexturePixels) {
	core.Assert(id != 0, "texture id zero is reserved")

	if rec, ok := tm.records[id]; ok {
		if resident, isResident := rec.state.(stateResident); isResident {
			tm.retireImage(id, resident)
		}
		rec.name = name
		rec.state = stateQueued{pixels: &px}
		tm.enqueue(id)
		return
	}
	tm.records[id] = &textureRecord{id: id, name: name, state: stateQueued{pixels: &px}}
	tm.enqueue(id)
}

/**
 * Describe is the query phase: total over all ids, non-blocking, callable
 * mid-pass. Unknown ids get a record and an upload request; anything not
 * resident resolves to the fallback descriptor.
 */
func (tm *TextureManager) Describe(id TextureID) TextureDescriptor {
	if id == 0 {
		return tm.fallback
	}

	rec, ok := tm.records[id]
	if !ok {
		rec = &textureRecord{id: id, state: stateQueued{}}
		tm.records[id] = rec
		tm.enqueue(id)
		return tm.fallback
	}

	switch state := rec.state.(type) {
	case stateResident:
		state.lastUsedSerial = tm.serials.PendingSerial()
		rec.state = state
		if state.descriptor.Slot == SlotAbsent {
			desc := state.descriptor
			desc.Slot = SlotFallback
			return desc
		}
		return state.descriptor
	case stateQueued:
		// Already requested; re-describing before the flush is a no-op.
		return tm.fallback
	default:
		// Failed and retired stay on the fallback permanently.
		return tm.fallback
	}
}

// Resident reports whether a draw would get the texture's own descriptor.
func (tm *TextureManager) Resident(id TextureID) bool {
	rec, ok := tm.records[id]
	if !ok {
		return false
	}
	_, resident := rec.state.(stateResident)
	return resident
}

/**
 * FlushPendingUploads is the upload phase. It drains the queue in request
 * order: staging exhaustion leaves the remainder queued for a later flush,
 * unrecoverable errors mark the texture failed with a single log line.
 * Never returns an error for per-texture outcomes; only a broken command
 * stream surfaces.
 */
func (tm *TextureManager) FlushPendingUploads(ctx UploadCtx) error {
	staging := ctx.Frame().StagingRing
	cb := ctx.CommandBuffer()

	pending := tm.queue
	tm.queue = nil
	for i, id := range pending {
		rec, ok := tm.records[id]
		if !ok {
			continue
		}
		queued, isQueued := rec.state.(stateQueued)
		if !isQueued {
			rec.inQueue = false
			continue
		}

		px, err := tm.resolvePixels(rec, queued)
		if err != nil {
			tm.fail(rec, err.Error())
			continue
		}

		size := textureDataSize(px.Format, px.Width, px.Height)
		if uint64(len(px.Data)) < size {
			tm.fail(rec, fmt.Sprintf("payload is %d bytes, format needs %d", len(px.Data), size))
			continue
		}
		if size > tm.stagingCapacity {
			tm.fail(rec, fmt.Sprintf("%d bytes exceeds the %d byte staging budget", size, tm.stagingCapacity))
			continue
		}

		alloc, err := staging.Allocate(size, copyOffsetAlignment)
		if errors.Is(err, core.ErrRingExhausted) {
			// Out of staging this frame. Keep this and everything behind
			// it queued; a later flush retries in order.
			tm.queue = append(tm.queue, pending[i:]...)
			return nil
		} else if err != nil {
			return err
		}
		copy(alloc.Bytes, px.Data[:size])

		image, descriptor, err := tm.uploader.Record(cb, staging.Handle(), alloc, px, rec.name)
		if err != nil {
			tm.fail(rec, err.Error())
			continue
		}

		descriptor.Slot = tm.tryAssignSlot(id)
		rec.state = stateResident{image: image, descriptor: descriptor}
		rec.inQueue = false
	}
	return nil
}

// AssignPendingSlots retries bindless assignment for resident textures that
// missed out. Called at frame start, before descriptors are rewritten.
func (tm *TextureManager) AssignPendingSlots() {
	if len(tm.pendingSlots) == 0 {
		return
	}
	retry := tm.pendingSlots
	tm.pendingSlots = nil
	for _, id := range retry {
		rec, ok := tm.records[id]
		if !ok {
			continue
		}
		resident, isResident := rec.state.(stateResident)
		if !isResident || resident.descriptor.Slot != SlotAbsent {
			continue
		}
		resident.descriptor.Slot = tm.tryAssignSlot(id)
		rec.state = resident
	}
}

/**
 * Retire reclaims the texture's slot immediately and defers GPU destruction
 * until the current pending serial is observed complete. Retiring a queued
 * or unknown texture simply drops the request.
 */
func (tm *TextureManager) Retire(id TextureID) {
	rec, ok := tm.records[id]
	if !ok {
		return
	}
	core.Assert(id > textureIDSpecular, "builtin textures are never retired")

	switch state := rec.state.(type) {
	case stateResident:
		tm.retireImage(id, state)
	case stateQueued:
		rec.inQueue = false
		delete(tm.records, id)
	case stateRetired:
		// Already on its way out.
	case stateFailed:
		delete(tm.records, id)
	}
}

// ViewFor returns the resident view for direct (non-bindless) binding, or
// the fallback's view.
func (tm *TextureManager) ViewFor(id TextureID) (vk.ImageView, vk.Sampler) {
	desc := tm.Describe(id)
	return desc.View, desc.Sampler
}

// DescriptorForSlot resolves a slot index to the descriptor a bindless write
// should carry. Unoccupied slots resolve to the fallback.
func (tm *TextureManager) DescriptorForSlot(slot uint32) TextureDescriptor {
	if slot >= uint32(len(tm.slots.entries)) {
		return tm.fallback
	}
	id := tm.slots.entries[slot]
	if id == 0 {
		return tm.fallback
	}
	rec, ok := tm.records[id]
	if !ok {
		return tm.fallback
	}
	if resident, isResident := rec.state.(stateResident); isResident {
		return resident.descriptor
	}
	return tm.fallback
}

// Shutdown releases every live GPU object without waiting on serials. Only
// legal after the device has idled.
func (tm *TextureManager) Shutdown() {
	for id, rec := range tm.records {
		if resident, ok := rec.state.(stateResident); ok {
			tm.uploader.Release(resident.image)
		}
		delete(tm.records, id)
	}
	tm.queue = nil
	tm.pendingSlots = nil
}

func (tm *TextureManager) enqueue(id TextureID) {
	rec := tm.records[id]
	if rec.inQueue {
		return
	}
	rec.inQueue = true
	tm.queue = append(tm.queue, id)
}

func (tm *TextureManager) resolvePixels(rec *textureRecord, queued stateQueued) (TexturePixels, error) {
	if queued.pixels != nil {
		return *queued.pixels, nil
	}
	if tm.loader == nil {
		return TexturePixels{}, fmt.Errorf("no pixel data and no loader for texture '%s'", rec.name)
	}
	return tm.loader(rec.id)
}

func (tm *TextureManager) fail(rec *textureRecord, reason string) {
	if !rec.warnOnce {
		core.LogWarn("texture '%s' (%d) failed permanently: %s", rec.name, rec.id, reason)
		rec.warnOnce = true
	}
	rec.state = stateFailed{reason: reason}
	rec.inQueue = false
}

func (tm *TextureManager) tryAssignSlot(id TextureID) uint32 {
	slot, err := tm.slots.Assign(id)
	if err != nil {
		tm.pendingSlots = append(tm.pendingSlots, id)
		return SlotAbsent
	}
	return slot
}

func (tm *TextureManager) retireImage(id TextureID, state stateResident) {
	tm.slots.Release(id)
	retireSerial := tm.serials.PendingSerial()
	image := state.image
	rec := tm.records[id]
	rec.state = stateRetired{retireSerial: retireSerial}
	tm.deferred.Enqueue(retireSerial, func() {
		tm.uploader.Release(image)
		if current, ok := tm.records[id]; ok {
			if retired, isRetired := current.state.(stateRetired); isRetired && retired.retireSerial == retireSerial {
				delete(tm.records, id)
			}
		}
	})
}

/**
 * textureDataSize computes the byte size of one mip-0 subresource,
 * including the 4x4 block math for the BC compressed families.
 */
func textureDataSize(format vk.Format, width, height uint32) uint64 {
	blocksWide := uint64((width + 3) / 4)
	blocksHigh := uint64((height + 3) / 4)

	switch format {
	case vk.FormatBc1RgbUnormBlock, vk.FormatBc1RgbSrgbBlock,
		vk.FormatBc1RgbaUnormBlock, vk.FormatBc1RgbaSrgbBlock:
		return blocksWide * blocksHigh * 8
	case vk.FormatBc3UnormBlock, vk.FormatBc3SrgbBlock,
		vk.FormatBc7UnormBlock, vk.FormatBc7SrgbBlock:
		return blocksWide * blocksHigh * 16
	case vk.FormatR16g16b16a16Sfloat:
		return uint64(width) * uint64(height) * 8
	default:
		// 32-bit per texel formats.
		return uint64(width) * uint64(height) * 4
	}
}
