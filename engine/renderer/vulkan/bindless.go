package vulkan

import (
	"github.com/spectraldrift/aurora/engine/core"
)

/**
 * SlotTable maps bindless array slots to textures. Slots 0 through 3 are
 * reserved for the builtin fallback, base, normal and specular textures and
 * are assigned at construction, so any slot index a shader reads is backed
 * by a valid descriptor even when assignment fails for a streamed texture.
 */
type SlotTable struct {
	entries  []TextureID
	assigned map[TextureID]uint32
	free     []uint32

	// Slots whose descriptor must be rewritten before the next submit.
	dirty []uint32
}

func NewSlotTable(capacity uint32) *SlotTable {
	core.Assert(capacity > BuiltinSlotCount, "slot table must hold more than the builtin slots")

	st := &SlotTable{
		entries:  make([]TextureID, capacity),
		assigned: make(map[TextureID]uint32),
		free:     make([]uint32, 0, capacity-BuiltinSlotCount),
	}
	// Builtins are pinned; everything above them is up for grabs.
	for slot := capacity - 1; slot >= BuiltinSlotCount; slot-- {
		st.free = append(st.free, slot)
	}
	return st
}

func (st *SlotTable) Capacity() uint32 {
	return uint32(len(st.entries))
}

// AssignBuiltin pins a builtin texture to its reserved slot.
func (st *SlotTable) AssignBuiltin(slot uint32, id TextureID) {
	core.Assert(slot < BuiltinSlotCount, "builtin slot index out of range")
	st.entries[slot] = id
	st.assigned[id] = slot
	st.markDirty(slot)
}

/**
 * Assign gives the texture a free slot. core.ErrNoFreeSlots is soft: the
 * texture stays renderable through the fallback slot and assignment is
 * retried at the next frame start.
 */
func (st *SlotTable) Assign(id TextureID) (uint32, error) {
	if slot, ok := st.assigned[id]; ok {
		return slot, nil
	}
	if len(st.free) == 0 {
		return SlotAbsent, core.ErrNoFreeSlots
	}
	slot := st.free[len(st.free)-1]
	st.free = st.free[:len(st.free)-1]
	st.entries[slot] = id
	st.assigned[id] = slot
	st.markDirty(slot)
	return slot, nil
}

// Release returns the texture's slot to the pool. The slot is marked dirty
// so its descriptor is rewritten to the fallback before the next submit.
func (st *SlotTable) Release(id TextureID) {
	slot, ok := st.assigned[id]
	if !ok {
		return
	}
	core.Assert(slot >= BuiltinSlotCount, "builtin slots are never released")
	delete(st.assigned, id)
	st.entries[slot] = 0
	st.free = append(st.free, slot)
	st.markDirty(slot)
}

// SlotOf reports the texture's slot, or SlotAbsent.
func (st *SlotTable) SlotOf(id TextureID) uint32 {
	if slot, ok := st.assigned[id]; ok {
		return slot
	}
	return SlotAbsent
}

func (st *SlotTable) markDirty(slot uint32) {
	for _, s := range st.dirty {
		if s == slot {
			return
		}
	}
	st.dirty = append(st.dirty, slot)
}

// DrainDirty hands out the slots needing a descriptor rewrite and resets the
// list. Callers rewrite one frame's bindless set; remaining frames pick the
// changes up through MarkAllDirty on their turn if needed.
func (st *SlotTable) DrainDirty() []uint32 {
	dirty := st.dirty
	st.dirty = nil
	return dirty
}

func (st *SlotTable) MarkAllDirty() {
	st.dirty = st.dirty[:0]
	for slot := uint32(0); slot < uint32(len(st.entries)); slot++ {
		if slot < BuiltinSlotCount || st.entries[slot] != 0 {
			st.dirty = append(st.dirty, slot)
		}
	}
}
