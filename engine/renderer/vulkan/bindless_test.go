package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectraldrift/aurora/engine/core"
)

func TestSlotTableBuiltinsArePinned(t *testing.T) {
	st := NewSlotTable(8)
	st.AssignBuiltin(SlotFallback, 1)
	st.AssignBuiltin(SlotBase, 2)
	st.AssignBuiltin(SlotNormal, 3)
	st.AssignBuiltin(SlotSpecular, 4)

	// Streamed assignments never land on a builtin slot.
	for i := 0; i < 4; i++ {
		slot, err := st.Assign(TextureID(100 + i))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, slot, BuiltinSlotCount)
	}
}

func TestSlotTableAssignIsIdempotent(t *testing.T) {
	st := NewSlotTable(8)
	first, err := st.Assign(42)
	require.NoError(t, err)
	again, err := st.Assign(42)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, first, st.SlotOf(42))
}

func TestSlotTableExhaustionIsSoft(t *testing.T) {
	st := NewSlotTable(BuiltinSlotCount + 1)
	_, err := st.Assign(10)
	require.NoError(t, err)

	slot, err := st.Assign(11)
	assert.ErrorIs(t, err, core.ErrNoFreeSlots)
	assert.Equal(t, SlotAbsent, slot)
	assert.Equal(t, SlotAbsent, st.SlotOf(11))
}

func TestSlotTableReleaseRecyclesAndDirties(t *testing.T) {
	st := NewSlotTable(BuiltinSlotCount + 1)
	slot, err := st.Assign(10)
	require.NoError(t, err)
	st.DrainDirty()

	st.Release(10)
	assert.Equal(t, SlotAbsent, st.SlotOf(10))
	assert.Contains(t, st.DrainDirty(), slot)

	reused, err := st.Assign(11)
	require.NoError(t, err)
	assert.Equal(t, slot, reused)
}

func TestSlotTableDrainDirtyResets(t *testing.T) {
	st := NewSlotTable(8)
	_, err := st.Assign(10)
	require.NoError(t, err)

	assert.NotEmpty(t, st.DrainDirty())
	assert.Empty(t, st.DrainDirty())
}

func TestSlotTableMarkAllDirtyCoversOccupiedSlots(t *testing.T) {
	st := NewSlotTable(8)
	st.AssignBuiltin(SlotFallback, 1)
	slot, err := st.Assign(10)
	require.NoError(t, err)
	st.DrainDirty()

	st.MarkAllDirty()
	dirty := st.DrainDirty()
	assert.Contains(t, dirty, SlotFallback)
	assert.Contains(t, dirty, slot)
	// Unoccupied streamable slots are skipped; they were never written.
	assert.Len(t, dirty, int(BuiltinSlotCount)+1)
}
