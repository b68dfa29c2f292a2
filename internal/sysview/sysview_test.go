package sysview

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hermes-hpc/hermes/internal/core"
)

func TestStateAdjustAndSnapshot(t *testing.T) {
	s := NewState([]uint64{100, 200})
	s.Adjust(0, -30)
	s.Adjust(1, 10)

	require.EqualValues(t, 70, s.BytesAvailable(0))
	require.EqualValues(t, 210, s.BytesAvailable(1))
	require.Equal(t, []uint64{70, 210}, s.Snapshot())
}

func TestPendingAdjustmentsDrainResetsToZero(t *testing.T) {
	p := NewPendingAdjustments(2)
	p.Record(0, -5)
	p.Record(0, -5)
	p.Record(1, 3)

	drained := p.DrainAll()
	require.Equal(t, []int64{-10, 3}, drained)
	require.Equal(t, []int64{0, 0}, p.DrainAll())
}

func TestUpdateGlobalSystemViewStateLocalOnOwningNode(t *testing.T) {
	m := NewManager(GlobalStateNode, []uint64{1000}, []uint64{5000}, nil)
	m.Pending.Record(0, -200)

	require.NoError(t, m.UpdateGlobalSystemViewState())

	caps, err := m.GetGlobalDeviceCapacities()
	require.NoError(t, err)
	require.Equal(t, []uint64{4800}, caps)
}

func TestUpdateGlobalSystemViewStateIsNoOpWithNoChanges(t *testing.T) {
	m := NewManager(GlobalStateNode, []uint64{1000}, []uint64{5000}, nil)
	require.NoError(t, m.UpdateGlobalSystemViewState())

	caps, err := m.GetGlobalDeviceCapacities()
	require.NoError(t, err)
	require.Equal(t, []uint64{5000}, caps)
}

type fakeRemoteApplier struct {
	applied      []int64
	globalCaps   []uint64
}

func (f *fakeRemoteApplier) ApplyGlobalAdjustments(target core.NodeID, adjustments []int64) error {
	f.applied = adjustments
	for i, a := range adjustments {
		if i < len(f.globalCaps) {
			f.globalCaps[i] = uint64(int64(f.globalCaps[i]) + a)
		}
	}
	return nil
}

func (f *fakeRemoteApplier) FetchGlobalDeviceCapacities(target core.NodeID) ([]uint64, error) {
	return f.globalCaps, nil
}

func TestUpdateGlobalSystemViewStateDispatchesRemoteFromNonOwningNode(t *testing.T) {
	remote := &fakeRemoteApplier{globalCaps: []uint64{5000}}
	m := NewManager(core.NodeID(2), []uint64{1000}, nil, remote)
	m.Pending.Record(0, -300)

	require.NoError(t, m.UpdateGlobalSystemViewState())
	require.Equal(t, []int64{-300}, remote.applied)

	caps, err := m.GetGlobalDeviceCapacities()
	require.NoError(t, err)
	require.Equal(t, []uint64{4700}, caps)
}

func TestApplyGlobalAdjustmentsRejectedOnNonOwningNode(t *testing.T) {
	m := NewManager(core.NodeID(2), []uint64{1000}, nil, nil)
	err := m.ApplyGlobalAdjustments([]int64{-1})
	require.Error(t, err)
}
