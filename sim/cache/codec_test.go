package cache

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip_RestoresObservableState(t *testing.T) {
	// GIVEN a model advanced a few steps
	src := newFakeModel(3, 7, 11)
	for i := 0; i < 4; i++ {
		src.Step()
	}
	codec := NewCodec(nil, false)

	// WHEN its snapshot is decoded into a model in a different state
	data, err := codec.Encode(src)
	require.NoError(t, err)
	dst := newFakeModel(5, 7, 99)
	dst.label = "other"
	require.NoError(t, codec.Decode(data, dst, 0))

	// THEN entities, metrics, id counter and residual fields match
	assert.Equal(t, src.Entities(), dst.Entities())
	assert.Equal(t, src.metrics.Sums, dst.metrics.Sums)
	assert.Equal(t, src.NextID(), dst.NextID())
	assert.Equal(t, src.StepCount(), dst.StepCount())
	assert.Equal(t, src.label, dst.label)

	// AND the rng continues from the same point
	src.Step()
	dst.Step()
	assert.Equal(t, src.positions(), dst.positions())
}

func TestCodec_Encode_IsDeterministic(t *testing.T) {
	m := newFakeModel(4, 9, 3)
	m.Step()
	codec := NewCodec(nil, false)

	first, err := codec.Encode(m)
	require.NoError(t, err)
	second, err := codec.Encode(m)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical state must encode to identical bytes")
}

func TestCodec_Decode_ClearsPreviousEntities(t *testing.T) {
	// GIVEN a two-entity snapshot and a model holding five entities
	src := newFakeModel(2, 5, 1)
	data, err := NewCodec(nil, false).Encode(src)
	require.NoError(t, err)
	dst := newFakeModel(5, 5, 1)

	// WHEN decoded
	require.NoError(t, NewCodec(nil, false).Decode(data, dst, 0))

	// THEN only the recorded entities survive
	assert.Len(t, dst.Entities(), 2)
	assert.Equal(t, src.Occupancy(), dst.Occupancy())
}

func TestCodec_Decode_ReplacesMetricsWholesale(t *testing.T) {
	src := newFakeModel(2, 5, 1)
	src.Step()
	data, err := NewCodec(nil, false).Encode(src)
	require.NoError(t, err)

	// GIVEN a model that has already collected the same step itself
	dst := newFakeModel(2, 5, 1)
	dst.Step()
	require.Len(t, dst.metrics.Sums, 1)

	// WHEN the snapshot is applied
	require.NoError(t, NewCodec(nil, false).Decode(data, dst, 0))

	// THEN metrics equal the recorded ones, not a merge
	assert.Equal(t, src.metrics.Sums, dst.metrics.Sums)
	assert.Len(t, dst.metrics.Sums, 1)
}

func TestCodec_Decode_UnplacedEntityIsNotAnError(t *testing.T) {
	// GIVEN a snapshot whose second entity points outside the space
	src := newFakeModel(2, 5, 1)
	src.entities[1].Position = []int{42}
	src.entities[0].Position = nil
	data, err := NewCodec(nil, false).Encode(src)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	dst := newFakeModel(0, 5, 1)

	// WHEN decoded in verbose mode
	err = NewCodec(logger, true).Decode(data, dst, 3)

	// THEN both entities exist, unplaced, and diagnostics were logged
	require.NoError(t, err)
	require.Len(t, dst.entities, 2)
	assert.Nil(t, dst.entities[0].Position)
	assert.Nil(t, dst.entities[1].Position)
	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.GreaterOrEqual(t, warnings, 2)
}

func TestCodec_Decode_UnplacedEntitySilentWhenNotVerbose(t *testing.T) {
	src := newFakeModel(1, 5, 1)
	src.entities[0].Position = []int{-1}
	data, err := NewCodec(nil, false).Encode(src)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	require.NoError(t, NewCodec(logger, false).Decode(data, newFakeModel(0, 5, 1), 0))
	assert.Empty(t, hook.AllEntries())
}

func TestCodec_Decode_MalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xff, 0x00, 0x13, 0x37}},
		{"truncated", nil}, // filled below
	}
	valid, err := NewCodec(nil, false).Encode(newFakeModel(2, 5, 1))
	require.NoError(t, err)
	tests[2].data = valid[:len(valid)/2]

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCodec(nil, false).Decode(tt.data, newFakeModel(1, 5, 1), 7)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDeserialize))
			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, 7, de.Step)
		})
	}
}

func TestCodec_Decode_RejectsOtherVersion(t *testing.T) {
	snap := Snapshot{Version: SnapshotVersion + 1, Entities: []EntitySnapshot{}, Residual: map[string]cbor.RawMessage{}}
	data, err := cbor.Marshal(snap)
	require.NoError(t, err)

	err = NewCodec(nil, false).Decode(data, newFakeModel(1, 5, 1), 0)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "version", de.Field)
}

func TestCodec_Decode_RejectsUnknownSnapshotField(t *testing.T) {
	data, err := cbor.Marshal(map[string]any{"version": SnapshotVersion, "surprise": 1})
	require.NoError(t, err)

	err = NewCodec(nil, false).Decode(data, newFakeModel(1, 5, 1), 0)
	assert.True(t, errors.Is(err, ErrDeserialize))
}

func TestCodec_Decode_DuplicateEntityIsFatal(t *testing.T) {
	src := newFakeModel(2, 5, 1)
	src.entities[1].ID = src.entities[0].ID
	data, err := NewCodec(nil, false).Encode(src)
	require.NoError(t, err)

	err = NewCodec(nil, false).Decode(data, newFakeModel(0, 5, 1), 0)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "entities", de.Field)
}

type reservedResidualModel struct{ *fakeModel }

func (m reservedResidualModel) ResidualFields() map[string]any {
	return map[string]any{"rng": 1}
}

func TestCodec_Encode_RejectsReservedResidualName(t *testing.T) {
	_, err := NewCodec(nil, false).Encode(reservedResidualModel{newFakeModel(1, 5, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestCodec_Decode_OccupancyMismatchIsDiagnosticOnly(t *testing.T) {
	// GIVEN a snapshot whose occupant list disagrees with entity positions
	src := newFakeModel(2, 5, 1)
	snap, err := NewCodec(nil, false).capture(src)
	require.NoError(t, err)
	snap.Occupancy = []CellOccupants{{Coord: []int{4}, IDs: []int{99}}}
	data, err := encMode.Marshal(snap)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()

	// WHEN decoded verbosely
	require.NoError(t, NewCodec(logger, true).Decode(data, newFakeModel(0, 5, 1), 0))

	// THEN the mismatch is reported but the restore stands on entity positions
	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDiffOccupancy(t *testing.T) {
	a := []CellOccupants{{Coord: []int{0, 1}, IDs: []int{2, 1}}}
	b := []CellOccupants{{Coord: []int{0, 1}, IDs: []int{1, 2}}, {Coord: []int{3, 3}, IDs: nil}}
	assert.Equal(t, "", diffOccupancy(a, b), "order within a cell and empty cells are ignored")

	c := []CellOccupants{{Coord: []int{1, 1}, IDs: []int{1, 2}}}
	assert.NotEqual(t, "", diffOccupancy(a, c))
}
