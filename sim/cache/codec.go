package cache

import (
	"fmt"
	"slices"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

// SnapshotVersion is the snapshot schema written by Encode. Decode rejects
// any other version; there is no migration between versions.
const SnapshotVersion = 1

// Snapshot is the encoded form of a model's full state at a step boundary.
type Snapshot struct {
	Version   int                        `cbor:"version"`
	RNG       []byte                     `cbor:"rng"`
	Entities  []EntitySnapshot           `cbor:"entities"`
	Occupancy []CellOccupants            `cbor:"occupancy,omitempty"`
	Metrics   cbor.RawMessage            `cbor:"metrics"`
	NextID    int                        `cbor:"next_id"`
	Residual  map[string]cbor.RawMessage `cbor:"residual"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: identical state yields identical bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: building cbor encode mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cache: building cbor decode mode: %v", err))
	}
}

// Value is an encoded value whose shape is known only to the model that
// produced it.
type Value struct {
	raw cbor.RawMessage
}

// Decode unmarshals the value into dst. Unknown struct fields are rejected.
func (v Value) Decode(dst any) error {
	if len(v.raw) == 0 {
		return fmt.Errorf("empty value")
	}
	return decMode.Unmarshal(v.raw, dst)
}

// IsNull reports whether the value was encoded from a nil.
func (v Value) IsNull() bool {
	return len(v.raw) == 1 && v.raw[0] == 0xf6
}

// Codec converts model state to snapshot bytes and back.
type Codec struct {
	log     logrus.FieldLogger
	verbose bool
}

// NewCodec returns a Codec. Restore diagnostics (unplaced entities, occupancy
// mismatches) are logged only when verbose is set.
func NewCodec(log logrus.FieldLogger, verbose bool) *Codec {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Codec{log: log, verbose: verbose}
}

// Encode captures the model's current state.
func (c *Codec) Encode(m Model) ([]byte, error) {
	snap, err := c.capture(m)
	if err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

func (c *Codec) capture(m Model) (*Snapshot, error) {
	rng, err := m.RNGState()
	if err != nil {
		return nil, fmt.Errorf("capturing rng state: %w", err)
	}

	snap := &Snapshot{
		Version:  SnapshotVersion,
		RNG:      rng,
		Entities: m.Entities(),
		NextID:   m.NextID(),
		Residual: make(map[string]cbor.RawMessage),
	}
	if snap.Entities == nil {
		snap.Entities = []EntitySnapshot{}
	}
	if occ, ok := m.(Occupier); ok {
		snap.Occupancy = occ.Occupancy()
	}

	snap.Metrics, err = encMode.Marshal(m.MetricsState())
	if err != nil {
		return nil, fmt.Errorf("encoding metrics: %w", err)
	}

	for name, v := range m.ResidualFields() {
		if ReservedFields[name] {
			return nil, fmt.Errorf("residual field %q collides with a reserved snapshot field", name)
		}
		raw, err := encMode.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding residual field %q: %w", name, err)
		}
		snap.Residual[name] = raw
	}
	return snap, nil
}

// Decode applies an encoded snapshot to the model, replacing its state. step
// is used only for error reporting. The restore order is fixed: residual
// fields, rng, spatial structure and entities, metrics, then the id counter.
func (c *Codec) Decode(data []byte, m Model, step int) error {
	var snap Snapshot
	if err := decMode.Unmarshal(data, &snap); err != nil {
		return &DecodeError{Step: step, Field: "snapshot", Err: err}
	}
	if snap.Version != SnapshotVersion {
		return &DecodeError{Step: step, Field: "version",
			Err: fmt.Errorf("unsupported snapshot version %d, want %d", snap.Version, SnapshotVersion)}
	}

	residual := make(map[string]Value, len(snap.Residual))
	for name, raw := range snap.Residual {
		residual[name] = Value{raw: raw}
	}
	if err := m.RestoreResidual(residual); err != nil {
		return &DecodeError{Step: step, Field: "residual", Err: err}
	}

	if err := m.RestoreRNG(snap.RNG); err != nil {
		return &DecodeError{Step: step, Field: "rng", Err: err}
	}

	if err := c.restoreEntities(&snap, m, step); err != nil {
		return err
	}

	if err := m.RestoreMetrics(Value{raw: snap.Metrics}); err != nil {
		return &DecodeError{Step: step, Field: "metrics", Err: err}
	}

	m.SetNextID(snap.NextID)
	return nil
}

func (c *Codec) restoreEntities(snap *Snapshot, m Model, step int) error {
	if err := m.ResetSpace(); err != nil {
		return &DecodeError{Step: step, Field: "entities", Err: fmt.Errorf("resetting space: %w", err)}
	}

	unplaced := 0
	for _, e := range snap.Entities {
		placed, err := m.RestoreEntity(e)
		if err != nil {
			return &DecodeError{Step: step, Field: "entities", Err: fmt.Errorf("entity %d: %w", e.ID, err)}
		}
		if !placed {
			unplaced++
			if c.verbose {
				c.log.Warnf("Entity %d has no valid position %v, left unplaced", e.ID, e.Position)
			}
		}
	}
	if c.verbose {
		c.log.Infof("Restored %d entities at step %d (%d unplaced)", len(snap.Entities), step, unplaced)
	}

	if len(snap.Occupancy) > 0 && c.verbose {
		if occ, ok := m.(Occupier); ok {
			if diff := diffOccupancy(snap.Occupancy, occ.Occupancy()); diff != "" {
				c.log.Warnf("Occupancy after restore differs from recorded occupancy at step %d: %s", step, diff)
			}
		}
	}
	return nil
}

// diffOccupancy returns a description of the first difference between two
// occupancy lists, or "" when they hold the same occupants per cell.
func diffOccupancy(want, got []CellOccupants) string {
	index := func(cells []CellOccupants) map[string][]int {
		out := make(map[string][]int, len(cells))
		for _, cell := range cells {
			if len(cell.IDs) == 0 {
				continue
			}
			ids := slices.Clone(cell.IDs)
			sort.Ints(ids)
			out[fmt.Sprint(cell.Coord)] = ids
		}
		return out
	}
	w, g := index(want), index(got)
	keys := make([]string, 0, len(w)+len(g))
	for k := range w {
		keys = append(keys, k)
	}
	for k := range g {
		if _, ok := w[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !slices.Equal(w[k], g[k]) {
			return fmt.Sprintf("cell %s recorded %v, restored %v", k, w[k], g[k])
		}
	}
	return ""
}
