package cache

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// fakeModel is a small Model: entities walk along a ring of width cells,
// one random hop per step, and the metric sums positions.
type fakeModel struct {
	width     int
	rng       *rand.PCG
	draw      *rand.Rand
	entities  []EntitySnapshot
	cells     map[int][]int
	metrics   *fakeMetrics
	nextID    int
	running   bool
	steps     int
	label     string
	stopAfter int // running turns false after this many steps; 0 = never

	stepCalls int
	rngErr    error // returned by RNGState when set
}

type fakeMetrics struct {
	Sums []int `cbor:"sums"`
}

func newFakeModel(numEntities, width int, seed uint64) *fakeModel {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	m := &fakeModel{
		width:   width,
		rng:     src,
		draw:    rand.New(src),
		cells:   make(map[int][]int),
		metrics: &fakeMetrics{Sums: []int{}},
		nextID:  1,
		running: true,
		label:   "fake",
	}
	for i := 0; i < numEntities; i++ {
		pos := i % width
		m.entities = append(m.entities, EntitySnapshot{ID: m.nextID, Kind: i % 2, Position: []int{pos}})
		m.cells[pos] = append(m.cells[pos], m.nextID)
		m.nextID++
	}
	return m
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) Step() {
	m.stepCalls++
	m.steps++
	m.cells = make(map[int][]int)
	sum := 0
	for i := range m.entities {
		e := &m.entities[i]
		pos := (e.Position[0] + 1 + m.draw.IntN(3)) % m.width
		e.Position = []int{pos}
		m.cells[pos] = append(m.cells[pos], e.ID)
		sum += pos
	}
	m.metrics.Sums = append(m.metrics.Sums, sum)
	if m.stopAfter > 0 && m.steps >= m.stopAfter {
		m.running = false
	}
}

func (m *fakeModel) Running() bool           { return m.running }
func (m *fakeModel) SetRunning(running bool) { m.running = running }
func (m *fakeModel) StepCount() int          { return m.steps }

func (m *fakeModel) RNGState() ([]byte, error) {
	if m.rngErr != nil {
		return nil, m.rngErr
	}
	return m.rng.MarshalBinary()
}

func (m *fakeModel) RestoreRNG(state []byte) error {
	src := &rand.PCG{}
	if err := src.UnmarshalBinary(state); err != nil {
		return err
	}
	m.rng = src
	m.draw = rand.New(src)
	return nil
}

func (m *fakeModel) Entities() []EntitySnapshot {
	out := make([]EntitySnapshot, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, EntitySnapshot{ID: e.ID, Kind: e.Kind, Position: slices.Clone(e.Position)})
	}
	return out
}

func (m *fakeModel) Occupancy() []CellOccupants {
	out := make([]CellOccupants, 0)
	for pos := 0; pos < m.width; pos++ {
		if ids := m.cells[pos]; len(ids) > 0 {
			out = append(out, CellOccupants{Coord: []int{pos}, IDs: slices.Clone(ids)})
		}
	}
	return out
}

func (m *fakeModel) ResetSpace() error {
	m.entities = nil
	m.cells = make(map[int][]int)
	return nil
}

func (m *fakeModel) RestoreEntity(e EntitySnapshot) (bool, error) {
	for _, existing := range m.entities {
		if existing.ID == e.ID {
			return false, fmt.Errorf("duplicate entity id %d", e.ID)
		}
	}
	placed := len(e.Position) == 1 && e.Position[0] >= 0 && e.Position[0] < m.width
	if !placed {
		e.Position = nil
	}
	m.entities = append(m.entities, e)
	if placed {
		m.cells[e.Position[0]] = append(m.cells[e.Position[0]], e.ID)
	}
	return placed, nil
}

func (m *fakeModel) MetricsState() any {
	return &fakeMetrics{Sums: slices.Clone(m.metrics.Sums)}
}

func (m *fakeModel) RestoreMetrics(v Value) error {
	fm := &fakeMetrics{}
	if err := v.Decode(fm); err != nil {
		return err
	}
	m.metrics = fm
	return nil
}

func (m *fakeModel) NextID() int      { return m.nextID }
func (m *fakeModel) SetNextID(id int) { m.nextID = id }

func (m *fakeModel) ResidualFields() map[string]any {
	return map[string]any{"steps": m.steps, "running": m.running, "label": m.label, "width": m.width}
}

func (m *fakeModel) RestoreResidual(fields map[string]Value) error {
	targets := map[string]any{"steps": &m.steps, "running": &m.running, "label": &m.label, "width": &m.width}
	for name, v := range fields {
		dst, ok := targets[name]
		if !ok {
			return fmt.Errorf("unknown residual field %q", name)
		}
		if err := v.Decode(dst); err != nil {
			return err
		}
	}
	return nil
}

// positions returns entity ID to position for comparisons.
func (m *fakeModel) positions() map[int][]int {
	out := make(map[int][]int, len(m.entities))
	for _, e := range m.entities {
		out[e.ID] = slices.Clone(e.Position)
	}
	return out
}
