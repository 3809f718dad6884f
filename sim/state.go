package sim

import (
	"fmt"

	"github.com/inference-sim/sim-replay/sim/cache"
)

var _ cache.Model = (*Schelling)(nil)
var _ cache.Occupier = (*Schelling)(nil)

// RNGState returns the serialized state of every RNG partition.
func (s *Schelling) RNGState() ([]byte, error) {
	return s.rng.MarshalBinary()
}

// RestoreRNG replaces the model RNG with one decoded from state.
func (s *Schelling) RestoreRNG(state []byte) error {
	rng := NewPartitionedRNG(0)
	if err := rng.UnmarshalBinary(state); err != nil {
		return err
	}
	s.rng = rng
	return nil
}

// Entities reports agents in insertion order with the coordinate of the cell
// each one occupies.
func (s *Schelling) Entities() []cache.EntitySnapshot {
	out := make([]cache.EntitySnapshot, 0, len(s.order))
	for _, a := range s.order {
		e := cache.EntitySnapshot{ID: a.ID, Kind: a.Type}
		if a.cell != nil {
			e.Position = []int{a.cell.Coord.X, a.cell.Coord.Y}
		}
		out = append(out, e)
	}
	return out
}

// Occupancy lists occupant IDs for every non-empty cell, in grid order.
func (s *Schelling) Occupancy() []cache.CellOccupants {
	out := make([]cache.CellOccupants, 0)
	for _, cell := range s.grid.AllCells() {
		if cell.IsEmpty() {
			continue
		}
		ids := make([]int, 0, len(cell.agents))
		for _, a := range cell.agents {
			ids = append(ids, a.ID)
		}
		out = append(out, cache.CellOccupants{Coord: []int{cell.Coord.X, cell.Coord.Y}, IDs: ids})
	}
	return out
}

// ResetSpace drops every agent and rebuilds an empty grid from the current
// configuration.
func (s *Schelling) ResetSpace() error {
	if s.cfg.Width <= 0 || s.cfg.Height <= 0 {
		return fmt.Errorf("invalid grid dimensions %dx%d", s.cfg.Width, s.cfg.Height)
	}
	s.grid = NewGrid(s.cfg.Width, s.cfg.Height, true)
	clear(s.agents)
	s.order = make([]*Agent, 0)
	return nil
}

// RestoreEntity adds an agent with the snapshot's id and type. It reports
// false for an agent left off the grid because its position is missing or
// out of bounds.
func (s *Schelling) RestoreEntity(e cache.EntitySnapshot) (bool, error) {
	if _, exists := s.agents[e.ID]; exists {
		return false, fmt.Errorf("duplicate agent id %d", e.ID)
	}
	a := s.addAgent(e.ID, e.Kind)
	if len(e.Position) != 2 {
		return false, nil
	}
	cell, ok := s.grid.Cell(Coord{X: e.Position[0], Y: e.Position[1]})
	if !ok {
		return false, nil
	}
	a.MoveTo(cell)
	return true, nil
}

// MetricsState returns a copy of the data collector.
func (s *Schelling) MetricsState() any {
	return s.collector.Clone()
}

// RestoreMetrics replaces the collector wholesale; nothing is merged.
func (s *Schelling) RestoreMetrics(v cache.Value) error {
	if v.IsNull() {
		s.collector = NewDataCollector()
		return nil
	}
	dc := &DataCollector{}
	if err := v.Decode(dc); err != nil {
		return err
	}
	if dc.ModelVars == nil {
		dc.ModelVars = make(map[string][]float64)
	}
	s.collector = dc
	return nil
}

// NextID is the id the next new agent will get.
func (s *Schelling) NextID() int { return s.nextID }

// SetNextID sets the id counter.
func (s *Schelling) SetNextID(id int) { s.nextID = id }

// residualFields maps residual field names to the fields that hold them.
func (s *Schelling) residualFields() map[string]any {
	return map[string]any{
		"width":       &s.cfg.Width,
		"height":      &s.cfg.Height,
		"density":     &s.cfg.Density,
		"minority_pc": &s.cfg.MinorityPC,
		"homophily":   &s.cfg.Homophily,
		"radius":      &s.cfg.Radius,
		"seed":        &s.cfg.Seed,
		"happy":       &s.happy,
		"running":     &s.running,
		"steps":       &s.steps,
	}
}

// ResidualFields reports the configuration and counters that are not part of
// the grid or collector, keyed by name.
func (s *Schelling) ResidualFields() map[string]any {
	return s.residualFields()
}

// RestoreResidual requires exactly the fields ResidualFields reports.
func (s *Schelling) RestoreResidual(fields map[string]cache.Value) error {
	targets := s.residualFields()
	for name, v := range fields {
		dst, ok := targets[name]
		if !ok {
			return fmt.Errorf("unknown residual field %q", name)
		}
		if err := v.Decode(dst); err != nil {
			return fmt.Errorf("residual field %q: %w", name, err)
		}
	}
	for name := range targets {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("missing residual field %q", name)
		}
	}
	return nil
}
