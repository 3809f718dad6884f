package sim

// Agent is a Schelling agent: a typed occupant of at most one cell.
type Agent struct {
	ID   int
	Type int
	cell *Cell
}

// Cell returns the cell the agent occupies, or nil if it is unplaced.
func (a *Agent) Cell() *Cell { return a.cell }

// MoveTo relocates the agent, updating both the old and new cell.
func (a *Agent) MoveTo(cell *Cell) {
	if a.cell != nil {
		a.cell.remove(a)
	}
	a.cell = cell
	if cell != nil {
		cell.add(a)
	}
}

// step counts same-type neighbors. An unhappy agent moves to a random empty
// cell; a happy one increments the model's happy counter.
func (a *Agent) step(m *Schelling) {
	if a.cell == nil {
		return
	}
	similar := 0
	for _, n := range m.grid.Neighborhood(a.cell, m.cfg.Radius) {
		for _, other := range n.Agents() {
			if other.Type == a.Type {
				similar++
			}
		}
	}
	if similar < m.cfg.Homophily {
		if cell, ok := m.grid.RandomEmptyCell(m.rng.ForSubsystem(SubsystemMovement)); ok {
			a.MoveTo(cell)
		}
		return
	}
	m.happy++
}
