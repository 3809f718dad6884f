package sim

import (
	"math/rand/v2"
)

// Coord is a cell coordinate on the grid.
type Coord struct {
	X, Y int
}

// Cell is one grid location and the agents it currently holds. Agents and
// cells reference each other; Agent.MoveTo keeps both directions in sync.
type Cell struct {
	Coord  Coord
	agents []*Agent
}

// Agents returns the agents in the cell. The slice must not be modified.
func (c *Cell) Agents() []*Agent { return c.agents }

// IsEmpty reports whether the cell holds no agents.
func (c *Cell) IsEmpty() bool { return len(c.agents) == 0 }

func (c *Cell) add(a *Agent) {
	c.agents = append(c.agents, a)
}

func (c *Cell) remove(a *Agent) {
	for i, other := range c.agents {
		if other == a {
			c.agents = append(c.agents[:i], c.agents[i+1:]...)
			return
		}
	}
}

// Grid is a rectangular grid with a Moore neighborhood. Cells are
// stored in x-major order, which is also the iteration order of AllCells.
type Grid struct {
	Width  int
	Height int
	Torus  bool
	cells  []*Cell
}

// NewGrid creates an empty width x height grid.
func NewGrid(width, height int, torus bool) *Grid {
	g := &Grid{Width: width, Height: height, Torus: torus, cells: make([]*Cell, 0, width*height)}
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			g.cells = append(g.cells, &Cell{Coord: Coord{X: x, Y: y}})
		}
	}
	return g
}

// Cell returns the cell at c, or false if c is outside the grid.
func (g *Grid) Cell(c Coord) (*Cell, bool) {
	if c.X < 0 || c.X >= g.Width || c.Y < 0 || c.Y >= g.Height {
		return nil, false
	}
	return g.cells[c.X*g.Height+c.Y], true
}

// AllCells returns every cell in x-major order.
func (g *Grid) AllCells() []*Cell { return g.cells }

// Neighborhood returns the distinct cells within Chebyshev distance radius of
// cell, excluding cell itself. On a torus, coordinates wrap.
func (g *Grid) Neighborhood(cell *Cell, radius int) []*Cell {
	seen := make(map[Coord]bool)
	out := make([]*Cell, 0, (2*radius+1)*(2*radius+1)-1)
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			c := Coord{X: cell.Coord.X + dx, Y: cell.Coord.Y + dy}
			if g.Torus {
				c.X = mod(c.X, g.Width)
				c.Y = mod(c.Y, g.Height)
			}
			n, ok := g.Cell(c)
			if !ok || n == cell || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, n)
		}
	}
	return out
}

// RandomEmptyCell picks uniformly among empty cells. Returns false if the
// grid is full.
func (g *Grid) RandomEmptyCell(rng *rand.Rand) (*Cell, bool) {
	empty := make([]*Cell, 0)
	for _, c := range g.cells {
		if c.IsEmpty() {
			empty = append(empty, c)
		}
	}
	if len(empty) == 0 {
		return nil, false
	}
	return empty[rng.IntN(len(empty))], true
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
