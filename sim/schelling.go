package sim

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// Config holds the Schelling model parameters.
type Config struct {
	Width      int     `yaml:"width" env:"WIDTH"`
	Height     int     `yaml:"height" env:"HEIGHT"`
	Density    float64 `yaml:"density" env:"DENSITY"`
	MinorityPC float64 `yaml:"minority_pc" env:"MINORITY_PC"`
	Homophily  int     `yaml:"homophily" env:"HOMOPHILY"`
	Radius     int     `yaml:"radius" env:"RADIUS"`
	Seed       int64   `yaml:"seed" env:"SEED"`
}

// DefaultConfig returns the standard 20x20 configuration.
func DefaultConfig() Config {
	return Config{
		Width:      20,
		Height:     20,
		Density:    0.8,
		MinorityPC: 0.2,
		Homophily:  3,
		Radius:     1,
		Seed:       42,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Density < 0 || c.Density > 1 {
		return fmt.Errorf("density must be in [0, 1], got %f", c.Density)
	}
	if c.MinorityPC < 0 || c.MinorityPC > 1 {
		return fmt.Errorf("minority_pc must be in [0, 1], got %f", c.MinorityPC)
	}
	if c.Homophily < 0 {
		return fmt.Errorf("homophily must be non-negative, got %d", c.Homophily)
	}
	if c.Radius < 1 {
		return fmt.Errorf("radius must be at least 1, got %d", c.Radius)
	}
	return nil
}

// Schelling is the Schelling segregation model on a torus grid. Each step,
// every agent in random order counts same-type neighbors; agents with fewer
// than Homophily similar neighbors move to a random empty cell. The model
// stops once every agent is happy.
type Schelling struct {
	cfg       Config
	rng       *PartitionedRNG
	grid      *Grid
	agents    map[int]*Agent
	order     []*Agent // insertion order
	nextID    int
	happy     int
	running   bool
	steps     int
	collector *DataCollector
}

// NewSchelling builds the model and places the initial population: each cell
// is occupied with probability Density, by a minority agent with probability
// MinorityPC.
func NewSchelling(cfg Config) (*Schelling, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Schelling{
		cfg:       cfg,
		rng:       NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
		grid:      NewGrid(cfg.Width, cfg.Height, true),
		agents:    make(map[int]*Agent),
		nextID:    1,
		running:   true,
		collector: NewDataCollector(),
	}

	placement := s.rng.ForSubsystem(SubsystemPlacement)
	for _, cell := range s.grid.AllCells() {
		if placement.Float64() < cfg.Density {
			agentType := 0
			if placement.Float64() < cfg.MinorityPC {
				agentType = 1
			}
			a := s.addAgent(s.nextID, agentType)
			s.nextID++
			a.MoveTo(cell)
		}
	}
	s.collector.Collect(s)
	logrus.Debugf("Schelling model created: %dx%d grid, %d agents", cfg.Width, cfg.Height, len(s.order))
	return s, nil
}

func (s *Schelling) addAgent(id, agentType int) *Agent {
	a := &Agent{ID: id, Type: agentType}
	s.agents[id] = a
	s.order = append(s.order, a)
	return a
}

// Step runs one round of agent activations and collects data.
func (s *Schelling) Step() {
	s.steps++
	s.happy = 0

	activation := slices.Clone(s.order)
	schedule := s.rng.ForSubsystem(SubsystemSchedule)
	schedule.Shuffle(len(activation), func(i, j int) {
		activation[i], activation[j] = activation[j], activation[i]
	})
	for _, a := range activation {
		a.step(s)
	}

	s.collector.Collect(s)
	s.running = s.happy < len(s.order)
}

// Name identifies the model in cache headers.
func (s *Schelling) Name() string { return "schelling" }

func (s *Schelling) Running() bool { return s.running }

func (s *Schelling) SetRunning(running bool) { s.running = running }

func (s *Schelling) StepCount() int { return s.steps }

// Config returns the model parameters.
func (s *Schelling) Config() Config { return s.cfg }

// Happy returns the number of agents happy in the last step.
func (s *Schelling) Happy() int { return s.happy }

// Population returns the number of agents.
func (s *Schelling) Population() int { return len(s.order) }

// Agents returns the agents in insertion order. The slice must not be modified.
func (s *Schelling) Agents() []*Agent { return s.order }

// Agent returns the agent with the given ID.
func (s *Schelling) Agent(id int) (*Agent, bool) {
	a, ok := s.agents[id]
	return a, ok
}

// Grid returns the spatial structure.
func (s *Schelling) Grid() *Grid { return s.grid }

// Collector returns the data collector.
func (s *Schelling) Collector() *DataCollector { return s.collector }
