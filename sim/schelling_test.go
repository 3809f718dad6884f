package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/sim-replay/sim/internal/testutil"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero width", func(c *Config) { c.Width = 0 }, true},
		{"negative height", func(c *Config) { c.Height = -1 }, true},
		{"density above one", func(c *Config) { c.Density = 1.5 }, true},
		{"negative minority", func(c *Config) { c.MinorityPC = -0.1 }, true},
		{"negative homophily", func(c *Config) { c.Homophily = -1 }, true},
		{"zero radius", func(c *Config) { c.Radius = 0 }, true},
		{"empty grid allowed", func(c *Config) { c.Density = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSchelling_SameSeedSamePopulation(t *testing.T) {
	a, err := NewSchelling(smallConfig())
	require.NoError(t, err)
	b, err := NewSchelling(smallConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Entities(), b.Entities())
	assert.Greater(t, a.Population(), 0)
	assert.Equal(t, a.Population()+1, a.NextID())
	assert.True(t, a.Running())
	assert.Equal(t, 0, a.StepCount())
}

func TestNewSchelling_OneAgentPerCell(t *testing.T) {
	s, err := NewSchelling(smallConfig())
	require.NoError(t, err)
	for _, cell := range s.Grid().AllCells() {
		assert.LessOrEqual(t, len(cell.Agents()), 1)
	}
	for _, a := range s.Agents() {
		require.NotNil(t, a.Cell())
		assert.Contains(t, a.Cell().Agents(), a)
	}
}

func TestSchelling_Step_DeterministicForSeed(t *testing.T) {
	a, err := NewSchelling(smallConfig())
	require.NoError(t, err)
	b, err := NewSchelling(smallConfig())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		a.Step()
		b.Step()
		require.Equal(t, a.Entities(), b.Entities(), "step %d", i+1)
	}
	assert.Equal(t, a.Collector().ModelVars, b.Collector().ModelVars)
}

func TestSchelling_Step_StopsWhenEveryoneIsHappy(t *testing.T) {
	// GIVEN agents that are satisfied with any neighborhood
	cfg := smallConfig()
	cfg.Homophily = 0
	s, err := NewSchelling(cfg)
	require.NoError(t, err)
	before := s.Entities()

	// WHEN stepped once
	s.Step()

	// THEN nobody moved and the model stopped
	assert.False(t, s.Running())
	assert.Equal(t, s.Population(), s.Happy())
	assert.Equal(t, before, s.Entities())
}

func TestSchelling_Step_CollectsEveryStep(t *testing.T) {
	s, err := NewSchelling(smallConfig())
	require.NoError(t, err)
	require.Len(t, s.Collector().Series(VarHappy), 1, "initial state is collected")

	s.Step()
	s.Step()

	for _, name := range []string{VarHappy, VarPctHappy, VarPopulation, VarMinorityPct} {
		assert.Len(t, s.Collector().Series(name), 3, name)
	}
	pop := s.Collector().Series(VarPopulation)
	assert.Equal(t, float64(s.Population()), pop[2])
	wantPct := float64(s.Happy()) / float64(s.Population()) * 100
	testutil.AssertFloat64Equal(t, "pct_happy", wantPct, s.Collector().Series(VarPctHappy)[2], 1e-12)
	assert.Len(t, s.Collector().AgentRecords, 3*s.Population())
}

func TestDataCollector_Clone_IsIndependent(t *testing.T) {
	s, err := NewSchelling(smallConfig())
	require.NoError(t, err)
	clone := s.Collector().Clone()
	s.Step()

	assert.Len(t, clone.Series(VarHappy), 1)
	assert.Len(t, s.Collector().Series(VarHappy), 2)
}

func TestNewSchelling_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Radius = 0
	_, err := NewSchelling(cfg)
	assert.Error(t, err)
}
