package sim

import (
	"slices"
)

// Model variable names recorded every step.
const (
	VarHappy       = "happy"
	VarPctHappy    = "pct_happy"
	VarPopulation  = "population"
	VarMinorityPct = "minority_pct"
)

var modelVarNames = []string{VarHappy, VarPctHappy, VarPopulation, VarMinorityPct}

// AgentRecord is one agent's reported values at one step.
type AgentRecord struct {
	Step      int `cbor:"step"`
	AgentID   int `cbor:"agent_id"`
	AgentType int `cbor:"agent_type"`
}

// DataCollector accumulates model-level time series and per-agent records.
// Collect appends; nothing is ever rewritten in place.
type DataCollector struct {
	ModelVars    map[string][]float64 `cbor:"model_vars"`
	AgentRecords []AgentRecord        `cbor:"agent_records"`
}

// NewDataCollector returns an empty collector.
func NewDataCollector() *DataCollector {
	dc := &DataCollector{
		ModelVars:    make(map[string][]float64, len(modelVarNames)),
		AgentRecords: make([]AgentRecord, 0),
	}
	for _, name := range modelVarNames {
		dc.ModelVars[name] = make([]float64, 0)
	}
	return dc
}

// Collect records the model's current values.
func (dc *DataCollector) Collect(m *Schelling) {
	pop := len(m.order)
	minority := 0
	for _, a := range m.order {
		if a.Type == 1 {
			minority++
		}
		dc.AgentRecords = append(dc.AgentRecords, AgentRecord{Step: m.steps, AgentID: a.ID, AgentType: a.Type})
	}
	pctHappy, minorityPct := 0.0, 0.0
	if pop > 0 {
		pctHappy = float64(m.happy) / float64(pop) * 100
		minorityPct = float64(minority) / float64(pop) * 100
	}
	dc.ModelVars[VarHappy] = append(dc.ModelVars[VarHappy], float64(m.happy))
	dc.ModelVars[VarPctHappy] = append(dc.ModelVars[VarPctHappy], pctHappy)
	dc.ModelVars[VarPopulation] = append(dc.ModelVars[VarPopulation], float64(pop))
	dc.ModelVars[VarMinorityPct] = append(dc.ModelVars[VarMinorityPct], minorityPct)
}

// Series returns the recorded values of a model variable.
func (dc *DataCollector) Series(name string) []float64 {
	return dc.ModelVars[name]
}

// Clone copies the collector's series and records.
func (dc *DataCollector) Clone() *DataCollector {
	out := &DataCollector{
		ModelVars:    make(map[string][]float64, len(dc.ModelVars)),
		AgentRecords: slices.Clone(dc.AgentRecords),
	}
	for name, series := range dc.ModelVars {
		out.ModelVars[name] = slices.Clone(series)
	}
	return out
}
