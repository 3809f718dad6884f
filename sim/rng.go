package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemPlacement is the RNG subsystem for initial agent placement.
	// Uses master seed directly.
	SubsystemPlacement = "placement"

	// SubsystemSchedule is the RNG subsystem for the per-step activation order.
	SubsystemSchedule = "schedule"

	// SubsystemMovement is the RNG subsystem for choosing relocation cells.
	SubsystemMovement = "movement"
)

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - For SubsystemPlacement: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Each subsystem is backed by a PCG source, whose state can be captured with
// MarshalBinary and resumed with UnmarshalBinary.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	sources    map[string]*rand.PCG
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		sources:    make(map[string]*rand.PCG),
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derivedSeed int64
	if name == SubsystemPlacement {
		derivedSeed = int64(p.key)
	} else {
		derivedSeed = int64(p.key) ^ fnv1a64(name)
	}

	src := rand.NewPCG(uint64(derivedSeed), uint64(fnv1a64(name)))
	return p.install(name, src)
}

func (p *PartitionedRNG) install(name string, src *rand.PCG) *rand.Rand {
	rng := rand.New(src)
	p.sources[name] = src
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// rngState is the encoded form of a PartitionedRNG. Subsystems are sorted
// by name so equal states encode to equal bytes.
type rngState struct {
	Key        int64            `cbor:"key"`
	Subsystems []subsystemState `cbor:"subsystems"`
}

type subsystemState struct {
	Name string `cbor:"name"`
	PCG  []byte `cbor:"pcg"`
}

// MarshalBinary captures the key and the state of every subsystem drawn
// from so far.
func (p *PartitionedRNG) MarshalBinary() ([]byte, error) {
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	st := rngState{Key: int64(p.key), Subsystems: make([]subsystemState, 0, len(names))}
	for _, name := range names {
		b, err := p.sources[name].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshaling %s rng: %w", name, err)
		}
		st.Subsystems = append(st.Subsystems, subsystemState{Name: name, PCG: b})
	}
	return cbor.Marshal(st)
}

// UnmarshalBinary replaces the key and all subsystem states. Subsystems not
// present in data are discarded and re-derived from the key on next use.
func (p *PartitionedRNG) UnmarshalBinary(data []byte) error {
	var st rngState
	if err := cbor.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decoding rng state: %w", err)
	}
	p.key = SimulationKey(st.Key)
	p.sources = make(map[string]*rand.PCG, len(st.Subsystems))
	p.subsystems = make(map[string]*rand.Rand, len(st.Subsystems))
	for _, sub := range st.Subsystems {
		src := &rand.PCG{}
		if err := src.UnmarshalBinary(sub.PCG); err != nil {
			return fmt.Errorf("restoring %s rng: %w", sub.Name, err)
		}
		p.install(sub.Name, src)
	}
	return nil
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
