package cache

// EntitySnapshot is the persisted form of one entity. Relationships to other
// live objects are expressed only through ID and Position; the spatial index
// is rebuilt from Position on restore.
type EntitySnapshot struct {
	ID   int `cbor:"id"`
	Kind int `cbor:"kind"`
	// Position is the entity's cell coordinate, nil when the entity is unplaced.
	Position []int `cbor:"pos,omitempty"`
}

// CellOccupants lists the entity IDs held by one cell. It is redundant with
// EntitySnapshot.Position and is used only to validate a restore.
type CellOccupants struct {
	Coord []int `cbor:"coord"`
	IDs   []int `cbor:"ids"`
}

// Model is the contract a stepped simulation must satisfy to be recorded and
// replayed. The Controller calls Step only in RECORD mode; everything else is
// the state surface read by Encode and written by Decode.
type Model interface {
	Step()
	Running() bool
	SetRunning(running bool)
	StepCount() int

	// RNGState returns the generator's internal state; RestoreRNG must resume
	// the identical sequence of future draws from it.
	RNGState() ([]byte, error)
	RestoreRNG(state []byte) error

	// Entities returns all live entities in a stable order, each reading its
	// position from the cell it currently occupies.
	Entities() []EntitySnapshot
	// ResetSpace discards all entities and rebuilds an empty spatial
	// structure with the configured dimensions.
	ResetSpace() error
	// RestoreEntity recreates an entity with the recorded ID. placed is false
	// when the position is absent or names no cell; that is not an error.
	RestoreEntity(e EntitySnapshot) (placed bool, err error)

	// MetricsState returns the collected metrics. The cache never interprets
	// the value; it is encoded as is and handed back to RestoreMetrics.
	MetricsState() any
	RestoreMetrics(v Value) error

	NextID() int
	SetNextID(id int)

	// ResidualFields returns the remaining scalar state, such as echoed
	// configuration, keyed by field name. Names in ReservedFields are invalid.
	ResidualFields() map[string]any
	RestoreResidual(fields map[string]Value) error
}

// Occupier is implemented by models that can report per-cell occupants. When
// present, the occupant lists are stored alongside the entities and checked
// after restore.
type Occupier interface {
	Occupancy() []CellOccupants
}

// Named is implemented by models that report a name for the cache header.
type Named interface {
	Name() string
}

// ReservedFields are the snapshot fields handled structurally. A model must
// not report a residual field with one of these names.
var ReservedFields = map[string]bool{
	"rng":       true,
	"entities":  true,
	"occupancy": true,
	"metrics":   true,
	"next_id":   true,
	"residual":  true,
	"version":   true,
}
