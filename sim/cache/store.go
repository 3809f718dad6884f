package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
)

// FormatVersion is the on-disk layout version shared by all backends.
const FormatVersion = 1

// Header identifies one recording.
type Header struct {
	FormatVersion int       `cbor:"format_version"`
	RunID         string    `cbor:"run_id"`
	Model         string    `cbor:"model,omitempty"`
	CreatedAt     time.Time `cbor:"created_at"`
}

// NewHeader returns a header for a fresh recording of the named model.
func NewHeader(model string) Header {
	return Header{
		FormatVersion: FormatVersion,
		RunID:         uuid.NewString(),
		Model:         model,
		CreatedAt:     time.Now().UTC(),
	}
}

// Recording is the full contents of a cache file, materialized in step order.
type Recording struct {
	Path     string
	Backend  string
	Header   Header
	Entries  [][]byte
	Finished bool
	// Torn is set when a trailing, partially written entry was discarded.
	Torn bool
}

// Len returns the number of replayable steps.
func (r *Recording) Len() int { return len(r.Entries) }

// Store is an append-only writer for one recording. Append must be durable
// before it returns, so a crash leaves every earlier entry readable.
type Store interface {
	Append(step int, payload []byte) error
	MarkFinished() error
	Len() int
	Finished() bool
	Close() error
}

// Backend creates and reads cache files of one on-disk format.
type Backend interface {
	Name() string
	// Create truncates or creates the file at path and writes the header.
	Create(path string, hdr Header) (Store, error)
	// ReadAll reads the whole recording at path.
	ReadAll(path string) (*Recording, error)
	// Sniff reports whether prefix is the start of a file in this format.
	Sniff(prefix []byte) bool
}

var backends = map[string]Backend{}

func registerBackend(b Backend) {
	backends[b.Name()] = b
}

// DefaultBackend is the backend used when none is configured.
const DefaultBackend = "file"

// LookupBackend returns the backend registered under name. An empty name
// selects DefaultBackend.
func LookupBackend(name string) (Backend, error) {
	if name == "" {
		name = DefaultBackend
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown cache backend %q (valid: %v)", name, BackendNames())
	}
	return b, nil
}

// BackendNames lists the registered backend names in sorted order.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsValidBackend reports whether name selects a registered backend.
func IsValidBackend(name string) bool {
	_, err := LookupBackend(name)
	return err == nil
}

// Exists reports whether path names a regular file that can be opened for
// reading.
func Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// sniffLen is the longest signature any backend needs.
const sniffLen = 16

// errEmptyFile is returned by DetectBackend for a zero-length file.
var errEmptyFile = errors.New("cache file is empty")

// DetectBackend returns the backend that wrote the file at path.
func DetectBackend(path string) (Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer func() { _ = f.Close() }()

	prefix := make([]byte, sniffLen)
	n, err := io.ReadFull(f, prefix)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading cache signature: %w", err)
	}
	if n == 0 {
		return nil, errEmptyFile
	}
	prefix = prefix[:n]
	for _, name := range BackendNames() {
		if b := backends[name]; b.Sniff(prefix) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNotCache)
}

// Open detects the backend of the file at path and reads the recording.
func Open(path string) (*Recording, error) {
	b, err := DetectBackend(path)
	if err != nil {
		return nil, err
	}
	return b.ReadAll(path)
}

func hasPrefix(prefix []byte, magic string) bool {
	return bytes.HasPrefix(prefix, []byte(magic))
}
