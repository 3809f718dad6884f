package cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// File layout:
//
//	magic "SIMRPLY1"
//	frame*  where frame = kind:u8 | len:u32 BE | crc32(payload):u32 BE | payload
//
// The first frame is the CBOR header. Entry frames follow in step order. A
// finished frame with an empty payload, if present, is the last frame.
const (
	fileMagic = "SIMRPLY1"

	frameHeader   byte = 1
	frameEntry    byte = 2
	frameFinished byte = 3

	frameHeaderLen = 9
	maxFrameLen    = 1 << 30
)

var headerEncMode cbor.EncMode

func init() {
	var err error
	headerEncMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: building header encode mode: %v", err))
	}
	registerBackend(FileBackend{})
}

// FileBackend stores a recording as a single framed, append-only file.
type FileBackend struct{}

func (FileBackend) Name() string { return "file" }

// Sniff also accepts a prefix shorter than the magic, which is what a crash
// during Create leaves behind.
func (FileBackend) Sniff(prefix []byte) bool {
	if len(prefix) < len(fileMagic) {
		return hasPrefix([]byte(fileMagic), string(prefix))
	}
	return hasPrefix(prefix, fileMagic)
}

// Create truncates path and writes the magic and header frame.
func (FileBackend) Create(path string, hdr Header) (Store, error) {
	hdrBytes, err := headerEncMode.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("encoding cache header: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating cache file: %w", err)
	}
	s := &FileStore{f: f}
	buf := append([]byte(fileMagic), frame(frameHeader, hdrBytes)...)
	if err := s.write(buf); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("writing cache header: %w", err)
	}
	return s, nil
}

// ReadAll parses the file at path. A trailing frame cut short by a crash is
// dropped and reported through Recording.Torn.
func (FileBackend) ReadAll(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer func() { _ = f.Close() }()

	rec, err := readFrames(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rec.Path = path
	rec.Backend = "file"
	return rec, nil
}

func readFrames(r io.Reader) (*Recording, error) {
	magic := make([]byte, len(fileMagic))
	n, err := io.ReadFull(r, magic)
	if errors.Is(err, io.ErrUnexpectedEOF) && fileMagic[:n] == string(magic[:n]) {
		return nil, fmt.Errorf("%w: truncated signature", ErrNoSteps)
	}
	if err != nil || string(magic) != fileMagic {
		return nil, ErrNotCache
	}

	rec := &Recording{Entries: make([][]byte, 0)}
	sawHeader := false
	for {
		kind, payload, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if !sawHeader {
				return nil, fmt.Errorf("%w: truncated header", ErrNoSteps)
			}
			rec.Torn = true
			break
		}
		if err != nil {
			return nil, err
		}

		if rec.Finished {
			return nil, fmt.Errorf("%w: frame after finished marker", ErrCorruptCache)
		}
		switch {
		case kind == frameHeader && !sawHeader:
			if err := decMode.Unmarshal(payload, &rec.Header); err != nil {
				return nil, fmt.Errorf("%w: header: %v", ErrCorruptCache, err)
			}
			sawHeader = true
		case !sawHeader:
			return nil, fmt.Errorf("%w: missing header", ErrCorruptCache)
		case kind == frameEntry:
			rec.Entries = append(rec.Entries, payload)
		case kind == frameFinished:
			rec.Finished = true
		default:
			return nil, fmt.Errorf("%w: unexpected frame kind %d", ErrCorruptCache, kind)
		}
	}
	if !sawHeader {
		return nil, fmt.Errorf("%w: missing header", ErrNoSteps)
	}
	if rec.Header.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrCorruptCache, rec.Header.FormatVersion, FormatVersion)
	}
	return rec, nil
}

// readFrame returns io.EOF at a clean frame boundary and
// io.ErrUnexpectedEOF for a partially written frame.
func readFrame(r io.Reader) (byte, []byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:5])
	sum := binary.BigEndian.Uint32(hdr[5:9])
	if n > maxFrameLen {
		return 0, nil, fmt.Errorf("%w: frame length %d exceeds limit", ErrCorruptCache, n)
	}
	// The length is untrusted until the payload is read; grow with the data.
	payload, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return 0, nil, err
	}
	if uint32(len(payload)) < n {
		return 0, nil, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptCache)
	}
	return hdr[0], payload, nil
}

func frame(kind byte, payload []byte) []byte {
	buf := make([]byte, frameHeaderLen, frameHeaderLen+len(payload))
	buf[0] = kind
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[5:9], crc32.ChecksumIEEE(payload))
	return append(buf, payload...)
}

// FileStore appends frames to an open cache file. Each write is followed by
// fsync. After a failed write the store refuses further appends, since the
// file may end in a partial frame.
type FileStore struct {
	f        *os.File
	n        int
	finished bool
	err      error
}

func (s *FileStore) write(buf []byte) error {
	if _, err := s.f.Write(buf); err != nil {
		s.err = err
		return err
	}
	if err := s.f.Sync(); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *FileStore) usable() error {
	if s.f == nil {
		return ErrStoreClosed
	}
	if s.err != nil {
		return fmt.Errorf("%w: earlier write failed: %v", ErrStoreClosed, s.err)
	}
	return nil
}

// Append writes the entry for step, which must equal Len().
func (s *FileStore) Append(step int, payload []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.finished {
		return ErrFinished
	}
	if step != s.n {
		return fmt.Errorf("%w: got %d, want %d", ErrNonContiguous, step, s.n)
	}
	if err := s.write(frame(frameEntry, payload)); err != nil {
		return fmt.Errorf("appending step %d: %w", step, err)
	}
	s.n++
	return nil
}

// MarkFinished writes the finished marker. Repeated calls are no-ops.
func (s *FileStore) MarkFinished() error {
	if s.finished {
		return nil
	}
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.write(frame(frameFinished, nil)); err != nil {
		return fmt.Errorf("writing finished marker: %w", err)
	}
	s.finished = true
	return nil
}

func (s *FileStore) Len() int { return s.n }

func (s *FileStore) Finished() bool { return s.finished }

func (s *FileStore) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
