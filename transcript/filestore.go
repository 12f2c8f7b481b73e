package transcript

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var fileMagic = [8]byte{'T', 'A', 'U', 'S', 'E', 'Q', '0', '1'}

// sealMarker is the length prefix that marks the end of a sealed file.
const sealMarker = ^uint32(0)

type fileHeader struct {
	NumG1 int `cbor:"1,keyasint"`
	NumG2 int `cbor:"2,keyasint"`
}

type recordEnvelope struct {
	Sequence   uint64 `cbor:"1,keyasint"`
	IdentityID string `cbor:"2,keyasint"`
	AcceptedAt int64  `cbor:"3,keyasint"` // unix nanoseconds
}

// FileStore is the file-backed Store. Every Append is fsynced before it
// returns.
type FileStore struct {
	path   string
	f      *os.File
	nG1    int
	nG2    int
	next   uint64
	sealed bool
}

// Create initializes a new transcript file for a ceremony over nG1 G₁
// powers and nG2 G₂ powers. It fails if the file already exists.
func Create(path string, nG1, nG2 int) (*FileStore, error) {
	if nG1 < 2 || nG2 < 2 {
		return nil, &StorageError{Op: "create", Err: errors.New("need at least two powers per group")}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "create", Err: err}
	}

	hdr, err := cbor.Marshal(fileHeader{NumG1: nG1, NumG2: nG2})
	if err != nil {
		f.Close()
		return nil, &StorageError{Op: "create", Err: err}
	}

	var buf bytes.Buffer
	buf.Write(fileMagic[:])
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(hdr)))
	buf.Write(lenPrefix[:])
	buf.Write(hdr)

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return nil, &StorageError{Op: "create", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, &StorageError{Op: "create", Err: err}
	}
	return &FileStore{path: path, f: f, nG1: nG1, nG2: nG2, next: 1}, nil
}

// Open resumes an existing transcript file, scanning it to find the
// next sequence number and whether it has been sealed.
func Open(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	s := &FileStore{path: path, f: f}
	if err := s.scan(func(*Record) {}); err != nil {
		f.Close()
		return nil, err
	}
	// leave the write offset at the end of the file
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}
	return s, nil
}

// Params returns the SRS dimensions recorded in the file header.
func (s *FileStore) Params() (nG1, nG2 int) { return s.nG1, s.nG2 }

func (s *FileStore) Close() error { return s.f.Close() }

// scan reads the whole file from the start, calling visit for every
// record, and updates the store's header fields and seal state.
func (s *FileStore) scan(visit func(*Record)) error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return &StorageError{Op: "scan", Err: err}
	}

	var magic [8]byte
	if _, err := io.ReadFull(s.f, magic[:]); err != nil {
		return &StorageError{Op: "scan", Err: err}
	}
	if magic != fileMagic {
		return &StorageError{Op: "scan", Err: errors.New("not a transcript file")}
	}

	var hdr fileHeader
	blob, err := readPrefixed(s.f)
	if err != nil {
		return &StorageError{Op: "scan", Err: err}
	}
	if err := cbor.Unmarshal(blob, &hdr); err != nil {
		return &StorageError{Op: "scan", Err: err}
	}
	s.nG1, s.nG2 = hdr.NumG1, hdr.NumG2

	s.next = 1
	s.sealed = false
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(s.f, lenPrefix[:]); err == io.EOF {
			return nil
		} else if err != nil {
			return &StorageError{Op: "scan", Err: err}
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		if n == sealMarker {
			s.sealed = true
			return nil
		}

		env := make([]byte, n)
		if _, err := io.ReadFull(s.f, env); err != nil {
			return &StorageError{Op: "scan", Err: err}
		}
		var re recordEnvelope
		if err := cbor.Unmarshal(env, &re); err != nil {
			return &StorageError{Op: "scan", Err: err}
		}
		if re.Sequence != s.next {
			return &StorageError{Op: "scan", Err: fmt.Errorf("sequence %d out of order, want %d", re.Sequence, s.next)}
		}

		rec := Record{
			Sequence:   re.Sequence,
			IdentityID: re.IdentityID,
			AcceptedAt: time.Unix(0, re.AcceptedAt).UTC(),
		}
		if _, err := rec.Contribution.ReadFrom(s.f); err != nil {
			return &StorageError{Op: "scan", Err: err}
		}
		visit(&rec)
		s.next = re.Sequence + 1
	}
}

func readPrefixed(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	blob := make([]byte, binary.BigEndian.Uint32(lenPrefix[:]))
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *FileStore) Append(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	if s.sealed {
		return &StorageError{Op: "append", Err: ErrSealed}
	}
	if r.Sequence != s.next {
		return &StorageError{Op: "append", Err: fmt.Errorf("sequence %d out of order, want %d", r.Sequence, s.next)}
	}

	env, err := cbor.Marshal(recordEnvelope{
		Sequence:   r.Sequence,
		IdentityID: r.IdentityID,
		AcceptedAt: r.AcceptedAt.UnixNano(),
	})
	if err != nil {
		return &StorageError{Op: "append", Err: err}
	}

	// Stage the full record so it reaches the file in one write.
	var buf bytes.Buffer
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(env)))
	buf.Write(lenPrefix[:])
	buf.Write(env)
	if _, err := r.Contribution.WriteTo(&buf); err != nil {
		return &StorageError{Op: "append", Err: err}
	}

	if _, err := s.f.Write(buf.Bytes()); err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	if err := s.f.Sync(); err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	s.next = r.Sequence + 1
	return nil
}

func (s *FileStore) LoadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}

	var records []Record
	if err := s.scan(func(r *Record) {
		records = append(records, *r)
	}); err != nil {
		return nil, err
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	return records, nil
}

func (s *FileStore) Seal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "seal", Err: err}
	}
	if s.sealed {
		return nil
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], sealMarker)
	if _, err := s.f.Write(lenPrefix[:]); err != nil {
		return &StorageError{Op: "seal", Err: err}
	}
	if err := s.f.Sync(); err != nil {
		return &StorageError{Op: "seal", Err: err}
	}
	s.sealed = true
	return nil
}

func (s *FileStore) Sealed() bool { return s.sealed }
