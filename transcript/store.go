// Package transcript is the durable, ordered, append-only record of
// accepted contributions. The file layout mirrors the setup-file
// convention: a small header followed by one length-prefixed record per
// contribution, each holding a cbor envelope (sequence, contributor,
// timestamp) and the bn254-encoded contribution itself.
package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/zkceremony/tau-sequencer/srs"
)

// Record is one accepted contribution.
type Record struct {
	Sequence     uint64
	IdentityID   string
	AcceptedAt   time.Time
	Contribution srs.Contribution
}

// Store is the durable transcript. Append must not return before the
// record is durable; the coordinator treats a successful Append as the
// commit point of a contribution.
type Store interface {
	Append(ctx context.Context, r *Record) error
	LoadAll(ctx context.Context) ([]Record, error)
	// Seal transitions the transcript to read-only. One-way.
	Seal(ctx context.Context) error
	Sealed() bool
}

// ErrSealed is returned by Append after Seal.
var ErrSealed = errors.New("transcript is sealed")

// StorageError wraps failures of the durable layer. The coordinator
// never swallows these: an append failure leaves the submitter's turn
// held so the contribution can be retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "transcript: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err originates in the durable layer.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
