package transcript

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zkceremony/tau-sequencer/srs"
)

func testRecords(t *testing.T, n int) []Record {
	t.Helper()
	current := srs.Initial(4, 3)
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		c, err := srs.Contribute(current)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, Record{
			Sequence:     uint64(i + 1),
			IdentityID:   "participant-" + string(rune('a'+i)),
			AcceptedAt:   time.Date(2024, 3, 1, 12, i, 0, 0, time.UTC),
			Contribution: *c,
		})
		current = c.SRS.Clone()
	}
	return records
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ceremony.transcript")

	store, err := Create(path, 4, 3)
	if err != nil {
		t.Fatal(err)
	}

	records := testRecords(t, 3)
	for i := range records {
		if err := store.Append(ctx, &records[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// reopen and resume
	store, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	nG1, nG2 := store.Params()
	if nG1 != 4 || nG2 != 3 {
		t.Fatalf("params %d/%d", nG1, nG2)
	}

	got, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("loaded %d records", len(got))
	}
	for i := range got {
		if got[i].Sequence != records[i].Sequence {
			t.Fatalf("record %d: sequence %d", i, got[i].Sequence)
		}
		if got[i].IdentityID != records[i].IdentityID {
			t.Fatalf("record %d: identity %q", i, got[i].IdentityID)
		}
		if !got[i].AcceptedAt.Equal(records[i].AcceptedAt) {
			t.Fatalf("record %d: accepted at %v", i, got[i].AcceptedAt)
		}
		if !got[i].Contribution.HashValid() {
			t.Fatalf("record %d: digest invalid after reload", i)
		}
	}
}

func TestFileStoreAppendAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ceremony.transcript")

	records := testRecords(t, 2)
	store, err := Create(path, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, &records[0]); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Append(ctx, &records[1]); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d records", len(got))
	}
}

func TestFileStoreRejectsOutOfOrderAppend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ceremony.transcript")

	records := testRecords(t, 2)
	store, err := Create(path, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// sequence 2 before sequence 1
	if err := store.Append(ctx, &records[1]); !IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestFileStoreSeal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ceremony.transcript")

	records := testRecords(t, 1)
	store, err := Create(path, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, &records[0]); err != nil {
		t.Fatal(err)
	}
	if err := store.Seal(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Seal(ctx); err != nil {
		t.Fatal("seal must be idempotent:", err)
	}
	if err := store.Append(ctx, &records[0]); !errors.Is(err, ErrSealed) {
		t.Fatalf("append after seal: %v", err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if !store.Sealed() {
		t.Fatal("seal not durable across reopen")
	}
	got, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("loaded %d records", len(got))
	}
}

func TestMemStoreSequenceCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	records := testRecords(t, 2)

	if err := store.Append(ctx, &records[1]); !IsStorageError(err) {
		t.Fatal("out-of-order append accepted")
	}
	if err := store.Append(ctx, &records[0]); err != nil {
		t.Fatal(err)
	}
}
