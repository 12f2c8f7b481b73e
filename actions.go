package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zkceremony/tau-sequencer/ceremony"
	"github.com/zkceremony/tau-sequencer/srs"
	"github.com/zkceremony/tau-sequencer/transcript"
)

func initTranscript(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 3 {
		return errors.New("please provide the correct arguments")
	}
	nG1, err := strconv.Atoi(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	nG2, err := strconv.Atoi(cCtx.Args().Get(1))
	if err != nil {
		return err
	}

	store, err := transcript.Create(cCtx.Args().Get(2), nG1, nG2)
	if err != nil {
		return err
	}
	defer store.Close()

	initial := srs.Initial(nG1, nG2)
	fmt.Printf("Transcript initialized with %d G1 and %d G2 powers\n", nG1, nG2)
	fmt.Println("Challenge :=", hex.EncodeToString(initial.Challenge()))
	return nil
}

// head loads the transcript and returns its store, records and the
// current snapshot.
func head(path string) (*transcript.FileStore, []transcript.Record, *srs.SRS, error) {
	store, err := transcript.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	records, err := store.LoadAll(context.Background())
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	nG1, nG2 := store.Params()
	current := srs.Initial(nG1, nG2)
	if len(records) > 0 {
		current = records[len(records)-1].Contribution.SRS.Clone()
	}
	return store, records, current, nil
}

func exportChallenge(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 2 {
		return errors.New("please provide the correct arguments")
	}
	store, _, current, err := head(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := os.Create(cCtx.Args().Get(1))
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := current.WriteTo(out); err != nil {
		return err
	}
	fmt.Printf("Exported snapshot at sequence %d\n", current.Sequence)
	fmt.Println("Challenge :=", hex.EncodeToString(current.Challenge()))
	return nil
}

func contribute(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 2 {
		return errors.New("please provide the correct arguments")
	}
	in, err := os.Open(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	defer in.Close()

	var snapshot srs.SRS
	if _, err := snapshot.ReadFrom(in); err != nil {
		return err
	}

	fmt.Println("Sampling toxic parameter τ")
	c, err := srs.Contribute(&snapshot)
	if err != nil {
		return err
	}

	out, err := os.Create(cCtx.Args().Get(1))
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := c.WriteTo(out); err != nil {
		return err
	}

	fmt.Println("Contribution has been successful!")
	fmt.Println("Contribution Hash :=", hex.EncodeToString(c.Hash))
	return nil
}

func accept(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 2 {
		return errors.New("please provide the correct arguments")
	}
	store, _, current, err := head(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	in, err := os.Open(cCtx.Args().Get(1))
	if err != nil {
		return err
	}
	defer in.Close()
	var c srs.Contribution
	if _, err := c.ReadFrom(in); err != nil {
		return err
	}

	next, err := ceremony.VerifyContribution(current, &c)
	if err != nil {
		return err
	}
	rec := &transcript.Record{
		Sequence:     next.Sequence,
		IdentityID:   cCtx.String("id"),
		AcceptedAt:   time.Now().UTC(),
		Contribution: c,
	}
	if err := store.Append(cCtx.Context, rec); err != nil {
		return err
	}
	fmt.Printf("Accepted contribution %d from %s\n", rec.Sequence, rec.IdentityID)
	return nil
}

func audit(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 1 {
		return errors.New("please provide the correct arguments")
	}
	store, records, _, err := head(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	nG1, nG2 := store.Params()
	initial := srs.Initial(nG1, nG2)

	// each link depends only on its predecessor's stored snapshot, so
	// the pairing checks parallelize per record
	g, _ := errgroup.WithContext(cCtx.Context)
	for i := range records {
		i := i
		g.Go(func() error {
			prev := initial
			if i > 0 {
				prev = &records[i-1].Contribution.SRS
			}
			if _, err := ceremony.VerifyContribution(prev, &records[i].Contribution); err != nil {
				return fmt.Errorf("record %d (%s): %w", records[i].Sequence, records[i].IdentityID, err)
			}
			fmt.Printf("Verified contribution %d with Hash := %s\n",
				records[i].Sequence, hex.EncodeToString(records[i].Contribution.Hash))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println("Transcript verification has been successful")
	return nil
}

func status(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 1 {
		return errors.New("please provide the correct arguments")
	}
	store, records, current, err := head(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	nG1, nG2 := store.Params()
	fmt.Printf("Powers        := %d G1, %d G2\n", nG1, nG2)
	fmt.Printf("Contributions := %d\n", len(records))
	fmt.Printf("Sequence      := %d\n", current.Sequence)
	fmt.Printf("Sealed        := %t\n", store.Sealed())
	return nil
}

func seal(cCtx *cli.Context) error {
	if cCtx.Args().Len() != 1 {
		return errors.New("please provide the correct arguments")
	}
	store, err := transcript.Open(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Seal(cCtx.Context); err != nil {
		return err
	}
	fmt.Println("Transcript sealed")
	return nil
}
