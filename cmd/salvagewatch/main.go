package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salvagewatch/attach"
	"salvagewatch/config"
	"salvagewatch/process"
	"salvagewatch/process/memory_map"
	"salvagewatch/process_blob"
	"salvagewatch/salvage"
	"salvagewatch/scan"
	"salvagewatch/tracker"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/samber/lo"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "salvagewatch"))

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scanner := scan.New(scan.WithWritable(true), scan.WithExecutable(false), scan.WithMaxDOP(cfg.MaxDOP))

	switch {
	case cfg.Scan:
		err = scanOnce(ctx, cfg, scanner)
	case cfg.Snapshot != "":
		err = snapshot(cfg)
	default:
		var attacher tracker.Attacher = attach.New()
		if cfg.Replay != "" {
			attacher = attach.NewReplay(cfg.Replay)
		}
		err = track(ctx, cfg, attacher, scanner)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

// track runs the tracker until ctx is cancelled, attaching again whenever the
// game is not running
func track(ctx context.Context, cfg config.Config, attacher tracker.Attacher, scanner tracker.Scanner) error {
	tc, err := cfg.TrackerConfig()
	if err != nil {
		return err
	}

	t := tracker.New(tc, tracker.WithAttacher(attacher), tracker.WithScanner(scanner))
	defer t.Stop()

	retry := time.NewTimer(0)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-retry.C:
			if err := t.Start(ctx); err != nil && !errors.Is(err, tracker.ErrAlreadyTracking) {
				retry.Reset(tc.SearchBackoff)
			}

		case u := <-t.Updates():
			report(u)
			if u.State == tracker.Stopped && u.Err != nil && ctx.Err() == nil {
				retry.Reset(tc.SearchBackoff)
			}
		}
	}
}

func report(u tracker.Update) {
	switch {
	case u.Err != nil && errors.Is(u.Err, process.ErrProcessNotFound):
		log.Debugln(u.String())
	case u.Progress != nil:
		log.Infoln(u.String())
	default:
		log.Infoln("State:", u.State, u.Address.ToString())
	}
}

// scanOnce prints every signature match with its candidate structure
func scanOnce(ctx context.Context, cfg config.Config, scanner *scan.Scanner) error {
	tc, err := cfg.TrackerConfig()
	if err != nil {
		return err
	}

	proc, err := attach.New().Attach(cfg.ProcessName)
	if err != nil {
		return err
	}
	defer proc.Close()

	fmt.Printf("Scanning pid %d for pattern: %s\n", proc.GetPID(), tc.Signature.String())
	matches, err := scanner.Scan(ctx, proc, tc.Signature)
	if err != nil {
		return err
	}

	fmt.Printf("Found %d matches: %v\n", len(matches), lo.Map(matches, func(m process.ProcessMemoryAddress, _ int) string {
		return m.ToString()
	}))

	for _, match := range matches {
		candidate := match + process.ProcessMemoryAddress(tc.StructOffset)
		reading, err := salvage.ReadReading(proc, candidate)
		if err != nil {
			fmt.Printf("Match at %s: candidate %s unreadable: %v\n", match.ToString(), candidate.ToString(), err)
			continue
		}
		fmt.Printf("Match at %s: %s plausible=%v\n", match.ToString(), reading, tc.Plausibility.IsPlausible(reading))

		size := process.ProcessMemorySize(tc.StructOffset + salvage.ReadingSize)
		if data, err := proc.ReadMemory(match, size); err == nil {
			fmt.Print(tracker.CandidateDump(match, data, tc.Signature.Len(), int(tc.StructOffset)))
		}
	}
	return nil
}

// snapshot saves the regions the scanner would search
func snapshot(cfg config.Config) error {
	proc, err := attach.New().Attach(cfg.ProcessName)
	if err != nil {
		return err
	}
	defer proc.Close()

	return process_blob.Save(proc, cfg.ProcessName, cfg.Snapshot, func(region memory_map.MemoryMapItem) bool {
		return region.IsWritable() && !region.IsExecutable()
	})
}
