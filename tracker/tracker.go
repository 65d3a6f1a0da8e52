// Package tracker locates the salvage structure in a running game and polls it.
//
// A Tracker moves through Stopped, Attached and Tracking. Start attaches a new
// process handle and launches one poller goroutine. The poller searches for the
// structure while Attached and re-reads it while Tracking, rescheduling its timer
// only after a tick has finished so ticks never overlap. Observers receive
// Updates on a buffered channel that drops the oldest entry when full.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"salvagewatch/attach"
	"salvagewatch/hexdump"
	"salvagewatch/process"
	"salvagewatch/salvage"
	"salvagewatch/scan"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// ErrAlreadyTracking is returned by Start when a session is already running
var ErrAlreadyTracking = errors.New("tracker already started")

// Attacher opens and releases process handles
type Attacher interface {
	Attach(name string) (process.Process, error)
	Detach(proc process.Process) error
}

// Scanner finds signature matches in a process
type Scanner interface {
	Scan(ctx context.Context, proc process.Process, aob process.AOB) ([]process.ProcessMemoryAddress, error)
}

// Config holds the tracking parameters
type Config struct {
	ProcessName   string
	TargetPercent float32
	Interval      time.Duration // between reads while Attached or Tracking
	SearchBackoff time.Duration // after a search that found nothing
	Signature     process.AOB
	StructOffset  uint64
	Plausibility  salvage.Plausibility
	UpdateBuffer  int
	// DumpCandidates logs a hex dump of every rejected candidate
	DumpCandidates bool
}

// DefaultConfig returns the settings used against the shipping game
func DefaultConfig() Config {
	return Config{
		ProcessName:   "Shipbreaker",
		TargetPercent: salvage.DefaultTargetPercent,
		Interval:      200 * time.Millisecond,
		SearchBackoff: 5 * time.Second,
		Signature:     process.MustParseAOB(salvage.DefaultSignature),
		StructOffset:  salvage.StructOffset,
		Plausibility:  salvage.DefaultPlausibility,
		UpdateBuffer:  64,
	}
}

// Tracker owns one tracking session at a time
type Tracker struct {
	cfg      Config
	attacher Attacher
	scanner  Scanner
	log      *logger.Logger
	updates  chan Update

	lifecycle sync.Mutex // serializes Start and Stop

	mu      sync.RWMutex
	state   State
	address process.ProcessMemoryAddress
	proc    process.Process
	cancel  context.CancelFunc
	done    chan struct{}

	pubMu sync.Mutex
	seq   uint64
}

// Option is a function that configures a Tracker
type Option func(*Tracker)

func WithAttacher(a Attacher) Option {
	return func(t *Tracker) {
		t.attacher = a
	}
}

func WithScanner(s Scanner) Option {
	return func(t *Tracker) {
		t.scanner = s
	}
}

// New creates a stopped Tracker
func New(cfg Config, options ...Option) *Tracker {
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 1
	}
	t := &Tracker{
		cfg:      cfg,
		attacher: attach.New(),
		scanner:  scan.New(scan.WithWritable(true), scan.WithExecutable(false)),
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "tracker")),
		updates:  make(chan Update, cfg.UpdateBuffer),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Updates returns the channel Updates are published on. It is never closed.
func (t *Tracker) Updates() <-chan Update {
	return t.updates
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Address returns the structure address while Tracking
func (t *Tracker) Address() (process.ProcessMemoryAddress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address, t.state == Tracking
}

// Start attaches to the configured process and starts polling. A failed attach
// leaves the Tracker Stopped, publishes the error and returns it.
func (t *Tracker) Start(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	return t.startLocked(ctx)
}

func (t *Tracker) startLocked(ctx context.Context) error {
	if t.State() != Stopped {
		return ErrAlreadyTracking
	}
	t.reap()

	proc, err := t.attacher.Attach(t.cfg.ProcessName)
	if err != nil {
		t.log.Infoln("Attach failed:", err)
		t.publish(Update{State: Stopped, Err: err})
		return err
	}

	session, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	t.state = Attached
	t.address = 0
	t.proc = proc
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.log.Infoln("Attached to", t.cfg.ProcessName, "pid", proc.GetPID())
	t.publish(Update{State: Attached})

	go t.run(session, proc, done)
	return nil
}

// Stop ends the session: it aborts any in-flight scan, waits for the poller,
// then releases the handle. Stop on a stopped Tracker does nothing.
func (t *Tracker) Stop() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	t.reap()

	t.mu.Lock()
	proc := t.proc
	wasStopped := t.state == Stopped
	t.state = Stopped
	t.address = 0
	t.proc = nil
	t.mu.Unlock()

	if proc != nil {
		if err := t.attacher.Detach(proc); err != nil {
			t.log.Warn("Failed to release process handle: ", err)
		}
	}
	if !wasStopped {
		t.log.Infoln("Stopped")
		t.publish(Update{State: Stopped})
	}
}

// Toggle starts a stopped Tracker and stops a running one
func (t *Tracker) Toggle(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.State() == Stopped {
		return t.startLocked(ctx)
	}
	t.stopLocked()
	return nil
}

// reap cancels the previous poller, if any, and waits for it to exit
func (t *Tracker) reap() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *Tracker) run(ctx context.Context, proc process.Process, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.abandon(proc, done)
			return
		case <-timer.C:
		}

		next, err := t.tick(ctx, proc)
		if ctx.Err() != nil {
			t.abandon(proc, done)
			return
		}
		if err != nil {
			t.fail(proc, err)
			return
		}
		timer.Reset(next)
	}
}

// abandon stops the session after the context passed to Start was cancelled.
// When Stop cancelled the session it has already taken ownership and abandon
// leaves the cleanup to it.
func (t *Tracker) abandon(proc process.Process, done chan struct{}) {
	t.mu.Lock()
	if t.done != done || t.state == Stopped {
		t.mu.Unlock()
		return
	}
	t.state = Stopped
	t.address = 0
	t.proc = nil
	t.mu.Unlock()

	t.log.Infoln("Session cancelled")
	if err := t.attacher.Detach(proc); err != nil {
		t.log.Warn("Failed to release process handle: ", err)
	}
	t.publish(Update{State: Stopped})
}

// fail moves the session to Stopped from inside the poller
func (t *Tracker) fail(proc process.Process, err error) {
	t.mu.Lock()
	t.state = Stopped
	t.address = 0
	t.proc = nil
	t.mu.Unlock()

	if errors.Is(err, process.ErrProcessDetached) {
		t.log.Infoln("Process went away:", err)
	} else {
		t.log.Warn("Tracking stopped: ", err)
	}
	if derr := t.attacher.Detach(proc); derr != nil {
		t.log.Warn("Failed to release process handle: ", derr)
	}
	t.publish(Update{State: Stopped, Err: err})
}

func (t *Tracker) tick(ctx context.Context, proc process.Process) (next time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during poll: %v", r)
		}
	}()

	t.mu.RLock()
	state, addr := t.state, t.address
	t.mu.RUnlock()

	switch state {
	case Attached:
		return t.search(ctx, proc)
	case Tracking:
		return t.track(proc, addr)
	}
	return 0, fmt.Errorf("poll in state %s", state)
}

// search scans for the signature and adopts the first plausible candidate
func (t *Tracker) search(ctx context.Context, proc process.Process) (time.Duration, error) {
	matches, err := t.scanner.Scan(ctx, proc, t.cfg.Signature)
	if err != nil {
		return 0, fmt.Errorf("signature scan failed: %w", err)
	}

	for _, match := range matches {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		candidate := match + process.ProcessMemoryAddress(t.cfg.StructOffset)
		if !proc.IsValidAddress(candidate) {
			t.log.Debugln("Candidate", candidate.ToString(), "outside mapped memory")
			continue
		}
		reading, err := salvage.ReadReading(proc, candidate)
		if errors.Is(err, process.ErrAddressUnreadable) {
			t.log.Debugln("Candidate", candidate.ToString(), "unreadable:", err)
			continue
		}
		if err != nil {
			return 0, err
		}
		if !t.cfg.Plausibility.IsPlausible(reading) {
			t.log.Debugln("Candidate", candidate.ToString(), "rejected:", reading)
			t.dumpCandidate(proc, match)
			continue
		}

		t.mu.Lock()
		t.state = Tracking
		t.address = candidate
		t.mu.Unlock()

		t.log.Infoln("Tracking structure at", candidate.ToString())
		t.publishReading(candidate, reading)
		return t.cfg.Interval, nil
	}

	t.log.Debugln("No plausible candidate among", len(matches), "matches, retrying in", t.cfg.SearchBackoff)
	return t.cfg.SearchBackoff, nil
}

// track re-reads the cached address
func (t *Tracker) track(proc process.Process, addr process.ProcessMemoryAddress) (time.Duration, error) {
	reading, err := salvage.ReadReading(proc, addr)
	switch {
	case err == nil && t.cfg.Plausibility.IsPlausible(reading):
		t.publishReading(addr, reading)
		return t.cfg.Interval, nil
	case err == nil:
		t.log.Infoln("Structure at", addr.ToString(), "no longer plausible:", reading)
	case errors.Is(err, process.ErrAddressUnreadable):
		t.log.Infoln("Structure at", addr.ToString(), "unreadable:", err)
	default:
		return 0, err
	}

	t.mu.Lock()
	t.state = Attached
	t.address = 0
	t.mu.Unlock()

	t.publish(Update{State: Attached})
	return t.cfg.Interval, nil
}

func (t *Tracker) publishReading(addr process.ProcessMemoryAddress, reading salvage.Reading) {
	progress := salvage.Project(reading, t.cfg.TargetPercent)
	t.publish(Update{State: Tracking, Address: addr, Progress: &progress})
}

// publish stamps u and sends it, discarding the oldest pending update when the buffer is full
func (t *Tracker) publish(u Update) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.seq++
	u.Seq = t.seq
	u.Time = time.Now()

	for {
		select {
		case t.updates <- u:
			return
		default:
		}
		select {
		case <-t.updates:
		default:
		}
	}
}

func (t *Tracker) dumpCandidate(proc process.Process, match process.ProcessMemoryAddress) {
	if !t.cfg.DumpCandidates {
		return
	}
	size := int(t.cfg.StructOffset) + salvage.ReadingSize
	data, err := proc.ReadMemory(match, process.ProcessMemorySize(size))
	if err != nil {
		return
	}
	t.log.Debugln("Candidate bytes\n" + CandidateDump(match, data, t.cfg.Signature.Len(), int(t.cfg.StructOffset)))
}

// CandidateDump renders the bytes at a signature match with the signature and
// the three salvage values highlighted
func CandidateDump(match process.ProcessMemoryAddress, data []byte, signatureLen, structOffset int) string {
	return hexdump.NewHexDump().
		SetStartOffset(uint64(match)).
		Mark(0, signatureLen).
		Mark(structOffset, salvage.ReadingSize).
		Dump(data)
}
