package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salvagewatch/process"
	"salvagewatch/process_blob"
	"salvagewatch/salvage"
	"salvagewatch/scan"
)

const (
	regionBase   = 0x10000
	regionSize   = 0x1000
	matchOffset  = 0x100
	structOffset = matchOffset + salvage.StructOffset
)

var signatureBytes = []byte{
	0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xde, 0xad, 0xbe, 0xef, 0x12, 0x34, 0x56, 0x78,
	0x01, 0x01, 0x01,
}

func encodeReading(total, salvaged, destroyed float32) []byte {
	return salvage.Reading{
		TotalSalvageableValue: total,
		SalvagedValue:         salvaged,
		DestroyedValue:        destroyed,
	}.Encode()
}

// newGame builds a dump holding the signature followed by a salvage structure
func newGame(total, salvaged, destroyed float32) *process_blob.ProcessDump {
	data := make([]byte, regionSize)
	copy(data[matchOffset:], signatureBytes)
	copy(data[structOffset:], encodeReading(total, salvaged, destroyed))

	dump := process_blob.NewProcessDump(1234, "Shipbreaker")
	dump.AddRegion(regionBase, "rw-p", data)
	return dump
}

func setReading(t *testing.T, dump *process_blob.ProcessDump, total, salvaged, destroyed float32) {
	t.Helper()
	if err := dump.Write(regionBase+structOffset, encodeReading(total, salvaged, destroyed)); err != nil {
		t.Fatalf("write reading: %v", err)
	}
}

type closable interface {
	process.Process
	IsClosed() bool
}

type fakeAttacher struct {
	mu       sync.Mutex
	open     func() (closable, error)
	attached []closable
	names    []string
}

func (f *fakeAttacher) Attach(name string) (process.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	dump, err := f.open()
	if err != nil {
		return nil, err
	}
	f.attached = append(f.attached, dump)
	return dump, nil
}

func (f *fakeAttacher) Detach(proc process.Process) error {
	return proc.Close()
}

func (f *fakeAttacher) handles() []closable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]closable(nil), f.attached...)
}

// flakyReads fails structure-sized reads while fail is set
type flakyReads struct {
	*process_blob.ProcessDump
	fail atomic.Bool
}

func (f *flakyReads) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if f.fail.Load() && size == salvage.ReadingSize {
		return nil, process.ErrAddressUnreadable
	}
	return f.ProcessDump.ReadMemory(addr, size)
}

type countingScanner struct {
	inner Scanner
	n     atomic.Int32
}

func (s *countingScanner) Scan(ctx context.Context, proc process.Process, aob process.AOB) ([]process.ProcessMemoryAddress, error) {
	s.n.Add(1)
	return s.inner.Scan(ctx, proc, aob)
}

type scanFunc func(ctx context.Context, proc process.Process, aob process.AOB) ([]process.ProcessMemoryAddress, error)

func (f scanFunc) Scan(ctx context.Context, proc process.Process, aob process.AOB) ([]process.ProcessMemoryAddress, error) {
	return f(ctx, proc, aob)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.SearchBackoff = 10 * time.Millisecond
	cfg.UpdateBuffer = 256
	return cfg
}

func newTracker(t *testing.T, attacher Attacher, scanner Scanner) *Tracker {
	t.Helper()
	tr := New(testConfig(), WithAttacher(attacher), WithScanner(scanner))
	t.Cleanup(tr.Stop)
	return tr
}

func singleGame(proc closable) *fakeAttacher {
	return &fakeAttacher{open: func() (closable, error) { return proc, nil }}
}

func waitFor(t *testing.T, tr *Tracker, what string, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-tr.Updates():
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (state %s)", what, tr.State())
		}
	}
}

func inState(s State) func(Update) bool {
	return func(u Update) bool { return u.State == s }
}

func waitScans(t *testing.T, s *countingScanner, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.n.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d scans want %d", s.n.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartAttachFailureStaysStopped(t *testing.T) {
	attacher := &fakeAttacher{open: func() (closable, error) {
		return nil, process.ErrProcessNotFound
	}}
	tr := newTracker(t, attacher, scan.New())

	err := tr.Start(context.Background())
	if !errors.Is(err, process.ErrProcessNotFound) {
		t.Fatalf("Start error = %v want ErrProcessNotFound", err)
	}
	if tr.State() != Stopped {
		t.Errorf("state = %s want Stopped", tr.State())
	}

	u := waitFor(t, tr, "attach error", inState(Stopped))
	if !errors.Is(u.Err, process.ErrProcessNotFound) {
		t.Errorf("update error = %v", u.Err)
	}
	if attacher.names[0] != "Shipbreaker" {
		t.Errorf("attached by name %q", attacher.names[0])
	}
}

func TestStartFindsStructure(t *testing.T) {
	dump := newGame(10_000_000, 9_600_000, 100_000)
	tr := newTracker(t, singleGame(dump), scan.New())

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, tr, "Attached", inState(Attached))

	u := waitFor(t, tr, "Tracking", inState(Tracking))
	want := process.ProcessMemoryAddress(regionBase + structOffset)
	if u.Address != want {
		t.Errorf("address = %s want %s", u.Address.ToString(), want.ToString())
	}
	if u.Progress == nil {
		t.Fatal("tracking update without progress")
	}
	if u.Progress.SalvageProgress != "96.0%" || u.Progress.DestroyProgress != "1.0%" {
		t.Errorf("progress = %s / %s", u.Progress.SalvageProgress, u.Progress.DestroyProgress)
	}
	if u.Progress.Objective != salvage.Reached {
		t.Errorf("objective = %s want Reached", u.Progress.Objective)
	}

	addr, ok := tr.Address()
	if !ok || addr != want {
		t.Errorf("Address() = %s, %v", addr.ToString(), ok)
	}
	if tr.State() != Tracking {
		t.Errorf("state = %s want Tracking", tr.State())
	}
}

func TestNoPlausibleCandidateKeepsSearching(t *testing.T) {
	dump := newGame(999_999, 0, 0)
	scanner := &countingScanner{inner: scan.New()}
	tr := newTracker(t, singleGame(dump), scanner)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitScans(t, scanner, 3)

	if tr.State() != Attached {
		t.Errorf("state = %s want Attached", tr.State())
	}
	if _, ok := tr.Address(); ok {
		t.Error("address cached without a plausible candidate")
	}

	setReading(t, dump, 2_000_000, 0, 0)
	waitFor(t, tr, "Tracking after the structure became plausible", inState(Tracking))
}

func TestImplausibleReadReturnsToAttached(t *testing.T) {
	dump := newGame(5_000_000, 1_000_000, 0)
	scanner := &countingScanner{inner: scan.New()}
	tr := newTracker(t, singleGame(dump), scanner)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, tr, "Tracking", inState(Tracking))

	setReading(t, dump, 5_000_000, 6_000_000, 0)
	u := waitFor(t, tr, "Attached", inState(Attached))
	if u.Address != 0 {
		t.Errorf("attached update carries address %s", u.Address.ToString())
	}
	if _, ok := tr.Address(); ok {
		t.Error("address still cached after an implausible read")
	}

	seen := scanner.n.Load()
	waitScans(t, scanner, seen+2)
	if tr.State() != Attached {
		t.Errorf("state = %s want Attached after repeated invalid reads", tr.State())
	}
	for drained := false; !drained; {
		select {
		case u := <-tr.Updates():
			if u.State == Tracking {
				t.Fatalf("tracked an implausible structure: %v", u)
			}
		default:
			drained = true
		}
	}
}

func TestUnreadableCandidateIsSkipped(t *testing.T) {
	// the first match sits so close to the end of its region that its struct is unmapped
	edge := make([]byte, regionSize)
	copy(edge[regionSize-len(signatureBytes):], signatureBytes)

	dump := newGame(3_000_000, 0, 0)
	dump.AddRegion(0x8000, "rw-p", edge)

	tr := newTracker(t, singleGame(dump), scan.New())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	u := waitFor(t, tr, "Tracking", inState(Tracking))
	if u.Address != regionBase+structOffset {
		t.Errorf("address = %s", u.Address.ToString())
	}
}

func TestTrackingUnreadableReturnsToAttached(t *testing.T) {
	game := &flakyReads{ProcessDump: newGame(3_000_000, 0, 0)}
	scanner := &countingScanner{inner: scan.New()}
	tr := newTracker(t, singleGame(game), scanner)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, tr, "Tracking", inState(Tracking))

	game.fail.Store(true)
	waitFor(t, tr, "Attached", inState(Attached))
	waitScans(t, scanner, scanner.n.Load()+2)
	if tr.State() != Attached {
		t.Errorf("state = %s want Attached while the structure is unreadable", tr.State())
	}
	game.fail.Store(false)
	waitFor(t, tr, "Tracking again", inState(Tracking))
}

func TestDetachWhileTrackingStops(t *testing.T) {
	dump := newGame(3_000_000, 0, 0)
	tr := newTracker(t, singleGame(dump), scan.New())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, tr, "Tracking", inState(Tracking))

	dump.SetDetached(true)
	u := waitFor(t, tr, "Stopped", inState(Stopped))
	if !errors.Is(u.Err, process.ErrProcessDetached) {
		t.Errorf("stop error = %v want ErrProcessDetached", u.Err)
	}
	if !dump.IsClosed() {
		t.Error("handle not released after detach")
	}
	if _, ok := tr.Address(); ok {
		t.Error("address survived detach")
	}
}

func TestDetachWhileSearchingStops(t *testing.T) {
	dump := newGame(0, 0, 0)
	scanner := &countingScanner{inner: scan.New()}
	tr := newTracker(t, singleGame(dump), scanner)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitScans(t, scanner, 1)

	dump.SetDetached(true)
	u := waitFor(t, tr, "Stopped", inState(Stopped))
	if !errors.Is(u.Err, process.ErrProcessDetached) {
		t.Errorf("stop error = %v want ErrProcessDetached", u.Err)
	}
}

func TestUnexpectedErrorStops(t *testing.T) {
	boom := errors.New("boom")
	dump := newGame(3_000_000, 0, 0)
	tr := newTracker(t, singleGame(dump), scanFunc(func(context.Context, process.Process, process.AOB) ([]process.ProcessMemoryAddress, error) {
		return nil, boom
	}))
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	u := waitFor(t, tr, "Stopped", inState(Stopped))
	if !errors.Is(u.Err, boom) {
		t.Errorf("stop error = %v want %v", u.Err, boom)
	}
	if !dump.IsClosed() {
		t.Error("handle not released")
	}
}

func TestPanicInTickStops(t *testing.T) {
	dump := newGame(3_000_000, 0, 0)
	tr := newTracker(t, singleGame(dump), scanFunc(func(context.Context, process.Process, process.AOB) ([]process.ProcessMemoryAddress, error) {
		panic("scanner exploded")
	}))
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	u := waitFor(t, tr, "Stopped", inState(Stopped))
	if u.Err == nil || !strings.Contains(u.Err.Error(), "scanner exploded") {
		t.Errorf("stop error = %v", u.Err)
	}
	if tr.State() != Stopped {
		t.Errorf("state = %s want Stopped", tr.State())
	}
}

func TestStopAndRestartUsesFreshHandle(t *testing.T) {
	attacher := &fakeAttacher{open: func() (closable, error) {
		return newGame(3_000_000, 0, 0), nil
	}}
	tr := newTracker(t, attacher, scan.New())

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, tr, "Tracking", inState(Tracking))

	tr.Stop()
	if tr.State() != Stopped {
		t.Fatalf("state = %s want Stopped", tr.State())
	}
	waitFor(t, tr, "Stopped", inState(Stopped))
	if _, ok := tr.Address(); ok {
		t.Error("address survived Stop")
	}

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, tr, "Tracking after restart", inState(Tracking))

	handles := attacher.handles()
	if len(handles) != 2 {
		t.Fatalf("attached %d times want 2", len(handles))
	}
	if handles[0] == handles[1] {
		t.Fatal("restart reused the first handle")
	}
	if !handles[0].IsClosed() || handles[1].IsClosed() {
		t.Errorf("closed: first %v second %v, want true false", handles[0].IsClosed(), handles[1].IsClosed())
	}
}

func TestStartTwice(t *testing.T) {
	tr := newTracker(t, singleGame(newGame(3_000_000, 0, 0)), scan.New())
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Start(context.Background()); !errors.Is(err, ErrAlreadyTracking) {
		t.Errorf("second Start = %v want ErrAlreadyTracking", err)
	}
}

func TestToggle(t *testing.T) {
	tr := newTracker(t, singleGame(newGame(3_000_000, 0, 0)), scan.New())

	if err := tr.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle on: %v", err)
	}
	if tr.State() == Stopped {
		t.Fatal("Toggle did not start")
	}
	if err := tr.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle off: %v", err)
	}
	if tr.State() != Stopped {
		t.Errorf("state = %s want Stopped", tr.State())
	}
}

func TestStopAbortsSlowScan(t *testing.T) {
	entered := make(chan struct{})
	dump := newGame(3_000_000, 0, 0)
	tr := newTracker(t, singleGame(dump), scanFunc(func(ctx context.Context, _ process.Process, _ process.AOB) ([]process.ProcessMemoryAddress, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-entered

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an in-flight scan")
	}
	if !dump.IsClosed() {
		t.Error("handle not released")
	}
}

func TestPublishDropsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.UpdateBuffer = 2
	tr := New(cfg, WithAttacher(singleGame(newGame(0, 0, 0))))

	for i := 0; i < 5; i++ {
		tr.publish(Update{State: Attached})
	}

	first, second := <-tr.Updates(), <-tr.Updates()
	if first.Seq != 4 || second.Seq != 5 {
		t.Errorf("got seq %d, %d want 4, 5", first.Seq, second.Seq)
	}
	if first.Time.IsZero() {
		t.Error("update not timestamped")
	}
}

func TestCandidateDump(t *testing.T) {
	data := append(append([]byte{}, signatureBytes...), make([]byte, 25)...)
	copy(data[salvage.StructOffset:], encodeReading(1_500_000, 0, 0))

	out := CandidateDump(0x7f00, data, len(signatureBytes), salvage.StructOffset)
	if !strings.Contains(out, "000000007f00") || !strings.Contains(out, "1500000") {
		t.Errorf("dump missing address or value:\n%s", out)
	}
}

func TestStateString(t *testing.T) {
	if Stopped.String() != "Stopped" || Attached.String() != "Attached" || Tracking.String() != "Tracking" {
		t.Error("unexpected state names")
	}
	if State(9).String() != "State(9)" {
		t.Errorf("got %s", State(9))
	}
}

func TestParentCancelStops(t *testing.T) {
	dump := newGame(3_000_000, 0, 0)
	attacher := singleGame(dump)
	tr := newTracker(t, attacher, scan.New())

	ctx, cancel := context.WithCancel(context.Background())
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, tr, "Tracking", inState(Tracking))

	cancel()
	u := waitFor(t, tr, "Stopped", inState(Stopped))
	if u.Err != nil {
		t.Errorf("cancel reported error %v", u.Err)
	}
	if tr.State() != Stopped {
		t.Errorf("state = %s want Stopped", tr.State())
	}
	if _, ok := tr.Address(); ok {
		t.Error("address survived cancellation")
	}
	if !dump.IsClosed() {
		t.Error("handle not released after cancellation")
	}

	attacher.open = func() (closable, error) { return newGame(3_000_000, 0, 0), nil }
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("restart after cancellation: %v", err)
	}
	waitFor(t, tr, "Tracking after restart", inState(Tracking))
}

func TestConcurrentToggle(t *testing.T) {
	attacher := &fakeAttacher{open: func() (closable, error) {
		return newGame(3_000_000, 0, 0), nil
	}}
	tr := newTracker(t, attacher, scan.New())

	const toggles = 8
	errs := make(chan error, toggles)
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tr.Toggle(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Toggle: %v", err)
		}
	}
	if tr.State() != Stopped {
		t.Errorf("state = %s after %d toggles want Stopped", tr.State(), toggles)
	}
	if got := len(attacher.handles()); got != toggles/2 {
		t.Errorf("attached %d times want %d", got, toggles/2)
	}
}
