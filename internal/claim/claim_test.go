package claim_test

import (
	"context"
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dirjobs/internal/claim"
	"dirjobs/internal/jobstore"
	"dirjobs/internal/services"
	"dirjobs/internal/testsupport"
)

func newStore(t *testing.T, root string, opts ...jobstore.Option) *jobstore.Store {
	t.Helper()
	store, err := jobstore.Open(root, opts...)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	return store
}

func addJobs(t *testing.T, store *jobstore.Store, names ...string) {
	t.Helper()
	for _, name := range names {
		testsupport.WriteJob(t, store, name, "{}")
	}
}

func mustClaimer(t *testing.T, store *jobstore.Store, id string, opts ...claim.Option) *claim.Claimer {
	t.Helper()
	c, err := claim.New(store, id, opts...)
	if err != nil {
		t.Fatalf("claim.New(%q): %v", id, err)
	}
	return c
}

// locations reports every state directory holding name, counting running
// entries by their decoded base name.
func locations(t *testing.T, store *jobstore.Store, name string) map[jobstore.State]int {
	t.Helper()
	found := make(map[jobstore.State]int)
	for _, state := range jobstore.AllStates() {
		names, err := store.List(state)
		if err != nil {
			t.Fatalf("List(%s): %v", state, err)
		}
		for _, entry := range names {
			base := entry
			if state == jobstore.StateRunning {
				_, base, _ = jobstore.ParseRunningName(entry)
			}
			if base == name {
				found[state]++
			}
		}
	}
	return found
}

type countingFS struct {
	jobstore.OSFileSystem
	calls atomic.Int32
}

func (c *countingFS) MkdirAll(path string, perm fs.FileMode) error {
	c.calls.Add(1)
	return c.OSFileSystem.MkdirAll(path, perm)
}

func (c *countingFS) ReadDir(path string) ([]fs.DirEntry, error) {
	c.calls.Add(1)
	return c.OSFileSystem.ReadDir(path)
}

func (c *countingFS) Rename(oldpath, newpath string) error {
	c.calls.Add(1)
	return c.OSFileSystem.Rename(oldpath, newpath)
}

func TestNewRejectsInvalidWorkerIDBeforeStorageAccess(t *testing.T) {
	spy := &countingFS{}
	root := filepath.Join(t.TempDir(), "jobs")
	store, err := jobstore.New(root, jobstore.WithFileSystem(spy))
	if err != nil {
		t.Fatalf("jobstore.New: %v", err)
	}

	for _, id := range []string{"w 1", "", "w.1", "w-1", "w_1", "wö"} {
		_, err := claim.New(store, id)
		if !errors.Is(err, claim.ErrInvalidWorkerID) {
			t.Fatalf("expected ErrInvalidWorkerID for %q, got %v", id, err)
		}
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("expected configuration class for %q, got %v", id, err)
		}
	}
	if calls := spy.calls.Load(); calls != 0 {
		t.Fatalf("expected no storage access, saw %d calls", calls)
	}
	if _, err := os.Stat(root); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected queue root to stay absent, stat err=%v", err)
	}
}

func TestArbitrateIsDeterministic(t *testing.T) {
	contenders := []string{"w7", "w10", "a2", "B1", "w1"}
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 100; trial++ {
		shuffled := append([]string(nil), contenders...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, self := range contenders {
			winner, won := claim.Arbitrate(self, shuffled)
			if winner != "B1" {
				t.Fatalf("trial %d: expected B1 to win, got %q", trial, winner)
			}
			if won != (self == "B1") {
				t.Fatalf("trial %d: %s won=%v", trial, self, won)
			}
		}
	}
	if winner, won := claim.Arbitrate("w1", nil); winner != "" || won {
		t.Fatalf("expected empty arbitration to produce no winner, got %q %v", winner, won)
	}
}

func TestScenarioNoContention(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt", "b.txt")
	c := mustClaimer(t, store, "w1", claim.WithWorkerSync(false))
	ctx := context.Background()

	first, err := c.Claim(ctx, false)
	if err != nil || first == nil {
		t.Fatalf("first claim: handle=%v err=%v", first, err)
	}
	if err := first.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	waiting, err := store.ListWaiting(nil)
	if err != nil {
		t.Fatal(err)
	}
	other := map[string]string{"a.txt": "b.txt", "b.txt": "a.txt"}[first.Name()]
	if len(waiting) != 1 || waiting[0] != other {
		t.Fatalf("expected only %s waiting, got %v", other, waiting)
	}

	second, err := c.Claim(ctx, false)
	if err != nil || second == nil {
		t.Fatalf("second claim: handle=%v err=%v", second, err)
	}
	if second.Name() != other {
		t.Fatalf("expected %s, got %s", other, second.Name())
	}
	if err := second.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	third, err := c.Claim(ctx, false)
	if err != nil {
		t.Fatalf("drained claim returned error: %v", err)
	}
	if third != nil {
		t.Fatalf("expected drained queue, got %s", third)
	}
	if stats := c.Stats(); stats.Claims != 2 {
		t.Fatalf("expected 2 claims, got %+v", stats)
	}
}

func TestOrderedSelectionPicksSmallestName(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "c.txt", "a.txt", "b.txt")
	c := mustClaimer(t, store, "w1", claim.WithSelection(claim.SelectOrdered))

	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}
	if h.Name() != "a.txt" {
		t.Fatalf("expected a.txt, got %s", h.Name())
	}
}

func TestRandomSelectionStaysWithinCandidates(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt", "b.txt", "c.txt")
	c := mustClaimer(t, store, "w1", claim.WithRand(rand.New(rand.NewPCG(7, 7))))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		h, err := c.Claim(context.Background(), false)
		if err != nil || h == nil {
			t.Fatalf("Claim #%d: %v", i, err)
		}
		if seen[h.Name()] {
			t.Fatalf("job %s claimed twice", h.Name())
		}
		seen[h.Name()] = true
		if err := h.Complete(); err != nil {
			t.Fatal(err)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("expected all three jobs, got %v", seen)
	}
}

func TestFilterLimitsEligibleJobs(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "v1_a.txt", "v2_b.txt")
	onlyV2 := func(_, name string) bool { return strings.HasPrefix(name, "v2_") }
	c := mustClaimer(t, store, "w1", claim.WithFilter(onlyV2))

	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil || h.Name() != "v2_b.txt" {
		t.Fatalf("expected v2_b.txt, got %v err=%v", h, err)
	}
	if err := h.Complete(); err != nil {
		t.Fatal(err)
	}
	h, err = c.Claim(context.Background(), false)
	if err != nil || h != nil {
		t.Fatalf("expected nothing eligible, got %v err=%v", h, err)
	}
}

func TestClaimRefusedWhileJobOutstanding(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt", "b.txt")
	c := mustClaimer(t, store, "w1")

	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}
	_, err = c.Claim(context.Background(), false)
	if !errors.Is(err, claim.ErrJobOutstanding) || !errors.Is(err, services.ErrProtocol) {
		t.Fatalf("expected outstanding protocol error, got %v", err)
	}
	waiting, _ := store.ListWaiting(nil)
	if len(waiting) != 1 {
		t.Fatalf("refused claim must not touch the queue, waiting=%v", waiting)
	}
	if err := h.Fail(); err != nil {
		t.Fatal(err)
	}
	if c.Active() != nil {
		t.Fatal("expected active slot cleared after Fail")
	}
	if next, err := c.Claim(context.Background(), false); err != nil || next == nil {
		t.Fatalf("expected claim after resolution, got %v err=%v", next, err)
	}
}

func TestHandleResolvesOnlyOnce(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt")
	c := mustClaimer(t, store, "w1")
	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := h.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	for _, resolve := range []func() error{h.Complete, h.Fail} {
		err := resolve()
		if !errors.Is(err, claim.ErrHandleResolved) || !errors.Is(err, services.ErrProtocol) {
			t.Fatalf("expected ErrHandleResolved, got %v", err)
		}
	}
	if got := locations(t, store, "a.txt"); got[jobstore.StateDone] != 1 || len(got) != 1 {
		t.Fatalf("expected a.txt only in done, got %v", got)
	}
}

func TestScenarioFailedJob(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "x.txt")
	c := mustClaimer(t, store, "w1")

	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := h.Fail(); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if h.State() != jobstore.StateFailed {
		t.Fatalf("expected failed state, got %s", h.State())
	}
	if h.Path() != store.Path(jobstore.StateFailed, "x.txt") {
		t.Fatalf("unexpected path %s", h.Path())
	}
	waiting, err := store.ListWaiting(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 0 {
		t.Fatalf("failed job must not be waiting, got %v", waiting)
	}
	again, err := c.Claim(context.Background(), false)
	if err != nil || again != nil {
		t.Fatalf("failed job must never be reclaimed, got %v err=%v", again, err)
	}
}

func TestHandleAccessors(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "v1_crf23.txt")
	c := mustClaimer(t, store, "enc2")
	before := time.Now()
	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}
	if h.Name() != "v1_crf23.txt" || h.Stem() != "v1_crf23" || h.WorkerID() != "enc2" {
		t.Fatalf("unexpected identity: name=%s stem=%s worker=%s", h.Name(), h.Stem(), h.WorkerID())
	}
	running := store.Path(jobstore.StateRunning, "enc2.v1_crf23.txt")
	if h.Path() != running {
		t.Fatalf("expected running path %s, got %s", running, h.Path())
	}
	if h.DisplayName() != "Job("+running+")" || h.String() != h.DisplayName() {
		t.Fatalf("unexpected display name %s", h.DisplayName())
	}
	if h.ClaimedAt().Before(before) || !h.Active() || h.State() != jobstore.StateRunning {
		t.Fatalf("unexpected handle state: claimed=%s active=%v state=%s", h.ClaimedAt(), h.Active(), h.State())
	}
	if err := h.Complete(); err != nil {
		t.Fatal(err)
	}
	if h.Path() != store.Path(jobstore.StateDone, "v1_crf23.txt") || h.Active() {
		t.Fatalf("unexpected resolved handle path=%s active=%v", h.Path(), h.Active())
	}
}

func TestTerminalMoveFailureKeepsHandleActive(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt")
	c := mustClaimer(t, store, "w1")
	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}

	doneDir := store.Path(jobstore.StateDone, "")
	if err := os.Remove(doneDir); err != nil {
		t.Fatal(err)
	}
	if err := h.Complete(); !errors.Is(err, jobstore.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !h.Active() || c.Active() != h {
		t.Fatal("handle must stay active after a failed terminal move")
	}

	if err := store.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	if err := h.Complete(); err != nil {
		t.Fatalf("retry Complete: %v", err)
	}
	if c.Active() != nil {
		t.Fatal("expected active slot cleared")
	}
}

func TestVanishedWaitingEntryIsRetried(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt", "b.txt")

	var stolen atomic.Bool
	thief := func(path, name string) bool {
		if name == "a.txt" && stolen.CompareAndSwap(false, true) {
			if err := os.Rename(path, store.Path(jobstore.StateRunning, "w9.a.txt")); err != nil {
				t.Errorf("simulate competing claim: %v", err)
			}
		}
		return true
	}
	c := mustClaimer(t, store, "w1", claim.WithSelection(claim.SelectOrdered), claim.WithFilter(thief))

	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}
	if h.Name() != "b.txt" {
		t.Fatalf("expected fallback to b.txt, got %s", h.Name())
	}
	if got := c.Stats().Vanished; got != 1 {
		t.Fatalf("expected one vanished race, got %d", got)
	}
	if got := h.Attempts().Vanished; got != 1 {
		t.Fatalf("expected handle to record one vanished race, got %d", got)
	}
}

func TestClaimHonoursCancelledContext(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt")
	c := mustClaimer(t, store, "w1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, err := c.Claim(ctx, false)
	if !errors.Is(err, context.Canceled) || h != nil {
		t.Fatalf("expected context error, got %v %v", h, err)
	}
	if waiting, _ := store.ListWaiting(nil); len(waiting) != 1 {
		t.Fatalf("cancelled claim must not move jobs, waiting=%v", waiting)
	}
}

func TestSyncSleepsToleranceUnlessNoWait(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt", "b.txt")

	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }
	c := mustClaimer(t, store, "w1",
		claim.WithWorkerSync(true),
		claim.WithTolerance(70*time.Second),
		claim.WithSleep(sleep),
	)

	h, err := c.Claim(context.Background(), false)
	if err != nil || h == nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(slept) != 1 || slept[0] != 70*time.Second {
		t.Fatalf("expected one 70s tolerance sleep, got %v", slept)
	}
	if err := h.Complete(); err != nil {
		t.Fatal(err)
	}

	h, err = c.Claim(context.Background(), true)
	if err != nil || h == nil {
		t.Fatalf("Claim noWait: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("noWait must skip the tolerance sleep, got %v", slept)
	}
}

func TestOwnEntryMissingIsClaimLost(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "jobs"))
	addJobs(t, store, "a.txt")

	sleep := func(time.Duration) {
		_ = os.Remove(store.Path(jobstore.StateRunning, "w1.a.txt"))
	}
	c := mustClaimer(t, store, "w1", claim.WithWorkerSync(true), claim.WithSleep(sleep))

	h, err := c.Claim(context.Background(), false)
	if !errors.Is(err, claim.ErrClaimLost) || !errors.Is(err, jobstore.ErrStorage) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}
	if h != nil || c.Active() != nil {
		t.Fatal("lost claim must not produce an active handle")
	}
}

// raceBarrier holds every racing worker inside its tolerance sleep until all
// of them have written a running entry, then settles the storage.
type raceBarrier struct {
	mu      sync.Mutex
	waiting int
	total   int
	release chan struct{}
	settle  func()
}

func newRaceBarrier(total int, settle func()) *raceBarrier {
	return &raceBarrier{total: total, release: make(chan struct{}), settle: settle}
}

func (b *raceBarrier) sleep(time.Duration) {
	b.mu.Lock()
	b.waiting++
	if b.waiting == b.total {
		b.settle()
		close(b.release)
	}
	b.mu.Unlock()
	<-b.release
}

type raceResult struct {
	worker string
	handle *claim.Handle
	stats  claim.Stats
	err    error
}

func race(t *testing.T, root string, lag *testsupport.LaggingFS, workers []string) []raceResult {
	t.Helper()
	barrier := newRaceBarrier(len(workers), lag.Settle)
	results := make([]raceResult, len(workers))
	var wg sync.WaitGroup
	for i, id := range workers {
		store := newStore(t, root, jobstore.WithFileSystem(lag))
		c := mustClaimer(t, store, id,
			claim.WithWorkerSync(true),
			claim.WithTolerance(time.Second),
			claim.WithSleep(barrier.sleep),
		)
		wg.Add(1)
		go func(i int, c *claim.Claimer) {
			defer wg.Done()
			h, err := c.Claim(context.Background(), false)
			results[i] = raceResult{worker: c.WorkerID(), handle: h, stats: c.Stats(), err: err}
		}(i, c)
	}
	wg.Wait()
	return results
}

func TestScenarioTwoWayRace(t *testing.T) {
	root := filepath.Join(t.TempDir(), "jobs")
	store := newStore(t, root)
	addJobs(t, store, "x.txt")
	lag := testsupport.NewLaggingFS()

	results := race(t, root, lag, []string{"w2", "w1"})
	if lag.Moves() != 2 {
		t.Fatalf("expected both workers to move x.txt under lag, got %d moves", lag.Moves())
	}

	var winner *claim.Handle
	for _, r := range results {
		if r.err != nil {
			t.Fatalf("%s: unexpected error %v", r.worker, r.err)
		}
		switch r.worker {
		case "w1":
			winner = r.handle
			if winner == nil {
				t.Fatal("w1 should win arbitration")
			}
			// w2 may relinquish before w1 lists running, leaving w1 the sole holder.
			if r.stats.Claims != 1 || r.stats.ArbitrationLosses != 0 || r.stats.ArbitrationWins > 1 {
				t.Fatalf("w1 stats %+v", r.stats)
			}
		case "w2":
			if r.handle != nil {
				t.Fatal("w2 should relinquish")
			}
			if r.stats.ArbitrationLosses != 1 {
				t.Fatalf("w2 stats %+v", r.stats)
			}
		}
	}

	running, err := store.ListRunning("x.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].WorkerID != "w1" {
		t.Fatalf("expected only w1 in running, got %+v", running)
	}

	loser := mustClaimer(t, store, "w2", claim.WithWorkerSync(true), claim.WithSleep(func(time.Duration) {}))
	if h, err := loser.Claim(context.Background(), false); err != nil || h != nil {
		t.Fatalf("loser must not find x.txt while w1 holds it, got %v err=%v", h, err)
	}

	if err := winner.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := locations(t, store, "x.txt"); len(got) != 1 || got[jobstore.StateDone] != 1 {
		t.Fatalf("expected x.txt exactly once in done, got %v", got)
	}
}

func TestMutualExclusionUnderLaggingStorage(t *testing.T) {
	workers := []string{"w5", "w12", "w3", "w30", "a9", "w1", "Z0", "w2"}
	want := append([]string(nil), workers...)
	sort.Strings(want)
	expectedWinner := want[0]

	for trial := 0; trial < 5; trial++ {
		root := filepath.Join(t.TempDir(), "jobs")
		store := newStore(t, root)
		addJobs(t, store, "x.txt")
		lag := testsupport.NewLaggingFS()

		order := append([]string(nil), workers...)
		rng := rand.New(rand.NewPCG(uint64(trial), 99))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		results := race(t, root, lag, order)

		holders := 0
		for _, r := range results {
			if r.err != nil {
				t.Fatalf("trial %d %s: %v", trial, r.worker, r.err)
			}
			if r.handle != nil {
				holders++
				if r.worker != expectedWinner {
					t.Fatalf("trial %d: %s won, expected %s", trial, r.worker, expectedWinner)
				}
			}
		}
		if holders != 1 {
			t.Fatalf("trial %d: expected exactly one holder, got %d", trial, holders)
		}
		got := locations(t, store, "x.txt")
		if len(got) != 1 || got[jobstore.StateRunning] != 1 {
			t.Fatalf("trial %d: expected x.txt once in running, got %v", trial, got)
		}
	}
}

func TestNoJobLossAcrossRacesAndResolution(t *testing.T) {
	root := filepath.Join(t.TempDir(), "jobs")
	store := newStore(t, root)
	jobs := []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt", "f.txt"}
	addJobs(t, store, jobs...)

	ids := []string{"w1", "w2", "w3"}
	var wg sync.WaitGroup
	for _, id := range ids {
		c := mustClaimer(t, newStore(t, root), id, claim.WithWorkerSync(true), claim.WithSleep(func(time.Duration) {}))
		wg.Add(1)
		go func(c *claim.Claimer) {
			defer wg.Done()
			for i := 0; ; i++ {
				h, err := c.Claim(context.Background(), false)
				if err != nil {
					t.Errorf("%s: %v", c.WorkerID(), err)
					return
				}
				if h == nil {
					return
				}
				resolve := h.Complete
				if i%2 == 1 {
					resolve = h.Fail
				}
				if err := resolve(); err != nil {
					t.Errorf("%s resolve: %v", c.WorkerID(), err)
					return
				}
			}
		}(c)
	}
	wg.Wait()

	for _, job := range jobs {
		got := locations(t, store, job)
		if got[jobstore.StateDone]+got[jobstore.StateFailed] != 1 || got[jobstore.StateWaiting]+got[jobstore.StateRunning] != 0 {
			t.Fatalf("job %s ended in %v", job, got)
		}
	}
}
