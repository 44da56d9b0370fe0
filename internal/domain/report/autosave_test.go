package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testQuiet = 10 * time.Millisecond

func newTestAutosaver(t *testing.T, repo *mockRepo) (*Autosaver, *Report) {
	t.Helper()
	rep := NewReport("s", "p", "")
	repo.Create(context.Background(), rep)
	commits := NewCommitter(repo, zerolog.Nop())
	a := NewAutosaver(rep.ID, rep.Version, commits, testQuiet, zerolog.Nop())
	t.Cleanup(a.Close)
	return a, rep
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func sectionEdit(text string) Mutation {
	return ApplyPatch(Patch{Sections: map[string]string{SectionFindings: text}})
}

func TestAutosaver_DebounceCoalescesEdits(t *testing.T) {
	repo := newMockRepo()
	a, rep := newTestAutosaver(t, repo)

	var mu sync.Mutex
	saves := 0
	a.OnSaved = func(*Report) {
		mu.Lock()
		saves++
		mu.Unlock()
	}

	// A burst of edits inside the quiet window must produce one save
	// carrying the last state.
	for _, text := range []string{"C", "Cl", "Cle", "Clear lungs."} {
		a.OnEdit(sectionEdit(text))
		time.Sleep(time.Millisecond)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saves > 0
	}, "debounced save never fired")

	// Let any stray timer fire.
	time.Sleep(3 * testQuiet)

	mu.Lock()
	if saves != 1 {
		t.Errorf("expected exactly one coalesced save, got %d", saves)
	}
	mu.Unlock()

	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Sections[SectionFindings] != "Clear lungs." {
		t.Errorf("expected last edit persisted, got %q", stored.Sections[SectionFindings])
	}
	if stored.Version != 2 {
		t.Errorf("expected one version increment, got %d", stored.Version)
	}
	if a.Version() != 2 {
		t.Errorf("scheduler should track the committed version, got %d", a.Version())
	}
}

func TestAutosaver_SaveNowBypassesQuietPeriod(t *testing.T) {
	repo := newMockRepo()
	a, rep := newTestAutosaver(t, repo)

	a.OnEdit(sectionEdit("urgent"))
	a.SaveNow(context.Background())

	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Sections[SectionFindings] != "urgent" {
		t.Errorf("SaveNow should persist immediately, got %q", stored.Sections[SectionFindings])
	}

	// Nothing pending: a second SaveNow is a no-op.
	a.SaveNow(context.Background())
	stored, _ = repo.GetByID(context.Background(), rep.ID)
	if stored.Version != 2 {
		t.Errorf("idempotent SaveNow must not commit again, got version %d", stored.Version)
	}
}

func TestAutosaver_PauseHoldsEditsUntilResume(t *testing.T) {
	repo := newMockRepo()
	a, rep := newTestAutosaver(t, repo)

	a.Pause()
	a.OnEdit(sectionEdit("typed during pause"))

	time.Sleep(3 * testQuiet)
	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Version != 1 {
		t.Fatal("paused scheduler must not save")
	}

	a.Resume()
	waitFor(t, func() bool {
		stored, _ := repo.GetByID(context.Background(), rep.ID)
		return stored.Version == 2
	}, "pending edit not saved after resume")

	stored, _ = repo.GetByID(context.Background(), rep.ID)
	if stored.Sections[SectionFindings] != "typed during pause" {
		t.Errorf("expected pause-time edit persisted, got %q", stored.Sections[SectionFindings])
	}
}

func TestAutosaver_ConflictHaltsUntilReset(t *testing.T) {
	repo := newMockRepo()
	a, rep := newTestAutosaver(t, repo)

	conflicts := make(chan *VersionConflictError, 1)
	a.OnConflict = func(c *VersionConflictError) { conflicts <- c }

	// Another session commits first.
	other := NewCommitter(repo, zerolog.Nop())
	if _, err := other.Commit(context.Background(), rep.ID, 1, sectionEdit("their text")); err != nil {
		t.Fatalf("setup commit: %v", err)
	}

	a.OnEdit(sectionEdit("my text"))

	var conflict *VersionConflictError
	select {
	case conflict = <-conflicts:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConflict never fired")
	}
	if conflict.ServerVersion != 2 {
		t.Errorf("expected server version 2, got %d", conflict.ServerVersion)
	}

	// Halted: further edits must not autosave.
	a.OnEdit(sectionEdit("still halted"))
	time.Sleep(3 * testQuiet)
	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Sections[SectionFindings] != "their text" {
		t.Errorf("halted scheduler wrote anyway: %q", stored.Sections[SectionFindings])
	}

	// The human reloaded at the server version; autosaving resumes.
	a.Reset(conflict.ServerVersion)
	a.OnEdit(sectionEdit("merged text"))
	waitFor(t, func() bool {
		stored, _ := repo.GetByID(context.Background(), rep.ID)
		return stored.Sections[SectionFindings] == "merged text"
	}, "save after Reset never landed")
}

func TestAutosaver_FirstTransientFailureAbsorbed(t *testing.T) {
	repo := newMockRepo()
	a, rep := newTestAutosaver(t, repo)

	errored := make(chan error, 1)
	a.OnError = func(err error) { errored <- err }

	repo.mu.Lock()
	repo.failCAS = 1
	repo.mu.Unlock()

	a.Pause()
	a.OnEdit(sectionEdit("flaky save"))
	a.SaveNow(context.Background())

	select {
	case err := <-errored:
		t.Fatalf("single transient failure should be absorbed, got OnError(%v)", err)
	default:
	}

	// The state stayed dirty; an explicit save retries and succeeds.
	a.SaveNow(context.Background())
	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Sections[SectionFindings] != "flaky save" {
		t.Errorf("retry after transient failure did not persist, got %q", stored.Sections[SectionFindings])
	}
}

func TestAutosaver_RepeatedFailuresSurface(t *testing.T) {
	repo := newMockRepo()
	a, _ := newTestAutosaver(t, repo)

	errored := make(chan error, 1)
	a.OnError = func(err error) { errored <- err }

	repo.mu.Lock()
	repo.failCAS = 2
	repo.mu.Unlock()

	a.Pause()
	a.OnEdit(sectionEdit("first try"))
	a.SaveNow(context.Background())
	a.SaveNow(context.Background())

	select {
	case <-errored:
	case <-time.After(2 * time.Second):
		t.Fatal("OnError should fire on the second consecutive failure")
	}
}

// gateRepo blocks the first CompareAndSwap until released, for
// exercising the single-in-flight rule.
type gateRepo struct {
	*mockRepo
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gateRepo) CompareAndSwap(ctx context.Context, r *Report, expected int) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.mockRepo.CompareAndSwap(ctx, r, expected)
}

func TestAutosaver_SingleInFlightWithFollowUp(t *testing.T) {
	inner := newMockRepo()
	rep := NewReport("s", "p", "")
	inner.Create(context.Background(), rep)

	gated := &gateRepo{mockRepo: inner, entered: make(chan struct{}), gate: make(chan struct{})}
	commits := NewCommitter(gated, zerolog.Nop())
	a := NewAutosaver(rep.ID, rep.Version, commits, testQuiet, zerolog.Nop())
	defer a.Close()

	var mu sync.Mutex
	saves := 0
	a.OnSaved = func(*Report) {
		mu.Lock()
		saves++
		mu.Unlock()
	}

	a.OnEdit(sectionEdit("first"))
	done := make(chan struct{})
	go func() {
		a.SaveNow(context.Background())
		close(done)
	}()

	<-gated.entered

	// Edits arriving while the save is in flight coalesce into exactly
	// one follow-up save.
	a.OnEdit(sectionEdit("second"))
	a.OnEdit(sectionEdit("third"))
	time.Sleep(3 * testQuiet) // let the debounce timer fire into the in-flight save
	close(gated.gate)
	<-done

	waitFor(t, func() bool {
		stored, _ := inner.GetByID(context.Background(), rep.ID)
		return stored.Sections[SectionFindings] == "third"
	}, "follow-up save never landed")

	stored, _ := inner.GetByID(context.Background(), rep.ID)
	if stored.Version != 3 {
		t.Errorf("expected two commits total, got version %d", stored.Version)
	}
	mu.Lock()
	if saves != 2 {
		t.Errorf("expected two OnSaved callbacks, got %d", saves)
	}
	mu.Unlock()
}

func TestAutosaver_CloseStopsScheduling(t *testing.T) {
	repo := newMockRepo()
	a, rep := newTestAutosaver(t, repo)

	a.OnEdit(sectionEdit("about to close"))
	a.Close()

	time.Sleep(3 * testQuiet)
	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Version != 1 {
		t.Error("closed scheduler must not save")
	}
}
