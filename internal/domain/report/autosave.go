package report

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultQuietPeriod is the debounce window: a save fires only after no
// edit has arrived for this long.
const DefaultQuietPeriod = 3 * time.Second

// Autosaver debounces edits to a single report into persisted saves
// through the Committer. Classic debounce, not throttle: every edit
// cancels the previously scheduled save, so only the last edit inside a
// quiet window triggers one.
//
// Concurrency model: at most one in-flight save per report. Edits that
// arrive while a save is outstanding mark the state dirty and trigger
// exactly one follow-up save on completion, not one per edit.
type Autosaver struct {
	reportID uuid.UUID
	commits  *Committer
	quiet    time.Duration
	log      zerolog.Logger

	// OnSaved is called after each successful save with the new report.
	OnSaved func(*Report)
	// OnConflict is called when a save loses a version race. Automatic
	// saving halts until Reset; the human decides reload vs overwrite.
	OnConflict func(*VersionConflictError)
	// OnError is called when a transient save error repeats. The first
	// failure is absorbed: the state stays dirty and the next edit or
	// explicit save retries.
	OnError func(error)

	mu       sync.Mutex
	timer    *time.Timer
	pending  Mutation
	version  int
	paused   bool
	halted   bool
	saving   bool
	dirty    bool
	failures int
	closed   bool
}

// NewAutosaver creates a scheduler for one report. version is the last
// version the caller observed.
func NewAutosaver(reportID uuid.UUID, version int, commits *Committer, quiet time.Duration, log zerolog.Logger) *Autosaver {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Autosaver{
		reportID: reportID,
		commits:  commits,
		quiet:    quiet,
		version:  version,
		log:      log,
	}
}

// OnEdit registers the caller's current local state as the pending save
// and re-arms the debounce timer. The mutation replaces any previously
// pending one: it must write the caller's full local edit state, so the
// coalesced save persists everything typed during the quiet window.
func (a *Autosaver) OnEdit(mutate Mutation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.halted {
		return
	}

	a.pending = mutate
	if a.paused {
		// Local state updated; scheduling resumes with Resume.
		return
	}
	a.armLocked()
}

// armLocked (re)starts the debounce timer. Caller holds a.mu.
func (a *Autosaver) armLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.quiet, func() {
		a.save(context.Background())
	})
}

// SaveNow cancels any scheduled save and commits immediately. Idempotent
// when nothing is pending.
func (a *Autosaver) SaveNow(ctx context.Context) {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	a.save(ctx)
}

// Pause suspends scheduling. Held during finalize/sign so the state
// machine's commit cannot race an autosave. Edits during a pause still
// update the pending state.
func (a *Autosaver) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Resume re-arms scheduling; a save pending from before or during the
// pause is scheduled again.
func (a *Autosaver) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		return
	}
	a.paused = false
	if a.pending != nil && !a.halted && !a.closed {
		a.armLocked()
	}
}

// Reset clears a conflict halt after the caller resolved it (reloaded or
// overwrote) and records the version to commit against next.
func (a *Autosaver) Reset(version int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.halted = false
	a.failures = 0
	a.pending = nil
	a.dirty = false
	a.version = version
}

// Version returns the last version the scheduler observed.
func (a *Autosaver) Version() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Close cancels any pending timer. Used at session teardown.
func (a *Autosaver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Autosaver) save(ctx context.Context) {
	a.mu.Lock()
	if a.closed || a.halted || a.pending == nil {
		a.mu.Unlock()
		return
	}
	if a.saving {
		// One follow-up save after the in-flight one completes.
		a.dirty = true
		a.mu.Unlock()
		return
	}
	a.saving = true
	mutate := a.pending
	a.pending = nil
	version := a.version
	a.mu.Unlock()

	rep, err := a.commits.Commit(ctx, a.reportID, version, mutate)

	a.mu.Lock()
	a.saving = false
	switch {
	case err == nil:
		a.version = rep.Version
		a.failures = 0
	default:
		var conflict *VersionConflictError
		if errors.As(err, &conflict) {
			// Human decision required; stop autosaving until Reset.
			a.halted = true
			if a.pending == nil {
				a.pending = mutate
			}
			a.mu.Unlock()
			if a.OnConflict != nil {
				a.OnConflict(conflict)
			}
			return
		}
		// Transient failure: still dirty, retry on next edit or save.
		a.failures++
		if a.pending == nil {
			a.pending = mutate
		}
		failures := a.failures
		a.mu.Unlock()
		a.log.Warn().Err(err).
			Str("report_id", a.reportID.String()).
			Int("consecutive_failures", failures).
			Msg("autosave failed")
		if failures >= 2 && a.OnError != nil {
			a.OnError(err)
		}
		return
	}
	redo := a.dirty && a.pending != nil
	a.dirty = false
	a.mu.Unlock()

	if a.OnSaved != nil {
		a.OnSaved(rep)
	}
	if redo {
		a.save(ctx)
	}
}
