// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gametune-project/gametune/lib/profile"
	"github.com/gametune-project/gametune/lib/tuning"
)

const kindFake = tuning.Kind("fake")

// fakeExecutor keeps its "hardware" in a path→value map, so tests can
// check that a full session lifecycle is an identity operation on it.
type fakeExecutor struct {
	plan        []tuning.Mutation
	planErr     error
	values      map[string]string
	failApply   map[string]error
	failRestore map[string]error
	applyLog    []string
	restoreLog  []string
}

func newFakeExecutor(mutations ...tuning.Mutation) *fakeExecutor {
	return &fakeExecutor{
		plan:        mutations,
		values:      make(map[string]string),
		failApply:   make(map[string]error),
		failRestore: make(map[string]error),
	}
}

func (f *fakeExecutor) Kinds() []tuning.Kind { return []tuning.Kind{kindFake} }

func (f *fakeExecutor) Plan(effective profile.Effective, targetPID int) ([]tuning.Mutation, error) {
	return f.plan, f.planErr
}

func (f *fakeExecutor) Apply(mutation tuning.Mutation) (tuning.Record, error) {
	if err := f.failApply[mutation.Path]; err != nil {
		return tuning.Record{}, err
	}
	f.applyLog = append(f.applyLog, mutation.Path)
	prior := f.values[mutation.Path]
	f.values[mutation.Path] = mutation.Desired
	return tuning.Record{Mutation: mutation, Prior: prior}, nil
}

func (f *fakeExecutor) Restore(record tuning.Record) error {
	if err := f.failRestore[record.Path]; err != nil {
		return err
	}
	f.restoreLog = append(f.restoreLog, record.Path)
	f.values[record.Path] = record.Prior
	return nil
}

func mutation(path, desired, sharedKey string) tuning.Mutation {
	return tuning.Mutation{Kind: kindFake, Path: path, Desired: desired, SharedKey: sharedKey}
}

// testManager wires a manager around fake executors with a map-backed
// liveness probe. Pids present in alive are running.
func testManager(t *testing.T, alive map[int]bool, executors ...tuning.Executor) *Manager {
	t.Helper()
	return NewManager(Options{
		Executors: executors,
		Alive:     func(pid int) bool { return alive[pid] },
		Log:       slog.New(slog.DiscardHandler),
	})
}

func effectiveFor(target string) profile.Effective {
	return profile.Effective{Target: target}
}

func TestSessionLifecycleIsIdentity(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "tuned-a", ""), mutation("b", "tuned-b", ""))
	executor.values["a"] = "orig-a"
	executor.values["b"] = "orig-b"
	alive := map[int]bool{500: true}
	manager := testManager(t, alive, executor)

	session, err := manager.StartSession(100, 500, effectiveFor("game"))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.State != StateActive {
		t.Errorf("State = %q, want active", session.State)
	}
	if executor.values["a"] != "tuned-a" || executor.values["b"] != "tuned-b" {
		t.Errorf("values after start = %v", executor.values)
	}

	ended, found, err := manager.EndSession(session.Handle)
	if err != nil || !found {
		t.Fatalf("EndSession = (%v, %v, %v)", ended, found, err)
	}
	if ended.State != StateReverted {
		t.Errorf("State = %q, want reverted", ended.State)
	}
	if executor.values["a"] != "orig-a" || executor.values["b"] != "orig-b" {
		t.Errorf("values after end = %v, want originals back", executor.values)
	}
	if remaining := manager.Sessions(); len(remaining) != 0 {
		t.Errorf("Sessions() = %v after clean end, want empty", remaining)
	}
}

func TestRestoreIsReverseApplyOrder(t *testing.T) {
	executor := newFakeExecutor(
		mutation("first", "x", ""), mutation("second", "x", ""), mutation("third", "x", ""))
	alive := map[int]bool{500: true}
	manager := testManager(t, alive, executor)

	session, err := manager.StartSession(100, 500, effectiveFor("game"))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, _, err := manager.EndSession(session.Handle); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	want := []string{"third", "second", "first"}
	if !slices.Equal(executor.restoreLog, want) {
		t.Errorf("restore order = %v, want %v", executor.restoreLog, want)
	}
}

func TestClientBusy(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "x", ""))
	alive := map[int]bool{500: true, 501: true}
	manager := testManager(t, alive, executor)

	session, err := manager.StartSession(100, 500, effectiveFor("game"))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := manager.StartSession(100, 501, effectiveFor("other")); !errors.Is(err, ErrClientBusy) {
		t.Errorf("second session err = %v, want ErrClientBusy", err)
	}

	// A different client is fine, and the original client can come
	// back once its session is over.
	if _, err := manager.StartSession(200, 501, effectiveFor("other")); err != nil {
		t.Errorf("different client: %v", err)
	}
	if _, _, err := manager.EndSession(session.Handle); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := manager.StartSession(100, 500, effectiveFor("game")); err != nil {
		t.Errorf("client after ending its session: %v", err)
	}
}

func TestApplyFailureRollsBack(t *testing.T) {
	executor := newFakeExecutor(
		mutation("a", "tuned", ""), mutation("b", "tuned", ""), mutation("c", "tuned", ""))
	executor.values["a"] = "orig-a"
	executor.values["b"] = "orig-b"
	executor.failApply["c"] = errors.New("write rejected")
	alive := map[int]bool{500: true}
	manager := testManager(t, alive, executor)

	if _, err := manager.StartSession(100, 500, effectiveFor("game")); err == nil {
		t.Fatal("StartSession succeeded, want apply failure")
	}
	if executor.values["a"] != "orig-a" || executor.values["b"] != "orig-b" {
		t.Errorf("values after rollback = %v, want originals", executor.values)
	}
	if remaining := manager.Sessions(); len(remaining) != 0 {
		t.Errorf("Sessions() = %v after failed start, want empty", remaining)
	}
	if !slices.Equal(executor.restoreLog, []string{"b", "a"}) {
		t.Errorf("rollback order = %v, want [b a]", executor.restoreLog)
	}
}

// Two sessions sharing a machine-wide resource: the hardware is
// written once on the way in and once on the way out, and the prior
// captured by the first session is what comes back, regardless of end
// order.
func TestSharedResourceRefcount(t *testing.T) {
	executor := newFakeExecutor(mutation("cap", "260", "gpu:0000:01:00.0"))
	executor.values["cap"] = "200"
	alive := map[int]bool{500: true, 501: true}
	manager := testManager(t, alive, executor)

	first, err := manager.StartSession(100, 500, effectiveFor("game"))
	if err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	second, err := manager.StartSession(200, 501, effectiveFor("other"))
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if len(executor.applyLog) != 1 {
		t.Fatalf("applies = %v, want exactly one hardware write", executor.applyLog)
	}

	// First session out: resource still held, no write.
	if _, _, err := manager.EndSession(first.Handle); err != nil {
		t.Fatalf("EndSession first: %v", err)
	}
	if len(executor.restoreLog) != 0 {
		t.Fatalf("restores = %v after first end, want none", executor.restoreLog)
	}
	if executor.values["cap"] != "260" {
		t.Errorf("cap = %q while still held, want tuned value", executor.values["cap"])
	}

	// Last session out restores the original prior.
	if _, _, err := manager.EndSession(second.Handle); err != nil {
		t.Fatalf("EndSession second: %v", err)
	}
	if executor.values["cap"] != "200" {
		t.Errorf("cap = %q after last end, want original prior", executor.values["cap"])
	}
}

func TestEndSessionUnknownHandle(t *testing.T) {
	manager := testManager(t, nil, newFakeExecutor())
	session, found, err := manager.EndSession("no-such-handle")
	if err != nil {
		t.Errorf("err = %v, want nil for unknown handle", err)
	}
	if found {
		t.Errorf("found = true for unknown handle, session = %+v", session)
	}
}

// A pidless session carries the non-process tunings and lives as long
// as its client does.
func TestStartSessionWithoutTargetPID(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "tuned", ""))
	executor.values["a"] = "orig"
	alive := map[int]bool{100: true}
	manager := testManager(t, alive, executor)

	session, err := manager.StartSession(100, 0, effectiveFor("game"))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if session.State != StateActive {
		t.Errorf("State = %q, want active", session.State)
	}
	if executor.values["a"] != "tuned" {
		t.Errorf("value = %q after start", executor.values["a"])
	}

	// No target to die; the session survives sweeps while the client
	// lives.
	manager.SweepOrphans()
	if executor.values["a"] != "tuned" {
		t.Error("sweep reverted a pidless session with a living client")
	}

	alive[100] = false
	manager.SweepOrphans()
	if executor.values["a"] != "orig" {
		t.Errorf("value = %q after client death, want original", executor.values["a"])
	}
}

func TestStartSessionTargetNotRunning(t *testing.T) {
	manager := testManager(t, nil, newFakeExecutor(mutation("a", "x", "")))
	if _, err := manager.StartSession(100, 500, effectiveFor("game")); !errors.Is(err, ErrTargetNotRunning) {
		t.Errorf("err = %v, want ErrTargetNotRunning", err)
	}
}

// The target exiting between apply and activation rolls everything
// back instead of leaving tunings pinned to a dead pid until the next
// sweep.
func TestStartSessionTargetDiesDuringSetup(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "tuned", ""))
	executor.values["a"] = "orig"
	alive := map[int]bool{500: true}
	manager := NewManager(Options{
		Executors: []tuning.Executor{executor},
		Log:       slog.New(slog.DiscardHandler),
		Alive: func(pid int) bool {
			running := alive[pid]
			alive[pid] = false // dies after the first probe
			return running
		},
	})

	if _, err := manager.StartSession(100, 500, effectiveFor("game")); !errors.Is(err, ErrTargetNotRunning) {
		t.Fatalf("err = %v, want ErrTargetNotRunning", err)
	}
	if executor.values["a"] != "orig" {
		t.Errorf("value = %q, want rollback to original", executor.values["a"])
	}
}

func TestSweepOrphans(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "tuned", ""))
	executor.values["a"] = "orig"
	alive := map[int]bool{100: true, 500: true}
	manager := testManager(t, alive, executor)

	if _, err := manager.StartSession(100, 500, effectiveFor("game")); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// Client and target both alive: sweep must not touch it.
	manager.SweepOrphans()
	if executor.values["a"] != "tuned" {
		t.Error("sweep reverted a session with living client and target")
	}

	alive[500] = false
	manager.SweepOrphans()
	if executor.values["a"] != "orig" {
		t.Errorf("value = %q after sweep, want original", executor.values["a"])
	}
	if remaining := manager.Sessions(); len(remaining) != 0 {
		t.Errorf("Sessions() = %v after sweep, want empty", remaining)
	}
}

// A crashed launcher leaves nobody to call EndSession; the sweep
// reverts on the dead client alone, even while the target still runs.
func TestSweepOrphansDeadClient(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "tuned", ""))
	executor.values["a"] = "orig"
	alive := map[int]bool{100: true, 500: true}
	manager := testManager(t, alive, executor)

	if _, err := manager.StartSession(100, 500, effectiveFor("game")); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	alive[100] = false
	manager.SweepOrphans()
	if executor.values["a"] != "orig" {
		t.Errorf("value = %q after sweep, want original", executor.values["a"])
	}
}

func TestRevertFailureMarksSessionFailed(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "tuned", ""), mutation("b", "tuned", ""))
	executor.values["a"] = "orig-a"
	executor.values["b"] = "orig-b"
	executor.failRestore["a"] = errors.New("device wedged")
	alive := map[int]bool{500: true}
	manager := testManager(t, alive, executor)

	session, err := manager.StartSession(100, 500, effectiveFor("game"))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	ended, found, err := manager.EndSession(session.Handle)
	if !found || err == nil {
		t.Fatalf("EndSession = (found=%v, err=%v), want found with error", found, err)
	}
	if ended.State != StateFailed {
		t.Errorf("State = %q, want failed", ended.State)
	}
	if len(ended.Failures) != 1 {
		t.Errorf("Failures = %v, want one entry", ended.Failures)
	}
	// The restorable record was still restored.
	if executor.values["b"] != "orig-b" {
		t.Errorf("b = %q, want restored despite sibling failure", executor.values["b"])
	}

	// Failed sessions stay visible, and ending again is a no-op.
	if remaining := manager.Sessions(); len(remaining) != 1 {
		t.Fatalf("Sessions() = %v, want the failed session retained", remaining)
	}
	again, found, err := manager.EndSession(session.Handle)
	if !found || err != nil {
		t.Fatalf("second EndSession = (found=%v, err=%v)", found, err)
	}
	if again.State != StateFailed {
		t.Errorf("second end State = %q, want failed unchanged", again.State)
	}
}

// A journaled session survives a manager restart: the new manager
// adopts it, rebuilds the shared refcount, and the sweep reverts it
// once the target is gone.
func TestJournalRecovery(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "sessions.json")
	executor := newFakeExecutor(mutation("cap", "260", "gpu:0"))
	executor.values["cap"] = "200"
	alive := map[int]bool{500: true}

	manager := NewManager(Options{
		Executors: []tuning.Executor{executor},
		Journal:   NewJournal(journalPath),
		Alive:     func(pid int) bool { return alive[pid] },
		Log:       slog.New(slog.DiscardHandler),
	})
	if _, err := manager.StartSession(100, 500, effectiveFor("game")); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// "Restart": a fresh manager over the same journal and the same
	// hardware state. The target has died in the meantime.
	alive[500] = false
	restarted := NewManager(Options{
		Executors: []tuning.Executor{executor},
		Journal:   NewJournal(journalPath),
		Alive:     func(pid int) bool { return alive[pid] },
		Log:       slog.New(slog.DiscardHandler),
	})
	recovered, err := NewJournal(journalPath).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("recovered %d sessions, want 1", len(recovered))
	}
	restarted.Adopt(recovered)
	if len(restarted.Sessions()) != 1 {
		t.Fatal("adopted session not visible")
	}

	restarted.SweepOrphans()
	if executor.values["cap"] != "200" {
		t.Errorf("cap = %q after recovery sweep, want original prior", executor.values["cap"])
	}
	if remaining := restarted.Sessions(); len(remaining) != 0 {
		t.Errorf("Sessions() = %v after recovery sweep, want empty", remaining)
	}
}

// A Failed session re-adopted after a restart is visible in status
// but holds no shared refcounts: a new session on the same key gets a
// real apply and its clean end reaches count zero and writes the
// restore, instead of piggybacking on the dead session's count and
// leaking the tuned value forever.
func TestAdoptedFailedSessionHoldsNoSharedResources(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "sessions.json")
	executor := newFakeExecutor(mutation("cap", "tuned", "gpu:0"))
	executor.values["cap"] = "orig"
	executor.failRestore["cap"] = errors.New("device wedged")
	alive := map[int]bool{100: true, 500: true}
	probe := func(pid int) bool { return alive[pid] }

	manager := NewManager(Options{
		Executors: []tuning.Executor{executor},
		Journal:   NewJournal(journalPath),
		Alive:     probe,
		Log:       slog.New(slog.DiscardHandler),
	})
	failed, err := manager.StartSession(100, 500, effectiveFor("game"))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, _, err := manager.EndSession(failed.Handle); err == nil {
		t.Fatal("EndSession succeeded, want failed restore")
	}

	// "Restart": the device has recovered, the Failed session comes
	// back from the journal.
	executor.failRestore = map[string]error{}
	restarted := NewManager(Options{
		Executors: []tuning.Executor{executor},
		Journal:   NewJournal(journalPath),
		Alive:     probe,
		Log:       slog.New(slog.DiscardHandler),
	})
	recovered, err := NewJournal(journalPath).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	restarted.Adopt(recovered)
	if len(restarted.Sessions()) != 1 {
		t.Fatal("failed session not visible after adoption")
	}

	second, err := restarted.StartSession(200, 500, effectiveFor("other"))
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	// A real apply, not a piggyback on the failed session's record.
	if got := executor.applyLog; len(got) != 2 {
		t.Fatalf("applies = %v, want a fresh hardware write", got)
	}
	if _, _, err := restarted.EndSession(second.Handle); err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	// The second session's end reaches count zero and restores its
	// own captured prior. The value the failed session leaked is the
	// prior it captured; that leak is the Failed state's business,
	// not a new one.
	if len(executor.restoreLog) != 1 {
		t.Fatalf("restores = %v, want exactly one write at count zero", executor.restoreLog)
	}
	if executor.values["cap"] != "tuned" {
		t.Errorf("cap = %q, want the second session's captured prior back", executor.values["cap"])
	}
}

func TestPlanFailureAppliesNothing(t *testing.T) {
	executor := newFakeExecutor(mutation("a", "x", ""))
	executor.planErr = errors.New("no cpufreq policies")
	alive := map[int]bool{500: true}
	manager := testManager(t, alive, executor)

	if _, err := manager.StartSession(100, 500, effectiveFor("game")); err == nil {
		t.Fatal("StartSession succeeded, want plan failure")
	}
	if len(executor.applyLog) != 0 {
		t.Errorf("applies = %v after plan failure, want none", executor.applyLog)
	}
}
