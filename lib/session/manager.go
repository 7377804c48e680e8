// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gametune-project/gametune/lib/clock"
	"github.com/gametune-project/gametune/lib/process"
	"github.com/gametune-project/gametune/lib/profile"
	"github.com/gametune-project/gametune/lib/tuning"
)

// ErrClientBusy rejects a second concurrent session from the same
// client process. One launcher launches one target.
var ErrClientBusy = errors.New("client already has an active session")

// ErrTargetNotRunning rejects a session whose target process does not
// exist, or vanished before the session could be activated.
var ErrTargetNotRunning = errors.New("target process is not running")

// Options configures a Manager. Executors is the only required field.
type Options struct {
	Executors []tuning.Executor

	// Journal persists sessions across daemon restarts. Nil disables
	// persistence.
	Journal *Journal

	// Clock drives the sweep loop. Defaults to the real clock.
	Clock clock.Clock

	// Alive overrides the process existence probe, for tests.
	Alive func(pid int) bool

	Log *slog.Logger
}

// sharedState is the refcount entry for one machine-wide resource.
// The first session to touch the resource captures its prior into
// holder; the last session out restores that holder, regardless of
// which sessions came and went in between.
type sharedState struct {
	count  int
	holder tuning.Record
}

// Manager applies, tracks, and reverts tuning sessions.
type Manager struct {
	executors []tuning.Executor
	byKind    map[tuning.Kind]tuning.Executor
	journal   *Journal
	clock     clock.Clock
	alive     func(pid int) bool
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	shared   map[string]*sharedState
}

func NewManager(options Options) *Manager {
	manager := &Manager{
		executors: options.Executors,
		byKind:    make(map[tuning.Kind]tuning.Executor),
		journal:   options.Journal,
		clock:     options.Clock,
		alive:     options.Alive,
		log:       options.Log,
		sessions:  make(map[string]*Session),
		shared:    make(map[string]*sharedState),
	}
	for _, executor := range options.Executors {
		for _, kind := range executor.Kinds() {
			manager.byKind[kind] = executor
		}
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.alive == nil {
		manager.alive = process.Alive
	}
	if manager.log == nil {
		manager.log = slog.Default()
	}
	return manager
}

// StartSession plans and applies the effective settings for targetPID
// on behalf of clientPID, and returns the new session in StateActive.
// A zero targetPID starts a session without process tuning, bound to
// the client's lifetime instead of a target's. Any apply failure rolls
// back everything already applied, in reverse order, before returning;
// a session is never left half-tuned.
func (m *Manager) StartSession(clientPID, targetPID int, effective profile.Effective) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.ClientPID == clientPID && !existing.State.terminal() {
			return Session{}, fmt.Errorf("pid %d: %w", clientPID, ErrClientBusy)
		}
	}
	// A pidless session (CPU/GPU tuning only, no process to adjust)
	// is keyed to the client's own lifetime instead.
	watch := targetPID
	if watch <= 0 {
		watch = clientPID
	}
	if !m.alive(watch) {
		return Session{}, fmt.Errorf("pid %d: %w", watch, ErrTargetNotRunning)
	}

	session := &Session{
		Handle:    uuid.NewString(),
		Target:    effective.Target,
		ClientPID: clientPID,
		TargetPID: targetPID,
		State:     StateRequested,
		Started:   m.clock.Now(),
	}

	// Plan everything before touching anything, so a planning error
	// costs nothing.
	var mutations []tuning.Mutation
	for _, executor := range m.executors {
		planned, err := executor.Plan(effective, targetPID)
		if err != nil {
			return Session{}, fmt.Errorf("planning %s: %w", session.Target, err)
		}
		mutations = append(mutations, planned...)
	}

	for _, mutation := range mutations {
		record, err := m.applyLocked(mutation)
		if err != nil {
			m.rollbackLocked(session)
			return Session{}, fmt.Errorf("applying %s: %w", mutation.Kind, err)
		}
		session.Records = append(session.Records, record)
	}
	session.State = StateTuned

	// The target may have exited while we were writing sysfs. Catch
	// it here rather than waiting a sweep interval with tunings held
	// for a corpse.
	if !m.alive(watch) {
		m.rollbackLocked(session)
		return Session{}, fmt.Errorf("pid %d exited during setup: %w", watch, ErrTargetNotRunning)
	}
	session.State = StateActive

	m.sessions[session.Handle] = session
	m.persistLocked()
	m.log.Info("session started",
		"handle", session.Handle,
		"target", session.Target,
		"client_pid", clientPID,
		"target_pid", targetPID,
		"mutations", len(session.Records))
	return *session, nil
}

// EndSession reverts the session with the given handle. Unknown
// handles succeed with found=false: the sweeper may have beaten the
// client to it, and the end state is identical. Ending a session twice
// is likewise harmless.
func (m *Manager) EndSession(handle string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[handle]
	if !ok {
		return Session{}, false, nil
	}
	if session.State.terminal() {
		return *session, true, nil
	}
	err := m.revertLocked(session, "client request")
	return *session, true, err
}

// SweepOrphans reverts every non-terminal session whose client or
// target process no longer exists. A dead client means nobody is left
// to call EndSession; a dead target means the session's reason to
// exist is gone and the client's own EndSession, if it still comes,
// will land on the idempotent path. Runs at startup (covering
// sessions re-adopted from the journal) and on the sweep ticker.
func (m *Manager) SweepOrphans() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range m.sessions {
		if session.State.terminal() {
			continue
		}
		var reason string
		switch {
		case session.TargetPID > 0 && !m.alive(session.TargetPID):
			reason = "target exited"
		case !m.alive(session.ClientPID):
			reason = "client vanished"
		default:
			continue
		}
		if err := m.revertLocked(session, reason); err != nil {
			m.log.Error("orphan revert incomplete", "handle", session.Handle, "error", err)
		}
	}
}

// Run drives the sweep loop until the context is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOrphans()
		}
	}
}

// Sessions returns a snapshot of all tracked sessions, active and
// failed.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		snapshot = append(snapshot, *session)
	}
	return snapshot
}

// Adopt rebuilds manager state from journaled sessions after a daemon
// restart: the session table, and the shared-resource refcounts
// implied by the sessions' records. Callers follow with SweepOrphans
// to revert whatever died while the daemon was down.
func (m *Manager) Adopt(sessions []Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for index := range sessions {
		session := sessions[index]
		if session.State == StateReverted {
			continue
		}
		m.sessions[session.Handle] = &session
		if session.State.terminal() {
			// Failed sessions come back for status visibility only.
			// Their unreverted records must not hold refcounts: the
			// sweep skips terminal sessions and EndSession no-ops on
			// them, so nothing would ever release the count, and a
			// later session on the same key would piggyback on a
			// corpse instead of getting a real apply.
			m.log.Warn("failed session adopted from journal",
				"handle", session.Handle,
				"target", session.Target,
				"failures", len(session.Failures))
			continue
		}
		for _, record := range session.Records {
			if record.SharedKey == "" || record.Reverted {
				continue
			}
			entry, ok := m.shared[record.SharedKey]
			if !ok {
				entry = &sharedState{holder: record}
				m.shared[record.SharedKey] = entry
			}
			entry.count++
		}
		m.log.Info("session adopted from journal",
			"handle", session.Handle,
			"target", session.Target,
			"state", session.State)
	}
}

// applyLocked performs one mutation, honoring shared-resource
// refcounts: only the first session to want a shared resource touches
// the system; later sessions inherit the holder's record.
func (m *Manager) applyLocked(mutation tuning.Mutation) (tuning.Record, error) {
	executor, ok := m.byKind[mutation.Kind]
	if !ok {
		return tuning.Record{}, fmt.Errorf("no executor for kind %q", mutation.Kind)
	}

	if mutation.SharedKey != "" {
		if entry, ok := m.shared[mutation.SharedKey]; ok {
			entry.count++
			return entry.holder, nil
		}
		record, err := executor.Apply(mutation)
		if err != nil {
			return tuning.Record{}, err
		}
		m.shared[mutation.SharedKey] = &sharedState{count: 1, holder: record}
		return record, nil
	}
	return executor.Apply(mutation)
}

// restoreLocked undoes one record. Shared records decrement their
// refcount and only the last session out performs the write, using
// the holder record so the original prior wins.
func (m *Manager) restoreLocked(record tuning.Record) error {
	executor, ok := m.byKind[record.Kind]
	if !ok {
		return fmt.Errorf("no executor for kind %q", record.Kind)
	}

	if record.SharedKey != "" {
		entry, ok := m.shared[record.SharedKey]
		if !ok {
			// Refcount already drained, nothing holds the resource.
			return nil
		}
		entry.count--
		if entry.count > 0 {
			return nil
		}
		delete(m.shared, record.SharedKey)
		return executor.Restore(entry.holder)
	}
	return executor.Restore(record)
}

// revertLocked walks a session's records in reverse apply order,
// restoring each. Errors do not stop the walk; every record gets its
// restore attempt, and the session lands in StateFailed if any of
// them failed.
func (m *Manager) revertLocked(session *Session, reason string) error {
	session.State = StateReverting
	var failures []error
	for index := len(session.Records) - 1; index >= 0; index-- {
		record := &session.Records[index]
		if record.Reverted {
			continue
		}
		if err := m.restoreLocked(*record); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", record.Kind, err))
			continue
		}
		record.Reverted = true
	}

	if len(failures) > 0 {
		session.State = StateFailed
		for _, failure := range failures {
			session.Failures = append(session.Failures, failure.Error())
		}
	} else {
		session.State = StateReverted
		delete(m.sessions, session.Handle)
	}
	m.persistLocked()

	m.log.Info("session ended",
		"handle", session.Handle,
		"target", session.Target,
		"reason", reason,
		"state", session.State)
	return errors.Join(failures...)
}

// rollbackLocked undoes a partially applied session that never became
// visible. Restore errors here are logged and dropped: the apply
// error that triggered the rollback is the one the client needs.
func (m *Manager) rollbackLocked(session *Session) {
	for index := len(session.Records) - 1; index >= 0; index-- {
		if err := m.restoreLocked(session.Records[index]); err != nil {
			m.log.Error("rollback restore failed",
				"kind", session.Records[index].Kind, "error", err)
		}
	}
	session.Records = nil
}

func (m *Manager) persistLocked() {
	if m.journal == nil {
		return
	}
	snapshot := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		snapshot = append(snapshot, *session)
	}
	if err := m.journal.Save(snapshot); err != nil {
		m.log.Error("journal write failed", "error", err)
	}
}
