// Copyright 2026 The Gametune Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// journalVersion is bumped whenever the on-disk layout changes
// incompatibly. A daemon reading a newer journal refuses it rather
// than misinterpreting records it is about to replay against sysfs.
const journalVersion = 1

// journalFile is the on-disk layout.
type journalFile struct {
	Version  int       `json:"version"`
	Sessions []Session `json:"sessions"`
}

// Journal persists the session table so a restarted daemon can resume
// reverting what the previous instance applied. It lives under the
// daemon's run directory, which sits on tmpfs: a reboot clears it,
// and a reboot also resets every tuning the journal describes, so
// nothing stale ever survives to be replayed against fresh hardware
// state.
type Journal struct {
	path string
}

func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Save atomically replaces the journal with the given sessions:
// write-to-temp, fsync, rename. A crash mid-save leaves the previous
// journal intact, never a torn one.
func (j *Journal) Save(sessions []Session) error {
	data, err := json.Marshal(journalFile{Version: journalVersion, Sessions: sessions})
	if err != nil {
		return fmt.Errorf("encoding journal: %w", err)
	}

	directory := filepath.Dir(j.path)
	temp, err := os.CreateTemp(directory, filepath.Base(j.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating journal temp file: %w", err)
	}
	tempName := temp.Name()
	defer os.Remove(tempName)

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		return fmt.Errorf("writing journal: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return fmt.Errorf("syncing journal: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	if err := os.Rename(tempName, j.path); err != nil {
		return fmt.Errorf("installing journal: %w", err)
	}
	return nil
}

// Load reads the journal. A missing file is an empty journal, not an
// error; a corrupt or future-versioned file is an error, because
// silently discarding it would leak applied tunings forever.
func (j *Journal) Load() ([]Session, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}

	var file journalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding journal %s: %w", j.path, err)
	}
	if file.Version != journalVersion {
		return nil, fmt.Errorf("journal %s has version %d, this daemon speaks %d",
			j.path, file.Version, journalVersion)
	}
	return file.Sessions, nil
}
