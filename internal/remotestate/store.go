// Package remotestate provides the durable, human-editable mapping
// from build key to remote job record used by the hosted build
// backend. It is the source of truth across process restarts:
// in-memory state is a cache, every mutation writes through.
package remotestate

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Status is the lifecycle state of one remote job.
type Status string

const (
	StatusSubmitted        Status = "submitted"
	StatusRunning          Status = "running"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusSkippedAssumeBuilt Status = "skipped-assume-built"
)

// Terminal reports whether s is a terminal state: the scheduler can
// unblock dependents (succeeded) or must propagate failure (failed).
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkippedAssumeBuilt:
		return true
	default:
		return false
	}
}

// Record is the durable state of one build key on the hosted backend.
type Record struct {
	JobID         string            `yaml:"job_id"`
	Status        Status            `yaml:"status"`
	ChrootStatus  map[string]string `yaml:"chroot_status,omitempty"`
	LastSeenAt    time.Time         `yaml:"last_seen_at"`
}

// file is the on-disk shape: build key -> record.
type file map[string]Record

// Store is a durable mapping from build key to remote job record,
// rewritten atomically (write-to-temp then rename) after every
// mutation. A sync.Mutex serializes in-process mutations; an flock
// guards cross-process safety, since the file is
// meant to be touched safely across separate invocations of the tool.
type Store struct {
	path string
	lock *flock.Flock

	mu      sync.Mutex
	records file
}

// Open loads path if it exists (an empty/missing file is treated as an
// empty store) and returns a Store ready for concurrent use within
// this process.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) reload() error {
	dt, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.records = file{}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "remotestate: reading %q", s.path)
	}

	var f file
	if err := yaml.Unmarshal(dt, &f); err != nil {
		return errors.Wrapf(err, "remotestate: parsing %q", s.path)
	}
	if f == nil {
		f = file{}
	}
	s.records = f
	return nil
}

// Get returns the record for buildKey, if any.
func (s *Store) Get(buildKey string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[buildKey]
	return r, ok
}

// Put upserts rec for buildKey and rewrites the store file atomically.
func (s *Store) Put(buildKey string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return errors.Wrap(err, "remotestate: acquiring file lock")
	}
	defer s.lock.Unlock()

	// Another process may have mutated the file since we last loaded
	// it; reload under the lock before applying our own change so we
	// never clobber a concurrent writer's update.
	if err := s.reload(); err != nil {
		return err
	}

	if s.records == nil {
		s.records = file{}
	}
	s.records[buildKey] = rec

	return s.writeLocked()
}

// Delete removes buildKey's record, e.g. so a terminally-failed key can
// be resubmitted on the next run.
func (s *Store) Delete(buildKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return errors.Wrap(err, "remotestate: acquiring file lock")
	}
	defer s.lock.Unlock()

	if err := s.reload(); err != nil {
		return err
	}

	delete(s.records, buildKey)
	return s.writeLocked()
}

func (s *Store) writeLocked() error {
	dt, err := yaml.Marshal(s.records)
	if err != nil {
		return errors.Wrap(err, "remotestate: encoding store")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".remotestate-*")
	if err != nil {
		return errors.Wrap(err, "remotestate: creating temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(dt); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "remotestate: writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "remotestate: closing temp file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "remotestate: renaming temp file into place")
	}

	return nil
}
