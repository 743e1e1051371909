// Package license implements the license information store (spec
// §4.C): the sealed-artifact-backed record of what this installation
// is licensed to do.
package license

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"licensed/internal/fingerprint"
	"licensed/internal/vault"
	"licensed/pkg/contracts/domain"
)

// Store is the license information store. One Store is constructed
// per process at the composition root (never a package-level
// global); it owns the sealed file at path and serializes every
// mutation through mu.
type Store struct {
	mu          sync.RWMutex
	path        string
	auditPath   string
	fingerprint *fingerprint.Provider
	logger      *slog.Logger
	record      domain.Record
	loaded      bool
}

// New returns a Store with no I/O performed yet. Call Load to read
// whatever is on disk; per §9 DESIGN NOTES this split keeps
// construction free of hidden I/O.
func New(path, auditPath string, fp *fingerprint.Provider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:        path,
		auditPath:   auditPath,
		fingerprint: fp,
		logger:      logger,
	}
}

// Load reads and unseals the record at path. A missing file is not
// an error: the store becomes an empty, IsValid()==false record
// without creating anything on disk (spec §4.C).
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("license store: no file on disk, starting empty", slog.String("path", s.path))
		s.record = domain.Empty()
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("license store: read %s: %w", s.path, err)
	}

	plaintext, err := vault.Open(s.fingerprint.Get(), data)
	if err != nil {
		s.logger.Error("license store: sealed artifact failed to open", slog.String("path", s.path), slog.String("error", err.Error()))
		return fmt.Errorf("license store: %w", err)
	}

	var record domain.Record
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return fmt.Errorf("license store: decode record: %w", err)
	}

	s.record = record
	s.loaded = true
	s.logger.Info("license store: loaded", slog.String("path", s.path), slog.Bool("valid", record.IsValid()))
	return nil
}

// Current returns the in-memory record. It never touches disk.
func (s *Store) Current() domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// Replace overwrites the entire record and seals it to disk,
// auditing the mutation.
func (s *Store) Replace(record domain.Record) error {
	return s.mutate("replace", func() { s.record = record })
}

// SetExpiry updates only the expiry timestamp.
func (s *Store) SetExpiry(expiryTimestamp int64) error {
	return s.mutate("set_expiry", func() { s.record.ExpiryTimestamp = expiryTimestamp })
}

// SetServerCurrentTime updates only the current (resynced) timestamp.
func (s *Store) SetServerCurrentTime(currentTimestamp int64) error {
	return s.mutate("set_server_current_time", func() { s.record.CurrentTimestamp = currentTimestamp })
}

// SetUsedStatements updates the used-statement counter directly. The
// session pool's TryUseStatement persists each increment through it.
func (s *Store) SetUsedStatements(used int) error {
	return s.mutate("set_used_statements", func() { s.record.UsedStatements = used })
}

// mutate applies fn under the write lock, then seals and persists the
// result synchronously and appends an audit line, per spec §4.C
// ("each rewriting the sealed file synchronously").
func (s *Store) mutate(op string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.record
	fn()

	plaintext, err := json.Marshal(s.record)
	if err != nil {
		s.record = before
		return fmt.Errorf("license store: encode record: %w", err)
	}

	sealed, err := vault.Seal(s.fingerprint.Get(), plaintext)
	if err != nil {
		s.record = before
		return fmt.Errorf("license store: seal record: %w", err)
	}

	if err := os.WriteFile(s.path, sealed, 0600); err != nil {
		s.record = before
		return fmt.Errorf("license store: write %s: %w", s.path, err)
	}

	s.logger.Info("license store: mutated", slog.String("operation", op), slog.String("license_key", MaskLicenseKey(s.record.LicenseKey)))
	s.appendAudit(op)
	return nil
}

// auditEntry is one line of the append-only structured audit log.
type auditEntry struct {
	Timestamp  string `json:"timestamp"`
	Operation  string `json:"operation"`
	LicenseKey string `json:"license_key"`
}

// appendAudit appends a JSON line describing the mutation. Failures
// are logged, never propagated: the audit trail is best-effort and
// must not block the license mutation it describes.
func (s *Store) appendAudit(op string) {
	if s.auditPath == "" {
		return
	}
	entry := auditEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Operation:  op,
		LicenseKey: MaskLicenseKey(s.record.LicenseKey),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("license store: failed to encode audit entry", slog.String("error", err.Error()))
		return
	}

	f, err := os.OpenFile(s.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		s.logger.Warn("license store: failed to open audit file", slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Warn("license store: failed to write audit entry", slog.String("error", err.Error()))
	}
}

// MaskLicenseKey redacts all but the last four characters of a
// license key, for use anywhere a key would otherwise appear in a log
// line (spec §4.A's "never log the fingerprint at verbose levels"
// principle, extended to the license key).
func MaskLicenseKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return fmt.Sprintf("%s%s", "****", key[len(key)-4:])
}
