// Package sessionpool implements the license state manager's
// concurrent, capacity-bounded session table (spec §4.D).
package sessionpool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"licensed/internal/license"
)

// Session is one entry in the pool, keyed by SessionKey.
type Session struct {
	ClientID      string
	UUID          string
	MACAddress    string
	Hostname      string
	Username      string
	AssignedAt    time.Time
	LastHeartbeat time.Time
	Active        bool
}

// SessionKey computes the pool key for (uuid, hostname, clientID),
// exactly as spec §3 defines it: lower-cased and joined with "::".
// mac_address never participates — it is an audit-only field on
// Session (DESIGN.md Open Question decision 3).
func SessionKey(uuid, hostname, clientID string) string {
	raw := strings.ToLower(uuid) + "::" + strings.ToLower(hostname) + "::" + strings.ToLower(clientID)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Pool is the concurrent, capped session table. A single mutex guards
// the whole map; capacity is checked against len(map) directly, per
// spec §4.D and §9 DESIGN NOTES (no separate counter to drift out of
// sync with the map it counts).
type Pool struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	store     *license.Store
	logger    *slog.Logger
	lastFlush time.Time
}

// New returns an empty Pool. The user cap is read from the store's
// current record on every admission check, so a license mutation
// (e.g. an upgrade) takes effect without restarting the pool.
func New(store *license.Store, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sessions: make(map[string]*Session),
		store:    store,
		logger:   logger.With(slog.String("component", "sessionpool")),
	}
}

// TryUse admits a new session for (uuid, hostname, clientID) if the
// pool has capacity, assigning a fresh timestamp. If the key is
// already present, the existing session is returned unchanged ("already
// assigned") rather than overwritten — a fresh AssignedAt is only
// handed out after the caller Releases and re-assigns the key.
func (p *Pool) TryUse(uuid, hostname, clientID, macAddress, username string) (*Session, error) {
	key := SessionKey(uuid, hostname, clientID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.sessions[key]; exists {
		return existing, nil
	}

	maxUsers := p.store.Current().NumberOfUsers
	if len(p.sessions) >= maxUsers {
		return nil, fmt.Errorf("try_use: %w", errCapacityExhausted)
	}

	now := time.Now().UTC()
	session := &Session{
		ClientID:      clientID,
		UUID:          uuid,
		MACAddress:    macAddress,
		Hostname:      hostname,
		Username:      username,
		AssignedAt:    now,
		LastHeartbeat: now,
		Active:        false,
	}
	p.sessions[key] = session
	p.logger.Info("session assigned", slog.String("session_key", key), slog.Int("pool_size", len(p.sessions)))
	return session, nil
}

// Activate marks an existing session active and refreshes its
// heartbeat.
func (p *Pool) Activate(uuid, hostname, clientID string) error {
	return p.withSession(uuid, hostname, clientID, func(s *Session) {
		s.Active = true
		s.LastHeartbeat = time.Now().UTC()
	})
}

// Deactivate marks a session inactive without removing it from the
// pool.
func (p *Pool) Deactivate(uuid, hostname, clientID string) error {
	return p.withSession(uuid, hostname, clientID, func(s *Session) {
		s.Active = false
		s.LastHeartbeat = time.Now().UTC()
	})
}

// Release removes a session entirely, freeing its capacity slot.
func (p *Pool) Release(uuid, hostname, clientID string) error {
	key := SessionKey(uuid, hostname, clientID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sessions[key]; !exists {
		return fmt.Errorf("release: %w", errNotFound)
	}
	delete(p.sessions, key)
	p.logger.Info("session released", slog.String("session_key", key), slog.Int("pool_size", len(p.sessions)))
	return nil
}

// Revoke removes a session outright. Unlike Release, Revoke is only
// valid against a currently-inactive session — revoking an active
// session is a precondition failure (spec §4.D).
func (p *Pool) Revoke(uuid, hostname, clientID string) error {
	key := SessionKey(uuid, hostname, clientID)

	p.mu.Lock()
	defer p.mu.Unlock()

	session, exists := p.sessions[key]
	if !exists {
		return fmt.Errorf("revoke: %w", errNotFound)
	}
	if session.Active {
		return fmt.Errorf("revoke: %w", errPreconditionFailed)
	}
	delete(p.sessions, key)
	p.logger.Info("session revoked", slog.String("session_key", key), slog.Int("pool_size", len(p.sessions)))
	return nil
}

// IsValid reports whether a session key is present and active.
func (p *Pool) IsValid(uuid, hostname, clientID string) bool {
	key := SessionKey(uuid, hostname, clientID)

	p.mu.Lock()
	defer p.mu.Unlock()

	session, exists := p.sessions[key]
	return exists && session.Active
}

// TryUseStatement increments the license-wide used-statement counter
// by one, refusing if the quota (record.NumberOfStatements) is
// already exhausted. A record with a negative NumberOfStatements
// (domain.UnlimitedStatements) is unlimited and never refuses. Every call also evaluates whether a
// flush to the store is due.
func (p *Pool) TryUseStatement() error {
	record := p.store.Current()
	if !record.IsUnlimitedStatements() && record.UsedStatements >= record.NumberOfStatements {
		return fmt.Errorf("try_use_statement: %w", errCapacityExhausted)
	}

	if err := p.store.SetUsedStatements(record.UsedStatements + 1); err != nil {
		return fmt.Errorf("try_use_statement: %w", err)
	}

	p.maybeFlush()
	return nil
}

// IsStatementLimitReached reports whether the statement quota is
// exhausted. Unlimited records never report true.
func (p *Pool) IsStatementLimitReached() bool {
	record := p.store.Current()
	if record.IsUnlimitedStatements() {
		return false
	}
	return record.UsedStatements >= record.NumberOfStatements
}

// RemainingStatements returns the remaining statement quota,
// math.MaxInt for unlimited records.
func (p *Pool) RemainingStatements() int {
	return p.store.Current().RemainingStatements()
}

// UsedStatements returns the current used-statement count.
func (p *Pool) UsedStatements() int {
	return p.store.Current().UsedStatements
}

// Active returns a read-only snapshot of the active sessions,
// replacing the reflection-based inspection §9 DESIGN NOTES flags —
// callers never reach into pool internals directly.
func (p *Pool) Active() []Session {
	return p.snapshot(true)
}

// Inactive returns a read-only snapshot of the inactive sessions.
func (p *Pool) Inactive() []Session {
	return p.snapshot(false)
}

func (p *Pool) snapshot(active bool) []Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		if s.Active == active {
			out = append(out, *s)
		}
	}
	return out
}

// Len returns the current pool size, the same len(map) value
// capacity checks use.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Flush is a no-op placeholder for the store, which already persists
// synchronously on every mutation; it exists so callers (including
// shutdown) have one explicit place to force a flush boundary and to
// record the last-flush timestamp used by the >=10s cadence check.
func (p *Pool) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFlush = time.Now()
	p.logger.Info("session pool flushed", slog.Int("pool_size", len(p.sessions)))
}

// maybeFlush triggers Flush when at least 10 seconds have elapsed
// since the last one, per spec §4.D's "flush triggered every >=10s
// from try_use_statement" rule.
func (p *Pool) maybeFlush() {
	p.mu.Lock()
	due := time.Since(p.lastFlush) >= flushInterval
	p.mu.Unlock()

	if due {
		p.Flush()
	}
}

func (p *Pool) withSession(uuid, hostname, clientID string, fn func(*Session)) error {
	key := SessionKey(uuid, hostname, clientID)

	p.mu.Lock()
	defer p.mu.Unlock()

	session, exists := p.sessions[key]
	if !exists {
		return fmt.Errorf("session operation: %w", errNotFound)
	}
	fn(session)
	return nil
}
