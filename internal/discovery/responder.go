// Package discovery implements the license appliance's network
// self-announcement surface (spec §4.F, §4.G): a UDP broadcast
// responder clients probe to find the server, and an mDNS announcer
// that advertises the same service continuously.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Query strings the responder recognizes, matched exactly (spec §4.G).
const (
	QueryLicenseServer = "DISCOVER_LICENSE_SERVER"
	QueryPostgres      = "DISCOVER_POSTGRESQL_SERVER"

	maxDatagram = 2048

	backoffFloor = time.Second
	backoffCap   = 30 * time.Second
)

// LicenseReply is the JSON payload answering QueryLicenseServer.
type LicenseReply struct {
	Name string `json:"name"`
	Host string `json:"host"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
	Type string `json:"type"`
}

// DatabaseReply is the JSON payload answering QueryPostgres.
type DatabaseReply struct {
	InstanceID string `json:"instanceId"`
	Version    string `json:"version"`
	Type       string `json:"type"`
}

const (
	typeLicenseServer = "license-server"
	typePostgres      = "postgresql"
)

// Responder listens on a UDP port and answers exact-match discovery
// queries with a JSON reply describing the queried service. Ports and
// the database-discovery toggle are mutable at runtime (guarded by mu)
// so the composition root can rebind the HTTP server to a new port, or
// turn database discovery on or off, without restarting the responder.
type Responder struct {
	mu                sync.RWMutex
	licensePort       int
	postgresPort      int
	hostname          string
	ip                string
	instanceID        string
	version           string
	databaseDiscovery bool

	conn   *net.UDPConn
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewResponder builds a Responder. hostname is reported verbatim in
// replies; callers typically pass os.Hostname(). Database discovery
// starts disabled until EnableDatabaseDiscovery is called.
func NewResponder(hostname string, licensePort, postgresPort int, instanceID, version string, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		hostname:     hostname,
		ip:           primaryIPv4(),
		licensePort:  licensePort,
		postgresPort: postgresPort,
		instanceID:   instanceID,
		version:      version,
		logger:       logger.With(slog.String("component", "discovery_responder")),
	}
}

// primaryIPv4 returns the first non-loopback, up interface's IPv4
// address, or "" if none is found. Mirrors the interface-walking shape
// used for MAC resolution elsewhere in this codebase, applied to
// addresses instead of hardware addresses.
func primaryIPv4() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			return ip4.String()
		}
	}
	return ""
}

// SetLicensePort updates the port reported for QueryLicenseServer.
func (r *Responder) SetLicensePort(port int) {
	r.mu.Lock()
	r.licensePort = port
	r.mu.Unlock()
}

// SetPostgresPort updates the port reported for QueryPostgres.
func (r *Responder) SetPostgresPort(port int) {
	r.mu.Lock()
	r.postgresPort = port
	r.mu.Unlock()
}

// EnableDatabaseDiscovery turns on responses to QueryPostgres.
func (r *Responder) EnableDatabaseDiscovery() {
	r.mu.Lock()
	r.databaseDiscovery = true
	r.mu.Unlock()
}

// DisableDatabaseDiscovery turns off responses to QueryPostgres; such
// queries are then dropped silently, the same as any unrecognized
// query.
func (r *Responder) DisableDatabaseDiscovery() {
	r.mu.Lock()
	r.databaseDiscovery = false
	r.mu.Unlock()
}

// Start binds the UDP socket on listenPort and serves requests until
// ctx is cancelled or Stop is called.
func (r *Responder) Start(ctx context.Context, listenPort int) error {
	addr := &net.UDPAddr{Port: listenPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("discovery responder: listen on %d: %w", listenPort, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.conn = conn
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.serve(runCtx, conn)

	r.logger.Info("discovery responder listening", slog.Int("port", listenPort))
	return nil
}

// serve is the receive loop. A read error backs off exponentially from
// backoffFloor up to backoffCap rather than spinning, per §9 DESIGN
// NOTES.
func (r *Responder) serve(ctx context.Context, conn *net.UDPConn) {
	defer r.wg.Done()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	backoff := backoffFloor

	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("discovery responder read error", slog.String("error", err.Error()), slog.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}
		backoff = backoffFloor

		query := strings.TrimSpace(string(buf[:n]))
		reply, ok := r.buildReply(query)
		if !ok {
			continue
		}

		payload, err := json.Marshal(reply)
		if err != nil {
			r.logger.Error("discovery responder marshal failed", slog.String("error", err.Error()))
			continue
		}
		if _, err := conn.WriteToUDP(payload, remote); err != nil {
			r.logger.Warn("discovery responder write failed", slog.String("error", err.Error()), slog.String("remote", remote.String()))
		}
	}
}

// buildReply resolves a recognized query to its wire payload. The
// database query is dropped (ok=false) unless database discovery is
// enabled; the license query always answers.
func (r *Responder) buildReply(query string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch query {
	case QueryLicenseServer:
		return LicenseReply{
			Name: r.hostname,
			Host: r.hostname,
			IP:   r.ip,
			Port: r.licensePort,
			Type: typeLicenseServer,
		}, true
	case QueryPostgres:
		if !r.databaseDiscovery {
			return nil, false
		}
		return DatabaseReply{
			InstanceID: r.instanceID,
			Version:    r.version,
			Type:       typePostgres,
		}, true
	default:
		return nil, false
	}
}

// Stop shuts down the responder and waits for the receive loop to
// exit.
func (r *Responder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
