package discovery

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	serviceTypeLicense  = "_license-server._tcp"
	serviceTypePostgres = "_postgresql._tcp"

	minReannounceInterval = 10 * time.Second
	defaultReannounce     = 60 * time.Second
)

// profile is one registered mDNS advertisement: the service record
// plus the running server instance that broadcasts it. Entries live in
// Announcer.profiles, keyed by service-type:instance-id:port, so the
// license service and the database service can be advertised at the
// same time without one tearing down the other.
type profile struct {
	service *mdns.MDNSService
	server  *mdns.Server
}

// Announcer advertises one or more services over mDNS from an
// in-memory table of profiles, re-announcing every entry on a fixed
// interval so clients on the LAN can discover them without the UDP
// broadcast responder.
type Announcer struct {
	mu         sync.Mutex
	profiles   map[string]*profile
	reannounce time.Duration
	stopTicker chan struct{}
	logger     *slog.Logger
}

// NewAnnouncer builds an Announcer with an empty profile table.
// reannounce is the re-announce cadence; zero or negative falls back
// to the 60s default.
func NewAnnouncer(reannounce time.Duration, logger *slog.Logger) *Announcer {
	if reannounce <= 0 {
		reannounce = defaultReannounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		profiles:   make(map[string]*profile),
		reannounce: reannounce,
		logger:     logger.With(slog.String("component", "discovery_announcer")),
	}
}

// AdvertiseLicenseService registers the license control surface under
// serviceType (callers pass the configured "_license-server._tcp"
// name), keyed by instance "license" so a second call with a
// different port replaces rather than duplicates the entry.
func (a *Announcer) AdvertiseLicenseService(serviceType string, port int) error {
	info := []string{fmt.Sprintf("licensed appliance license server on port %d", port)}
	return a.advertise(serviceType, "license", port, info)
}

// AdvertiseDatabaseService registers a PostgreSQL instance under
// serviceType (callers pass the configured "_postgresql._tcp" name),
// carrying its version and instance ID as TXT properties.
func (a *Announcer) AdvertiseDatabaseService(serviceType, instanceID string, port int, version string) error {
	info := []string{
		fmt.Sprintf("licensed appliance database instance %s on port %d", instanceID, port),
		fmt.Sprintf("version=%s", version),
		fmt.Sprintf("instance-id=%s", instanceID),
	}
	return a.advertise(serviceType, instanceID, port, info)
}

func (a *Announcer) advertise(serviceType, instanceID string, port int, info []string) error {
	key := profileKey(serviceType, instanceID, port)

	service, err := mdns.NewMDNSService(instanceID, serviceType, "", "", port, nil, info)
	if err != nil {
		return fmt.Errorf("discovery announcer: build service %s: %w", key, err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("discovery announcer: start server %s: %w", key, err)
	}

	a.mu.Lock()
	prefix := fmt.Sprintf("%s:%s:", serviceType, instanceID)
	for k, p := range a.profiles {
		if k != key && strings.HasPrefix(k, prefix) {
			if p.server != nil {
				_ = p.server.Shutdown()
			}
			delete(a.profiles, k)
		}
	}
	if existing, ok := a.profiles[key]; ok && existing.server != nil {
		_ = existing.server.Shutdown()
	}
	a.profiles[key] = &profile{service: service, server: server}
	firstProfile := len(a.profiles) == 1
	a.mu.Unlock()

	if firstProfile {
		a.startReannounceLoop()
	}

	a.logger.Info("mdns advertise started", slog.String("service", serviceType), slog.String("instance", instanceID), slog.Int("port", port))
	return nil
}

// Unregister tears down and removes the profile for key (as produced
// by profileKey, or equivalently the service-type:instance-id:port
// triple used to register it).
func (a *Announcer) Unregister(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.profiles[key]
	if !ok {
		return
	}
	if p.server != nil {
		_ = p.server.Shutdown()
	}
	delete(a.profiles, key)
}

// SetReannounceInterval changes the re-announce cadence; a loop that
// is already running picks the new interval up after its next tick.
// Intervals below 10 seconds are rejected to keep the background loop
// from hammering the network.
func (a *Announcer) SetReannounceInterval(d time.Duration) error {
	if d < minReannounceInterval {
		return fmt.Errorf("discovery announcer: reannounce interval %s below minimum %s", d, minReannounceInterval)
	}
	a.mu.Lock()
	a.reannounce = d
	a.mu.Unlock()
	return nil
}

// ReAnnounceAll recreates the mDNS server for every registered
// profile. hashicorp/mdns doesn't expose a bare re-broadcast call;
// recreating the server against the same service record is what
// actually refreshes the advertisement on the wire.
func (a *Announcer) ReAnnounceAll() error {
	a.mu.Lock()
	snapshot := make(map[string]*mdns.MDNSService, len(a.profiles))
	for key, p := range a.profiles {
		snapshot[key] = p.service
	}
	a.mu.Unlock()

	for key, service := range snapshot {
		server, err := mdns.NewServer(&mdns.Config{Zone: service})
		if err != nil {
			a.logger.Warn("mdns reannounce failed", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}

		a.mu.Lock()
		if p, ok := a.profiles[key]; ok {
			if p.server != nil {
				_ = p.server.Shutdown()
			}
			p.server = server
		} else {
			_ = server.Shutdown()
		}
		a.mu.Unlock()
	}
	return nil
}

func (a *Announcer) startReannounceLoop() {
	a.mu.Lock()
	if a.stopTicker != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.stopTicker = stop
	interval := a.reannounce
	a.mu.Unlock()

	go a.reannounceLoop(stop, interval)
}

func (a *Announcer) reannounceLoop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.ReAnnounceAll(); err != nil {
				a.logger.Warn("mdns reannounce all failed", slog.String("error", err.Error()))
			}
			a.mu.Lock()
			next := a.reannounce
			a.mu.Unlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-stop:
			return
		}
	}
}

// Stop tears down every registered profile and the re-announce loop.
// It is idempotent.
func (a *Announcer) Stop() {
	a.mu.Lock()
	if a.stopTicker != nil {
		close(a.stopTicker)
		a.stopTicker = nil
	}
	profiles := a.profiles
	a.profiles = make(map[string]*profile)
	a.mu.Unlock()

	for _, p := range profiles {
		if p.server != nil {
			_ = p.server.Shutdown()
		}
	}
}

func profileKey(serviceType, instanceID string, port int) string {
	return fmt.Sprintf("%s:%s:%d", serviceType, instanceID, port)
}
