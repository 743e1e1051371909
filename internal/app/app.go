package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"licensed/internal/config"
	"licensed/internal/discovery"
	"licensed/internal/fingerprint"
	"licensed/internal/infrastructure"
	"licensed/internal/issuer"
	"licensed/internal/license"
	licensemw "licensed/internal/middleware"
	"licensed/internal/sessionpool"
	"licensed/internal/statusfeed"
	transporthttp "licensed/internal/transport/http"
)

// Application owns every long-lived collaborator and the HTTP server
// built from them. Callers construct one with New, then Run it until
// ctx is cancelled.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Store         *license.Store
	Pool          *sessionpool.Pool
	Issuer        *issuer.Client
	Gate          *licensemw.LicenseGate
	Hub           *statusfeed.Hub
	Announcer     *discovery.Announcer
	Responder     *discovery.Responder
	OTelProviders *infrastructure.OTelProviders

	server *http.Server
}

// New resolves configuration and builds every collaborator. It
// creates the data directory, opens the log file and loads the
// license store, but opens no listener and starts no background
// loop; Run does that.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	if err := cfg.Paths.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("app: ensure data dir: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("app: initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("app: initialize otel: %w", err)
	}

	fp := fingerprint.New()
	store := license.New(cfg.Paths.LicenseFile, cfg.Paths.AuditFile, fp, logger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("app: load license store: %w", err)
	}

	pool := sessionpool.New(store, logger)
	issuerClient := issuer.New(cfg.Issuer.BaseURL, cfg.Issuer.APIKey)

	gateMetrics, err := licensemw.NewGateMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("app: build gate metrics: %w", err)
	}

	deviceInfo := fp.Get()
	resync := func(ctx context.Context) error {
		record, err := issuerClient.Resync(ctx, store.Current().LicenseKey, deviceInfo)
		if err != nil {
			return fmt.Errorf("resync: %w", err)
		}
		return store.Replace(record)
	}
	reportTampering := func(ctx context.Context, observedSkew time.Duration) error {
		return issuerClient.ReportTampering(ctx, store.Current().LicenseKey, deviceInfo, int64(observedSkew.Seconds()))
	}

	gate := licensemw.NewLicenseGate(store, pool, cfg.License.StalenessThreshold, cfg.License.SkewThreshold, resync, reportTampering, logger, gateMetrics)

	hub := statusfeed.NewHub(logger)
	announcer := discovery.NewAnnouncer(cfg.Discovery.MDNSReannounce, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "licensed"
	}
	responder := discovery.NewResponder(hostname, cfg.Server.Port, cfg.Discovery.DatabasePort, cfg.Discovery.DatabaseInstanceID, cfg.Discovery.DatabaseVersion, logger)
	if cfg.Discovery.DatabaseDiscovery {
		responder.EnableDatabaseDiscovery()
	}

	handler := transporthttp.New(store, pool, fp, issuerClient, hub, logger)
	router := handler.Routes(gate)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return &Application{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Pool:          pool,
		Issuer:        issuerClient,
		Gate:          gate,
		Hub:           hub,
		Announcer:     announcer,
		Responder:     responder,
		OTelProviders: otelProviders,
		server:        server,
	}, nil
}

// Run starts every background collaborator and blocks until ctx is
// cancelled or the HTTP server exits on its own, then drains and shuts
// everything down.
func (a *Application) Run(ctx context.Context) error {
	a.Hub.Start()

	if err := a.Responder.Start(ctx, a.Config.Discovery.UDPPort); err != nil {
		return fmt.Errorf("app: start discovery responder: %w", err)
	}

	if err := a.Announcer.AdvertiseLicenseService(a.Config.Discovery.MDNSServiceLicense, a.Config.Server.Port); err != nil {
		a.Logger.WarnContext(ctx, "mdns license advertisement failed, continuing without it", slog.String("error", err.Error()))
	}
	if a.Config.Discovery.DatabaseDiscovery {
		if err := a.Announcer.AdvertiseDatabaseService(a.Config.Discovery.MDNSServicePostgres, a.Config.Discovery.DatabaseInstanceID, a.Config.Discovery.DatabasePort, a.Config.Discovery.DatabaseVersion); err != nil {
			a.Logger.WarnContext(ctx, "mdns database advertisement failed, continuing without it", slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: http server: %w", err)
	}
	return nil
}

// shutdown drains the HTTP server, stops the discovery loops, waits
// for the admission gate's in-flight tamper reports, and performs the
// session pool's final synchronous flush, per spec §5's cancellation
// guarantees.
func (a *Application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.Responder.Stop()
	a.Announcer.Stop()
	a.Hub.Stop()
	a.Gate.Close()
	a.Pool.Flush()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("otel shutdown error", slog.String("error", err.Error()))
	}
}
