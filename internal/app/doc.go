// Package app is the composition root for the licensing appliance. It
// resolves configuration, builds every long-lived collaborator (the
// license store, session pool, admission gate, discovery announcer
// and responder, status feed hub, issuer client, and HTTP router),
// wires the admission gate's resync and tamper-report callbacks to
// the issuer client, and owns the process's startup and shutdown.
//
// # Initialization flow
//
//	1. Load configuration (env over YAML) and ensure the data directory
//	2. Initialize logging and OpenTelemetry
//	3. Open the sealed license store and build the session pool
//	4. Build the issuer client and the admission gate's callbacks
//	5. Build the discovery announcer/responder and the status feed hub
//	6. Build the HTTP router and server
//
// # Usage
//
//	application, err := app.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Run blocks until ctx is cancelled or the HTTP server exits on its
// own, then drains the server, stops discovery and the status feed,
// closes the admission gate, and flushes the session pool.
package app
