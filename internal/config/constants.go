package config

import "time"

// Application-wide constants for the LAN licensing appliance.
const (
	AppName    = "Licensed"
	AppVendor  = "Cyphersol"

	// Vault (spec §4.B) — bit-exact, never change without also
	// changing every previously sealed artifact's decodability.
	VaultSalt       = "YourSuperSalt!@#"
	VaultIterations = 100000
	VaultKeyLen     = 48

	// HTTP and UDP surfaces (spec §6).
	HTTPPort = 7890
	UDPPort  = 41234

	// UDP discovery query strings (spec §4.G).
	DiscoverLicenseServerQuery = "DISCOVER_LICENSE_SERVER"
	DiscoverPostgresQuery      = "DISCOVER_POSTGRESQL_SERVER"

	// mDNS service types (spec §4.F).
	MDNSServiceLicense  = "_license-server._tcp"
	MDNSServicePostgres = "_postgresql._tcp"

	// Open Question decisions, recorded in DESIGN.md.
	DefaultStalenessThreshold = 2 * time.Hour
	DefaultSkewThreshold      = 600 * time.Second

	// Session pool flush cadence (spec §4.D).
	DefaultFlushInterval = 10 * time.Second

	// APP_ENVIRONMENT literal that selects the development data
	// folder (spec §6, renamed from DOTNET_ENVIRONMENT).
	EnvironmentDevelopment = "Development"
)
