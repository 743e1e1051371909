package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the single configuration value resolved once at startup
// and passed down through the composition root. Apart from the
// deployment label that infrastructure.DefaultOTelConfig reads from
// ENVIRONMENT, nothing below `internal/app` reads the environment
// directly.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Discovery DiscoveryConfig `yaml:"discovery" envconfig:"DISCOVERY"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Issuer    IssuerConfig    `yaml:"issuer" envconfig:"ISSUER"`
}

// IssuerConfig locates the upstream license issuer that
// /api/activate-license and the admission gate's resync/tamper-report
// collaborators call out to.
type IssuerConfig struct {
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL" default:"https://issuer.cyphersol.example"`
	APIKey  string `yaml:"api_key" envconfig:"API_KEY"`
}

// ServerConfig contains the HTTP control surface's server parameters.
type ServerConfig struct {
	Port             int           `yaml:"port" envconfig:"PORT" default:"7890"`
	ReadTimeout      time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes   int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DiscoveryConfig contains the mDNS announcer and UDP responder
// parameters.
type DiscoveryConfig struct {
	UDPPort             int           `yaml:"udp_port" envconfig:"UDP_PORT" default:"41234"`
	MDNSReannounce      time.Duration `yaml:"mdns_reannounce" envconfig:"MDNS_REANNOUNCE" default:"60s"`
	MDNSServiceLicense  string        `yaml:"mdns_service_license" envconfig:"MDNS_SERVICE_LICENSE" default:"_license-server._tcp"`
	MDNSServicePostgres string        `yaml:"mdns_service_postgres" envconfig:"MDNS_SERVICE_POSTGRES" default:"_postgresql._tcp"`
	DatabaseDiscovery   bool          `yaml:"database_discovery" envconfig:"DATABASE_DISCOVERY" default:"false"`
	DatabasePort        int           `yaml:"database_port" envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseInstanceID  string        `yaml:"database_instance_id" envconfig:"DATABASE_INSTANCE_ID" default:"default"`
	DatabaseVersion     string        `yaml:"database_version" envconfig:"DATABASE_VERSION" default:"16"`
}

// LicenseConfig contains the admission middleware's two Open Question
// decisions (DESIGN.md "Open Question decisions"), named here rather
// than left as magic literals at the call site.
type LicenseConfig struct {
	StalenessThreshold time.Duration `yaml:"staleness_threshold" envconfig:"STALENESS_THRESHOLD" default:"2h"`
	SkewThreshold       time.Duration `yaml:"skew_threshold" envconfig:"SKEW_THRESHOLD" default:"600s"`
	FlushInterval       time.Duration `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL" default:"10s"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:7890"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration. The HTTP
// router does not read it, so no endpoint is rate limited.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"5"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// PathsConfig contains the resolved shared-app-data layout. Environment
// folds the APP_ENVIRONMENT variable (literal "Development" selects
// the dev folder, anything else production) into one value at
// composition-root time — nothing downstream calls os.Getenv again.
type PathsConfig struct {
	Environment string `yaml:"environment" ignored:"true"`
	DataDir     string `yaml:"data_dir" ignored:"true"`
	LicenseFile string `yaml:"license_file" ignored:"true"`
	AuditFile   string `yaml:"audit_file" ignored:"true"`
	LogsDir     string `yaml:"logs_dir" ignored:"true"`
}

// Load resolves configuration from environment variables layered over
// an optional YAML file (env takes precedence), then resolves the
// shared-app-data paths and validates the result.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("LICENSED", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := findConfigFile(); configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	paths, err := ResolvePaths(os.Getenv("APP_ENVIRONMENT"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve shared-app-data paths: %w", err)
	}
	cfg.Paths = paths

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeConfigs merges file config with env config; env wins on every
// field envconfig actually set (non-zero).
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Discovery.UDPPort == 0 {
		envConfig.Discovery.UDPPort = fileConfig.Discovery.UDPPort
	}
	if envConfig.License.StalenessThreshold == 0 {
		envConfig.License.StalenessThreshold = fileConfig.License.StalenessThreshold
	}
	if envConfig.License.SkewThreshold == 0 {
		envConfig.License.SkewThreshold = fileConfig.License.SkewThreshold
	}
	if len(envConfig.Security.AllowedOrigins) == 0 {
		envConfig.Security.AllowedOrigins = fileConfig.Security.AllowedOrigins
	}
	return envConfig
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Discovery.UDPPort <= 0 || c.Discovery.UDPPort > 65535 {
		return fmt.Errorf("invalid discovery UDP port: %d", c.Discovery.UDPPort)
	}
	if c.License.StalenessThreshold <= 0 {
		return fmt.Errorf("staleness threshold must be positive")
	}
	if c.License.SkewThreshold <= 0 {
		return fmt.Errorf("skew threshold must be positive")
	}
	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output != "both" && c.Logging.Output != "file" {
		c.Logging.Output = "both"
	}
	return nil
}

func findConfigFile() string {
	locations := []string{"config.yaml", "configs/config.yaml", "../configs/config.yaml"}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns a configuration usable without any environment
// variables set, resolving paths against the production folder name.
func Default() *Config {
	paths, err := ResolvePaths("")
	if err != nil {
		paths = PathsConfig{}
	}
	return &Config{
		Server: ServerConfig{
			Port:            7890,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			UDPPort:             41234,
			MDNSReannounce:      60 * time.Second,
			MDNSServiceLicense:  "_license-server._tcp",
			MDNSServicePostgres: "_postgresql._tcp",
			DatabaseDiscovery:   false,
			DatabasePort:        5432,
			DatabaseInstanceID:  "default",
			DatabaseVersion:     "16",
		},
		License: LicenseConfig{
			StalenessThreshold: 2 * time.Hour,
			SkewThreshold:      600 * time.Second,
			FlushInterval:      10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:7890"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/app.log",
		},
		Paths: paths,
		Issuer: IssuerConfig{
			BaseURL: "https://issuer.cyphersol.example",
		},
	}
}
