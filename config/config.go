// Package config loads the registry server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// LANDSURE_* environment variables. Command line flags are applied last by
// the binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/landsure/landsure-registry/projection"
	"github.com/landsure/landsure-registry/syncer"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "landsure"

	LedgerModeLocal   = "local"
	LedgerModeOnchain = "onchain"
)

type Config struct {
	ListenAddr  string `yaml:"listenAddr" split_words:"true"`
	MetricsAddr string `yaml:"metricsAddr" split_words:"true"`

	Ledger       LedgerConfig       `yaml:"ledger"`
	Projection   projection.Config  `yaml:"projection"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Syncer       syncer.Config      `yaml:"syncer"`
	Verification VerificationConfig `yaml:"verification"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type LedgerConfig struct {
	// Mode is "local" (embedded badger ledger) or "onchain" (LandSure contract).
	Mode string `yaml:"mode"`

	DataDir   string `yaml:"dataDir" split_words:"true"`
	Signer    string `yaml:"signer"`
	QueueSize int    `yaml:"queueSize" split_words:"true"`

	RPCAddr         string `yaml:"rpcAddr" envconfig:"RPC_ADDR"`
	ContractAddress string `yaml:"contractAddress" split_words:"true"`
	PrivateKey      string `yaml:"privateKey" split_words:"true"`
	ChainID         int64  `yaml:"chainId" envconfig:"CHAIN_ID"`
	FromBlock       uint64 `yaml:"fromBlock" split_words:"true"`

	FinalityTimeout         time.Duration `yaml:"finalityTimeout" split_words:"true"`
	MaxTokensPerCertificate uint64        `yaml:"maxTokensPerCertificate" split_words:"true"`
}

type ArchiveConfig struct {
	// Locations are storage URIs, e.g. file:///var/lib/landsure/metadata or
	// s3://bucket/prefix/?region=eu-west-1. Empty disables archiving.
	Locations []string `yaml:"locations"`
}

type VerificationConfig struct {
	ReferenceFile string `yaml:"referenceFile" split_words:"true"`
}

type TracingConfig struct {
	// Endpoint is an OTLP/HTTP collector URL. Empty disables trace export.
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"serviceName" split_words:"true"`
}

func Default() *Config {
	return &Config{
		ListenAddr:  "127.0.0.1:8080",
		MetricsAddr: "127.0.0.1:8090",
		Ledger: LedgerConfig{
			Mode:                    LedgerModeLocal,
			ChainID:                 1337,
			FinalityTimeout:         30 * time.Second,
			MaxTokensPerCertificate: 10000,
		},
		Projection: projection.Config{
			Driver: projection.DriverSQLite,
		},
		Syncer: syncer.Config{
			RetryInterval:      syncer.DefaultRetryInterval,
			MaxBackoff:         syncer.DefaultMaxBackoff,
			FullResyncInterval: time.Hour,
			Workers:            syncer.DefaultWorkers,
			PageSize:           syncer.DefaultPageSize,
		},
		Tracing: TracingConfig{
			ServiceName: "landsure-registry",
		},
	}
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read layers the YAML file at path (optional) and the environment over the
// defaults without validating, so callers can apply further overrides first.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listenAddr must not be empty"))
	}

	switch c.Ledger.Mode {
	case LedgerModeLocal:
	case LedgerModeOnchain:
		if c.Ledger.RPCAddr == "" {
			errs = append(errs, errors.New("ledger.rpcAddr is required in onchain mode"))
		}
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, errors.New("ledger.contractAddress is required in onchain mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ledger.mode %q (must be %q or %q)", c.Ledger.Mode, LedgerModeLocal, LedgerModeOnchain))
	}
	if c.Ledger.FinalityTimeout <= 0 {
		errs = append(errs, errors.New("ledger.finalityTimeout must be positive"))
	}
	if c.Ledger.MaxTokensPerCertificate == 0 {
		errs = append(errs, errors.New("ledger.maxTokensPerCertificate must be at least 1"))
	}

	switch c.Projection.Driver {
	case projection.DriverSQLite:
	case projection.DriverPostgres:
		if c.Projection.DSN == "" {
			errs = append(errs, errors.New("projection.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid projection.driver %q", c.Projection.Driver))
	}

	return errors.Join(errs...)
}
