package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/landsure/landsure-registry/api"
	"github.com/landsure/landsure-registry/common"
	"github.com/landsure/landsure-registry/config"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server config. The write timeout leaves room
// for a registration that waits the full finality timeout.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, cfg *config.Config) *api.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second
	requestTimeout := cfg.Ledger.FinalityTimeout + 15*time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             requestTimeout + 15*time.Second,
		RequestTimeout:           requestTimeout,
	}
}

// ApplyOverrides copies explicitly set flags over the loaded configuration.
func ApplyOverrides(cCtx *cli.Context, cfg *config.Config) {
	if cCtx.IsSet(ListenAddrFlag.Name) {
		cfg.ListenAddr = cCtx.String(ListenAddrFlag.Name)
	}
	if cCtx.IsSet(MetricsAddrFlag.Name) {
		cfg.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(LedgerModeFlag.Name) {
		cfg.Ledger.Mode = cCtx.String(LedgerModeFlag.Name)
	}
	if cCtx.IsSet(DataDirFlag.Name) {
		cfg.Ledger.DataDir = cCtx.String(DataDirFlag.Name)
	}
	if cCtx.IsSet(RpcAddrFlag.Name) {
		cfg.Ledger.RPCAddr = cCtx.String(RpcAddrFlag.Name)
	}
	if cCtx.IsSet(ContractAddrFlag.Name) {
		cfg.Ledger.ContractAddress = cCtx.String(ContractAddrFlag.Name)
	}
	if cCtx.IsSet(ProjectionDriverFlag.Name) {
		cfg.Projection.Driver = cCtx.String(ProjectionDriverFlag.Name)
	}
	if cCtx.IsSet(ProjectionDSNFlag.Name) {
		cfg.Projection.DSN = cCtx.String(ProjectionDSNFlag.Name)
	}
	if cCtx.IsSet(ReferenceFileFlag.Name) {
		cfg.Verification.ReferenceFile = cCtx.String(ReferenceFileFlag.Name)
	}
	if cCtx.IsSet(ArchiveFlag.Name) {
		cfg.Archive.Locations = cCtx.StringSlice(ArchiveFlag.Name)
	}
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"LANDSURE_CONFIG"},
	Usage:   "path to a YAML config file",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var LedgerModeFlag = &cli.StringFlag{
	Name:  "ledger-mode",
	Value: config.LedgerModeLocal,
	Usage: "ledger backend: 'local' (embedded) or 'onchain'",
}

var DataDirFlag = &cli.StringFlag{
	Name:  "data-dir",
	Usage: "directory of the embedded ledger; empty keeps it in memory",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Value: "http://127.0.0.1:8545",
	Usage: "address to connect to RPC",
}

var ContractAddrFlag = &cli.StringFlag{
	Name:  "contract-addr",
	Usage: "LandSure contract address, required in onchain mode",
}

var ProjectionDriverFlag = &cli.StringFlag{
	Name:  "projection-driver",
	Value: "sqlite",
	Usage: "projection database driver: 'sqlite' or 'postgres'",
}

var ProjectionDSNFlag = &cli.StringFlag{
	Name:  "projection-dsn",
	Usage: "projection database DSN; for sqlite a directory, empty for in-memory",
}

var ReferenceFileFlag = &cli.StringFlag{
	Name:  "reference-file",
	Usage: "JSON array of reference records for certificate verification",
}

var ArchiveFlag = &cli.StringSliceFlag{
	Name:  "archive",
	Usage: "metadata archive location URI, may be repeated",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var ServerFlags = []cli.Flag{
	ConfigFileFlag,
	ListenAddrFlag,
	LedgerModeFlag,
	DataDirFlag,
	RpcAddrFlag,
	ContractAddrFlag,
	ProjectionDriverFlag,
	ProjectionDSNFlag,
	ReferenceFileFlag,
	ArchiveFlag,
}
