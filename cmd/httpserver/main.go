package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/landsure/landsure-registry/cmd/flags"
	"github.com/landsure/landsure-registry/common"
	"github.com/landsure/landsure-registry/config"
	"github.com/landsure/landsure-registry/coordinator"
	"github.com/landsure/landsure-registry/httpserver"
	"github.com/landsure/landsure-registry/interfaces"
	"github.com/landsure/landsure-registry/ledger"
	"github.com/landsure/landsure-registry/metrics"
	"github.com/landsure/landsure-registry/projection"
	"github.com/landsure/landsure-registry/registry"
	"github.com/landsure/landsure-registry/storage"
	"github.com/landsure/landsure-registry/syncer"
	"github.com/landsure/landsure-registry/verification"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "landsure-registry",
		Usage: "Serve the LandSure certificate registry API",
		Flags: serverFlags(),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := config.Read(cCtx.String(flags.ConfigFileFlag.Name))
			if err != nil {
				logger.Error("Failed to load configuration", "err", err)
				return err
			}
			flags.ApplyOverrides(cCtx, cfg)
			if err := cfg.Validate(); err != nil {
				logger.Error("Invalid configuration", "err", err)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := common.SetupTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
			if err != nil {
				logger.Error("Failed to set up tracing", "err", err)
				return err
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Warn("Tracing shutdown failed", "err", err)
				}
			}()

			metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			ledgerClient, closeLedger, err := openLedger(cfg.Ledger, logger)
			if err != nil {
				logger.Error("Failed to open ledger", "err", err, "mode", cfg.Ledger.Mode)
				return err
			}
			defer closeLedger()

			proj, err := projection.New(cfg.Projection, logger)
			if err != nil {
				logger.Error("Failed to open projection store", "err", err, "driver", cfg.Projection.Driver)
				return err
			}
			defer proj.Close()

			opts := []coordinator.Option{
				coordinator.WithLogger(logger),
				coordinator.WithMetrics(metricsSrv.Metrics()),
				coordinator.WithMaxTokensPerCertificate(cfg.Ledger.MaxTokensPerCertificate),
			}
			if len(cfg.Archive.Locations) > 0 {
				locations := make([]interfaces.StorageBackendLocation, 0, len(cfg.Archive.Locations))
				for _, loc := range cfg.Archive.Locations {
					locations = append(locations, interfaces.StorageBackendLocation(loc))
				}
				backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
				if err != nil {
					logger.Error("Failed to create metadata archive", "err", err)
					return err
				}
				logger.Info("Metadata archive enabled", "backend", backend.Name())
				opts = append(opts, coordinator.WithArchive(storage.NewMetadataArchive(backend)))
			}
			coord := coordinator.New(ledgerClient, proj, opts...)

			reconciler := syncer.New(coord, ledgerClient, cfg.Syncer, metricsSrv.Metrics(), logger)
			coord.SetSyncQueue(reconciler)

			var records []verification.Record
			if cfg.Verification.ReferenceFile != "" {
				records, err = verification.LoadReferenceFile(cfg.Verification.ReferenceFile)
				if err != nil {
					logger.Error("Failed to load reference records", "err", err, "file", cfg.Verification.ReferenceFile)
					return err
				}
				logger.Info("Reference records loaded", "count", len(records))
			}
			verifier := verification.New(records, logger)

			handler := httpserver.NewHandler(coord, verifier, reconciler, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cfg), handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			syncDone := make(chan error, 1)
			go func() {
				syncDone <- reconciler.Run(ctx)
			}()

			logger.Info("Starting server", "ledgerMode", cfg.Ledger.Mode, "projection", cfg.Projection.Driver)
			server.RunInBackground()

			<-ctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			if err := <-syncDone; err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Reconciler stopped with error", "err", err)
			}
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serverFlags() []cli.Flag {
	fs := make([]cli.Flag, 0, len(flags.ServerFlags)+len(flags.CommonFlags)+1)
	fs = append(fs, flags.ServerFlags...)
	fs = append(fs, flags.CommonFlags...)
	return append(fs, flags.LogServiceFlagFn("landsure-registry"))
}

// openLedger returns the configured ledger client and a function releasing it.
func openLedger(cfg config.LedgerConfig, logger *slog.Logger) (interfaces.LedgerClient, func(), error) {
	switch cfg.Mode {
	case config.LedgerModeLocal:
		var signer interfaces.Address
		if cfg.Signer != "" {
			var err error
			if signer, err = interfaces.NewAddressFromHex(cfg.Signer); err != nil {
				return nil, nil, fmt.Errorf("ledger.signer: %w", err)
			}
		}

		store, err := ledger.New(
			ledger.WithDataDir(cfg.DataDir),
			ledger.WithLogger(logger),
			ledger.WithMaxTokensPerCertificate(cfg.MaxTokensPerCertificate),
		)
		if err != nil {
			return nil, nil, err
		}
		client := registry.NewLocalLedgerClient(store, registry.LocalClientConfig{
			Signer:          signer,
			QueueSize:       cfg.QueueSize,
			FinalityTimeout: cfg.FinalityTimeout,
		}, logger)

		return client, func() {
			client.Close()
			if err := store.Close(); err != nil {
				logger.Error("Failed to close ledger store", "err", err)
			}
		}, nil

	case config.LedgerModeOnchain:
		if !ethcommon.IsHexAddress(cfg.ContractAddress) {
			return nil, nil, fmt.Errorf("ledger.contractAddress %q is not a hex address", cfg.ContractAddress)
		}

		logger.Info("Connecting to Ethereum RPC", "address", cfg.RPCAddr)
		ethClient, err := ethclient.Dial(cfg.RPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("dialing RPC: %w", err)
		}

		client := registry.NewOnchainLedgerClient(ethClient, ethClient, ethcommon.HexToAddress(cfg.ContractAddress), registry.OnchainClientConfig{
			FinalityTimeout:         cfg.FinalityTimeout,
			MaxTokensPerCertificate: cfg.MaxTokensPerCertificate,
			FromBlock:               cfg.FromBlock,
		}, logger)

		if cfg.PrivateKey != "" {
			key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
			if err != nil {
				ethClient.Close()
				return nil, nil, fmt.Errorf("ledger.privateKey: %w", err)
			}
			auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
			if err != nil {
				ethClient.Close()
				return nil, nil, err
			}
			client.SetTransactOpts(auth)
			logger.Info("Ledger signer configured", "address", auth.From)
		} else {
			logger.Warn("No ledger private key configured, serving reads only")
		}

		return client, ethClient.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown ledger mode %q", cfg.Mode)
}
