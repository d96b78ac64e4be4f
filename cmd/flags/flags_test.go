package flags

import (
	"testing"
	"time"

	"github.com/landsure/landsure-registry/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runWithFlags(t *testing.T, args []string, action func(cCtx *cli.Context)) {
	t.Helper()
	fs := append(append([]cli.Flag{}, ServerFlags...), CommonFlags...)
	app := &cli.App{
		Name:  "test",
		Flags: fs,
		Action: func(cCtx *cli.Context) error {
			action(cCtx)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Projection.DSN = "/var/lib/landsure"

	runWithFlags(t, []string{
		"--listen-addr", "0.0.0.0:9000",
		"--ledger-mode", "onchain",
		"--contract-addr", "0x00000000000000000000000000000000000000c0",
		"--archive", "file:///tmp/a",
		"--archive", "ipfs://localhost:5001/",
	}, func(cCtx *cli.Context) {
		ApplyOverrides(cCtx, cfg)
	})

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, config.LedgerModeOnchain, cfg.Ledger.Mode)
	assert.Equal(t, "0x00000000000000000000000000000000000000c0", cfg.Ledger.ContractAddress)
	assert.Equal(t, []string{"file:///tmp/a", "ipfs://localhost:5001/"}, cfg.Archive.Locations)

	// Unset flags keep configured values, not flag defaults.
	assert.Equal(t, "/var/lib/landsure", cfg.Projection.DSN)
	assert.Equal(t, "127.0.0.1:8090", cfg.MetricsAddr)
	assert.Empty(t, cfg.Ledger.RPCAddr)
}

func TestConfigureServer(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.FinalityTimeout = 10 * time.Second

	runWithFlags(t, []string{"--drain-seconds", "3", "--pprof"}, func(cCtx *cli.Context) {
		srvCfg := ConfigureServer(cCtx, nil, cfg)
		assert.Equal(t, cfg.ListenAddr, srvCfg.ListenAddr)
		assert.Equal(t, 3*time.Second, srvCfg.DrainDuration)
		assert.True(t, srvCfg.EnablePprof)
		assert.Greater(t, srvCfg.RequestTimeout, cfg.Ledger.FinalityTimeout)
		assert.Greater(t, srvCfg.WriteTimeout, srvCfg.RequestTimeout)
	})
}
