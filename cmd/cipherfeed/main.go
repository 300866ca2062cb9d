package main

import (
	"context"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"

	"cipherfeed/internal/app"
	"cipherfeed/pkg/config"
	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/shutdown"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	// parse config flags
	flags := config.ParseConfigFlags()

	// parse config file
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		shutdown.Abort("failed to load config file", err, flags.DB)
	}

	// parse config env variables
	envCfg, envRes := config.ParseConfigEnvs()

	// load effective config
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		shutdown.Abort("failed to build effective config", err, flags.DB)
	}

	// initialize logger after config is fully loaded
	logger.InitWithLevel(eff.Config.Logging.Level, eff.Config.Logging.Format)
	defer logger.Sync()

	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)

	// attach the audit sink next to the database directory; every oracle
	// callback lands there regardless of log level
	auditDir := filepath.Join(filepath.Dir(filepath.Clean(eff.DBPath)), "audit")
	if err := logger.AttachAuditFileSink(auditDir); err != nil {
		logger.Warn("audit_sink_unavailable", "dir", auditDir, "error", err)
	}

	// set to maximum cpu's available
	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)
	logger.Info("system_logical_cores", "logical_cores", numCPU)

	// cap embedded oracle workers at 2 x cpu logical cores
	oc := &eff.Config.Oracle
	maxAllowedWorkers := numCPU * 2
	if oc.Workers > maxAllowedWorkers {
		logger.Warn("oracle_workers_capped", "requested", oc.Workers, "capped_to", maxAllowedWorkers)
		oc.Workers = maxAllowedWorkers
	}

	// initialize app (validates config, opens the store, builds the ledger)
	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.DBPath)
	}

	// set up context and signal handling for graceful shutdown
	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	// run the app; Run drains all components before returning
	if err := a.Run(ctx); err != nil {
		shutdown.Abort("app run failed", err, eff.DBPath)
	}
}
