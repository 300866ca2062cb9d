package app

import (
	"fmt"

	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/oracle"
)

// setupOracle builds the decryption oracle per config. Embedded mode (the
// default) runs the worker pool in-process and, with no keys configured,
// generates ephemeral ones — handles then do not survive a restart. Remote
// mode talks to an already-running oracled over its unix socket and shares
// only the proof key with it.
func (a *App) setupOracle() error {
	cfg := a.eff.Config.Oracle
	switch cfg.Mode {
	case "", "embedded":
		emb, err := oracle.NewEmbedded(oracle.EmbeddedConfig{
			MasterKeyHex: cfg.MasterKeyHex,
			ProofKeyHex:  cfg.ProofKeyHex,
			Workers:      cfg.Workers,
			Queue:        cfg.Queue,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize embedded oracle: %w", err)
		}
		if cfg.MasterKeyHex == "" {
			logger.Log.Warn("oracle_ephemeral_keys",
				zap.String("hint", "set oracle.master_key_hex to keep handles decryptable across restarts"))
		}
		a.orc = emb
		logger.Log.Info("oracle_configured", zap.String("mode", "embedded"),
			zap.Int("workers", cfg.Workers), zap.Int("queue", cfg.Queue))
		return nil
	case "remote":
		rc, err := oracle.NewRemote(cfg.Socket, cfg.ProofKeyHex)
		if err != nil {
			return fmt.Errorf("failed to initialize oracled client: %w", err)
		}
		if !rc.Available() {
			return fmt.Errorf("oracled health check failed at %s; ensure oracled is running and the socket is reachable", cfg.Socket)
		}
		a.orc = rc
		logger.Log.Info("oracle_configured", zap.String("mode", "remote"), zap.String("socket", cfg.Socket))
		return nil
	default:
		return fmt.Errorf("unknown oracle.mode %q; must be embedded or remote", cfg.Mode)
	}
}
