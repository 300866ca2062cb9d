package app

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/adhocore/gronx"

	"cipherfeed/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	// DB path must be present
	if p := eff.DBPath; p == "" {
		return fmt.Errorf("database path is empty: set --db flag, CIPHERFEED_DB_PATH env, or server.db_path in config")
	}

	// TLS cert/key presence check if one is set
	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	// Oracle settings
	switch eff.Config.Oracle.Mode {
	case "", "embedded":
		if mk := eff.Config.Oracle.MasterKeyHex; mk != "" {
			if b, err := hex.DecodeString(mk); err != nil || len(b) != 32 {
				return fmt.Errorf("invalid oracle.master_key_hex: must be 64-hex (32 bytes)")
			}
		}
	case "remote":
		if eff.Config.Oracle.Socket == "" {
			return fmt.Errorf("oracle.mode is remote but oracle.socket is empty")
		}
		if eff.Config.Oracle.ProofKeyHex == "" {
			return fmt.Errorf("oracle.mode is remote but oracle.proof_key_hex is empty: callbacks could never be verified")
		}
	default:
		return fmt.Errorf("unknown oracle.mode %q; must be embedded or remote", eff.Config.Oracle.Mode)
	}
	if pk := eff.Config.Oracle.ProofKeyHex; pk != "" {
		if _, err := hex.DecodeString(pk); err != nil {
			return fmt.Errorf("invalid oracle.proof_key_hex: %w", err)
		}
	}

	// Sweeper schedule must parse before we hand it to the scheduler
	if eff.Config.Sweeper.Enabled {
		if !gronx.IsValid(eff.Config.Sweeper.Cron) {
			return fmt.Errorf("invalid sweeper.cron expression %q", eff.Config.Sweeper.Cron)
		}
	}

	return nil
}
