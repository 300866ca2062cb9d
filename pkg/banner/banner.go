package banner

import (
	"fmt"
	"strings"

	"cipherfeed/pkg/config"
)

const banner = `
 ██████╗██╗██████╗ ██╗  ██╗███████╗██████╗ ███████╗███████╗███████╗██████╗
██╔════╝██║██╔══██╗██║  ██║██╔════╝██╔══██╗██╔════╝██╔════╝██╔════╝██╔══██╗
██║     ██║██████╔╝███████║█████╗  ██████╔╝█████╗  █████╗  █████╗  ██║  ██║
██║     ██║██╔═══╝ ██╔══██║██╔══╝  ██╔══██╗██╔══╝  ██╔══╝  ██╔══╝  ██║  ██║
╚██████╗██║██║     ██║  ██║███████╗██║  ██║██║     ███████╗███████╗██████╔╝
 ╚═════╝╚═╝╚═╝     ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═╝     ╚══════╝╚══════╝╚═════╝
`

// PrintWithEff prints the banner using an EffectiveConfigResult which
// provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var dbPath = eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/records' -d '{\"category\":\"<b64>\",\"minutes\":\"<b64>\",\"listener\":\"<b64>\"}'")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/records/1/decrypt'")
	fmt.Println("curl 'http://<host>:<port>/v1/listeners/<id>/recommendations?candidates=tech,news'")
	fmt.Println("\n== Production? =================================================")
	// API keys
	be := 0
	fe := 0
	ak := 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		fe = len(eff.Config.Security.APIKeys.Frontend)
		ak = len(eff.Config.Security.APIKeys.Admin)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	// TLS
	tlsOK := false
	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		tlsOK = true
	}
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	// DB path
	if eff.DBPath != "" {
		fmt.Printf("- DB Path: %s\n", eff.DBPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or CIPHERFEED_SERVER_DB_PATH)")
	}

	// Oracle
	mode := ""
	if eff.Config != nil {
		mode = strings.TrimSpace(eff.Config.Oracle.Mode)
	}
	switch mode {
	case "", "embedded":
		hasMaster := eff.Config != nil && strings.TrimSpace(eff.Config.Oracle.MasterKeyHex) != ""
		if hasMaster {
			fmt.Println("- Oracle: embedded (persistent keys)")
		} else {
			fmt.Println("- Oracle: embedded (EPHEMERAL keys; sealed data is lost on restart)")
		}
	case "remote":
		fmt.Printf("- Oracle: remote (oracled at %s)\n", eff.Config.Oracle.Socket)
	default:
		fmt.Printf("- Oracle: unknown mode %q\n", mode)
	}

	// Sweeper
	swEnabled := false
	swInfo := ""
	if eff.Config != nil {
		swEnabled = eff.Config.Sweeper.Enabled
		if swEnabled {
			if eff.Config.Sweeper.Cron != "" {
				swInfo = "cron=" + eff.Config.Sweeper.Cron
			}
			if d := eff.Config.Sweeper.ExpireAfter.Duration(); d > 0 {
				if swInfo != "" {
					swInfo += " "
				}
				swInfo += "expire_after=" + d.String()
			} else {
				if swInfo != "" {
					swInfo += " "
				}
				swInfo += "report-only"
			}
		}
	}
	if swEnabled {
		if swInfo != "" {
			fmt.Printf("- Sweeper: enabled (%s)\n", swInfo)
		} else {
			fmt.Println("- Sweeper: enabled")
		}
	} else {
		fmt.Println("- Sweeper: disabled")
	}

	fmt.Println("\nRead docs/openapi.yaml for the full API surface and docs/configs/README.md for configuration.")

	fmt.Println("\n== Logs: =================================================")
}
