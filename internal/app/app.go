package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"cipherfeed/internal/sweeper"
	"cipherfeed/pkg/api/handlers"
	"cipherfeed/pkg/config"
	"cipherfeed/pkg/ledger"
	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/notify"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/query"
	"cipherfeed/pkg/store"
	"cipherfeed/pkg/upkeep"
	"cipherfeed/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	st     *store.Store
	orc    oracle.Oracle
	bus    *notify.Bus
	led    *ledger.Ledger
	engine *query.Engine
	deps   *handlers.Deps
	sweep  *sweeper.Sweeper

	srv *http.Server
}

// New initializes resources that do not require a running context: runtime
// keys, validation rules, store, oracle client, ledger, query engine. It
// does not start oracle workers, the sweeper or the HTTP server; call Run to
// start those and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	config.ApplyDefaults(eff.Config)

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	// runtime keys: signing keys fall back to backend API keys so a backend
	// service can mint listener signatures with its own key
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for _, k := range eff.Config.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	// validation rules
	validation.SetRules(validation.Rules{
		MaxHandleBytes: eff.Config.Limits.MaxHandleBytes.Int64(),
		MaxCandidates:  eff.Config.Limits.MaxCandidates,
	})

	st, err := store.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	// heal lagging id cursors before the ledger starts allocating
	if _, err := upkeep.Run(context.Background(), st, version); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("upkeep failed: %w", err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, st: st}

	if err := a.setupOracle(); err != nil {
		_ = st.Close()
		return nil, err
	}

	a.bus = notify.NewBus(eff.Config.Limits.EventBuffer)
	a.led, err = ledger.New(st, a.orc, a.bus)
	if err != nil {
		_ = a.orc.Close()
		_ = st.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	a.engine = query.NewEngine(a.led)
	a.deps = &handlers.Deps{
		Ledger:       a.led,
		Engine:       a.engine,
		Bus:          a.bus,
		Oracle:       a.orc,
		Store:        st,
		MaxBodyBytes: eff.Config.Limits.MaxBodyBytes.Int64(),
	}
	return a, nil
}

// Run starts the oracle workers, the sweeper and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.startOracle()

	if a.eff.Config.Sweeper.Enabled {
		a.sweep = sweeper.New(a.led, sweeper.Config{
			Cron:        a.eff.Config.Sweeper.Cron,
			ExpireAfter: a.eff.Config.Sweeper.ExpireAfter.Duration(),
		})
		a.sweep.Start()
	}

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// startOracle wires decryption results straight back into the ledger. Only
// the embedded oracle runs workers in-process; in remote mode oracled POSTs
// callbacks to /v1/oracle/callback instead.
func (a *App) startOracle() {
	if emb, ok := a.orc.(*oracle.Embedded); ok {
		led := a.led
		emb.Start(func(cb oracle.Callback) { _ = led.HandleCallback(cb) })
	}
}

// shutdown drains the HTTP server then stops background components in
// dependency order: sweeper, oracle workers, event bus, store.
func (a *App) shutdown() {
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.srv.Shutdown(sctx)
		cancel()
	}
	if a.sweep != nil {
		a.sweep.Stop()
	}
	if a.orc != nil {
		_ = a.orc.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.st != nil {
		_ = a.st.Close()
	}
	logger.Sync()
}
