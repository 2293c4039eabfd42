package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-mysql/pkg/config"
	"github.com/openfroyo/froyo-mysql/pkg/converge"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/facts"
	"github.com/openfroyo/froyo-mysql/pkg/policy"
	"github.com/openfroyo/froyo-mysql/pkg/stores"
	"github.com/openfroyo/froyo-mysql/pkg/telemetry"
	"github.com/openfroyo/froyo-mysql/pkg/transports/local"
	"github.com/openfroyo/froyo-mysql/pkg/transports/ssh"
)

// app holds the components shared by the commands.
type app struct {
	settings  *Settings
	telemetry *telemetry.Telemetry
	store     *stores.SQLiteStore
	loader    *config.Loader
	collector *facts.Collector
	policies  *policy.Engine
}

func newApp(ctx context.Context, s *Settings) (*app, error) {
	tel, err := telemetry.New(&s.Telemetry)
	if err != nil {
		return nil, err
	}
	a := &app{settings: s, telemetry: tel}

	if err := os.MkdirAll(filepath.Dir(s.Store.Path), 0o755); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(s.Store)
	if err == nil {
		err = store.Init(ctx)
	}
	if err == nil {
		a.store = store
		err = store.Migrate(ctx)
	}
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.loader = config.NewLoader(
		config.WithLogger(tel.Logger.Component("config")),
		config.WithScriptTimeout(s.ScriptTimeout),
	)
	a.collector = facts.NewCollector(
		facts.WithCache(store),
		facts.WithTTL(s.Facts.TTL),
		facts.WithLogger(tel.Logger.Component("facts")),
	)
	return a, nil
}

// policyEngine loads the built-in policies plus the configured directory.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	if a.policies != nil {
		return a.policies, nil
	}
	e, err := policy.NewEngine(a.telemetry.Logger.Component("policy"))
	if err != nil {
		return nil, err
	}
	if a.settings.Policy.Dir != "" {
		if err := e.LoadPaths(ctx, []string{a.settings.Policy.Dir}); err != nil {
			return nil, err
		}
	}
	a.policies = e
	return e, nil
}

func (a *app) runner(ctx context.Context) (*converge.Runner, error) {
	policies, err := a.policyEngine(ctx)
	if err != nil {
		return nil, err
	}
	return converge.NewRunner(a.loader, a.collector,
		converge.WithStore(a.store),
		converge.WithPolicy(policies),
		converge.WithTelemetry(a.telemetry),
		converge.WithLogger(a.telemetry.Logger.Component("converge")),
	), nil
}

// shell opens a shell for target: the local machine when target is
// empty or "local", otherwise SSH to user@host[:port].
func (a *app) shell(ctx context.Context, target string) (engine.Shell, func() error, error) {
	if target == "" || target == "local" {
		return local.NewShell(local.WithLogger(a.telemetry.Logger.Component("shell"))), func() error { return nil }, nil
	}

	cfg, err := ssh.ParseTarget(target)
	if err != nil {
		return nil, nil, err
	}
	opts := a.settings.SSH
	if opts.PrivateKey != "" {
		cfg.PrivateKeyPath = opts.PrivateKey
	}
	if opts.KnownHosts != "" {
		cfg.KnownHostsPath = opts.KnownHosts
	}
	cfg.StrictHostKeyChecking = opts.StrictHostKeyChecking
	if opts.Sudo != nil {
		cfg.Sudo = *opts.Sudo
	}
	if opts.ConnectionTimeout > 0 {
		cfg.ConnectionTimeout = opts.ConnectionTimeout
	}
	if opts.CommandTimeout > 0 {
		cfg.CommandTimeout = opts.CommandTimeout
	}

	sh, err := ssh.NewShell(cfg, a.telemetry.Logger.Component("ssh"))
	if err != nil {
		return nil, nil, err
	}
	if err := sh.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return sh, sh.Close, nil
}

func (a *app) logger() *zerolog.Logger {
	return &a.telemetry.Logger.Logger
}

// Close flushes telemetry and closes the store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.telemetry.Shutdown(ctx))
	return errors.Join(errs...)
}
