package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"discordrelay/internal/audit"
	"discordrelay/internal/config"
	"discordrelay/internal/eventbus"
	"discordrelay/internal/forwarder"
	"discordrelay/internal/observability/ops"
	"discordrelay/internal/relay"
	"discordrelay/internal/runtime/lifecycle"
	"discordrelay/internal/runtime/supervisor"
	"discordrelay/internal/storage"
	kit "discordrelay/internal/transport"
	discord "discordrelay/internal/transport/discord/adapter"
	logx "discordrelay/pkg/logx"
)

const (
	updatesBuffer   = 256
	commandsTimeout = 30 * time.Second
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *discord.Adapter
	fwd     *forwarder.Forwarder
	relay   *relay.Service
	ops     *ops.Service

	recorder     *audit.Recorder
	stopRecorder context.CancelFunc
	recorderDone chan struct{}

	supervisors *SupervisorRegistry
	updates     chan kit.Update
	startedAt   time.Time
}

// NewApp loads and validates the configuration and wires every component.
// Nothing touches the network until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	// The Discord log sink needs the adapter, and the adapter wants a real
	// logger; start the sink without a sender and attach it afterwards.
	logSvc, root := logx.New(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	ad, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: strings.TrimSpace(cfg.Discord.GuildID),
	}, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
	}

	fs, err := mapForwarderSettings(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	fwd := forwarder.New(fs, nil, root, bus)
	relaySvc := relay.New(mapRelaySettings(cfg), fwd, ad, root)

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		adapter:     ad,
		fwd:         fwd,
		relay:       relaySvc,
		supervisors: NewSupervisorRegistry(),
		updates:     make(chan kit.Update, updatesBuffer),
	}
	deps := ops.Deps{Health: a.health}
	if store != nil {
		deps.Deliveries = store
		a.recorder = audit.NewRecorder(store, root)
	}
	a.ops = ops.New(opsCfg, deps, root)

	if strings.TrimSpace(cfg.Webhook.URL) == "" {
		log.Warn("webhook url is not configured; accepted events will be logged and dropped")
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.supervisors.Set("app", a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Reject reloads that the component mappers could not apply.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapForwarderSettings(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	// The recorder outlives the app context so deliveries finishing during
	// shutdown are still written.
	if a.recorder != nil {
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stopRecorder = cancel
		a.recorderDone = make(chan struct{})
		go func() {
			defer close(a.recorderDone)
			_ = a.recorder.Run(rctx, a.bus)
		}()
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		a.supervisors.Set("discord.adapter", sup)
	}
	a.supervisors.Set("relay.tasks", a.relay.Supervisor())

	cfg := a.cfgm.Get()
	a.registerCommands(cfg)

	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
		a.supervisors.Set("ops", a.ops.Supervisor())
	}

	a.sup.Go("relay.dispatch", func(c context.Context) error {
		return a.relay.Run(c, a.updates)
	})

	a.sup.Go0("systemd.ready", func(c context.Context) {
		select {
		case <-c.Done():
			return
		case <-a.adapter.Ready():
		}
		lifecycle.NotifyReady(a.log)
		lifecycle.NotifyStatus(a.log, fmt.Sprintf("relaying %d channel(s)", len(cfg.AllowList())))
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		lifecycle.RunWatchdog(c, a.log, a.adapter.Connected)
	})

	a.startReloadLoop()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("version", Version),
		logx.Int("channels", len(cfg.AllowList())),
		logx.Bool("webhook_set", strings.TrimSpace(cfg.Webhook.URL) != ""),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) registerCommands(cfg *config.Config) {
	specs := commandSpecs(cfg)
	if len(specs) == 0 {
		return
	}
	a.sup.Go0("discord.commands", func(c context.Context) {
		rctx, cancel := context.WithTimeout(c, commandsTimeout)
		defer cancel()
		if err := a.adapter.UpdateCommands(rctx, specs); err != nil && c.Err() == nil {
			a.log.Warn("slash command registration failed", logx.Err(err))
		}
	})
}

func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.relay.Apply(mapRelaySettings(next))

	if fs, err := mapForwarderSettings(next); err != nil {
		a.log.Warn("invalid webhook config; keeping previous", logx.Err(err))
	} else {
		a.fwd.Apply(fs)
	}

	if oc, err := mapOpsConfig(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
		a.supervisors.Set("ops", a.ops.Supervisor())
	}

	if slices.Contains(sections, "discord") {
		if prev.Discord.Token != next.Discord.Token || strings.TrimSpace(prev.Discord.GuildID) != strings.TrimSpace(next.Discord.GuildID) {
			a.log.Warn("discord token or guild changed; restart required for changes to take effect")
		}
		a.registerCommands(next)
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() ops.Health {
	snaps, failing := a.supervisors.Snapshots()
	connected := a.adapter.Connected()
	appErr := a.Err()

	details := map[string]any{
		"version":           Version,
		"gateway_connected": connected,
		"supervisors":       snaps,
		"bus_dropped":       a.bus.Dropped(),
		"log_dropped":       a.logs.Dropped(),
	}
	if !a.startedAt.IsZero() {
		details["uptime"] = time.Since(a.startedAt).Round(time.Second).String()
	}
	if len(failing) > 0 {
		details["failing"] = failing
	}
	if appErr != nil {
		details["error"] = appErr.Error()
	}
	return ops.Health{OK: connected && appErr == nil, Details: details}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	lifecycle.NotifyStopping(a.log)

	// Cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Intake first, then in-flight deliveries, then their observers.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("deliveries", 5*time.Second, func(c context.Context) error { return a.relay.Wait(c) })
	step("audit", 1*time.Second, func(c context.Context) error {
		if a.stopRecorder == nil {
			return nil
		}
		a.stopRecorder()
		select {
		case <-a.recorderDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("ops", 1*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
