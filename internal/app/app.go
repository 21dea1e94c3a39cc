// Package app wires storage, the schedule and delivery services and the
// selected chat platform into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedbot/internal/clock"
	"schedbot/internal/config"
	"schedbot/internal/delivery"
	"schedbot/internal/eventbus"
	rtsup "schedbot/internal/runtime/supervisor"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/discord"
	telegram "schedbot/internal/transport/telegram/adapter"
	"schedbot/internal/transport/telegram/router"
	logx "schedbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	platform string
	adapter  kit.Adapter
	router   *router.Router // telegram only

	sched    *schedule.Service
	delivery *delivery.Service

	ready   chan struct{}
	updates chan kit.Update
}

// New loads the config and builds every component. Nothing connects to the
// network until Start.
func New(cfgPath string, env config.Env) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath, env)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	platform := cfg.ActivePlatform()
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", platform))

	var (
		ad  kit.Adapter
		del kit.Deliverer
		tg  *telegram.Adapter
		dc  *discord.Adapter
	)
	switch platform {
	case config.PlatformDiscord:
		dc, err = discord.New(discord.Config{
			Token:                cfg.Discord.Token,
			GuildIDs:             cfg.Discord.GuildIDs,
			RemoveCommandsOnStop: cfg.Discord.RemoveCommandsOnStop,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad, del = dc, dc
	default:
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err = telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
		if err != nil {
			return nil, err
		}
		ad, del = tg, tg
	}

	// Start with the chat sink off so Apply does not warn before the target is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	target, err := logTarget(cfg)
	if err != nil {
		return nil, err
	}
	logSvc.SetChatTarget(target)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	clk := clock.System{}
	sched := schedule.New(store, clk, bus, log)
	deliv := delivery.New(dcfg, store, del, clk, bus, log)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		platform: platform,
		adapter:  ad,
		sched:    sched,
		delivery: deliv,
		ready:    make(chan struct{}),
		updates:  make(chan kit.Update, 256),
	}

	if dc != nil {
		dc.SetScheduler(sched)
	}
	if tg != nil {
		opts, err := mapRouterOptions(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.router = router.New(log, tg, tg, cfg.Telegram.OwnerUserIDs, opts)
		a.router.SetUsername(tg.Username())
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateReload(cfg)
	})

	// Passes wait on ready, so the first one runs against an open store and a
	// connected transport.
	if err := a.delivery.Start(a.sup.Context(), a.ready); err != nil {
		return err
	}

	if a.router != nil {
		a.router.SetRegistry(a.sup.Context(), a.commands())
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.router != nil {
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
	}
	close(a.ready)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
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
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("platform", a.platform))
	return nil
}

// applyConfig pushes the live-reloadable sections of newCfg to the running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, needRestart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(needRestart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(needRestart, ",")))
	}

	if target, err := logTarget(newCfg); err == nil {
		a.logs.SetChatTarget(target)
	}
	a.logs.Apply(mapLogConfig(newCfg))

	if a.router != nil {
		a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
		if opts, err := mapRouterOptions(newCfg); err == nil {
			a.router.SetTimeout(opts.Timeout)
		}
	}

	if dcfg, err := mapDeliveryConfig(newCfg); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else if err := a.delivery.Apply(dcfg); err != nil {
		a.log.Warn("delivery reconfigure failed", logx.Err(err))
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown step bounded by max so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Delivery first: an in-flight pass still needs the transport and the store.
	step("delivery", 3*time.Second, a.delivery.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
