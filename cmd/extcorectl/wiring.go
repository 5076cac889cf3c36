package main

import (
	"context"
	"errors"
	"sync"

	"github.com/cordum/extcore/core/capabilities"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/bus"
	"github.com/cordum/extcore/core/infra/config"
	"github.com/cordum/extcore/core/infra/logging"
	"github.com/cordum/extcore/core/loop"
	"github.com/cordum/extcore/core/mediator"
)

// serveApp names the mediator point holding the serve wiring steps.
const serveApp = "extcorectl"

// App keys set by the serve steps.
const (
	keyLoop = "loop"
	keyBus  = "bus"
)

// closers releases what the serve steps opened, newest first.
type closers struct {
	mu  sync.Mutex
	fns []func()
}

func (c *closers) add(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *closers) Close() {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// serveWiring registers the serve steps on m. A step that fails is logged by
// the mediator and the remaining steps still run, so serve comes up without
// reset notices when NATS is unreachable.
func serveWiring(ctx context.Context, m *mediator.Mediator, e *env, cfg *config.Config, capsPath string, c *closers) error {
	return m.Register(serveApp,
		mediator.Step{ID: "start-loop", Index: ext.AutoIndex, Setup: func(app *mediator.App) error {
			l := loop.New()
			go func() {
				if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logging.Error("extcorectl", "loop stopped", "err", err)
				}
			}()
			c.add(l.Close)
			app.Set(keyLoop, l)
			return nil
		}},
		mediator.Step{ID: "log-resets", Index: ext.AutoIndex, Setup: func(*mediator.App) error {
			c.add(e.caps.OnReset(func() {
				logging.Info("extcorectl", "capabilities reset", "enabled", e.caps.Size())
			}))
			return nil
		}},
		mediator.Step{ID: "watch-capabilities", Index: ext.AutoIndex, Setup: func(*mediator.App) error {
			watcher, err := capabilities.NewWatcher(e.caps, capsPath, e.sources[1:]...)
			if err != nil {
				return err
			}
			c.add(watcher.Stop)
			return watcher.Start(ctx)
		}},
		mediator.Step{ID: "subscribe-resets", Index: ext.AutoIndex, Setup: func(app *mediator.App) error {
			natsBus, err := bus.NewNatsBus(cfg.NatsURL)
			if err != nil {
				return err
			}
			c.add(natsBus.Close)
			unsub, err := natsBus.SubscribeResets(cfg.ResetSubject, resetHandler(ctx, e, cfg))
			if err != nil {
				return err
			}
			c.add(func() { _ = unsub() })
			app.Set(keyBus, natsBus)
			return nil
		}},
	)
}

// appLoop returns the loop started by the serve wiring.
func appLoop(app *mediator.App) *loop.Loop {
	v, _ := app.Get(keyLoop)
	l, _ := v.(*loop.Loop)
	return l
}

// appBus returns the reset bus, nil when NATS was unreachable.
func appBus(app *mediator.App) *bus.NatsBus {
	v, _ := app.Get(keyBus)
	b, _ := v.(*bus.NatsBus)
	return b
}
