package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/extcore/core/actions"
	"github.com/cordum/extcore/core/capabilities"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/logging"
	"github.com/cordum/extcore/core/infra/metrics"
	"github.com/cordum/extcore/core/manifest"
)

type envOptions struct {
	ManifestPath     string
	CapabilitiesPath string
	Device           string
	Overrides        string
	Metrics          metrics.Metrics
	CapMetrics       metrics.CapabilityMetrics
	// Extra sources are applied after the capability file and overrides.
	Extra []capabilities.Source
}

// env is the registries built from a capability file and a manifest.
type env struct {
	caps    *capabilities.Set
	sources []capabilities.Source
	points  *ext.Registry
	actions *actions.Registry
	summary manifest.Summary
}

func newEnv(ctx context.Context, opts envOptions) (*env, error) {
	var capOpts []capabilities.Option
	if opts.CapMetrics != nil {
		capOpts = append(capOpts, capabilities.WithMetrics(opts.CapMetrics))
	}
	set := capabilities.NewSet(nil, capOpts...)
	sources := []capabilities.Source{capabilities.FileSource{Path: opts.CapabilitiesPath}}
	if opts.Overrides != "" {
		sources = append(sources, capabilities.ParseOverrides(opts.Overrides))
	}
	sources = append(sources, opts.Extra...)
	if err := set.Reset(ctx, sources...); err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}

	regOpts := []ext.Option{
		ext.WithCapabilities(set),
		ext.WithDevice(capabilities.Traits(strings.Split(opts.Device, ",")...)),
	}
	if opts.Metrics != nil {
		regOpts = append(regOpts, ext.WithMetrics(opts.Metrics))
	}
	points := ext.NewRegistry(regOpts...)
	var actOpts []actions.Option
	if opts.Metrics != nil {
		actOpts = append(actOpts, actions.WithMetrics(opts.Metrics))
	}
	acts := actions.NewRegistry(points, actOpts...)

	sum, err := manifest.Load(opts.ManifestPath, points, acts, builtinHandlers())
	if err != nil {
		return nil, fmt.Errorf("apply manifest: %w", err)
	}
	return &env{caps: set, sources: sources, points: points, actions: acts, summary: sum}, nil
}

// builtinHandlers are the handler names a manifest can bind without custom
// Go code.
func builtinHandlers() *manifest.Handlers {
	return manifest.NewHandlers().
		Extension("section", func(node *ext.Node, b *ext.Baton) error {
			node.Append(ext.NewNode("section").SetAttr("data-baton", b.ID))
			return nil
		}).
		Extension("noop", func(*ext.Node, *ext.Baton) error { return nil }).
		Extension("stop", func(_ *ext.Node, b *ext.Baton) error {
			b.StopPropagation()
			return nil
		}).
		Matches("always", func(*ext.Baton) bool { return true }).
		Matches("never", func(*ext.Baton) bool { return false }).
		Matches("same-folder", sameFolder).
		MatchesAsync("remote.allow", func(ctx context.Context, _ *ext.Baton) (bool, error) {
			select {
			case <-time.After(10 * time.Millisecond):
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}).
		Perform("log", func(b *ext.Baton) error {
			logging.Info("extcorectl", "perform", "baton", b.ID, "selection", strings.Join(actions.SelectionOf(b), ","))
			return nil
		})
}

// sameFolder matches selections whose items all live in one folder.
func sameFolder(b *ext.Baton) bool {
	folder := ""
	for i, cid := range actions.SelectionOf(b) {
		f, _ := actions.SplitCID(cid)
		if i > 0 && f != folder {
			return false
		}
		folder = f
	}
	return true
}
