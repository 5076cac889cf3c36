package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cordum/extcore/core/actions"
	"github.com/cordum/extcore/core/capabilities"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/buildinfo"
	"github.com/cordum/extcore/core/infra/config"
	"github.com/cordum/extcore/core/loop"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "has":
		runHasCmd(args)
	case "list":
		runListCmd(args)
	case "resolve":
		runResolveCmd(args)
	case "serve":
		runServeCmd(args)
	case "version":
		fmt.Println(buildinfo.Info())
	default:
		usage()
		os.Exit(1)
	}
}

func runHasCmd(args []string) {
	fs := newFlagSet("has")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("capability expression required")
	}
	set, err := loadCapabilities(context.Background(), *fs.caps, *fs.overrides)
	check(err)
	ok := set.Has(fs.Args()...)
	fmt.Println(ok)
	if !ok {
		os.Exit(2)
	}
}

func runListCmd(args []string) {
	fs := newFlagSet("list")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("point id required")
	}
	e, err := newEnv(context.Background(), fs.options())
	check(err)
	p := e.points.Point(fs.Arg(0))
	active := map[string]bool{}
	for _, x := range p.Active(nil) {
		active[x.ID] = true
	}
	p.Each(func(x ext.Extension) bool {
		mark := " "
		if !active[x.ID] {
			mark = "-"
		}
		fmt.Printf("%s %5d %s\n", mark, x.Index, x.ID)
		return true
	})
}

func runResolveCmd(args []string) {
	fs := newFlagSet("resolve")
	draw := fs.Bool("draw", false, "print the drawn toolbar instead of the link summary")
	asJSON := fs.Bool("json", false, "print the resolution as json")
	timeout := fs.Duration("timeout", 5*time.Second, "time to wait for async predicates")
	fs.ParseArgs(args)
	if fs.NArg() < 1 {
		fail("point id required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e, err := newEnv(ctx, fs.options())
	check(err)
	l := loop.New()
	r, err := actions.NewResolver(actions.ResolverConfig{
		Points:  e.points,
		Actions: e.actions,
		Loop:    l,
		Point:   fs.Arg(0),
	})
	check(err)
	defer r.Close()
	r.SetSelection(fs.Args()[1:])
	check(l.Drain(ctx))

	res := r.Resolved()
	switch {
	case *draw:
		fmt.Print(r.Draw(nil).Render())
	case *asJSON:
		printJSON(summarize(res))
	default:
		fmt.Printf("fingerprint: %s\n", res.Fingerprint)
		fmt.Printf("primary: %s\n", strings.Join(linkIDs(res.Primary), " "))
		for _, section := range res.Sections() {
			fmt.Printf("overflow[%s]: %s\n", section, strings.Join(linkIDs(res.Overflow[section]), " "))
		}
	}
}

type resolution struct {
	Fingerprint string              `json:"fingerprint"`
	Primary     []string            `json:"primary"`
	Overflow    map[string][]string `json:"overflow,omitempty"`
	Final       bool                `json:"final"`
}

func summarize(res actions.Resolved) resolution {
	out := resolution{Fingerprint: res.Fingerprint, Primary: linkIDs(res.Primary), Final: res.Final}
	for section, links := range res.Overflow {
		if out.Overflow == nil {
			out.Overflow = map[string][]string{}
		}
		out.Overflow[section] = linkIDs(links)
	}
	return out
}

func linkIDs(links []actions.Link) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.ID)
	}
	return out
}

type flagSet struct {
	*flag.FlagSet
	manifest  *string
	caps      *string
	device    *string
	overrides *string
}

func newFlagSet(name string) *flagSet {
	cfg := config.Load()
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &flagSet{
		FlagSet:   fs,
		manifest:  fs.String("manifest", cfg.ManifestPath, "manifest yaml file"),
		caps:      fs.String("caps", cfg.CapabilitiesPath, "capability yaml file"),
		device:    fs.String("device", strings.Join(cfg.DeviceTraits, ","), "comma separated device traits"),
		overrides: fs.String("cap", "", "capability overrides, e.g. \"calendar,-webmail\""),
	}
}

func (fs *flagSet) ParseArgs(args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
	}
}

func (fs *flagSet) options() envOptions {
	return envOptions{
		ManifestPath:     *fs.manifest,
		CapabilitiesPath: *fs.caps,
		Device:           *fs.device,
		Overrides:        *fs.overrides,
	}
}

func loadCapabilities(ctx context.Context, path, overrides string) (*capabilities.Set, error) {
	set := capabilities.NewSet(nil)
	sources := []capabilities.Source{capabilities.FileSource{Path: path}}
	if overrides != "" {
		sources = append(sources, capabilities.ParseOverrides(overrides))
	}
	if err := set.Reset(ctx, sources...); err != nil {
		return nil, err
	}
	return set, nil
}

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`extcorectl - extension and action composition CLI

Usage:
  extcorectl has [--caps capabilities.yaml] [--cap overrides] <expr>...
  extcorectl list [--manifest manifest.yaml] [--caps capabilities.yaml] <point>
  extcorectl resolve [--manifest manifest.yaml] [--caps capabilities.yaml] [--draw|--json] <point> <cid>...
  extcorectl serve
  extcorectl version

Common flags:
  --device    Device traits (default from EXTCORE_DEVICE)
  --cap       Capability overrides applied after the file
`)
}

func check(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
