package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cordum/extcore/core/actions"
	"github.com/cordum/extcore/core/capabilities"
	"github.com/cordum/extcore/core/ext"
	"github.com/cordum/extcore/core/infra/config"
	"github.com/cordum/extcore/core/loop"
	"github.com/google/go-cmp/cmp"
)

const mailManifest = `
points:
  - id: io.ox/mail/detail
    require: [render]
    extensions:
      - id: body
        index: 200
        capabilities: webmail
        handlers:
          render: mail.body
      - id: header
        index: 100
        handlers:
          render: mail.header
      - id: attachments
        after: header
        device: "!smartphone"
        handlers:
          render: mail.attachments
links:
  io.ox/mail/links/toolbar:
    - id: reply
      index: 100
      prio: hi
      action: io.ox/mail/actions/reply
      label: Reply
    - id: delete
      index: 200
      prio: hi
      action: io.ox/mail/actions/delete
      label: Delete
    - id: print
      index: 300
      section: export
      action: io.ox/mail/actions/print
actions:
  - id: io.ox/mail/actions/reply
    collection: one
    capabilities: webmail
    perform: mail.reply
  - id: io.ox/mail/actions/delete
    collection: some
    matches_async: mail.canDelete
  - id: io.ox/mail/actions/print
    collection: some
    matches: mail.printable
`

func handlers(calls *[]string) *Handlers {
	render := func(name string) ext.Handler {
		return func(*ext.Node, *ext.Baton) error {
			*calls = append(*calls, name)
			return nil
		}
	}
	return NewHandlers().
		Extension("mail.body", render("body")).
		Extension("mail.header", render("header")).
		Extension("mail.attachments", render("attachments")).
		Perform("mail.reply", func(*ext.Baton) error {
			*calls = append(*calls, "reply")
			return nil
		}).
		Matches("mail.printable", func(*ext.Baton) bool { return true }).
		MatchesAsync("mail.canDelete", func(context.Context, *ext.Baton) (bool, error) { return true, nil })
}

func TestLoadAppliesManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(mailManifest), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	caps := capabilities.NewSet([]string{"webmail"})
	points := ext.NewRegistry(ext.WithCapabilities(caps), ext.WithDevice(capabilities.Traits("desktop")))
	acts := actions.NewRegistry(points)
	var calls []string

	sum, err := Load(path, points, acts, handlers(&calls))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Summary{Points: 1, Extensions: 3, Links: 3, Actions: 3}, sum); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	points.Point("io.ox/mail/detail").Invoke(ext.KindRender, nil, nil)
	if diff := cmp.Diff([]string{"header", "attachments", "body"}, calls); diff != "" {
		t.Fatalf("render order mismatch (-want +got):\n%s", diff)
	}

	ran, err := acts.Invoke(context.Background(), "io.ox/mail/actions/reply",
		ext.NewBaton(ext.Options{Data: actions.Selection{"inbox.1"}}))
	if !ran || err != nil {
		t.Fatalf("expected reply to run, got ran=%v err=%v", ran, err)
	}

	l := loop.New()
	r, err := actions.NewResolver(actions.ResolverConfig{Points: points, Actions: acts, Loop: l, Point: "io.ox/mail/links/toolbar"})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	r.SetSelection([]string{"inbox.1", "inbox.2"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	res := r.Resolved()
	if !res.Final || res.Has("io.ox/mail/actions/reply") || !res.Has("io.ox/mail/actions/delete") {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if len(res.Overflow["export"]) != 1 {
		t.Fatalf("expected print in export overflow, got %+v", res.Overflow)
	}
}

func TestApplyReportsUnknownHandlers(t *testing.T) {
	m, err := config.ParseManifest([]byte(mailManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	points := ext.NewRegistry()
	acts := actions.NewRegistry(points)
	var calls []string
	h := handlers(&calls)
	delete(h.extensions, "mail.body")
	delete(h.matchesAsync, "mail.canDelete")

	sum, err := Apply(m, points, acts, h)
	if !errors.Is(err, ErrUnknownHandler) {
		t.Fatalf("expected ErrUnknownHandler, got %v", err)
	}
	if sum.Extensions != 2 || sum.Actions != 2 || sum.Links != 3 {
		t.Fatalf("expected partial application, got %+v", sum)
	}
	if acts.Has("io.ox/mail/actions/delete") {
		t.Fatalf("expected action with unknown handler skipped")
	}
}

func TestApplyNilManifest(t *testing.T) {
	sum, err := Apply(nil, ext.NewRegistry(), actions.NewRegistry(nil), nil)
	if err != nil || sum != (Summary{}) {
		t.Fatalf("expected empty summary, got %+v err %v", sum, err)
	}
}
