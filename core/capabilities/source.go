package capabilities

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cordum/extcore/core/infra/config"
)

const (
	// DynamicTheme is enabled whenever the server enforces the dynamic theme.
	DynamicTheme = "dynamic-theme"

	// OverrideParam names both the query parameter and the cookie that carry
	// capability overrides, e.g. cap=calendar,-tasks.
	OverrideParam = "cap"
)

// Snapshot is what a Source contributes to a reset.
type Snapshot struct {
	Enabled  []Capability
	Disabled []string
}

// Source supplies capabilities for Set.Reset.
type Source interface {
	Name() string
	Load(ctx context.Context) (Snapshot, error)
}

// ServerConfig is the capability part of the server configuration.
type ServerConfig struct {
	Capabilities        []Capability `json:"capabilities" yaml:"capabilities"`
	EnforceDynamicTheme bool         `json:"enforceDynamicTheme" yaml:"enforce_dynamic_theme"`
	Disabled            []string     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

func (c ServerConfig) Name() string { return "server" }

func (c ServerConfig) Load(context.Context) (Snapshot, error) {
	snap := Snapshot{
		Enabled:  append([]Capability(nil), c.Capabilities...),
		Disabled: append([]string(nil), c.Disabled...),
	}
	if c.EnforceDynamicTheme {
		snap.Enabled = append(snap.Enabled, Capability{ID: DynamicTheme})
	}
	return snap, nil
}

// Overrides are environment-supplied additions and forced removals.
type Overrides struct {
	Enable  []string
	Disable []string
}

func (o Overrides) Name() string { return "override" }

func (o Overrides) Load(context.Context) (Snapshot, error) {
	snap := Snapshot{Disabled: append([]string(nil), o.Disable...)}
	for _, id := range o.Enable {
		snap.Enabled = append(snap.Enabled, Capability{ID: id})
	}
	return snap, nil
}

// Merge appends other's entries to o.
func (o Overrides) Merge(other Overrides) Overrides {
	return Overrides{
		Enable:  append(append([]string(nil), o.Enable...), other.Enable...),
		Disable: append(append([]string(nil), o.Disable...), other.Disable...),
	}
}

// ParseOverrides reads a comma or space separated list; entries prefixed with
// "-" or "!" are force-disabled.
func ParseOverrides(raw string) Overrides {
	var o Overrides
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	for _, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case f == "":
		case strings.HasPrefix(f, "-") || strings.HasPrefix(f, "!"):
			if id := strings.TrimSpace(f[1:]); id != "" {
				o.Disable = append(o.Disable, id)
			}
		default:
			o.Enable = append(o.Enable, f)
		}
	}
	return o
}

// OverridesFromQuery collects every cap= value of a URL query.
func OverridesFromQuery(values url.Values) Overrides {
	var o Overrides
	for _, raw := range values[OverrideParam] {
		o = o.Merge(ParseOverrides(raw))
	}
	return o
}

// OverridesFromRequest merges the cap cookie with the cap query parameters.
func OverridesFromRequest(r *http.Request) Overrides {
	if r == nil {
		return Overrides{}
	}
	var o Overrides
	if c, err := r.Cookie(OverrideParam); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			o = ParseOverrides(v)
		}
	}
	if r.URL != nil {
		o = o.Merge(OverridesFromQuery(r.URL.Query()))
	}
	return o
}

// FileSource reads a YAML capability file on every Load.
type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return "file" }

func (f FileSource) Load(ctx context.Context) (Snapshot, error) {
	file, err := config.LoadCapabilities(f.Path)
	if err != nil {
		return Snapshot{}, err
	}
	return FromFile(file).Load(ctx)
}

// FromFile converts a parsed capability file into a ServerConfig.
func FromFile(file *config.CapabilitiesFile) ServerConfig {
	if file == nil {
		return ServerConfig{}
	}
	cfg := ServerConfig{
		EnforceDynamicTheme: file.EnforceDynamicTheme,
		Disabled:            append([]string(nil), file.Disabled...),
	}
	for _, entry := range file.Capabilities {
		cfg.Capabilities = append(cfg.Capabilities, Capability{ID: entry.ID, Attributes: entry.Attributes})
	}
	return cfg
}
