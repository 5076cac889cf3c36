// Package buildinfo carries version metadata stamped in via -ldflags.
package buildinfo

import (
	"fmt"

	"github.com/cordum/extcore/core/infra/logging"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Log writes the build metadata under the given component name.
func Log(component string) {
	logging.Info(component, "build", "version", Version, "commit", Commit, "date", Date)
}
