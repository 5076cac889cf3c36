package ext

import (
	"errors"
	"fmt"
)

// Result records one handler call made by Invoke.
type Result struct {
	ID  string
	Err error
}

// ResultSet is returned by Point.Invoke.
type ResultSet struct {
	Point   string
	Kind    Kind
	Results []Result
}

// Any reports whether at least one extension ran, failed or not.
func (r *ResultSet) Any() bool {
	return r != nil && len(r.Results) > 0
}

// Count returns the number of extensions that ran.
func (r *ResultSet) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Results)
}

// Executed lists the ids that ran, in invocation order.
func (r *ResultSet) Executed() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.ID)
	}
	return out
}

// Errors joins the handler failures, or returns nil.
func (r *ResultSet) Errors() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", r.Point, res.ID, res.Err))
		}
	}
	return errors.Join(errs...)
}
