package config

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/multierr"
)

// BoundsAutoLocal infers clipping bounds per date from that date's values.
const BoundsAutoLocal = "auto-local"

// BoundsExplicit uses parameters.lower_bound and parameters.upper_bound.
const BoundsExplicit = "explicit"

// ValidationError lists every configuration problem found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration without touching the filesystem. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Filepath) == "" {
		add("filepath is required")
	}
	if strings.TrimSpace(c.APIName) == "" {
		add("api_name is required")
	}
	if strings.TrimSpace(c.AggregatorDatasite) == "" {
		add("aggregator_datasite is required")
	}

	p := c.Parameters
	if strings.TrimSpace(p.Type) == "" {
		add("parameters.type is required")
	}
	if math.IsNaN(p.Epsilon) || math.IsInf(p.Epsilon, 0) || p.Epsilon <= 0 {
		add("parameters.epsilon must be positive, got %v", p.Epsilon)
	}
	switch {
	case strings.TrimSpace(p.Bounds) == "":
		add("parameters.bounds is required")
	case p.Bounds == BoundsAutoLocal:
	case p.LowerBound != nil && p.UpperBound != nil:
		if *p.LowerBound > *p.UpperBound {
			add("parameters.lower_bound %v exceeds upper_bound %v", *p.LowerBound, *p.UpperBound)
		}
	default:
		add("parameters.bounds %q is not %q and no lower_bound/upper_bound are set", p.Bounds, BoundsAutoLocal)
	}

	if _, err := c.MinDate(); err != nil {
		add("clean.min_date must be YYYY-MM-DD, got %q", c.Clean.MinDate)
	}

	switch c.Store.Driver {
	case "file", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	default:
		add("store.driver %q is not one of file, sqlite, postgres", c.Store.Driver)
	}

	if errs == nil {
		return nil
	}
	ve := &ValidationError{}
	for _, err := range multierr.Errors(errs) {
		ve.Problems = append(ve.Problems, err.Error())
	}
	return ve
}
