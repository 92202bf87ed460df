package preflight

import (
	"context"

	"queueflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name" yaml:"name"`
	Passed   bool   `json:"passed" yaml:"passed"`
	Detail   string `json:"detail" yaml:"detail"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// RunAll executes the local checks for the given config. It never contacts
// the network.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Cleanup.Enabled {
		results = append(results, CheckCronSchedule("Cleanup schedule", cfg.Cleanup.Schedule))
	}
	results = append(results, CheckAPIExposure(cfg.API.Bind, cfg.API.Token))
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
