package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// evolveOptions is the merged evolve configuration: built-in defaults,
// then the config file, then explicitly set flags, in that order.
type evolveOptions struct {
	Target         string
	Ports          string
	Source         string
	AlertFile      string
	Population     int
	Generations    int
	MinGenerations int
	Threshold      float64
	Elite          float64
	Tournament     int
	MutationRate   float64
	PageCount      int
	PageSize       int
	Seed           int64
	Workers        int
	EvalTimeoutMS  int
	PPS            int
	RunsDir        string
	Experiment     string
	RunID          string
}

func loadEvolveConfig(path string) (evolveOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return evolveOptions{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return evolveOptions{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	var opts evolveOptions
	if v, ok := asString(raw["target"]); ok {
		opts.Target = v
	}
	if v, ok := asString(raw["ports"]); ok {
		opts.Ports = v
	}
	if v, ok := asString(raw["source"]); ok {
		opts.Source = v
	}
	if v, ok := asString(raw["alert_file"]); ok {
		opts.AlertFile = v
	}
	if v, ok := asInt(raw["population"]); ok {
		opts.Population = v
	}
	if v, ok := asInt(raw["generations"]); ok {
		opts.Generations = v
	}
	if v, ok := asInt(raw["min_generations"]); ok {
		opts.MinGenerations = v
	}
	if v, ok := asFloat64(raw["fitness_threshold"]); ok {
		opts.Threshold = v
	}
	if v, ok := asFloat64(raw["elite_percent"]); ok {
		opts.Elite = v
	}
	if v, ok := asInt(raw["tournament_size"]); ok {
		opts.Tournament = v
	}
	if v, ok := asFloat64(raw["mutation_rate"]); ok {
		opts.MutationRate = v
	}
	if v, ok := asInt(raw["page_count"]); ok {
		opts.PageCount = v
	}
	if v, ok := asInt(raw["page_size"]); ok {
		opts.PageSize = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		opts.Seed = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		opts.Workers = v
	}
	if v, ok := asInt(raw["eval_timeout_ms"]); ok {
		opts.EvalTimeoutMS = v
	}
	if v, ok := asInt(raw["packets_per_second"]); ok {
		opts.PPS = v
	}
	if v, ok := asString(raw["runs_dir"]); ok {
		opts.RunsDir = v
	}
	if v, ok := asString(raw["experiment"]); ok {
		opts.Experiment = v
	}
	if v, ok := asString(raw["run_id"]); ok {
		opts.RunID = v
	}
	return opts, nil
}

// mergeOptions overlays config-file values with flag values. A config
// value only survives when its flag was not set on the command line and
// the config actually provided it (non-zero).
func mergeOptions(cfg, flags evolveOptions, set map[string]bool) evolveOptions {
	out := flags
	if !set["target"] && cfg.Target != "" {
		out.Target = cfg.Target
	}
	if !set["ports"] && cfg.Ports != "" {
		out.Ports = cfg.Ports
	}
	if !set["source"] && cfg.Source != "" {
		out.Source = cfg.Source
	}
	if !set["alert-file"] && cfg.AlertFile != "" {
		out.AlertFile = cfg.AlertFile
	}
	if !set["pop"] && cfg.Population != 0 {
		out.Population = cfg.Population
	}
	if !set["gens"] && cfg.Generations != 0 {
		out.Generations = cfg.Generations
	}
	if !set["min-gens"] && cfg.MinGenerations != 0 {
		out.MinGenerations = cfg.MinGenerations
	}
	if !set["threshold"] && cfg.Threshold != 0 {
		out.Threshold = cfg.Threshold
	}
	if !set["elite"] && cfg.Elite != 0 {
		out.Elite = cfg.Elite
	}
	if !set["tournament"] && cfg.Tournament != 0 {
		out.Tournament = cfg.Tournament
	}
	if !set["mutation-rate"] && cfg.MutationRate != 0 {
		out.MutationRate = cfg.MutationRate
	}
	if !set["pages"] && cfg.PageCount != 0 {
		out.PageCount = cfg.PageCount
	}
	if !set["page-size"] && cfg.PageSize != 0 {
		out.PageSize = cfg.PageSize
	}
	if !set["seed"] && cfg.Seed != 0 {
		out.Seed = cfg.Seed
	}
	if !set["workers"] && cfg.Workers != 0 {
		out.Workers = cfg.Workers
	}
	if !set["eval-timeout-ms"] && cfg.EvalTimeoutMS != 0 {
		out.EvalTimeoutMS = cfg.EvalTimeoutMS
	}
	if !set["pps"] && cfg.PPS != 0 {
		out.PPS = cfg.PPS
	}
	if !set["runs-dir"] && cfg.RunsDir != "" {
		out.RunsDir = cfg.RunsDir
	}
	if !set["experiment"] && cfg.Experiment != "" {
		out.Experiment = cfg.Experiment
	}
	if !set["run-id"] && cfg.RunID != "" {
		out.RunID = cfg.RunID
	}
	return out
}

// parsePortRange accepts a single port ("80") or an inclusive range
// ("20-25").
func parsePortRange(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("empty port range")
	}
	lowStr, highStr, isRange := strings.Cut(s, "-")
	low, err := strconv.Atoi(strings.TrimSpace(lowStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", lowStr)
	}
	high := low
	if isRange {
		high, err = strconv.Atoi(strings.TrimSpace(highStr))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port %q", highStr)
		}
	}
	if low < 1 || high > 65535 || low > high {
		return 0, 0, fmt.Errorf("port range out of bounds: %s", s)
	}
	return low, high, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
