package main

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/daimatz/callsites/pkg/callsite"
)

const (
	envFormat  = "CALLSITES_FORMAT"
	envWorkers = "CALLSITES_WORKERS"
)

// outputFormat is how scan and prim print their results.
type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(s); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	}
	return "", errors.Errorf("unsupported format %q (want table, json or yaml)", s)
}

// resolveFormat determines the output format.
// Precedence: --format flag > CALLSITES_FORMAT > table
func resolveFormat(flag string) (outputFormat, error) {
	if flag != "" {
		return parseFormat(flag)
	}
	if env := os.Getenv(envFormat); env != "" {
		return parseFormat(env)
	}
	return formatTable, nil
}

// resolveWorkers determines the decoder pool size. Zero lets the scanner
// pick GOMAXPROCS.
// Precedence: --workers flag > CALLSITES_WORKERS > 0
func resolveWorkers(flag int, flagSet bool) (int, error) {
	if flagSet {
		if flag < 0 {
			return 0, errors.Errorf("--workers must not be negative, got %d", flag)
		}
		return flag, nil
	}
	if env := os.Getenv(envWorkers); env != "" {
		n, err := strconv.Atoi(env)
		if err != nil || n < 0 {
			return 0, errors.Errorf("%s: invalid worker count %q", envWorkers, env)
		}
		return n, nil
	}
	return 0, nil
}

// parseKinds turns --kind values into dispatch kinds, dropping duplicates.
func parseKinds(values []string) ([]callsite.Dispatch, error) {
	kinds := make([]callsite.Dispatch, 0, len(values))
	for _, v := range values {
		k, err := callsite.ParseDispatch(v)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return lo.Uniq(kinds), nil
}
