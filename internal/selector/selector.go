// Package selector resolves host selectors such as "@failed" or "web*"
// against a run's results.
package selector

import (
	"fmt"
	"path"
	"strings"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/grouper"
)

// State is what selectors resolve against: every host in the run and,
// once the run has finished, its grouped results.
type State struct {
	AllHosts []string
	Grouped  *grouper.GroupedResults // nil before results exist
}

// kindSelectors name the failure buckets a selector can pick.
var kindSelectors = map[string]executor.ErrorKind{
	"timeout":     executor.KindTimeout,
	"unreachable": executor.KindConnectivity,
	"auth":        executor.KindAuth,
	"error":       executor.KindRemoteExecution,
	"cancelled":   executor.KindCancelled,
}

// Resolve maps a comma-separated selector to host names, deduplicated in
// first-seen order. An empty selector is equivalent to @all.
func Resolve(sel string, state *State) ([]string, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "@all" {
		return state.AllHosts, nil
	}

	seen := make(map[string]bool)
	var result []string
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hosts, err := resolveSingle(part, state)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			if !seen[h] {
				seen[h] = true
				result = append(result, h)
			}
		}
	}
	return result, nil
}

func resolveSingle(sel string, state *State) ([]string, error) {
	name, ok := strings.CutPrefix(sel, "@")
	if !ok {
		return matchHosts(sel, state.AllHosts)
	}

	switch name {
	case "all":
		return state.AllHosts, nil
	case "ok":
		return okHosts(state)
	case "differs":
		if state.Grouped == nil {
			return nil, fmt.Errorf("@differs: no results yet")
		}
		return state.Grouped.Outliers(), nil
	case "failed":
		if state.Grouped == nil {
			return nil, fmt.Errorf("@failed: no results yet")
		}
		return state.Grouped.FailedHosts(), nil
	}

	if kind, ok := kindSelectors[name]; ok {
		if state.Grouped == nil {
			return nil, fmt.Errorf("@%s: no results yet", name)
		}
		return state.Grouped.FailedHosts(kind), nil
	}
	return matchHosts(name, state.AllHosts)
}

// okHosts returns hosts in the norm (majority) group.
func okHosts(state *State) ([]string, error) {
	if state.Grouped == nil {
		return nil, fmt.Errorf("@ok: no results yet")
	}
	if norm := state.Grouped.Norm(); norm != nil {
		return norm.Hosts, nil
	}
	return nil, nil
}

// matchHosts returns hosts whose names match the glob pattern.
func matchHosts(pattern string, allHosts []string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var matched []string
	for _, h := range allHosts {
		if ok, _ := path.Match(pattern, h); ok {
			matched = append(matched, h)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no hosts match %s", pattern)
	}
	return matched, nil
}
