// Package probe defines the read-only diagnostics sweep runs on hosts and
// adapts them to executor Operations.
package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agent462/sweep/internal/config"
	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/parser"
	"github.com/agent462/sweep/internal/ssh"
)

// AdhocName is the probe name reported for commands given with --command.
const AdhocName = "adhoc"

// Probe is a named shell command with an optional output parser.
type Probe struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Command     string `json:"command" yaml:"command"`
	Parser      string `json:"parser,omitempty" yaml:"parser,omitempty"` // empty for raw output
	Builtin     bool   `json:"builtin" yaml:"builtin"`
}

// Report is the payload of a successful probe run.
type Report struct {
	Probe    string         `json:"probe" yaml:"probe"`
	Command  string         `json:"command" yaml:"command"`
	Stdout   string         `json:"stdout" yaml:"stdout"`
	Stderr   string         `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	ExitCode int            `json:"exit_code" yaml:"exit_code"`
	Fields   []parser.Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Field returns the value of the named parsed field.
func (r Report) Field(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Adhoc wraps a free-form command as an unnamed probe.
func Adhoc(command string) Probe {
	return Probe{Name: AdhocName, Description: "ad-hoc command", Command: command}
}

// Resolve looks up a probe by name. Probes defined in cfg override the
// built-in ones.
func Resolve(name string, cfg *config.Config) (Probe, error) {
	if cfg != nil {
		if def, ok := cfg.Probes[name]; ok {
			return fromConfig(name, def), nil
		}
	}
	if p, ok := Builtins()[name]; ok {
		return p, nil
	}

	var names []string
	for _, p := range All(cfg) {
		names = append(names, p.Name)
	}
	return Probe{}, fmt.Errorf("unknown probe %q (available: %s)", name, strings.Join(names, ", "))
}

func fromConfig(name string, def config.Probe) Probe {
	return Probe{Name: name, Description: def.Description, Command: def.Command, Parser: def.Parser}
}

// All returns the built-in probes merged with the configured ones, sorted
// by name.
func All(cfg *config.Config) []Probe {
	merged := Builtins()
	if cfg != nil {
		for name, def := range cfg.Probes {
			merged[name] = fromConfig(name, def)
		}
	}
	out := make([]Probe, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Operation runs p on each host through runner. A non-zero exit status is
// a RemoteExecutionError; fp, when non-nil, fills Report.Fields.
func Operation(runner ssh.CommandRunner, p Probe, fp *parser.Parser) executor.Operation[Report] {
	return func(ctx context.Context, host executor.HostTarget) (Report, error) {
		out, err := runner.Run(ctx, host, p.Command)
		rep := Report{
			Probe:    p.Name,
			Command:  p.Command,
			Stdout:   string(out.Stdout),
			Stderr:   string(out.Stderr),
			ExitCode: out.ExitCode,
		}
		if err != nil {
			return rep, err
		}
		if out.ExitCode != 0 {
			msg := firstLine(rep.Stderr)
			if msg == "" {
				msg = firstLine(rep.Stdout)
			}
			if msg == "" {
				return rep, executor.Errorf(executor.KindRemoteExecution, "exit status %d", out.ExitCode)
			}
			return rep, executor.Errorf(executor.KindRemoteExecution, "exit status %d: %s", out.ExitCode, msg)
		}
		if fp != nil {
			rep.Fields = fp.Parse(rep.Stdout)
		}
		return rep, nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
