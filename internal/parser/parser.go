// Package parser extracts named fields from command output using regex
// capture groups or whitespace columns.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agent462/sweep/internal/config"
)

// Missing is the value of a field whose rule did not match.
const Missing = "-"

// Field is one extracted value.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type rule struct {
	field  string
	re     *regexp.Regexp // nil in column mode
	column int            // 1-based; 0 in regex mode
}

// Parser is a compiled set of extraction rules.
type Parser struct {
	name  string
	rules []rule
}

// New compiles config rules into a Parser.
func New(name string, rules []config.ExtractRule) (*Parser, error) {
	p := &Parser{name: name, rules: make([]rule, 0, len(rules))}
	for _, r := range rules {
		cr := rule{field: r.Field}
		switch {
		case r.Pattern != "":
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid regex for field %q: %w", r.Field, err)
			}
			cr.re = re
		case r.Column > 0:
			cr.column = r.Column
		default:
			return nil, fmt.Errorf("rule for field %q must have pattern or column", r.Field)
		}
		p.rules = append(p.rules, cr)
	}
	return p, nil
}

// Name is the parser's configured name.
func (p *Parser) Name() string { return p.name }

// FieldNames lists the fields in rule order.
func (p *Parser) FieldNames() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.field
	}
	return names
}

// Parse extracts every field from stdout. Unmatched fields are Missing.
func (p *Parser) Parse(stdout string) []Field {
	fields := make([]Field, 0, len(p.rules))
	for _, r := range p.rules {
		value := Missing
		if r.re != nil {
			if m := r.re.FindStringSubmatch(stdout); len(m) >= 2 {
				value = strings.TrimSpace(m[1])
			}
		} else {
			value = column(stdout, r.column)
		}
		fields = append(fields, Field{Name: r.field, Value: value})
	}
	return fields
}

// column returns the 1-based column of the first non-empty line after the
// header line.
func column(text string, col int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for _, line := range lines[1:] {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if col <= len(f) {
			return f[col-1]
		}
		return Missing
	}
	return Missing
}

// Resolve finds a parser by name. Parsers defined in cfg override the
// built-in ones.
func Resolve(name string, cfg *config.Config) (*Parser, error) {
	if cfg != nil {
		if def, ok := cfg.Parsers[name]; ok {
			return New(name, def.Extract)
		}
	}
	if p, ok := Builtins()[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown parser %q (available: %s)", name, strings.Join(Names(cfg), ", "))
}

// Names lists built-in and configured parser names, sorted.
func Names(cfg *config.Config) []string {
	seen := make(map[string]bool)
	for name := range Builtins() {
		seen[name] = true
	}
	if cfg != nil {
		for name := range cfg.Parsers {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
