package parser

import "regexp"

// Builtins returns the parsers that ship with sweep, keyed by name.
func Builtins() map[string]*Parser {
	return map[string]*Parser{
		"disk":    diskParser(),
		"free":    freeParser(),
		"uptime":  uptimeParser(),
		"service": serviceParser(),
	}
}

func build(name string, pairs ...string) *Parser {
	p := &Parser{name: name}
	for i := 0; i+1 < len(pairs); i += 2 {
		p.rules = append(p.rules, rule{field: pairs[i], re: regexp.MustCompile(pairs[i+1])})
	}
	return p
}

// diskParser reads the root filesystem line of "df -h".
func diskParser() *Parser {
	return build("disk",
		"filesystem", `(?m)^(\S+)\s+\S+\s+\S+\s+\S+\s+\S+\s+/\s*$`,
		"size", `(?m)^\S+\s+(\S+)\s+\S+\s+\S+\s+\S+\s+/\s*$`,
		"used", `(?m)^\S+\s+\S+\s+(\S+)\s+\S+\s+\S+\s+/\s*$`,
		"avail", `(?m)^\S+\s+\S+\s+\S+\s+(\S+)\s+\S+\s+/\s*$`,
		"use_pct", `(?m)^\S+\s+\S+\s+\S+\s+\S+\s+(\S+)\s+/\s*$`,
	)
}

// freeParser reads the Mem: line of "free -h".
func freeParser() *Parser {
	return build("free",
		"total", `(?m)^Mem:\s+(\S+)`,
		"used", `(?m)^Mem:\s+\S+\s+(\S+)`,
		"free", `(?m)^Mem:\s+\S+\s+\S+\s+(\S+)`,
		"available", `(?m)^Mem:\s+\S+\s+\S+\s+\S+\s+\S+\s+\S+\s+(\S+)`,
	)
}

func uptimeParser() *Parser {
	return build("uptime",
		"uptime", `up\s+(.+?),\s+\d+\s+users?`,
		"users", `(\d+)\s+users?`,
		"load1", `load averages?:\s+([\d.]+),?`,
		"load5", `load averages?:\s+[\d.]+,?\s+([\d.]+)`,
		"load15", `load averages?:\s+[\d.]+,?\s+[\d.]+,?\s+([\d.]+)`,
	)
}

// serviceParser reads "systemctl is-active" output.
func serviceParser() *Parser {
	return build("service", "state", `(?m)^\s*(\S+)`)
}
