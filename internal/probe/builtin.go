package probe

// Builtins returns the probes that ship with sweep, keyed by name. Every
// built-in command is read-only.
func Builtins() map[string]Probe {
	list := []Probe{
		{
			Name:        "uptime",
			Description: "Show uptime and load averages",
			Command:     "uptime",
			Parser:      "uptime",
		},
		{
			Name:        "disk",
			Description: "Check disk usage on root filesystem",
			Command:     "df -h /",
			Parser:      "disk",
		},
		{
			Name:        "memory",
			Description: "Show memory usage",
			Command:     "free -h",
			Parser:      "free",
		},
		{
			Name:        "os-version",
			Description: "Show OS version",
			Command:     `grep PRETTY_NAME /etc/os-release 2>/dev/null | cut -d= -f2 | tr -d '"' || uname -sr`,
		},
		{
			Name:        "kernel",
			Description: "Show running kernel release",
			Command:     "uname -r",
		},
		{
			Name:        "reboot-check",
			Description: "Check if hosts require a reboot",
			Command:     `test -f /var/run/reboot-required && echo "REBOOT REQUIRED" || echo "no reboot needed"`,
		},
		{
			Name:        "service-status",
			Description: "Check whether sshd is active",
			Command:     "systemctl is-active sshd",
			Parser:      "service",
		},
		{
			Name:        "listening-ports",
			Description: "List listening TCP ports (ss with netstat fallback)",
			Command:     "ss -tlnp 2>/dev/null || netstat -tlnp 2>/dev/null",
		},
		{
			Name:        "login-users",
			Description: "List users with login shells",
			Command:     `grep -v -e '/nologin$' -e '/false$' /etc/passwd | cut -d: -f1,7`,
		},
		{
			Name:        "error-log",
			Description: "Show recent error log entries",
			Command:     "journalctl -p err --no-pager -n 20 2>/dev/null || tail -20 /var/log/syslog 2>/dev/null || tail -20 /var/log/messages",
		},
	}

	out := make(map[string]Probe, len(list))
	for _, p := range list {
		p.Builtin = true
		out[p.Name] = p
	}
	return out
}

// IsBuiltin reports whether name is a built-in probe.
func IsBuiltin(name string) bool {
	_, ok := Builtins()[name]
	return ok
}
