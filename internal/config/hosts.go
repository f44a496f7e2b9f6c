package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/pathutil"
	"github.com/agent462/sweep/internal/ssh"
)

// Host is a resolved target with its connection details.
type Host struct {
	Name         string // identity as given, e.g. "admin@server1"
	Hostname     string // address to dial, e.g. "server1"
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
	Credential   string
}

// Target is the executor's view of the host.
func (h Host) Target() executor.HostTarget {
	return executor.HostTarget{Name: h.Name, CredentialRef: executor.CredentialRef(h.Credential)}
}

// SSH is the ssh layer's view of the host.
func (h Host) SSH() ssh.HostConfig {
	return ssh.HostConfig{
		Hostname:     h.Hostname,
		User:         h.User,
		Port:         h.Port,
		IdentityFile: h.IdentityFile,
		ProxyJump:    h.ProxyJump,
	}
}

// Targets returns the executor targets for hosts, in order.
func Targets(hosts []Host) []executor.HostTarget {
	out := make([]executor.HostTarget, len(hosts))
	for i, h := range hosts {
		out[i] = h.Target()
	}
	return out
}

// SSHHosts indexes the ssh settings of hosts by name.
func SSHHosts(hosts []Host) map[string]ssh.HostConfig {
	out := make(map[string]ssh.HostConfig, len(hosts))
	for _, h := range hosts {
		out[h.Name] = h.SSH()
	}
	return out
}

// ResolveHosts combines a config group with hosts named on the command
// line. Group hosts come first; CLI hosts are appended and deduplicated.
func ResolveHosts(cfg *Config, groupName string, cliHosts []string) ([]Host, error) {
	if groupName == "" && len(cliHosts) == 0 {
		return nil, fmt.Errorf("no hosts specified: provide a group (-g) or host names as arguments")
	}

	var names []string
	var group Group
	if groupName != "" {
		g, ok := cfg.Groups[groupName]
		if !ok {
			available := cfg.GroupNames()
			if len(available) == 0 {
				return nil, fmt.Errorf("group %q not found (no groups defined)", groupName)
			}
			return nil, fmt.Errorf("group %q not found (available: %s)", groupName, strings.Join(available, ", "))
		}
		group = g
		names = append(names, g.Hosts...)
	}

	seen := make(map[string]bool, len(names)+len(cliHosts))
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range cliHosts {
		if !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}

	credential := cfg.Defaults.Credential
	if group.Credential != "" {
		credential = group.Credential
	}

	hosts := make([]Host, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty host name in %s", sourceOf(groupName))
		}
		host := Host{Name: name, Hostname: name, Port: 22, Credential: credential}
		if user, hostname, ok := parseUserAtHost(name); ok {
			host.User, host.Hostname = user, hostname
		}
		if group.User != "" {
			host.User = group.User
		}
		MergeSSHConfig(&host)
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func sourceOf(group string) string {
	if group == "" {
		return "command line"
	}
	return fmt.Sprintf("group %q", group)
}

// MergeSSHConfig fills unset fields from ~/.ssh/config, looking up the
// dial address rather than the display name.
func MergeSSHConfig(host *Host) {
	lookup := host.Hostname
	if lookup == "" {
		lookup = host.Name
	}

	if host.User == "" {
		host.User = sshConfigGet(lookup, "User")
	}
	if host.Port == 22 {
		if port, err := strconv.Atoi(sshConfigGet(lookup, "Port")); err == nil && port > 0 {
			host.Port = port
		}
	}
	if host.IdentityFile == "" {
		if id := sshConfigGet(lookup, "IdentityFile"); id != "" {
			if p := pathutil.ExpandHome(id); fileExists(p) {
				host.IdentityFile = p
			}
		}
	}
	if host.ProxyJump == "" {
		host.ProxyJump = sshConfigGet(lookup, "ProxyJump")
	}
	if real := sshConfigGet(lookup, "Hostname"); real != "" && !strings.Contains(real, "%") && host.Hostname == lookup {
		host.Hostname = real
	}
}

func sshConfigGet(host, key string) string {
	v, err := ssh_config.GetStrict(host, key)
	if err != nil {
		return ""
	}
	return v
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// parseUserAtHost splits "user@host". ok is false without a user part.
func parseUserAtHost(s string) (user, host string, ok bool) {
	i := strings.Index(s, "@")
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
