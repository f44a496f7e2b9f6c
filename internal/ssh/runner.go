package ssh

import (
	"context"
	"fmt"
	"os"

	"github.com/agent462/sweep/internal/executor"
)

// HostConfig holds per-host connection details resolved from the config
// file and ~/.ssh/config.
type HostConfig struct {
	Hostname     string // address to dial when it differs from the host name
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
}

// Credential is a named login a HostTarget can refer to.
type Credential struct {
	User         string
	IdentityFile string
	// PasswordEnv names an environment variable holding a password.
	PasswordEnv string
}

// CommandRunner runs a shell command on one host. Errors carry an
// executor.ErrorKind; a non-zero exit status is not an error.
type CommandRunner interface {
	Run(ctx context.Context, host executor.HostTarget, command string) (Output, error)
}

// Settings is shared by Pool and Runner.
type Settings struct {
	Base        ClientConfig
	Hosts       map[string]HostConfig
	Credentials map[string]Credential
}

// resolve builds the dial address and config for host. Host overrides apply
// on top of the base config, and the host's credential applies last.
func (s Settings) resolve(host executor.HostTarget) (string, ClientConfig, error) {
	conf := s.Base
	dialHost := host.Name

	if hc, ok := s.Hosts[host.Name]; ok {
		if hc.Hostname != "" {
			dialHost = hc.Hostname
		}
		if hc.User != "" {
			conf.User = hc.User
		}
		if hc.Port > 0 {
			conf.Port = hc.Port
		}
		if hc.IdentityFile != "" {
			conf.IdentityFiles = []string{hc.IdentityFile}
		}
		if hc.ProxyJump != "" {
			conf.ProxyJump = hc.ProxyJump
		}
	}

	if host.CredentialRef == "" {
		return dialHost, conf, nil
	}
	cred, ok := s.Credentials[string(host.CredentialRef)]
	if !ok {
		return "", conf, fmt.Errorf("unknown credential %q", host.CredentialRef)
	}
	if cred.User != "" {
		conf.User = cred.User
	}
	if cred.IdentityFile != "" {
		conf.IdentityFiles = []string{cred.IdentityFile}
	}
	if cred.PasswordEnv != "" {
		conf.Password = os.Getenv(cred.PasswordEnv)
	}
	return dialHost, conf, nil
}

func (s Settings) dial(ctx context.Context, host executor.HostTarget) (*Client, error) {
	dialHost, conf, err := s.resolve(host)
	if err != nil {
		return nil, ClassifyError(host.Name, err)
	}
	c, err := Dial(ctx, dialHost, conf)
	if err != nil {
		return nil, ClassifyError(host.Name, fmt.Errorf("connect: %w", err))
	}
	return c, nil
}

// Runner opens a fresh connection for every command.
type Runner struct {
	settings Settings
}

// NewRunner creates a Runner.
func NewRunner(s Settings) *Runner {
	return &Runner{settings: s}
}

// Run dials host, runs command and closes the connection.
func (r *Runner) Run(ctx context.Context, host executor.HostTarget, command string) (Output, error) {
	client, err := r.settings.dial(ctx, host)
	if err != nil {
		return Output{ExitCode: -1}, err
	}
	defer client.Close()

	out, err := client.RunCommand(ctx, command)
	return out, sessionError(err)
}

// GetClient dials a connection the caller must release with CloseClient.
func (r *Runner) GetClient(ctx context.Context, host executor.HostTarget) (*Client, error) {
	return r.settings.dial(ctx, host)
}

// CloseClient closes a client from GetClient.
func (r *Runner) CloseClient(c *Client) error {
	return c.Close()
}
