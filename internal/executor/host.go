package executor

import "context"

// CredentialRef names a credential that the Operation's transport knows how
// to resolve. The executor never interprets it; the empty value means none.
type CredentialRef string

// HostTarget identifies one remote endpoint. It is immutable for the
// duration of a run and may be read by many goroutines.
type HostTarget struct {
	Name          string
	CredentialRef CredentialRef
}

func (h HostTarget) String() string {
	return h.Name
}

// Operation is the diagnostic run once per host. It must honour ctx where it
// can; the executor stops waiting when ctx is done either way.
type Operation[P any] func(ctx context.Context, host HostTarget) (P, error)

// Targets builds credential-less HostTargets from plain host names.
func Targets(names ...string) []HostTarget {
	hosts := make([]HostTarget, len(names))
	for i, n := range names {
		hosts[i] = HostTarget{Name: n}
	}
	return hosts
}
