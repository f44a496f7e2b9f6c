// Package discover finds hosts with an open TCP port in an IPv4 range.
package discover

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/agent462/sweep/internal/executor"
)

// MinPrefix is the widest IPv4 range CIDRScan accepts.
const MinPrefix = 16

// Host is a discovered address with the port found open.
type Host struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

// IncompleteError reports a scan that ended before every address was dialled.
// Addresses that were never dialled are neither open nor closed.
type IncompleteError struct {
	CIDR    string
	Skipped int
	Total   int
	// Reason is context.Canceled or context.DeadlineExceeded.
	Reason error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("scan of %s incomplete: %d of %d addresses not dialled (%v)", e.CIDR, e.Skipped, e.Total, e.Reason)
}

func (e *IncompleteError) Unwrap() error { return e.Reason }

// CIDRScan dials port on every usable address in cidr, at most concurrency
// at a time, and returns the hosts that accepted, sorted by address.
// Network and broadcast addresses are skipped for ranges wider than /31.
// dialTimeout bounds each address and overallTimeout the whole scan; zero
// selects the executor defaults. If the scan ends before every address was
// dialled, the hosts found so far are returned with an *IncompleteError.
func CIDRScan(ctx context.Context, cidr string, port int, concurrency int, dialTimeout, overallTimeout time.Duration) ([]Host, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if ones, bits := network.Mask.Size(); bits == 32 && ones < MinPrefix {
		return nil, fmt.Errorf("CIDR %q is too large: narrow it to /%d or smaller", cidr, MinPrefix)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	ips := EnumerateHosts(network)
	if len(ips) == 0 {
		return nil, nil
	}
	targets := make([]executor.HostTarget, len(ips))
	for i, ip := range ips {
		targets[i] = executor.HostTarget{Name: ip.String()}
	}

	exec := executor.New[Host](
		executor.WithConcurrency(concurrency),
		executor.WithTaskTimeout(dialTimeout),
		executor.WithOverallTimeout(overallTimeout),
		executor.WithLogger(slog.Default().With("component", "discover")),
	)
	rs, err := exec.Run(ctx, targets, dialOperation(port))
	if err != nil {
		return nil, err
	}

	var results []Host
	skipped := 0
	reason := context.DeadlineExceeded
	for _, r := range rs {
		switch {
		case r.Success:
			results = append(results, r.Payload)
		case r.StartedAt.IsZero():
			skipped++
			if r.Kind == executor.KindCancelled {
				reason = context.Canceled
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return ipLess(results[i].Address, results[j].Address)
	})
	if skipped > 0 {
		return results, &IncompleteError{CIDR: cidr, Skipped: skipped, Total: len(rs), Reason: reason}
	}
	return results, nil
}

// dialOperation reports whether a TCP connection to port succeeds.
func dialOperation(port int) executor.Operation[Host] {
	return func(ctx context.Context, host executor.HostTarget) (Host, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host.Name, strconv.Itoa(port)))
		if err != nil {
			return Host{}, err
		}
		conn.Close()
		return Host{Address: host.Name, Port: port}, nil
	}
}

func ipLess(a, b string) bool {
	ipA := net.ParseIP(a).To4()
	ipB := net.ParseIP(b).To4()
	if ipA != nil && ipB != nil {
		return binary.BigEndian.Uint32(ipA) < binary.BigEndian.Uint32(ipB)
	}
	return a < b
}

// EnumerateHosts returns all usable host IPs in the given network.
// For IPv4 networks larger than /31, it skips the network address
// (all host bits 0) and the broadcast address (all host bits 1).
// IPv6 networks yield nothing.
func EnumerateHosts(network *net.IPNet) []net.IP {
	ip := network.IP.To4()
	if ip == nil {
		return nil
	}
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil
	}

	start := binary.BigEndian.Uint32(ip)
	size := uint32(1) << uint(bits-ones)

	first, last := uint32(1), size-1
	if ones >= 31 {
		// /32 is one host; /31 is a point-to-point link (RFC 3021).
		first, last = 0, size
	}

	hosts := make([]net.IP, 0, last-first)
	for i := first; i < last; i++ {
		addr := make(net.IP, 4)
		binary.BigEndian.PutUint32(addr, start+i)
		hosts = append(hosts, addr)
	}
	return hosts
}
