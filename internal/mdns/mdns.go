// Package mdns finds chassis daemons advertised over DNS-SD.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// Service is the DNS-SD service type chassis daemons advertise.
const Service = "_quadlo._tcp"

// Host is a discovered chassis daemon.
type Host struct {
	Instance  string // advertised name: "chassis lab 1"
	Hostname  string // DNS hostname: "chassis1.local."
	Addresses []net.IP
	Port      int
	TXT       map[string]string
}

// Addr returns a dialable host:port, preferring IPv4.
func (h Host) Addr() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(h.Port))
}

// Discover browses for chassis daemons until timeout elapses or ctx ends.
// Results are deduplicated by hostname and port and sorted by instance.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Host, 1)
	go func() { done <- collect(ctx, entries) }()

	if err := resolver.Browse(ctx, Service, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}
	return <-done, nil
}

// collect drains entries until the channel closes or ctx ends.
func collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) []Host {
	found := make(map[string]Host)
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return sorted(found)
			}
			if e == nil {
				continue
			}
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)
			found[fmt.Sprintf("%s|%d", e.HostName, e.Port)] = Host{
				Instance:  cleanInstance(e.Instance),
				Hostname:  e.HostName,
				Addresses: addrs,
				Port:      e.Port,
				TXT:       parseTXT(e.Text),
			}
		case <-ctx.Done():
			return sorted(found)
		}
	}
}

func sorted(found map[string]Host) []Host {
	out := make([]Host, 0, len(found))
	for _, h := range found {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// parseTXT splits key=value records; bare keys map to "".
func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// cleanInstance removes zeroconf escape sequences: "\ " => " ".
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
