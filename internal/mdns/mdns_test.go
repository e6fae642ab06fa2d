package mdns

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, ips []net.IP, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, Service, "local.")
	e.HostName = host
	e.Port = port
	e.AddrIPv4 = ips
	e.Text = txt
	return e
}

func TestCollectDeduplicatesAndSorts(t *testing.T) {
	ch := make(chan *zeroconf.ServiceEntry, 4)
	ch <- entry(`chassis\ b`, "b.local.", 5025, []net.IP{net.IPv4(10, 0, 0, 2)}, "slots=2,4,7")
	ch <- nil
	ch <- entry(`chassis\ a`, "a.local.", 5025, nil, "model=M9019A", "sandbox")
	ch <- entry(`chassis\ b`, "b.local.", 5025, []net.IP{net.IPv4(10, 0, 0, 3)})
	close(ch)

	hosts := collect(context.Background(), ch)
	if len(hosts) != 2 {
		t.Fatalf("got %d hosts, want 2", len(hosts))
	}
	if hosts[0].Instance != "chassis a" || hosts[1].Instance != "chassis b" {
		t.Fatalf("unexpected order: %q, %q", hosts[0].Instance, hosts[1].Instance)
	}
	if got := hosts[1].Addr(); got != "10.0.0.3:5025" {
		t.Fatalf("latest entry should win, got %s", got)
	}
	if got := hosts[0].Addr(); got != "a.local:5025" {
		t.Fatalf("hostname fallback: got %s", got)
	}
	if v, ok := hosts[0].TXT["sandbox"]; !ok || v != "" {
		t.Fatalf("bare TXT key missing: %v", hosts[0].TXT)
	}
	if hosts[0].TXT["model"] != "M9019A" {
		t.Fatalf("TXT = %v", hosts[0].TXT)
	}
}

func TestCollectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hosts := collect(ctx, make(chan *zeroconf.ServiceEntry))
	if len(hosts) != 0 {
		t.Fatalf("expected no hosts, got %v", hosts)
	}
}
