package prospector

import (
	"net"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func TestCachingService_NilServiceIsSafe(t *testing.T) {
	var cache *CachingService

	cache.SetDNS("example.com", []net.IP{net.ParseIP("10.0.0.1")})
	if _, found := cache.GetDNS("example.com"); found {
		t.Fatal("nil cache returned a DNS hit")
	}

	cache.SetDisplayName("10.0.0.1", "web.local")
	if _, found := cache.GetDisplayName("10.0.0.1"); found {
		t.Fatal("nil cache returned a display name")
	}

	cache.SetFindings("id:CVE-2024-0001", nil)
	if _, found := cache.GetFindings("id:CVE-2024-0001"); found {
		t.Fatal("nil cache returned findings")
	}

	cache.Set("key", "value")
	if _, found := cache.Get("key"); found {
		t.Fatal("nil cache returned a value")
	}

	cache.Clear()
	cache.Close()
	if stats := cache.Stats(); len(stats) != 0 {
		t.Fatalf("nil cache reported stats: %v", stats)
	}
}

func TestCachingService_RoundTrip(t *testing.T) {
	cache, err := NewCachingService(DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewCachingService: %v", err)
	}
	defer cache.Close()

	ips := []net.IP{net.ParseIP("10.1.2.3"), net.ParseIP("10.1.2.4")}
	cache.SetDNS("db.internal", ips)
	cache.SetDisplayName("10.1.2.3", "db01")
	findings := []VulnerabilityFinding{{ID: "CVE-2024-0001", Severity: SeverityHigh}}
	cache.SetFindings("id:CVE-2024-0001", findings)
	cache.memCache.Wait()

	got, found := cache.GetDNS("db.internal")
	if !found || !reflect.DeepEqual(got, ips) {
		t.Fatalf("dns entry: %v/%v", got, found)
	}
	name, found := cache.GetDisplayName("10.1.2.3")
	if !found || name != "db01" {
		t.Fatalf("display name: %q/%v", name, found)
	}
	cached, found := cache.GetFindings("id:CVE-2024-0001")
	if !found || !reflect.DeepEqual(cached, findings) {
		t.Fatalf("findings: %v/%v", cached, found)
	}

	if _, found := cache.GetDNS("never-cached.internal"); found {
		t.Fatal("hit for a name that was never stored")
	}

	cache.Clear()
	cache.memCache.Wait()
	if _, found := cache.GetDNS("db.internal"); found {
		t.Fatal("entry survived Clear")
	}
}
