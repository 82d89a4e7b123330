package integration

import (
	"context"
	"testing"
	"time"

	"github.com/ahbmx/saninv/internal/testutil"
	"github.com/ahbmx/saninv/pkg/cache"
	"github.com/ahbmx/saninv/pkg/client"
	"github.com/ahbmx/saninv/pkg/collector"
	"github.com/ahbmx/saninv/pkg/discovery"
	"github.com/ahbmx/saninv/pkg/fetch"
	"github.com/ahbmx/saninv/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newCachedClient opens a session against the mock manager and builds a
// client backed by the given Redis-based cache manager.
func newCachedClient(t *testing.T, mock *testutil.MockSAN, mgr *cache.Manager, cacheTTL time.Duration) *client.Client {
	t.Helper()

	sess, err := session.Open(context.Background(), mock.URL(), session.BasicAuth{},
		session.Credentials{Username: "admin", Password: "secret"}, mock.Client())
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	t.Cleanup(sess.Close)

	cfg := client.DefaultConfig("saninv-integration-test/0.1.0")
	cfg.RateLimit = 0
	cfg.CacheTTL = cacheTTL

	c, err := client.New(sess, mgr, cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	c.SetHTTPClient(mock.Client())

	return c
}

// setupSmallTopology wires one array with one fabric, one switch and two
// ports. Zone, alias and host endpoints exist but serve no records.
func setupSmallTopology(mock *testutil.MockSAN) {
	const swWWN = "10:00:00:05:1e:00:00:01"

	mock.SetJSON("/api/version", map[string]interface{}{"versions": []string{"9.2", "10.1"}})
	mock.SetRecords("/api/10.1/arrays", []interface{}{
		map[string]interface{}{"id": "ARR-1", "name": "prod-array", "model": "PowerMax"},
	})
	mock.SetRecords("/api/10.1/arrays/ARR-1/fabrics", []interface{}{
		map[string]interface{}{"id": "FAB-1", "name": "fabric-a", "state": "online"},
	})
	mock.SetRecords("/api/10.1/fabrics/FAB-1/switches", []interface{}{
		map[string]interface{}{"wwn": swWWN, "name": "edge-1", "state": "online"},
	})
	mock.SetRecords("/api/10.1/switches/"+swWWN+"/ports", []interface{}{
		map[string]interface{}{"wwn": "20:00:00:05:1e:00:00:01", "index": 0, "type": "F-Port", "state": "online"},
		map[string]interface{}{"wwn": "20:00:00:05:1e:00:00:02", "index": 1, "type": "F-Port", "state": "online"},
	})
	mock.SetRecords("/api/10.1/fabrics/FAB-1/zones", []interface{}{})
	mock.SetRecords("/api/10.1/fabrics/FAB-1/aliases", []interface{}{})
	mock.SetRecords("/api/10.1/arrays/ARR-1/hosts", []interface{}{})
}

// TestCachedVersionDiscovery verifies the version document round-trips
// through a real Redis instance: the first discovery hits the manager, the
// second is served entirely from cache.
func TestCachedVersionDiscovery(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetJSON("/api/version", map[string]interface{}{"versions": []string{"9.2", "10.0", "10.1"}})

	mgr := cache.NewManager(redisClient)
	c := newCachedClient(t, mock, mgr, 5*time.Minute)
	res := discovery.DefaultResources()

	ctx := context.Background()

	v1, err := discovery.DiscoverVersion(ctx, c, res, 10)
	if err != nil {
		t.Fatalf("First discovery failed: %v", err)
	}
	if v1.Tag != "10.1" {
		t.Errorf("Expected version 10.1, got %s", v1.Tag)
	}

	v2, err := discovery.DiscoverVersion(ctx, c, res, 10)
	if err != nil {
		t.Fatalf("Second discovery failed: %v", err)
	}
	if v2.Tag != v1.Tag {
		t.Errorf("Expected cached version %s, got %s", v1.Tag, v2.Tag)
	}

	if n := mock.RequestsTo(res.Version); n != 1 {
		t.Errorf("Expected 1 request to version endpoint, got %d", n)
	}

	entry, err := mgr.Get(ctx, cache.Key{Endpoint: res.Version})
	if err != nil {
		t.Fatalf("Expected cache entry for version document: %v", err)
	}
	if len(entry.Data) == 0 {
		t.Error("Expected non-empty cached version document")
	}
}

// TestCacheExpiration verifies entries expire out of Redis and the next
// request goes back to the manager.
func TestCacheExpiration(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetJSON("/api/version", map[string]interface{}{"versions": []string{"10.1"}})

	mgr := cache.NewManager(redisClient)
	c := newCachedClient(t, mock, mgr, 1*time.Second)
	res := discovery.DefaultResources()

	ctx := context.Background()

	if _, err := discovery.DiscoverVersion(ctx, c, res, 10); err != nil {
		t.Fatalf("First discovery failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, err := discovery.DiscoverVersion(ctx, c, res, 10); err != nil {
		t.Fatalf("Second discovery failed: %v", err)
	}

	if n := mock.RequestsTo(res.Version); n != 2 {
		t.Errorf("Expected 2 requests after expiration, got %d", n)
	}
}

// TestCollectWithRedisCache runs two full collections with the discovery
// cache wired through Redis. The second run reuses the cached version
// document and still produces an identical topology.
func TestCollectWithRedisCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSAN()
	defer mock.Close()
	setupSmallTopology(mock)

	mgr := cache.NewManager(redisClient)
	c := newCachedClient(t, mock, mgr, 5*time.Minute)
	f := fetch.New(c, fetch.DefaultConfig())

	col := collector.New(c, f, discovery.DefaultResources(), collector.Config{
		Concurrency: 2,
		ClientMajor: 10,
	})

	ctx := context.Background()

	first, err := col.Collect(ctx)
	if err != nil {
		t.Fatalf("First collection failed: %v", err)
	}
	second, err := col.Collect(ctx)
	if err != nil {
		t.Fatalf("Second collection failed: %v", err)
	}

	for _, snap := range []struct {
		name   string
		arrays int
		ports  int
	}{
		{"first", first.Arrays.Len(), first.Ports.Len()},
		{"second", second.Arrays.Len(), second.Ports.Len()},
	} {
		if snap.arrays != 1 {
			t.Errorf("Expected 1 array in %s snapshot, got %d", snap.name, snap.arrays)
		}
		if snap.ports != 2 {
			t.Errorf("Expected 2 ports in %s snapshot, got %d", snap.name, snap.ports)
		}
	}

	if first.RunID == second.RunID {
		t.Error("Expected distinct run identifiers for separate collections")
	}
	if len(first.FailedBranches()) != 0 || len(second.FailedBranches()) != 0 {
		t.Errorf("Expected no failed branches, got %v and %v",
			first.FailedBranches(), second.FailedBranches())
	}

	if n := mock.RequestsTo("/api/version"); n != 1 {
		t.Errorf("Expected version endpoint hit once across runs, got %d", n)
	}

	fabricHits := mock.RequestsTo("/api/10.1/arrays/ARR-1/fabrics")
	if fabricHits < 2 {
		t.Errorf("Expected fabric listing fetched fresh on every run, got %d hits", fabricHits)
	}
}
