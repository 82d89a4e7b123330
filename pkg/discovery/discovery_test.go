package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahbmx/saninv/internal/testutil"
	"github.com/ahbmx/saninv/pkg/client"
	"github.com/ahbmx/saninv/pkg/fetch"
	"github.com/ahbmx/saninv/pkg/session"
)

func newTestClient(t *testing.T, mock *testutil.MockSAN) *client.Client {
	t.Helper()

	sess, err := session.Open(context.Background(), mock.URL(), session.BasicAuth{},
		session.Credentials{Username: "admin", Password: "secret"}, mock.Client())
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	cfg := client.DefaultConfig("saninv-test/0.1.0")
	cfg.RateLimit = 0
	cfg.Retry = client.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	c, err := client.New(sess, nil, cfg)
	require.NoError(t, err)
	c.SetHTTPClient(mock.Client())
	return c
}

func TestDiscoverVersionSelectsHighestCompatible(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetJSON("/api/version", map[string]interface{}{
		"versions": []string{"9.2", "10.0", "10.1", "11.0"},
	})

	c := newTestClient(t, mock)

	v, err := DiscoverVersion(context.Background(), c, DefaultResources(), 10)
	require.NoError(t, err)
	assert.Equal(t, "10.1", v.Tag)
	assert.Equal(t, 10, v.Major)
	assert.Equal(t, 1, v.Minor)
}

func TestDiscoverVersionSingleVersionField(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetJSON("/api/version", map[string]interface{}{"version": "10.2"})

	c := newTestClient(t, mock)

	v, err := DiscoverVersion(context.Background(), c, DefaultResources(), 10)
	require.NoError(t, err)
	assert.Equal(t, "10.2", v.Tag)
}

func TestDiscoverVersionNoCompatible(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetJSON("/api/version", map[string]interface{}{
		"versions": []string{"9.1", "9.2"},
	})

	c := newTestClient(t, mock)

	_, err := DiscoverVersion(context.Background(), c, DefaultResources(), 10)
	require.Error(t, err)

	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "version", de.Op)
}

func TestDiscoverVersionServerError(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetStatus("/api/version", 500)

	c := newTestClient(t, mock)

	_, err := DiscoverVersion(context.Background(), c, DefaultResources(), 10)
	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
}

func TestDiscoverVersionSkipsUnparsableTags(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetJSON("/api/version", map[string]interface{}{
		"versions": []string{"latest", "10.0"},
	})

	c := newTestClient(t, mock)

	v, err := DiscoverVersion(context.Background(), c, DefaultResources(), 10)
	require.NoError(t, err)
	assert.Equal(t, "10.0", v.Tag)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		tag     string
		major   int
		minor   int
		wantErr bool
	}{
		{tag: "10.1", major: 10, minor: 1},
		{tag: "v10.1", major: 10, minor: 1},
		{tag: "10", major: 10, minor: 0},
		{tag: " 9.2 ", major: 9, minor: 2},
		{tag: "10.1.3", major: 10, minor: 1},
		{tag: "latest", wantErr: true},
		{tag: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			v, err := parseVersion(tt.tag)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.major, v.Major)
			assert.Equal(t, tt.minor, v.Minor)
		})
	}
}

func TestDiscoverRoots(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetRecords("/api/10.1/arrays", []interface{}{
		map[string]interface{}{"id": "000197900123", "name": "prod-a", "model": "PowerMax 2500"},
		map[string]interface{}{"symmetrix_id": "000197900456", "name": "prod-b"},
		map[string]interface{}{"name": "anonymous"},
	})

	c := newTestClient(t, mock)
	f := fetch.New(c, fetch.Config{PageSize: 100, MaxIterations: 10})

	arrays, recordErrs, err := DiscoverRoots(context.Background(), f, DefaultResources(), Version{Tag: "10.1", Major: 10, Minor: 1})
	require.NoError(t, err)

	require.Len(t, arrays, 2)
	assert.Equal(t, "000197900123", arrays[0].ID)
	assert.Equal(t, "PowerMax 2500", arrays[0].Model)
	assert.Equal(t, "000197900456", arrays[1].ID)
	assert.False(t, arrays[0].CollectedAt.IsZero())

	require.Len(t, recordErrs, 1)
	assert.Contains(t, recordErrs[0].Error(), "without identifier")
}

func TestDiscoverRootsFetchFailure(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()
	mock.SetStatus("/api/10.1/arrays", 404)

	c := newTestClient(t, mock)
	f := fetch.New(c, fetch.Config{PageSize: 100, MaxIterations: 10})

	_, _, err := DiscoverRoots(context.Background(), f, DefaultResources(), Version{Tag: "10.1", Major: 10, Minor: 1})

	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "roots", de.Op)

	var fe *fetch.FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestResourcePaths(t *testing.T) {
	res := DefaultResources()
	v := Version{Tag: "10.1"}

	assert.Equal(t, "/api/10.1/arrays", res.ArraysPath(v))
	assert.Equal(t, "/api/10.1/arrays/000197900123/fabrics", res.FabricsPath(v, "000197900123"))
	assert.Equal(t, "/api/10.1/fabrics/fab-1/switches", res.SwitchesPath(v, "fab-1"))
	assert.Equal(t, "/api/10.1/switches/10:00:00:05:1e:35:bb:01/ports",
		res.PortsPath(v, "10:00:00:05:1e:35:bb:01"))
}
