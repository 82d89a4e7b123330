package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ahbmx/saninv/internal/testutil"
	"github.com/ahbmx/saninv/pkg/client"
	"github.com/ahbmx/saninv/pkg/session"
)

func newTestFetcher(t *testing.T, mock *testutil.MockSAN, cfg Config) *Fetcher {
	t.Helper()

	sess, err := session.Open(context.Background(), mock.URL(), session.BasicAuth{},
		session.Credentials{Username: "admin", Password: "secret"}, mock.Client())
	if err != nil {
		t.Fatalf("Open session: %v", err)
	}
	t.Cleanup(sess.Close)

	clientCfg := client.DefaultConfig("saninv-test/0.1.0")
	clientCfg.RateLimit = 0
	clientCfg.Retry = client.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	c, err := client.New(sess, nil, clientCfg)
	if err != nil {
		t.Fatalf("New client: %v", err)
	}
	c.SetHTTPClient(mock.Client())

	return New(c, cfg)
}

func switchFixtures(n int) []interface{} {
	out := make([]interface{}, n)
	for i := 0; i < n; i++ {
		out[i] = map[string]interface{}{
			"wwn":  fmt.Sprintf("10:00:00:05:1e:35:bb:%02x", i),
			"name": fmt.Sprintf("sw-%d", i),
		}
	}
	return out
}

func recordWWNs(t *testing.T, records []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(records))
	for _, r := range records {
		var v struct {
			WWN string `json:"wwn"`
		}
		if err := json.Unmarshal(r, &v); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		out = append(out, v.WWN)
	}
	return out
}

func TestFetchAllOffsetLimit(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()

	fixtures := switchFixtures(10)
	mock.SetRecords("/api/10.1/switches", fixtures)

	f := newTestFetcher(t, mock, Config{PageSize: 4, MaxIterations: 100})

	records, err := f.FetchAll(context.Background(), "/api/10.1/switches", nil)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	// Exact concatenation: no duplicates, no gaps, original order.
	wwns := recordWWNs(t, records)
	if len(wwns) != 10 {
		t.Fatalf("records = %d, want 10", len(wwns))
	}
	seen := map[string]bool{}
	for i, wwn := range wwns {
		want := fmt.Sprintf("10:00:00:05:1e:35:bb:%02x", i)
		if wwn != want {
			t.Errorf("record %d = %s, want %s", i, wwn, want)
		}
		if seen[wwn] {
			t.Errorf("duplicate record %s", wwn)
		}
		seen[wwn] = true
	}

	// Pages of 4, 4, 2 - termination on the first short page.
	if got := mock.RequestsTo("/api/10.1/switches"); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestFetchAllOffsetLimitExactMultiple(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()

	mock.SetRecords("/api/10.1/switches", switchFixtures(8))

	f := newTestFetcher(t, mock, Config{PageSize: 4, MaxIterations: 100})

	records, err := f.FetchAll(context.Background(), "/api/10.1/switches", nil)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(records) != 8 {
		t.Errorf("records = %d, want 8", len(records))
	}

	// 4 + 4 + explicit empty page.
	if got := mock.RequestsTo("/api/10.1/switches"); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestFetchAllContinuationToken(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()

	fixtures := switchFixtures(6)
	mock.SetTokenPages("/api/10.1/zones", [][]interface{}{
		fixtures[0:3],
		{}, // empty page that still carries a token: loop must continue
		fixtures[3:6],
	})

	f := newTestFetcher(t, mock, Config{PageSize: 100, MaxIterations: 100})

	records, err := f.FetchAll(context.Background(), "/api/10.1/zones", nil)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(records) != 6 {
		t.Errorf("records = %d, want 6", len(records))
	}
	if got := mock.RequestsTo("/api/10.1/zones"); got != 3 {
		t.Errorf("requests = %d, want 3 (token terminates only when absent)", got)
	}
}

func TestFetchAllNextLink(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()

	fixtures := switchFixtures(4)
	mock.SetHandler("/api/10.1/ports", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": fixtures[2:4]})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": fixtures[0:2],
			"links": []map[string]string{
				{"rel": "self", "href": "/api/10.1/ports"},
				{"rel": "next", "href": "/api/10.1/ports?page=2"},
			},
		})
	})

	f := newTestFetcher(t, mock, Config{PageSize: 100, MaxIterations: 100})

	records, err := f.FetchAll(context.Background(), "/api/10.1/ports", nil)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(records) != 4 {
		t.Errorf("records = %d, want 4", len(records))
	}
}

func TestFetchAllIterationCap(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()

	// A server that always hands back a token would loop forever.
	mock.SetHandler("/api/10.1/loop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data":               []interface{}{map[string]string{"wwn": "aa"}},
			"continuation_token": "again",
		})
	})

	f := newTestFetcher(t, mock, Config{PageSize: 10, MaxIterations: 5})

	_, err := f.FetchAll(context.Background(), "/api/10.1/loop", nil)
	if !errors.Is(err, ErrIterationCap) {
		t.Fatalf("err = %v, want ErrIterationCap", err)
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *FetchError", err)
	}
	if fe.Retryable {
		t.Error("iteration cap abort must not be marked retryable")
	}
	if got := mock.RequestsTo("/api/10.1/loop"); got != 5 {
		t.Errorf("requests = %d, want 5 (the cap)", got)
	}
}

func TestFetchAllNotFound(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()

	mock.SetStatus("/api/10.1/missing", http.StatusNotFound)

	f := newTestFetcher(t, mock, DefaultConfig())

	_, err := f.FetchAll(context.Background(), "/api/10.1/missing", nil)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *FetchError", err)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", fe.StatusCode)
	}
	if fe.Retryable {
		t.Error("404 is terminal for the resource")
	}
}

func TestFetchAllIntoSkipsBadRecords(t *testing.T) {
	mock := testutil.NewMockSAN()
	defer mock.Close()

	mock.SetJSON("/api/10.1/switches", []interface{}{
		map[string]interface{}{"wwn": "10:00:00:05:1e:35:bb:00", "port_count": 48},
		map[string]interface{}{"wwn": "10:00:00:05:1e:35:bb:01", "port_count": "not-a-number"},
		map[string]interface{}{"wwn": "10:00:00:05:1e:35:bb:02", "port_count": 24},
	})

	f := newTestFetcher(t, mock, DefaultConfig())

	type sw struct {
		WWN       string `json:"wwn"`
		PortCount int    `json:"port_count"`
	}

	records, recordErrs := FetchAllInto[sw](context.Background(), f, "/api/10.1/switches", nil)
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
	if len(recordErrs) != 1 {
		t.Errorf("record errors = %d, want 1", len(recordErrs))
	}
}

func TestDecodePage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		records   int
		hasCursor bool
		wantToken string
		wantHref  string
	}{
		{
			name:    "bare array",
			body:    `[{"a":1},{"a":2}]`,
			records: 2,
		},
		{
			name:      "data with token",
			body:      `{"data":[{"a":1}],"continuation_token":"t1"}`,
			records:   1,
			hasCursor: true,
			wantToken: "t1",
		},
		{
			name:      "members with next link",
			body:      `{"members":[{"a":1}],"links":[{"rel":"next","href":"/x?page=2"}]}`,
			records:   1,
			hasCursor: true,
			wantHref:  "/x?page=2",
		},
		{
			name:    "envelope without cursor",
			body:    `{"data":[]}`,
			records: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := decodePage([]byte(tt.body))
			if err != nil {
				t.Fatalf("decodePage failed: %v", err)
			}
			if len(p.records) != tt.records {
				t.Errorf("records = %d, want %d", len(p.records), tt.records)
			}
			if p.hasCursor != tt.hasCursor {
				t.Errorf("hasCursor = %v, want %v", p.hasCursor, tt.hasCursor)
			}
			if p.token != tt.wantToken {
				t.Errorf("token = %q, want %q", p.token, tt.wantToken)
			}
			if p.nextHref != tt.wantHref {
				t.Errorf("nextHref = %q, want %q", p.nextHref, tt.wantHref)
			}
		})
	}
}
