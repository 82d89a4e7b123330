package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ahbmx/saninv/pkg/client"
	"github.com/ahbmx/saninv/pkg/logging"
	"github.com/ahbmx/saninv/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saninv_pages_fetched_total",
		Help: "Total pages fetched by pagination strategy",
	}, []string{"strategy"})

	iterationCapTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saninv_pagination_cap_hits_total",
		Help: "Times the pagination iteration cap aborted a fetch",
	})
)

// ErrIterationCap is returned when a fetch exceeds the configured pagination
// iteration cap so a server that keeps returning pages cannot loop forever.
var ErrIterationCap = errors.New("pagination iteration cap exceeded")

// FetchError is scoped to one resource; the collector records it per branch
// and continues with siblings.
type FetchError struct {
	Path       string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed (status %d): %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config holds fetcher configuration.
type Config struct {
	// PageSize is the limit parameter for offset/limit pagination.
	PageSize int

	// MaxIterations caps pagination rounds per resource.
	MaxIterations int
}

// DefaultConfig returns safe defaults: generous but finite.
func DefaultConfig() Config {
	return Config{
		PageSize:      500,
		MaxIterations: 1000,
	}
}

// Fetcher retrieves all records of a paginated resource. It is stateless
// across calls; every FetchAll starts from the first page.
type Fetcher struct {
	client *client.Client
	config Config
	logger zerolog.Logger
}

// New creates a fetcher on top of an API client.
func New(c *client.Client, cfg Config) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1000
	}
	return &Fetcher{
		client: c,
		config: cfg,
		logger: logging.NewLogger("fetch"),
	}
}

// link is a HAL-style pagination link.
type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// envelope covers the response shapes seen across vendors. A bare JSON array
// is handled separately.
type envelope struct {
	Data              []json.RawMessage `json:"data"`
	Members           []json.RawMessage `json:"members"`
	ContinuationToken string            `json:"continuation_token"`
	Links             []link            `json:"links"`
}

// page is one decoded pagination round.
type page struct {
	records   []json.RawMessage
	token     string
	nextHref  string
	hasCursor bool
}

// decodePage extracts records and the continuation cursor from a body.
func decodePage(data []byte) (page, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return page{}, fmt.Errorf("decode record array: %w", err)
		}
		return page{records: records}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return page{}, fmt.Errorf("decode page envelope: %w", err)
	}

	p := page{records: env.Data}
	if p.records == nil {
		p.records = env.Members
	}

	if env.ContinuationToken != "" {
		p.token = env.ContinuationToken
		p.hasCursor = true
	}
	for _, l := range env.Links {
		if l.Rel == "next" && l.Href != "" {
			p.nextHref = l.Href
			p.hasCursor = true
			break
		}
	}

	return p, nil
}

// FetchAll returns the concatenation of all pages of resourcePath with no
// duplicates and no gaps. The pagination strategy is selected by the shape
// of the first response.
func (f *Fetcher) FetchAll(ctx context.Context, resourcePath string, queryParams url.Values) ([]json.RawMessage, error) {
	start := time.Now()

	path := resourcePath
	query := cloneValues(queryParams)
	query.Set("limit", strconv.Itoa(f.config.PageSize))
	query.Set("offset", "0")

	var all []json.RawMessage
	offset := 0
	tokenMode := false

	for iteration := 1; ; iteration++ {
		if iteration > f.config.MaxIterations {
			iterationCapTotal.Inc()
			f.logger.Error().
				Str("endpoint", resourcePath).
				Int("iterations", f.config.MaxIterations).
				Int("records", len(all)).
				Msg("Pagination iteration cap exceeded - aborting fetch (anomalous)")
			return nil, &FetchError{
				Path:      resourcePath,
				Retryable: false,
				Err:       ErrIterationCap,
			}
		}

		data, err := f.client.Get(ctx, path, query)
		if err != nil {
			return nil, wrapFetchErr(resourcePath, err)
		}

		p, err := decodePage(data)
		if err != nil {
			return nil, &FetchError{Path: resourcePath, Retryable: false, Err: err}
		}

		all = append(all, p.records...)

		f.logger.Debug().
			Str("endpoint", resourcePath).
			Int("iteration", iteration).
			Int("page_records", len(p.records)).
			Int("total_records", len(all)).
			Bool("has_cursor", p.hasCursor).
			Msg("Fetched page")

		if p.hasCursor {
			// Continuation-token strategy: follow the cursor, even
			// across empty pages.
			tokenMode = true
			pagesTotal.WithLabelValues("token").Inc()

			if p.nextHref != "" {
				path, query, err = splitHref(p.nextHref)
				if err != nil {
					return nil, &FetchError{Path: resourcePath, Retryable: false, Err: err}
				}
			} else {
				path = resourcePath
				query = cloneValues(queryParams)
				query.Set("limit", strconv.Itoa(f.config.PageSize))
				query.Set("continuation_token", p.token)
			}
			continue
		}

		if tokenMode {
			// Token strategy terminates exactly when no cursor is
			// present.
			pagesTotal.WithLabelValues("token").Inc()
			break
		}

		// Offset/limit strategy: a short (or empty) page is the last.
		pagesTotal.WithLabelValues("offset").Inc()
		if len(p.records) < f.config.PageSize {
			break
		}
		offset += f.config.PageSize
		query.Set("offset", strconv.Itoa(offset))
	}

	f.logger.Debug().
		Str("endpoint", resourcePath).
		Int("records", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return all, nil
}

// FetchAllInto fetches all records of a resource and unmarshals each into T.
// Records that fail to decode are skipped and reported individually; they
// never abort the fetch.
func FetchAllInto[T any](ctx context.Context, f *Fetcher, resourcePath string, queryParams url.Values) ([]T, []error) {
	raw, err := f.FetchAll(ctx, resourcePath, queryParams)
	if err != nil {
		return nil, []error{err}
	}

	out := make([]T, 0, len(raw))
	var recordErrs []error
	for i, r := range raw {
		var v T
		if uErr := json.Unmarshal(r, &v); uErr != nil {
			recordErrs = append(recordErrs, fmt.Errorf("record %d of %s: %w", i, resourcePath, uErr))
			continue
		}
		out = append(out, v)
	}
	return out, recordErrs
}

// wrapFetchErr turns a client error into a FetchError, preserving
// classification. Auth errors pass through untouched: they are fatal to the
// run, not to the branch.
func wrapFetchErr(path string, err error) error {
	var ae *session.AuthError
	if errors.As(err, &ae) {
		return err
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return &FetchError{
			Path:       path,
			StatusCode: apiErr.StatusCode,
			Retryable:  apiErr.Retryable(),
			Err:        err,
		}
	}

	// Retry exhaustion and cancellation: only retryable classes reach
	// exhaustion, so a later run may succeed.
	return &FetchError{Path: path, Retryable: true, Err: err}
}

func cloneValues(v url.Values) url.Values {
	out := url.Values{}
	for k, vals := range v {
		for _, val := range vals {
			out.Add(k, val)
		}
	}
	return out
}

// splitHref turns a next link into a path and query the client can request.
func splitHref(href string) (string, url.Values, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", nil, fmt.Errorf("parse next link %q: %w", href, err)
	}
	return u.Path, u.Query(), nil
}
