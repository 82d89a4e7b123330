// Package collector drives the dependent fan-out traversal over a management
// endpoint and assembles the resulting entity tables into one snapshot.
//
// Traversal order is Root -> Fabric -> Switch -> {Port, Zone, Alias} -> Host,
// followed by a late resolution pass. Each level's queries are parameterized
// by parent identifiers from the prior level's aggregated rows. Sibling
// branches within a level run on a bounded worker pool; a failed branch is
// recorded in the snapshot's branch status and never aborts its siblings.
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ahbmx/saninv/pkg/client"
	"github.com/ahbmx/saninv/pkg/discovery"
	"github.com/ahbmx/saninv/pkg/fetch"
	"github.com/ahbmx/saninv/pkg/inventory"
	"github.com/ahbmx/saninv/pkg/logging"
	"github.com/ahbmx/saninv/pkg/session"
)

// Prometheus metrics for collection runs.
var (
	branchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saninv_branches_total",
		Help: "Fan-out branches executed by kind and outcome",
	}, []string{"branch", "state"})

	collectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "saninv_collect_duration_seconds",
		Help:    "Duration of full collection runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

// Config holds collector settings.
type Config struct {
	// Concurrency bounds the worker pool per traversal level. Managed
	// devices are typically rate- or connection-limited.
	Concurrency int

	// ClientMajor is the API major series this client was built against.
	ClientMajor int
}

// Collector owns one endpoint's traversal. Safe for repeated Collect calls;
// each run produces a wholly new snapshot.
type Collector struct {
	client  *client.Client
	fetcher *fetch.Fetcher
	res     discovery.Resources
	config  Config
	logger  zerolog.Logger
}

// New creates a collector over an API client and its paginated fetcher.
func New(c *client.Client, f *fetch.Fetcher, res discovery.Resources, cfg Config) *Collector {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Collector{
		client:  c,
		fetcher: f,
		res:     res,
		config:  cfg,
		logger:  logging.NewLogger("collector"),
	}
}

// Collect performs one full collection run.
//
// Auth and discovery failures abort the run; past that stage a snapshot is
// always returned. Branch failures are recorded in BranchStatus and traversal
// continues with siblings. When ctx is cancelled mid-run the remaining
// branches are marked skipped and the partial snapshot is returned with a
// nil error.
func (c *Collector) Collect(ctx context.Context) (*inventory.Snapshot, error) {
	start := time.Now()

	v, err := discovery.DiscoverVersion(ctx, c.client, c.res, c.config.ClientMajor)
	if err != nil {
		return nil, err
	}
	c.client.Session().SetVersion(v.Tag)

	snap := inventory.NewSnapshot(c.client.Session().Endpoint())
	snap.APIVersion = v.Tag

	r := &run{c: c, v: v, snap: snap, diags: &inventory.DiagSink{}}

	arrays, recordErrs, err := discovery.DiscoverRoots(ctx, c.fetcher, c.res, v)
	if err != nil {
		return nil, err
	}
	r.addBadRecords("array", recordErrs)
	inventory.Merge(snap.Arrays, arrays, nil, r.diags, "array")

	c.logger.Info().
		Str("run_id", snap.RunID.String()).
		Str("version", v.Tag).
		Int("arrays", snap.Arrays.Len()).
		Msg("Collection run started")

	levels := []func(context.Context) error{
		r.fabricLevel,
		r.switchLevel,
		r.virtualFabricLevel,
		r.portZoneAliasLevel,
		r.hostLevel,
	}
	for _, level := range levels {
		if err := level(ctx); err != nil {
			return nil, err
		}
	}

	inventory.ResolveZoneAliases(snap.Zones, snap.Aliases, r.diags)
	inventory.ResolveHostPorts(snap.Hosts, snap.Ports)

	snap.Diagnostics = r.diags.List()
	snap.FinishedAt = time.Now().UTC()
	collectDuration.Observe(time.Since(start).Seconds())

	c.logger.Info().
		Str("run_id", snap.RunID.String()).
		Int("fabrics", snap.Fabrics.Len()).
		Int("switches", snap.Switches.Len()).
		Int("ports", snap.Ports.Len()).
		Int("zones", snap.Zones.Len()).
		Int("hosts", snap.Hosts.Len()).
		Int("failed_branches", len(snap.FailedBranches())).
		Int("diagnostics", len(snap.Diagnostics)).
		Dur("duration", time.Since(start)).
		Msg("Collection run finished")

	return snap, nil
}

// run is the per-run traversal state. Branch goroutines write only to their
// own fetch results; tables and the diagnostics sink synchronize internally,
// and the branch status map is guarded here.
type run struct {
	c     *Collector
	v     discovery.Version
	snap  *inventory.Snapshot
	diags *inventory.DiagSink

	mu sync.Mutex
}

// branchTask is one worklist entry: a (parent, child-resource) pair.
type branchTask struct {
	branch string
	parent string
	fn     func(context.Context) (int, error)
}

// runLevel consumes a level's worklist on a bounded worker pool. The level
// completes before the next starts, so parent key sets are always taken from
// fully aggregated tables.
//
// An auth failure cancels the level and aborts the run. Cancellation marks
// unstarted branches skipped and returns nil so the partial snapshot
// survives.
func (r *run) runLevel(ctx context.Context, tasks []branchTask) error {
	levelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(r.c.config.Concurrency))
	var wg sync.WaitGroup

	var fatalMu sync.Mutex
	var fatal error

	for _, t := range tasks {
		t := t
		if err := sem.Acquire(levelCtx, 1); err != nil {
			r.record(t, inventory.BranchSkipped, 0, nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			n, err := t.fn(levelCtx)
			switch {
			case err == nil:
				r.record(t, inventory.BranchOK, n, nil)
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
				// Cancellation, not a branch fault. ctx here is the parent
				// context: an auth-triggered level cancel must not reclassify
				// a concurrently failing sibling.
				r.record(t, inventory.BranchSkipped, 0, nil)
			default:
				var authErr *session.AuthError
				if errors.As(err, &authErr) {
					fatalMu.Lock()
					if fatal == nil {
						fatal = err
					}
					fatalMu.Unlock()
					cancel()
				}
				r.record(t, inventory.BranchFailed, 0, err)
				r.c.logger.Warn().
					Err(err).
					Str("branch", t.branch).
					Str("parent", t.parent).
					Msg("Branch failed")
			}
		}()
	}

	wg.Wait()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatal
}

func (r *run) record(t branchTask, state inventory.BranchState, records int, err error) {
	result := inventory.BranchResult{
		Branch:  t.branch,
		Parent:  t.parent,
		State:   state,
		Records: records,
	}
	if err != nil {
		result.Error = err.Error()
	}

	key := t.branch
	if t.parent != "" {
		key += "/" + t.parent
	}

	r.mu.Lock()
	r.snap.BranchStatus[key] = result
	r.mu.Unlock()

	branchesTotal.WithLabelValues(t.branch, string(state)).Inc()
}

func (r *run) addBadRecords(entity string, errs []error) {
	for _, err := range errs {
		r.diags.Add(inventory.Diagnostic{
			Kind:   inventory.DiagBadRecord,
			Entity: entity,
			Detail: err.Error(),
		})
	}
}

// splitFetchErrs separates a branch-fatal fetch or auth failure from
// record-scoped decode errors.
func splitFetchErrs(errs []error) (fatal error, bad []error) {
	for _, err := range errs {
		var fetchErr *fetch.FetchError
		var authErr *session.AuthError
		if errors.As(err, &authErr) || errors.As(err, &fetchErr) {
			if fatal == nil {
				fatal = err
			}
			continue
		}
		bad = append(bad, err)
	}
	return fatal, bad
}

func (r *run) fabricLevel(ctx context.Context) error {
	arrayKeys := r.snap.Arrays.Keys()

	var tasks []branchTask
	for _, arr := range r.snap.Arrays.Rows() {
		arr := arr
		tasks = append(tasks, branchTask{
			branch: "fabrics",
			parent: arr.ID,
			fn: func(ctx context.Context) (int, error) {
				records, errs := fetch.FetchAllInto[fabricRecord](ctx, r.c.fetcher, r.c.res.FabricsPath(r.v, arr.ID), nil)
				fatal, bad := splitFetchErrs(errs)
				if fatal != nil {
					return 0, fatal
				}
				r.addBadRecords("fabric", bad)

				rows := make([]inventory.Fabric, 0, len(records))
				for _, rec := range records {
					rows = append(rows, rec.toFabric(arr.ID))
				}
				return inventory.Merge(r.snap.Fabrics, rows, arrayKeys, r.diags, "fabric"), nil
			},
		})
	}
	return r.runLevel(ctx, tasks)
}

func (r *run) switchLevel(ctx context.Context) error {
	fabricKeys := r.snap.Fabrics.Keys()

	var tasks []branchTask
	for _, fab := range r.snap.Fabrics.Rows() {
		fab := fab
		tasks = append(tasks, branchTask{
			branch: "switches",
			parent: fab.Key(),
			fn: func(ctx context.Context) (int, error) {
				records, errs := fetch.FetchAllInto[switchRecord](ctx, r.c.fetcher, r.c.res.SwitchesPath(r.v, fab.ID), nil)
				fatal, bad := splitFetchErrs(errs)
				if fatal != nil {
					return 0, fatal
				}
				r.addBadRecords("switch", bad)

				rows := make([]inventory.Switch, 0, len(records))
				for _, rec := range records {
					rows = append(rows, rec.toSwitch(fab.Key()))
				}
				return inventory.Merge(r.snap.Switches, rows, fabricKeys, r.diags, "switch"), nil
			},
		})
	}
	return r.runLevel(ctx, tasks)
}

// virtualFabricLevel issues the VF sub-query for each VF-capable switch and
// folds the results into the fabric table as virtual rows. A virtual
// fabric's identity is scoped to (base switch, VF ID); it never merges with
// a physical fabric entry.
func (r *run) virtualFabricLevel(ctx context.Context) error {
	switchKeys := r.snap.Switches.Keys()

	var tasks []branchTask
	for _, sw := range r.snap.Switches.Rows() {
		if !sw.VFCapable {
			continue
		}
		sw := sw
		tasks = append(tasks, branchTask{
			branch: "virtual-fabrics",
			parent: sw.WWN,
			fn: func(ctx context.Context) (int, error) {
				records, errs := fetch.FetchAllInto[vfRecord](ctx, r.c.fetcher, r.c.res.VirtualFabricsPath(r.v, sw.WWN), nil)
				fatal, bad := splitFetchErrs(errs)
				if fatal != nil {
					return 0, fatal
				}
				r.addBadRecords("fabric", bad)

				arrayID := ""
				if base, ok := r.snap.Fabrics.Get(sw.FabricKey); ok {
					arrayID = base.ArrayID
				}

				rows := make([]inventory.Fabric, 0, len(records))
				for _, rec := range records {
					rows = append(rows, rec.toFabric(sw, arrayID))
				}
				return inventory.Merge(r.snap.Fabrics, rows, switchKeys, r.diags, "fabric"), nil
			},
		})
	}
	return r.runLevel(ctx, tasks)
}

// portZoneAliasLevel runs the port branches and the zone/alias branches as
// one worklist: they are siblings with disjoint tables. Zone and alias
// branches cover virtual fabrics as well.
func (r *run) portZoneAliasLevel(ctx context.Context) error {
	switchKeys := r.snap.Switches.Keys()
	fabricKeys := r.snap.Fabrics.Keys()

	var tasks []branchTask
	for _, sw := range r.snap.Switches.Rows() {
		sw := sw
		tasks = append(tasks, branchTask{
			branch: "ports",
			parent: sw.WWN,
			fn: func(ctx context.Context) (int, error) {
				records, errs := fetch.FetchAllInto[portRecord](ctx, r.c.fetcher, r.c.res.PortsPath(r.v, sw.WWN), nil)
				fatal, bad := splitFetchErrs(errs)
				if fatal != nil {
					return 0, fatal
				}
				r.addBadRecords("port", bad)

				rows := make([]inventory.Port, 0, len(records))
				for _, rec := range records {
					rows = append(rows, rec.toPort(sw.WWN))
				}
				return inventory.Merge(r.snap.Ports, rows, switchKeys, r.diags, "port"), nil
			},
		})
	}

	for _, fab := range r.snap.Fabrics.Rows() {
		fab := fab
		key := fab.Key()
		tasks = append(tasks, branchTask{
			branch: "zones",
			parent: key,
			fn: func(ctx context.Context) (int, error) {
				records, errs := fetch.FetchAllInto[zoneRecord](ctx, r.c.fetcher, r.c.res.ZonesPath(r.v, fab.ID), nil)
				fatal, bad := splitFetchErrs(errs)
				if fatal != nil {
					return 0, fatal
				}
				r.addBadRecords("zone", bad)

				rows := make([]inventory.Zone, 0, len(records))
				for _, rec := range records {
					rows = append(rows, rec.toZone(key))
				}
				return inventory.Merge(r.snap.Zones, rows, fabricKeys, r.diags, "zone"), nil
			},
		})
		tasks = append(tasks, branchTask{
			branch: "aliases",
			parent: key,
			fn: func(ctx context.Context) (int, error) {
				records, errs := fetch.FetchAllInto[aliasRecord](ctx, r.c.fetcher, r.c.res.AliasesPath(r.v, fab.ID), nil)
				fatal, bad := splitFetchErrs(errs)
				if fatal != nil {
					return 0, fatal
				}
				r.addBadRecords("alias", bad)

				rows := make([]inventory.Alias, 0, len(records))
				for _, rec := range records {
					rows = append(rows, rec.toAlias(key))
				}
				return inventory.Merge(r.snap.Aliases, rows, fabricKeys, r.diags, "alias"), nil
			},
		})
	}

	return r.runLevel(ctx, tasks)
}

func (r *run) hostLevel(ctx context.Context) error {
	arrayKeys := r.snap.Arrays.Keys()

	var tasks []branchTask
	for _, arr := range r.snap.Arrays.Rows() {
		arr := arr
		tasks = append(tasks, branchTask{
			branch: "hosts",
			parent: arr.ID,
			fn: func(ctx context.Context) (int, error) {
				records, errs := fetch.FetchAllInto[hostRecord](ctx, r.c.fetcher, r.c.res.HostsPath(r.v, arr.ID), nil)
				fatal, bad := splitFetchErrs(errs)
				if fatal != nil {
					return 0, fatal
				}
				r.addBadRecords("host", bad)

				rows := make([]inventory.Host, 0, len(records))
				for _, rec := range records {
					rows = append(rows, rec.toHost(arr.ID))
				}
				return inventory.Merge(r.snap.Hosts, rows, arrayKeys, r.diags, "host"), nil
			},
		})
	}
	return r.runLevel(ctx, tasks)
}
