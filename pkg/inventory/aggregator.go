package inventory

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for aggregation.
var (
	recordsMergedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saninv_records_merged_total",
		Help: "Records merged into entity tables by kind",
	}, []string{"entity"})

	validationRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saninv_validation_rejects_total",
		Help: "Records rejected during aggregation by kind and reason",
	}, []string{"entity", "reason"})
)

// DiagnosticKind categorizes a validation finding.
type DiagnosticKind string

const (
	// DiagOrphanedParent flags a record whose parent identifier does not
	// resolve to an already-collected parent row.
	DiagOrphanedParent DiagnosticKind = "orphaned_parent"

	// DiagUnresolvedAlias flags a zone member referencing an alias name
	// absent from the alias table.
	DiagUnresolvedAlias DiagnosticKind = "unresolved_alias"

	// DiagBadRecord flags a raw record the adapter could not decode.
	DiagBadRecord DiagnosticKind = "bad_record"
)

// Diagnostic is one record-scoped validation finding. Diagnostics never
// abort a branch.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Entity    string         `json:"entity"`
	Key       string         `json:"key,omitempty"`
	ParentKey string         `json:"parent_key,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s key=%s parent=%s: %s", d.Entity, d.Kind, d.Key, d.ParentKey, d.Detail)
}

// DiagSink collects diagnostics from concurrent branches.
type DiagSink struct {
	mu   sync.Mutex
	list []Diagnostic
}

// Add records one diagnostic.
func (s *DiagSink) Add(d Diagnostic) {
	validationRejectsTotal.WithLabelValues(d.Entity, string(d.Kind)).Inc()
	s.mu.Lock()
	s.list = append(s.list, d)
	s.mu.Unlock()
}

// List returns the collected diagnostics.
func (s *DiagSink) List() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Diagnostic, len(s.list))
	copy(out, s.list)
	return out
}

// Merge folds records into a table, deduplicating by declared unique key
// (last write wins within a run) and rejecting records whose parent
// reference does not resolve against parents. Rejected records are recorded
// in diags, not silently dropped and not fatal. A nil parents set skips the
// parent check (root entities).
//
// Returns the number of rows merged.
func Merge[T Entity](table *Table[T], records []T, parents KeySet, diags *DiagSink, entityName string) int {
	merged := 0
	for _, rec := range records {
		parentKey := rec.ParentKey()
		if parents != nil && parentKey != "" && !parents.Has(parentKey) {
			diags.Add(Diagnostic{
				Kind:      DiagOrphanedParent,
				Entity:    entityName,
				Key:       rec.Key(),
				ParentKey: parentKey,
				Detail:    "parent identifier does not resolve to a collected row",
			})
			continue
		}

		table.Put(rec)
		merged++
	}

	recordsMergedTotal.WithLabelValues(entityName).Add(float64(merged))
	return merged
}
