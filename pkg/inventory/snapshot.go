package inventory

import (
	"time"

	"github.com/google/uuid"
)

// BranchState is the outcome of one fan-out branch.
type BranchState string

const (
	// BranchOK means the branch fetched and merged successfully.
	BranchOK BranchState = "ok"

	// BranchFailed means the branch's fetch failed; siblings continued.
	BranchFailed BranchState = "failed"

	// BranchSkipped means cancellation stopped the branch before its
	// fetch was issued.
	BranchSkipped BranchState = "skipped"
)

// BranchResult records the outcome of one branch, keyed by parent
// identifier in the snapshot's BranchStatus map.
type BranchResult struct {
	Branch  string      `json:"branch"`
	Parent  string      `json:"parent,omitempty"`
	State   BranchState `json:"state"`
	Records int         `json:"records"`
	Error   string      `json:"error,omitempty"`
}

// Snapshot is the sole handoff to export/CLI layers: one table per entity
// kind plus per-branch status and record-level diagnostics. It is complete
// but possibly partial; BranchStatus says exactly which branches are
// incomplete and why.
type Snapshot struct {
	RunID      uuid.UUID `json:"run_id"`
	Endpoint   string    `json:"endpoint"`
	APIVersion string    `json:"api_version,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Arrays   *Table[Array]  `json:"arrays"`
	Fabrics  *Table[Fabric] `json:"fabrics"`
	Switches *Table[Switch] `json:"switches"`
	Ports    *Table[Port]   `json:"ports"`
	Zones    *Table[Zone]   `json:"zones"`
	Aliases  *Table[Alias]  `json:"aliases"`
	Hosts    *Table[Host]   `json:"hosts"`

	BranchStatus map[string]BranchResult `json:"branch_status"`
	Diagnostics  []Diagnostic            `json:"diagnostics"`
}

// NewSnapshot creates an empty snapshot for one collection run.
func NewSnapshot(endpoint string) *Snapshot {
	return &Snapshot{
		RunID:        uuid.New(),
		Endpoint:     endpoint,
		StartedAt:    time.Now().UTC(),
		Arrays:       NewTable[Array](),
		Fabrics:      NewTable[Fabric](),
		Switches:     NewTable[Switch](),
		Ports:        NewTable[Port](),
		Zones:        NewTable[Zone](),
		Aliases:      NewTable[Alias](),
		Hosts:        NewTable[Host](),
		BranchStatus: make(map[string]BranchResult),
	}
}

// FailedBranches returns the branches that did not complete.
func (s *Snapshot) FailedBranches() []BranchResult {
	var out []BranchResult
	for _, br := range s.BranchStatus {
		if br.State != BranchOK {
			out = append(out, br)
		}
	}
	return out
}
