// Package inventory holds the entity tables a collection run produces and
// the aggregation layer that merges raw records into them.
//
// Entities are concrete tagged structures with explicit optional fields.
// Dynamic vendor JSON never travels past the collector's adapters. All
// entities are immutable once a run completes; a new run produces a wholly
// new snapshot.
package inventory

import (
	"fmt"
	"time"
)

// PortType classifies a switch port.
type PortType string

const (
	PortTypeFabric      PortType = "fabric"
	PortTypeHost        PortType = "host"
	PortTypeInterSwitch PortType = "inter-switch"
	PortTypeUnknown     PortType = "unknown"
)

// FabricState is the fabric health enum.
type FabricState string

const (
	FabricStateHealthy  FabricState = "healthy"
	FabricStateDegraded FabricState = "degraded"
	FabricStateDown     FabricState = "down"
	FabricStateUnknown  FabricState = "unknown"
)

// Entity is a row with a declared unique key and a reference to its
// immediate parent. Root entities return an empty parent key.
type Entity interface {
	Key() string
	ParentKey() string
}

// Array is a root entity: a storage array or director-class chassis.
type Array struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Model         string    `json:"model,omitempty"`
	Firmware      string    `json:"firmware,omitempty"`
	CapacityBytes int64     `json:"capacity_bytes,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}

func (a Array) Key() string       { return a.ID }
func (a Array) ParentKey() string { return "" }

// Fabric is a physical fabric under an array, or a virtual fabric carved out
// of one VF-capable switch. A virtual fabric's identity is always scoped to
// (base switch, VF ID); it is never merged with a physical fabric entry and
// never merged across switches even when VF IDs collide.
type Fabric struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	ArrayID            string      `json:"array_id"`
	PrincipalSwitchWWN string      `json:"principal_switch_wwn,omitempty"`
	State              FabricState `json:"state"`
	IsVirtual          bool        `json:"is_virtual"`
	BaseSwitchWWN      string      `json:"base_switch_wwn,omitempty"`
	VFID               int         `json:"vf_id,omitempty"`
}

func (f Fabric) Key() string {
	if f.IsVirtual {
		return fmt.Sprintf("%s/vf/%d", f.BaseSwitchWWN, f.VFID)
	}
	return f.ArrayID + "/" + f.ID
}

func (f Fabric) ParentKey() string {
	if f.IsVirtual {
		return f.BaseSwitchWWN
	}
	return f.ArrayID
}

// Switch is a fibre-channel switch, keyed by WWN.
type Switch struct {
	WWN       string `json:"wwn"`
	FabricKey string `json:"fabric_key"`
	Name      string `json:"name"`
	Firmware  string `json:"firmware,omitempty"`
	PortCount int    `json:"port_count"`
	VFCapable bool   `json:"vf_capable"`
}

func (s Switch) Key() string       { return s.WWN }
func (s Switch) ParentKey() string { return s.FabricKey }

// Port is one switch port. PeerWWN stays nil until a connection is resolved.
type Port struct {
	WWN       string   `json:"wwn"`
	SwitchWWN string   `json:"switch_wwn"`
	Index     int      `json:"index"`
	Type      PortType `json:"type"`
	State     string   `json:"state,omitempty"`
	VFID      *int     `json:"vf_id,omitempty"`
	PeerWWN   *string  `json:"peer_wwn,omitempty"`
}

func (p Port) Key() string       { return p.WWN }
func (p Port) ParentKey() string { return p.SwitchWWN }

// ZoneMember is one entry of a zone's ordered member list: a raw WWN or an
// alias name. Alias resolution is a lookup, never an ownership relation;
// ResolvedWWNs stays empty for unresolved aliases and the raw value is kept.
type ZoneMember struct {
	Value        string   `json:"value"`
	IsAlias      bool     `json:"is_alias"`
	ResolvedWWNs []string `json:"resolved_wwns,omitempty"`
}

// Zone belongs to a fabric (physical or virtual). Keyed by zone name within
// its fabric.
type Zone struct {
	Name      string       `json:"name"`
	FabricKey string       `json:"fabric_key"`
	Members   []ZoneMember `json:"members"`
}

func (z Zone) Key() string       { return z.FabricKey + "/" + z.Name }
func (z Zone) ParentKey() string { return z.FabricKey }

// Alias names a set of member WWNs within a fabric.
type Alias struct {
	Name       string   `json:"name"`
	FabricKey  string   `json:"fabric_key"`
	MemberWWNs []string `json:"member_wwns"`
}

func (a Alias) Key() string       { return a.FabricKey + "/" + a.Name }
func (a Alias) ParentKey() string { return a.FabricKey }

// Host is discovered per array. Its relation to ports is derived during the
// late resolution pass by matching initiator WWNs against port peer WWNs,
// never stored redundantly by the adapters.
//
// A host carries a set of initiator WWNs rather than one identifying WWN, so
// rows are keyed by (array, name) and the initiator set is deduplicated
// within the row.
type Host struct {
	Name          string   `json:"name"`
	ArrayID       string   `json:"array_id"`
	OS            string   `json:"os,omitempty"`
	InitiatorWWNs []string `json:"initiator_wwns"`
	PortWWNs      []string `json:"port_wwns,omitempty"`
}

func (h Host) Key() string       { return h.ArrayID + "/" + h.Name }
func (h Host) ParentKey() string { return h.ArrayID }
