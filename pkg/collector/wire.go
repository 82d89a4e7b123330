package collector

import (
	"sort"
	"strconv"

	"github.com/ahbmx/saninv/pkg/inventory"
)

// Wire records cover the field spellings seen across management servers.
// Dynamic vendor JSON stops here; only typed inventory entities travel past
// the adapters.

type fabricRecord struct {
	ID        string `json:"id"`
	FabricID  string `json:"fabric_id"`
	Name      string `json:"name"`
	Principal string `json:"principal_switch_wwn"`
	State     string `json:"state"`
}

func (r fabricRecord) toFabric(arrayID string) inventory.Fabric {
	id := r.ID
	if id == "" {
		id = r.FabricID
	}
	return inventory.Fabric{
		ID:                 id,
		Name:               r.Name,
		ArrayID:            arrayID,
		PrincipalSwitchWWN: inventory.NormalizeWWN(r.Principal),
		State:              inventory.ParseFabricState(r.State),
	}
}

type switchRecord struct {
	WWN       string `json:"wwn"`
	Name      string `json:"name"`
	Firmware  string `json:"firmware_version"`
	PortCount int    `json:"port_count"`
	VFCapable bool   `json:"vf_capable"`
	VFEnabled bool   `json:"virtual_fabrics_enabled"`
}

func (r switchRecord) toSwitch(fabricKey string) inventory.Switch {
	return inventory.Switch{
		WWN:       inventory.NormalizeWWN(r.WWN),
		FabricKey: fabricKey,
		Name:      r.Name,
		Firmware:  r.Firmware,
		PortCount: r.PortCount,
		VFCapable: r.VFCapable || r.VFEnabled,
	}
}

type vfRecord struct {
	VFID  int    `json:"vf_id"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// toFabric folds a virtual fabric into the fabric table, scoped to its base
// switch. It never merges with a physical fabric entry.
func (r vfRecord) toFabric(base inventory.Switch, arrayID string) inventory.Fabric {
	id := r.ID
	if id == "" {
		id = strconv.Itoa(r.VFID)
	}
	return inventory.Fabric{
		ID:            id,
		Name:          r.Name,
		ArrayID:       arrayID,
		State:         inventory.ParseFabricState(r.State),
		IsVirtual:     true,
		BaseSwitchWWN: base.WWN,
		VFID:          r.VFID,
	}
}

type portRecord struct {
	WWN         string `json:"wwn"`
	Index       int    `json:"index"`
	PortIndex   int    `json:"port_index"`
	Type        string `json:"type"`
	State       string `json:"state"`
	VFID        *int   `json:"vf_id"`
	PeerWWN     string `json:"peer_wwn"`
	AttachedWWN string `json:"attached_wwn"`
}

func (r portRecord) toPort(switchWWN string) inventory.Port {
	index := r.Index
	if index == 0 && r.PortIndex != 0 {
		index = r.PortIndex
	}
	p := inventory.Port{
		WWN:       inventory.NormalizeWWN(r.WWN),
		SwitchWWN: switchWWN,
		Index:     index,
		Type:      inventory.ParsePortType(r.Type),
		State:     r.State,
		VFID:      r.VFID,
	}
	peer := r.PeerWWN
	if peer == "" {
		peer = r.AttachedWWN
	}
	if peer != "" {
		normalized := inventory.NormalizeWWN(peer)
		p.PeerWWN = &normalized
	}
	return p
}

type zoneRecord struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// toZone classifies each member as a raw WWN or an alias name. Alias
// resolution happens in the late resolution pass, not here.
func (r zoneRecord) toZone(fabricKey string) inventory.Zone {
	members := make([]inventory.ZoneMember, 0, len(r.Members))
	for _, m := range r.Members {
		if inventory.IsWWN(m) {
			members = append(members, inventory.ZoneMember{Value: inventory.NormalizeWWN(m)})
			continue
		}
		members = append(members, inventory.ZoneMember{Value: m, IsAlias: true})
	}
	return inventory.Zone{Name: r.Name, FabricKey: fabricKey, Members: members}
}

type aliasRecord struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (r aliasRecord) toAlias(fabricKey string) inventory.Alias {
	wwns := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		wwns = append(wwns, inventory.NormalizeWWN(m))
	}
	return inventory.Alias{Name: r.Name, FabricKey: fabricKey, MemberWWNs: wwns}
}

type hostRecord struct {
	Name          string   `json:"name"`
	OS            string   `json:"os"`
	Initiators    []string `json:"initiators"`
	InitiatorWWNs []string `json:"initiator_wwns"`
}

func (r hostRecord) toHost(arrayID string) inventory.Host {
	raw := r.Initiators
	if len(raw) == 0 {
		raw = r.InitiatorWWNs
	}

	seen := make(map[string]struct{}, len(raw))
	wwns := make([]string, 0, len(raw))
	for _, w := range raw {
		n := inventory.NormalizeWWN(w)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		wwns = append(wwns, n)
	}
	sort.Strings(wwns)

	return inventory.Host{
		Name:          r.Name,
		ArrayID:       arrayID,
		OS:            r.OS,
		InitiatorWWNs: wwns,
	}
}
