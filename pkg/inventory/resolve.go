package inventory

import "sort"

// ResolveZoneAliases populates ResolvedWWNs for every alias member of every
// zone by looking up the alias table of the zone's fabric. Members whose
// alias name is absent keep their raw value and produce a diagnostic; the
// zone row itself is always retained.
func ResolveZoneAliases(zones *Table[Zone], aliases *Table[Alias], diags *DiagSink) {
	for _, zone := range zones.Rows() {
		changed := false
		for i, member := range zone.Members {
			if !member.IsAlias || len(member.ResolvedWWNs) > 0 {
				continue
			}

			alias, ok := aliases.Get(zone.FabricKey + "/" + member.Value)
			if !ok {
				diags.Add(Diagnostic{
					Kind:      DiagUnresolvedAlias,
					Entity:    "zone",
					Key:       zone.Key(),
					ParentKey: zone.FabricKey,
					Detail:    "member references unknown alias " + member.Value,
				})
				continue
			}

			resolved := make([]string, len(alias.MemberWWNs))
			copy(resolved, alias.MemberWWNs)
			zone.Members[i].ResolvedWWNs = resolved
			changed = true
		}
		if changed {
			zones.Put(zone)
		}
	}
}

// ResolveHostPorts derives the Host<->Port relation: each host's initiator
// WWNs are matched against port peer WWNs across the full result set. Hosts
// with no matching port are retained with an empty relation set.
func ResolveHostPorts(hosts *Table[Host], ports *Table[Port]) {
	// Index ports by peer WWN. Peer stays nil for unconnected ports.
	byPeer := make(map[string][]string)
	for _, port := range ports.Rows() {
		if port.PeerWWN == nil || *port.PeerWWN == "" {
			continue
		}
		peer := NormalizeWWN(*port.PeerWWN)
		byPeer[peer] = append(byPeer[peer], port.WWN)
	}

	for _, host := range hosts.Rows() {
		matched := map[string]struct{}{}
		for _, initiator := range host.InitiatorWWNs {
			for _, portWWN := range byPeer[NormalizeWWN(initiator)] {
				matched[portWWN] = struct{}{}
			}
		}
		if len(matched) == 0 {
			continue
		}

		portWWNs := make([]string, 0, len(matched))
		for wwn := range matched {
			portWWNs = append(portWWNs, wwn)
		}
		sort.Strings(portWWNs)

		host.PortWWNs = portWWNs
		hosts.Put(host)
	}
}
