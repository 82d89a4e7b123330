// Package discovery resolves the active API version and enumerates the root
// entities of a management endpoint.
//
// Exact endpoint paths differ per vendor and are swappable discovery
// targets, not part of the collector's contract; Resources carries them as
// templates so one collector core serves several managers.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ahbmx/saninv/pkg/client"
	"github.com/ahbmx/saninv/pkg/fetch"
	"github.com/ahbmx/saninv/pkg/inventory"
	"github.com/ahbmx/saninv/pkg/logging"
)

// DiscoveryError is fatal to a collection run: without a compatible version
// or root enumeration no snapshot is meaningful.
type DiscoveryError struct {
	Op  string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery %s failed: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Version is one advertised API version.
type Version struct {
	Tag   string
	Major int
	Minor int
}

// parseVersion accepts "10", "10.1" and "v10.1".
func parseVersion(tag string) (Version, error) {
	s := strings.TrimPrefix(strings.TrimSpace(tag), "v")
	parts := strings.SplitN(s, ".", 3)

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("version tag %q: %w", tag, err)
	}

	v := Version{Tag: strings.TrimSpace(tag), Major: major}
	if len(parts) > 1 {
		if minor, err := strconv.Atoi(parts[1]); err == nil {
			v.Minor = minor
		}
	}
	return v, nil
}

// Resources maps logical resources onto endpoint path templates. The
// defaults follow the common /api/{version}/... layout; deployments against
// a different vendor swap the templates, not the collector.
type Resources struct {
	Version        string
	Arrays         string
	Fabrics        string
	VirtualFabrics string
	Switches       string
	Ports          string
	Zones          string
	Aliases        string
	Hosts          string
}

// DefaultResources returns the default path templates.
func DefaultResources() Resources {
	return Resources{
		Version:        "/api/version",
		Arrays:         "/api/%s/arrays",
		Fabrics:        "/api/%s/arrays/%s/fabrics",
		VirtualFabrics: "/api/%s/switches/%s/virtual-fabrics",
		Switches:       "/api/%s/fabrics/%s/switches",
		Ports:          "/api/%s/switches/%s/ports",
		Zones:          "/api/%s/fabrics/%s/zones",
		Aliases:        "/api/%s/fabrics/%s/aliases",
		Hosts:          "/api/%s/arrays/%s/hosts",
	}
}

// ArraysPath returns the root enumeration path for a version.
func (r Resources) ArraysPath(v Version) string { return fmt.Sprintf(r.Arrays, v.Tag) }

// FabricsPath returns the fabric enumeration path for one array.
func (r Resources) FabricsPath(v Version, arrayID string) string {
	return fmt.Sprintf(r.Fabrics, v.Tag, url.PathEscape(arrayID))
}

// VirtualFabricsPath returns the VF enumeration path for one switch.
func (r Resources) VirtualFabricsPath(v Version, switchWWN string) string {
	return fmt.Sprintf(r.VirtualFabrics, v.Tag, url.PathEscape(switchWWN))
}

// SwitchesPath returns the switch enumeration path for one fabric.
func (r Resources) SwitchesPath(v Version, fabricID string) string {
	return fmt.Sprintf(r.Switches, v.Tag, url.PathEscape(fabricID))
}

// PortsPath returns the port enumeration path for one switch.
func (r Resources) PortsPath(v Version, switchWWN string) string {
	return fmt.Sprintf(r.Ports, v.Tag, url.PathEscape(switchWWN))
}

// ZonesPath returns the zone enumeration path for one fabric.
func (r Resources) ZonesPath(v Version, fabricID string) string {
	return fmt.Sprintf(r.Zones, v.Tag, url.PathEscape(fabricID))
}

// AliasesPath returns the alias enumeration path for one fabric.
func (r Resources) AliasesPath(v Version, fabricID string) string {
	return fmt.Sprintf(r.Aliases, v.Tag, url.PathEscape(fabricID))
}

// HostsPath returns the host enumeration path for one array.
func (r Resources) HostsPath(v Version, arrayID string) string {
	return fmt.Sprintf(r.Hosts, v.Tag, url.PathEscape(arrayID))
}

// versionDocument is the version advertisement envelope. Single-version
// servers answer with "version" instead of "versions".
type versionDocument struct {
	Versions []string `json:"versions"`
	Version  string   `json:"version"`
}

// DiscoverVersion selects the highest advertised version in the same major
// series the client was built against. It fails closed when no compatible
// version is advertised. The version document is slow-moving and read
// through the response cache.
func DiscoverVersion(ctx context.Context, c *client.Client, res Resources, clientMajor int) (Version, error) {
	logger := logging.NewLogger("discovery")

	data, err := c.GetCached(ctx, res.Version, nil)
	if err != nil {
		return Version{}, &DiscoveryError{Op: "version", Err: err}
	}

	var doc versionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Version{}, &DiscoveryError{Op: "version", Err: fmt.Errorf("decode version document: %w", err)}
	}

	tags := doc.Versions
	if len(tags) == 0 && doc.Version != "" {
		tags = []string{doc.Version}
	}
	if len(tags) == 0 {
		return Version{}, &DiscoveryError{Op: "version", Err: fmt.Errorf("server advertised no versions")}
	}

	var compatible []Version
	for _, tag := range tags {
		v, err := parseVersion(tag)
		if err != nil {
			logger.Warn().Str("tag", tag).Msg("Skipping unparsable version tag")
			continue
		}
		if v.Major == clientMajor {
			compatible = append(compatible, v)
		}
	}

	if len(compatible) == 0 {
		return Version{}, &DiscoveryError{
			Op:  "version",
			Err: fmt.Errorf("no advertised version in major series %d (got %v)", clientMajor, tags),
		}
	}

	sort.Slice(compatible, func(i, j int) bool { return compatible[i].Minor < compatible[j].Minor })
	selected := compatible[len(compatible)-1]

	logger.Info().
		Str("version", selected.Tag).
		Int("advertised", len(tags)).
		Msg("API version selected")

	return selected, nil
}

// arrayRecord is the wire shape of one root entity. Vendors disagree on the
// identifier field name.
type arrayRecord struct {
	ID          string                  `json:"id"`
	SymmetrixID string                  `json:"symmetrix_id"`
	Name        string                  `json:"name"`
	Model       string                  `json:"model"`
	Firmware    string                  `json:"firmware_version"`
	Capacity    inventory.CapacityBytes `json:"capacity"`
}

// DiscoverRoots enumerates the root entities. Root enumeration may itself be
// paginated, so it delegates to the paginated fetcher. A failed fetch is
// fatal; undecodable individual records are reported, not fatal.
func DiscoverRoots(ctx context.Context, f *fetch.Fetcher, res Resources, v Version) ([]inventory.Array, []error, error) {
	raw, err := f.FetchAll(ctx, res.ArraysPath(v), nil)
	if err != nil {
		return nil, nil, &DiscoveryError{Op: "roots", Err: err}
	}

	now := time.Now().UTC()
	arrays := make([]inventory.Array, 0, len(raw))
	var recordErrs []error
	for i, msg := range raw {
		var rec arrayRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			recordErrs = append(recordErrs, fmt.Errorf("root record %d: %w", i, err))
			continue
		}
		id := rec.ID
		if id == "" {
			id = rec.SymmetrixID
		}
		if id == "" {
			recordErrs = append(recordErrs, fmt.Errorf("root record %d without identifier (name %q)", i, rec.Name))
			continue
		}
		arrays = append(arrays, inventory.Array{
			ID:            id,
			Name:          rec.Name,
			Model:         rec.Model,
			Firmware:      rec.Firmware,
			CapacityBytes: int64(rec.Capacity),
			CollectedAt:   now,
		})
	}

	return arrays, recordErrs, nil
}
