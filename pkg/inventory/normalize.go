package inventory

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CapacityBytes normalizes vendor capacity representations to bytes. It
// accepts a plain number (assumed bytes), a quoted number, a string like
// "1.5 TB", or an object {"value": 1.5, "unit": "TB"}. Units are decimal.
type CapacityBytes int64

var capacityUnits = map[string]float64{
	"":      1,
	"B":     1,
	"KB":    1e3,
	"MB":    1e6,
	"GB":    1e9,
	"TB":    1e12,
	"PB":    1e15,
	"BYTES": 1,
}

// UnmarshalJSON implements the unit normalization so downstream consumers
// never see mixed representations.
func (c *CapacityBytes) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))

	// Plain number: bytes.
	if len(trimmed) > 0 && trimmed[0] != '"' && trimmed[0] != '{' {
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return fmt.Errorf("capacity: %w", err)
		}
		*c = CapacityBytes(v)
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := parseCapacityString(s)
		if err != nil {
			return err
		}
		*c = CapacityBytes(v)
		return nil
	}

	var obj struct {
		Value float64 `json:"value"`
		Unit  string  `json:"unit"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("capacity object: %w", err)
	}
	mult, ok := capacityUnits[strings.ToUpper(strings.TrimSpace(obj.Unit))]
	if !ok {
		return fmt.Errorf("capacity: unknown unit %q", obj.Unit)
	}
	*c = CapacityBytes(obj.Value * mult)
	return nil
}

func parseCapacityString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 {
		ch := s[i-1]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			break
		}
		i--
	}
	numPart := strings.TrimSpace(s[:i])
	unitPart := strings.ToUpper(strings.TrimSpace(s[i:]))

	v, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("capacity %q: %w", s, err)
	}
	mult, ok := capacityUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("capacity: unknown unit %q", unitPart)
	}
	return int64(v * mult), nil
}

// Timestamp normalizes vendor timestamps (RFC3339, epoch seconds, epoch
// milliseconds) to UTC.
type Timestamp time.Time

// UnmarshalJSON accepts the timestamp shapes seen across vendors.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				*t = Timestamp(parsed.UTC())
				return nil
			}
		}
		return fmt.Errorf("timestamp: unrecognized format %q", s)
	}

	epoch, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	// Millisecond epochs are 13 digits until the year 33658.
	if epoch > 1e12 {
		*t = Timestamp(time.UnixMilli(epoch).UTC())
	} else {
		*t = Timestamp(time.Unix(epoch, 0).UTC())
	}
	return nil
}

// Time returns the normalized time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

var wwnChars = regexp.MustCompile(`^[0-9a-f]{16}$`)

// NormalizeWWN canonicalizes a WWN to lowercase colon-separated octets.
// Values that are not 16 hex digits are returned lowercased and trimmed.
func NormalizeWWN(s string) string {
	raw := strings.ToLower(strings.TrimSpace(s))
	stripped := strings.NewReplacer(":", "", "-", "", " ", "").Replace(raw)

	if !wwnChars.MatchString(stripped) {
		return raw
	}

	parts := make([]string, 0, 8)
	for i := 0; i < 16; i += 2 {
		parts = append(parts, stripped[i:i+2])
	}
	return strings.Join(parts, ":")
}

// IsWWN reports whether s looks like a WWN. Zone members failing this test
// are treated as alias names.
func IsWWN(s string) bool {
	stripped := strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	return wwnChars.MatchString(stripped)
}

// ParsePortType maps vendor port type strings onto the port type enum.
func ParsePortType(s string) PortType {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "f-port", "fl-port", "fabric":
		return PortTypeFabric
	case "n-port", "nl-port", "host", "node":
		return PortTypeHost
	case "e-port", "ex-port", "isl", "inter-switch", "trunk":
		return PortTypeInterSwitch
	default:
		return PortTypeUnknown
	}
}

// ParseFabricState maps vendor health strings onto the fabric state enum.
func ParseFabricState(s string) FabricState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "healthy", "ok", "online", "up":
		return FabricStateHealthy
	case "degraded", "warning", "marginal":
		return FabricStateDegraded
	case "down", "offline", "failed", "critical":
		return FabricStateDown
	default:
		return FabricStateUnknown
	}
}
