package ports

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Port fields.
const (
	fieldAlias             = "alias"
	fieldLanes             = "lanes"
	fieldIndex             = "index"
	fieldDescription       = "description"
	fieldSpeed             = "speed"
	fieldMTU               = "mtu"
	fieldAdminStatus       = "admin_status"
	fieldFEC               = "fec"
	fieldAutoNeg           = "autoneg"
	fieldAdvSpeeds         = "adv_speeds"
	fieldInterfaceType     = "interface_type"
	fieldAdvInterfaceTypes = "adv_interface_types"
	fieldLinkTraining      = "link_training"
	fieldCount             = "count"
	fieldTaggingMode       = "tagging_mode"
)

// serdesFields are the per-lane serdes tuning fields. A change to any of
// them rebuilds the port's serdes object.
var serdesFields = []string{
	"preemphasis", "idriver", "ipredriver",
	"pre1", "pre2", "pre3", "main", "post1", "post2", "post3", "attn",
}

// adminDownFields can only change while the link is administratively down.
var adminDownFields = []string{
	fieldSpeed, fieldAutoNeg, fieldAdvSpeeds, fieldInterfaceType,
	fieldAdvInterfaceTypes, fieldFEC,
}

var fecModes = []string{"none", "rs", "fc"}

var taggingModes = []string{"untagged", "tagged", "priority_tagged"}

func isSerdesField(f string) bool { return slices.Contains(serdesFields, f) }

func needsAdminDown(f string) bool {
	return slices.Contains(adminDownFields, f) || isSerdesField(f)
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(n), nil
}

func parseUint32List(s string) ([]uint32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty list")
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := parseUint32(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func formatUint32List(v []uint32) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, ",")
}

// parseLanes parses a lane list and rejects duplicates.
func parseLanes(s string) ([]uint32, error) {
	lanes, err := parseUint32List(s)
	if err != nil {
		return nil, fmt.Errorf("lanes: %w", err)
	}
	sorted := slices.Clone(lanes)
	slices.Sort(sorted)
	if len(slices.Compact(sorted)) != len(lanes) {
		return nil, fmt.Errorf("lanes: duplicate lane in %q", s)
	}
	return lanes, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid on/off value %q", s)
	}
}

func parseAdminStatus(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return true, nil
	case "down":
		return false, nil
	default:
		return false, fmt.Errorf("invalid admin status %q", s)
	}
}

func formatAdminStatus(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// parseAdvSpeeds parses "all" as an empty list.
func parseAdvSpeeds(s string) ([]uint32, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return []uint32{}, nil
	}
	return parseUint32List(s)
}

func formatAdvSpeeds(v []uint32) string {
	if len(v) == 0 {
		return "all"
	}
	return formatUint32List(v)
}

func parseNameList(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty list")
	}
	parts := strings.Split(strings.ToLower(s), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// splitMemberKey splits "Vlan10:Ethernet0" or "PortChannel1:Ethernet0".
func splitMemberKey(key string) (string, string, error) {
	parent, member, ok := strings.Cut(key, ":")
	if !ok || parent == "" || member == "" {
		return "", "", fmt.Errorf("malformed member key %q", key)
	}
	return parent, member, nil
}

// parseVlanID parses "VlanN" with N in 1..4094.
func parseVlanID(alias string) (uint16, error) {
	rest, ok := strings.CutPrefix(alias, "Vlan")
	if !ok {
		return 0, fmt.Errorf("vlan name %q must start with Vlan", alias)
	}
	id, err := strconv.ParseUint(rest, 10, 16)
	if err != nil || id < 1 || id > 4094 {
		return 0, fmt.Errorf("invalid vlan id in %q", alias)
	}
	return uint16(id), nil
}
