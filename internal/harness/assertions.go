package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/orchd/internal/device"
	"github.com/roach88/orchd/internal/orch/ports"
	"github.com/roach88/orchd/internal/store"
)

// AssertionError is a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	// Diff is a cmp diff of expected and actual, when one helps.
	Diff string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Diff != "" {
		fmt.Fprintf(&buf, "\nDiff (-want +got):\n%s", e.Diff)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(h *Harness, a Assertion) error {
	switch a.Type {
	case AssertPending:
		return assertPending(h, a)
	case AssertPort:
		return assertPort(h, a)
	case AssertCalls:
		return assertCalls(h.dev.CallStrings(), a.Calls)
	case AssertAllPortsReady:
		if got := h.agent.Ports.AllPortsReady(); got != *a.Ready {
			return &AssertionError{
				Type:     AssertAllPortsReady,
				Expected: strconv.FormatBool(*a.Ready),
				Actual:   fmt.Sprintf("%t (pending %v)", got, h.agent.Ports.PendingPorts()),
			}
		}
		return nil
	case AssertState:
		return assertState(h, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertPending(h *Harness, a Assertion) error {
	c, ok := h.agent.Dispatcher.Consumer(a.Table)
	if !ok {
		return fmt.Errorf("no consumer for table %s", a.Table)
	}
	if got := c.Queue().Len(); got != *a.Count {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%d tasks pending in %s", *a.Count, a.Table),
			Actual:   fmt.Sprintf("%d: %v", got, c.Dump()),
		}
	}
	return nil
}

func assertPort(h *Harness, a Assertion) error {
	p, ok := h.agent.Ports.GetPort(a.Port)
	if !ok {
		return &AssertionError{Type: AssertPort, Expected: "port " + a.Port, Actual: "no such port"}
	}
	return compareFields(AssertPort, a.Expect, portFields(p))
}

func assertState(h *Harness, a Assertion) error {
	db := a.DB
	if db == "" {
		db = store.DBState
	}
	fields, _, err := h.store.Table(db, a.Table).Get(context.Background(), a.Key)
	if err != nil {
		return err
	}
	got := make(map[string]string, len(fields))
	for _, fv := range fields {
		got[fv.Field] = fv.Value
	}
	return compareFields(AssertState, a.Expect, got)
}

// compareFields checks want against got. An empty wanted value requires
// the field to be absent.
func compareFields(typ string, want, got map[string]string) error {
	sub := make(map[string]string, len(want))
	for k := range want {
		if v, ok := got[k]; ok {
			sub[k] = v
		}
	}
	expected := make(map[string]string, len(want))
	for k, v := range want {
		if v != "" {
			expected[k] = v
		}
	}
	if diff := cmp.Diff(expected, sub); diff != "" {
		return &AssertionError{
			Type:     typ,
			Expected: formatFields(expected),
			Actual:   formatFields(sub),
			Diff:     diff,
		}
	}
	return nil
}

// assertCalls checks that want appears in trace in order, not necessarily
// adjacent.
func assertCalls(trace, want []string) error {
	i := 0
	for _, call := range trace {
		if i < len(want) && call == want[i] {
			i++
		}
	}
	if i == len(want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCalls,
		Expected: fmt.Sprintf("%q after %d matched calls", want[i], i),
		Actual:   fmt.Sprintf("%d calls in trace", len(trace)),
		Diff:     cmp.Diff(want, trace),
	}
}

// portFields renders the checked fields of a port.
func portFields(p ports.Port) map[string]string {
	admin := "down"
	if p.AdminUp {
		admin = "up"
	}
	lanes := make([]string, len(p.Lanes))
	for i, l := range p.Lanes {
		lanes[i] = strconv.FormatUint(uint64(l), 10)
	}
	out := map[string]string{
		"admin":         admin,
		"oper":          p.OperStatus.String(),
		"mtu":           strconv.FormatUint(uint64(p.MTU), 10),
		"speed":         strconv.FormatUint(uint64(p.Speed), 10),
		"fec":           p.FEC,
		"autoneg":       strconv.FormatBool(p.AutoNeg),
		"link_training": strconv.FormatBool(p.LinkTraining),
		"lanes":         strings.Join(lanes, ","),
		"flap_count":    strconv.FormatUint(p.FlapCount, 10),
		"description":   p.Description,
		"lag":           p.Lag,
		"vlans":         strings.Join(slices.Sorted(maps.Keys(p.VlanMembers)), ","),
	}
	if p.BridgePort != device.NullOID {
		out["bridge_port"] = p.BridgePort.String()
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

func formatFields(m map[string]string) string {
	keys := slices.Sorted(maps.Keys(m))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return "{" + strings.Join(parts, " ") + "}"
}
