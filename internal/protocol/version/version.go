// Package version owns the protocol version table and feature gates.
//
// Ownership boundary:
// - ordered version ids, declared once and never reused
// - named feature thresholds referenced by encode/decode sites
// - per-connection negotiation
package version

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Version is an ordered protocol identifier negotiated per connection.
// Ids use the M_mmm_ppp layout: major, minor feature step, patch.
type Version uint32

// Known versions, strictly increasing.
const (
	V8_0_0                       Version = 8_000_099
	FailureCauseChain            Version = 8_500_010
	FailureMetadata              Version = 8_500_020
	TransportCompression         Version = 8_500_040
	MLInferenceGetMultipleModels Version = 8_500_061
)

const (
	// Minimum is the oldest version this build can talk to.
	Minimum = V8_0_0
	// Current is the version this build speaks natively.
	Current = MLInferenceGetMultipleModels
)

var (
	ErrUnknownVersion = errors.New("version: unknown version")
	ErrIncompatible   = errors.New("version: incompatible version")
)

type entry struct {
	id   Version
	name string
}

var table = []entry{
	{V8_0_0, "8.0.0"},
	{FailureCauseChain, "failure_cause_chain"},
	{FailureMetadata, "failure_metadata"},
	{TransportCompression, "transport_compression"},
	{MLInferenceGetMultipleModels, "ml_inference_get_multiple_models"},
}

var (
	byID   map[Version]string
	byName map[string]Version
)

func init() {
	if err := checkTable(table); err != nil {
		panic(err)
	}
	byID = make(map[Version]string, len(table))
	byName = make(map[string]Version, len(table))
	for _, e := range table {
		byID[e.id] = e.name
		byName[e.name] = e.id
	}
}

func checkTable(entries []entry) error {
	names := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.name) == "" {
			return fmt.Errorf("version: entry %d has empty name", e.id)
		}
		if _, dup := names[e.name]; dup {
			return fmt.Errorf("version: duplicate name %q", e.name)
		}
		names[e.name] = struct{}{}
		if i > 0 && e.id <= entries[i-1].id {
			return fmt.Errorf("version: id %d for %q not after %d", e.id, e.name, entries[i-1].id)
		}
	}
	return nil
}

// OnOrAfter reports whether v is the same as or newer than threshold.
func (v Version) OnOrAfter(threshold Version) bool {
	return v >= threshold
}

// Before reports whether v predates threshold.
func (v Version) Before(threshold Version) bool {
	return v < threshold
}

// Supports reports whether a connection negotiated at v may use f.
func (v Version) Supports(f Feature) bool {
	return v.OnOrAfter(f.Since)
}

// Known reports whether v is a declared version of this build.
func (v Version) Known() bool {
	_, ok := byID[v]
	return ok
}

func (v Version) String() string {
	if name, ok := byID[v]; ok {
		return fmt.Sprintf("%s(%d)", name, uint32(v))
	}
	return strconv.FormatUint(uint64(v), 10)
}

// Parse resolves a version from a registered name or a numeric id.
func Parse(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnknownVersion)
	}
	if v, ok := byName[raw]; ok {
		return v, nil
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(raw, "_", ""), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownVersion, raw)
	}
	return Version(n), nil
}

// Negotiate picks the version both peers can speak.
func Negotiate(local, remote Version) (Version, error) {
	v := local
	if remote < v {
		v = remote
	}
	if v.Before(Minimum) {
		return 0, fmt.Errorf("%w: local=%s remote=%s minimum=%s", ErrIncompatible, local, remote, Minimum)
	}
	return v, nil
}

// Info describes one declared version.
type Info struct {
	ID   Version
	Name string
}

// All returns the version table in ascending order.
func All() []Info {
	out := make([]Info, 0, len(table))
	for _, e := range table {
		out = append(out, Info{ID: e.id, Name: e.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
