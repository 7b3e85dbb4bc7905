// Package dataset implements the Dataset value type: a dataset-type name
// plus a map of scalar identifiers, with the canonical string encoding used
// throughout the job office for equality, trigger-handler bookkeeping, and
// the on-disk/wire record format.
package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Dataset is an immutable-by-convention description of a unit of data:
// a type name, a set of named scalar identifiers, an optional filesystem
// path, and a validity flag. Two Datasets are equal iff their Type and Ids
// agree; Path and Valid play no part in equality.
type Dataset struct {
	Type  string
	Ids   map[string]interface{}
	Path  string
	Valid bool
}

// New creates a Dataset of the given type with an empty, valid ID set.
func New(dsType string) Dataset {
	return Dataset{Type: dsType, Ids: map[string]interface{}{}, Valid: true}
}

// WithID returns a copy of ds with the named identifier set to v.
func (ds Dataset) WithID(name string, v interface{}) Dataset {
	out := ds.clone()
	out.Ids[name] = v
	return out
}

func (ds Dataset) clone() Dataset {
	ids := make(map[string]interface{}, len(ds.Ids))
	for k, v := range ds.Ids {
		ids[k] = v
	}
	return Dataset{Type: ds.Type, Ids: ids, Path: ds.Path, Valid: ds.Valid}
}

// Equal reports whether ds and other have the same Type and Ids.
func (ds Dataset) Equal(other Dataset) bool {
	if ds.Type != other.Type {
		return false
	}
	if len(ds.Ids) != len(other.Ids) {
		return false
	}
	for k, v := range ds.Ids {
		ov, ok := other.Ids[k]
		if !ok || !scalarEqual(v, ov) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b interface{}) bool {
	return formatScalar(a) == formatScalar(b)
}

// sortedNames returns the ID names in lexicographic order. Serialization and
// equality-of-serialization both depend on this order being deterministic
// and independent of insertion order.
func (ds Dataset) sortedNames() []string {
	names := make([]string, 0, len(ds.Ids))
	for k := range ds.Ids {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ToString renders the canonical string form: "type-name1value1-name2value2…"
// with ID names sorted lexicographically. When usePath is true and Path is
// set, the path is used as a type-position qualifier instead of Type. This
// is the identifier consulted by TriggerHandler (always called with
// usePath=false there) and must be stable across process restarts.
func (ds Dataset) ToString(usePath bool) string {
	var b strings.Builder
	if usePath && ds.Path != "" {
		b.WriteString(ds.Path)
	} else {
		b.WriteString(ds.Type)
	}
	for _, name := range ds.sortedNames() {
		b.WriteByte('-')
		b.WriteString(name)
		b.WriteString(formatScalar(ds.Ids[name]))
	}
	return b.String()
}

func (ds Dataset) String() string { return ds.ToString(true) }

func formatScalar(v interface{}) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Record is the self-describing key-value encoding used both for on-disk
// persistence (blackboard item files) and for the event-broker wire
// encoding. Keys: "type", "path" (omitted if empty), "valid", and
// "ids.<name>" for every identifier.
type Record map[string]string

// ToRecord emits ds as a Record. Numeric identifiers keep their original
// kind tagged so FromRecord can reconstruct int vs float vs string.
func (ds Dataset) ToRecord() Record {
	rec := Record{
		"type":  ds.Type,
		"valid": strconv.FormatBool(ds.Valid),
	}
	if ds.Path != "" {
		rec["path"] = ds.Path
	}
	for name, v := range ds.Ids {
		kind, s := encodeScalar(v)
		rec["ids."+name] = kind + ":" + s
	}
	return rec
}

func encodeScalar(v interface{}) (kind, s string) {
	switch t := v.(type) {
	case int:
		return "i", strconv.Itoa(t)
	case int64:
		return "i", strconv.FormatInt(t, 10)
	case float64:
		return "f", strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return "s", t
	default:
		return "s", fmt.Sprintf("%v", t)
	}
}

func decodeScalar(encoded string) interface{} {
	kind, s, ok := strings.Cut(encoded, ":")
	if !ok {
		return encoded
	}
	switch kind {
	case "i":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int(n)
		}
	case "f":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// FromRecord reconstructs a Dataset from a Record produced by ToRecord.
func FromRecord(rec Record) Dataset {
	ds := New(rec["type"])
	ds.Path = rec["path"]
	ds.Valid = rec["valid"] != "false"
	for k, v := range rec {
		name, ok := strings.CutPrefix(k, "ids.")
		if !ok {
			continue
		}
		ds.Ids[name] = decodeScalar(v)
	}
	return ds
}

// Encode renders a Record as a single-line textual form suitable for an
// event property or a queue item file: "key=value" pairs in sorted key
// order (so "ids.name=kind:value…" entries come before path, type and
// valid), joined by unit separators, so it round-trips through a single
// string field.
func (r Record) Encode() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r[k])
	}
	return strings.Join(parts, "\x1f")
}

// DecodeRecord parses the textual form produced by Record.Encode.
func DecodeRecord(s string) Record {
	rec := Record{}
	if s == "" {
		return rec
	}
	for _, part := range strings.Split(s, "\x1f") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		rec[k] = v
	}
	return rec
}

// Encode renders ds directly to its wire/on-disk string form.
func (ds Dataset) Encode() string { return ds.ToRecord().Encode() }

// Decode parses the wire/on-disk string form produced by Encode.
func Decode(s string) Dataset { return FromRecord(DecodeRecord(s)) }
