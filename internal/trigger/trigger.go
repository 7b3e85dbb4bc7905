// Package trigger implements Trigger: a typed set of dataset-type names plus
// a mapping of identifier name to a disjunction of ID Filters, used both to
// recognize a single incoming dataset (trigger mode) and to enumerate the
// full set of datasets implied by a job's identity (IO mode). Grounded in
// the original LSST ctrl_sched joboffice/triggers.py SimpleTrigger; the
// Butler/Mapper-dependent MapperTrigger variant is out of scope (see
// SPEC_FULL.md's supplemented-features note).
package trigger

import (
	"fmt"
	"sort"

	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/idfilter"
)

// NonClosedSetError is returned by ListDatasets when, for some identifier
// named in the trigger, the filter is not closed and the template supplies
// no value for it either.
type NonClosedSetError struct {
	Name string
}

func (e *NonClosedSetError) Error() string {
	return fmt.Sprintf("trigger: identifier %q is neither closed nor supplied by template", e.Name)
}

// Trigger matches datasets against a set of ID filters and expands a
// matched template into the full list of related datasets.
type Trigger struct {
	// DatasetTypes restricts recognition to these dataset types; empty
	// means unrestricted.
	DatasetTypes map[string]struct{}
	// Filters maps identifier name to the OR'd set of filters registered
	// under that name; every name present must have at least one filter
	// recognize the corresponding ds.Ids value (AND across names).
	Filters map[string][]idfilter.IDFilter
	// OutputTypes is the set of dataset types listDatasets should produce
	// in IO mode. In trigger mode output types come from the template
	// instead (see ListDatasets).
	OutputTypes []string
}

// New constructs an empty Trigger ready to have filters registered via
// AddFilter.
func New(datasetTypes []string, outputTypes []string) *Trigger {
	t := &Trigger{Filters: map[string][]idfilter.IDFilter{}, OutputTypes: append([]string(nil), outputTypes...)}
	if len(datasetTypes) > 0 {
		t.DatasetTypes = make(map[string]struct{}, len(datasetTypes))
		for _, dt := range datasetTypes {
			t.DatasetTypes[dt] = struct{}{}
		}
	}
	return t
}

// AddFilter registers f under its own Name(), adding to any existing
// disjunction for that name.
func (t *Trigger) AddFilter(f idfilter.IDFilter) {
	t.Filters[f.Name()] = append(t.Filters[f.Name()], f)
}

// IsClosed reports whether every identifier name has at least one closed
// filter registered — in which case ListDatasets in IO mode is guaranteed
// to succeed regardless of the template.
func (t *Trigger) IsClosed() bool {
	for _, fs := range t.Filters {
		closed := false
		for _, f := range fs {
			if f.HasStaticValueSet() {
				closed = true
				break
			}
		}
		if !closed {
			return false
		}
	}
	return true
}

// Recognize reports whether ds matches this trigger: its type (if
// restricted) must be in DatasetTypes, and for every identifier name this
// trigger constrains, ds must carry that identifier and at least one
// registered filter for that name must recognize its value. On a match it
// returns ds unchanged, as the template for ListDatasets.
func (t *Trigger) Recognize(ds dataset.Dataset) (dataset.Dataset, bool) {
	if t.DatasetTypes != nil {
		if _, ok := t.DatasetTypes[ds.Type]; !ok {
			return dataset.Dataset{}, false
		}
	}
	for name, filters := range t.Filters {
		v, present := ds.Ids[name]
		if !present {
			return dataset.Dataset{}, false
		}
		matched := false
		for _, f := range filters {
			if _, ok := f.Recognize(v); ok {
				matched = true
				break
			}
		}
		if !matched {
			return dataset.Dataset{}, false
		}
	}
	return ds, true
}

// ListDatasets expands template into the full, deterministically ordered
// set of datasets implied by this trigger's filter closure, crossed with
// the trigger's output dataset types (IO mode) or with template.Type alone
// (trigger mode, signaled by ioMode=false). For each identifier name this
// trigger constrains: use the filter's full AllowedValues when closed, else
// take the single value supplied by template. Returns NonClosedSetError if
// any such identifier is neither closed nor present in the template. Every
// other identifier already present on template is carried through to each
// output dataset unchanged, mirroring the original's deep-copy-then-override
// expansion — only the enumerated names are overridden.
func (t *Trigger) ListDatasets(template dataset.Dataset, ioMode bool) ([]dataset.Dataset, error) {
	names := make([]string, 0, len(t.Filters))
	for name := range t.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	valueSets := make([][]interface{}, len(names))
	for i, name := range names {
		vals, err := t.closedValuesFor(name, template)
		if err != nil {
			return nil, err
		}
		valueSets[i] = vals
	}

	outTypes := t.OutputTypes
	if !ioMode {
		outTypes = []string{template.Type}
	}
	sortedTypes := append([]string(nil), outTypes...)
	sort.Strings(sortedTypes)

	var out []dataset.Dataset
	combos := cartesian(valueSets)
	for _, typ := range sortedTypes {
		for _, combo := range combos {
			ds := template
			ds.Type = typ
			for i, name := range names {
				ds = ds.WithID(name, combo[i])
			}
			out = append(out, ds)
		}
	}
	return out, nil
}

func (t *Trigger) closedValuesFor(name string, template dataset.Dataset) ([]interface{}, error) {
	for _, f := range t.Filters[name] {
		if f.HasStaticValueSet() {
			return f.AllowedValues()
		}
	}
	if v, ok := template.Ids[name]; ok {
		return []interface{}{v}, nil
	}
	return nil, &NonClosedSetError{Name: name}
}

// cartesian returns the cartesian product of sets, preserving the order of
// sets and, within each factor, the order given (callers pre-sort values).
func cartesian(sets [][]interface{}) [][]interface{} {
	if len(sets) == 0 {
		return [][]interface{}{{}}
	}
	rest := cartesian(sets[1:])
	var out [][]interface{}
	for _, v := range sets[0] {
		for _, r := range rest {
			combo := append([]interface{}{v}, r...)
			out = append(out, combo)
		}
	}
	return out
}
