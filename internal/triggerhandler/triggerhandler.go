// Package triggerhandler implements TriggerHandler: a per-job countdown set
// of outstanding prerequisite datasets, keyed by their canonical
// (usePath=false) string form. Grounded in the original LSST ctrl_sched
// joboffice/triggerHandlers.py FilesetTriggerHandler.
package triggerhandler

import "github.com/lsst-dm/ctrl-joboffice/internal/dataset"

// TriggerHandler tracks the set of datasets a job is still waiting on.
type TriggerHandler struct {
	missing map[string]struct{}
}

// New constructs a handler seeded with the given list of needed datasets,
// typically the result of Trigger.ListDatasets.
func New(needed []dataset.Dataset) *TriggerHandler {
	h := &TriggerHandler{missing: make(map[string]struct{}, len(needed))}
	for _, ds := range needed {
		h.missing[ds.ToString(false)] = struct{}{}
	}
	return h
}

// NeededCount returns the number of datasets still outstanding.
func (h *TriggerHandler) NeededCount() int { return len(h.missing) }

// IsNeeded reports whether ds is one of the outstanding prerequisites.
func (h *TriggerHandler) IsNeeded(ds dataset.Dataset) bool {
	_, ok := h.missing[ds.ToString(false)]
	return ok
}

// AddDataset records ds as received. It returns true iff ds was an
// outstanding prerequisite (and is now satisfied); a dataset that was not
// needed, or that has already been recorded, returns false and never
// decreases NeededCount below zero.
func (h *TriggerHandler) AddDataset(ds dataset.Dataset) bool {
	key := ds.ToString(false)
	if _, ok := h.missing[key]; !ok {
		return false
	}
	delete(h.missing, key)
	return true
}

// IsReady reports whether every prerequisite has been received.
func (h *TriggerHandler) IsReady() bool { return len(h.missing) == 0 }

// Missing returns the canonical string keys still outstanding, for
// persistence alongside a JobItem.
func (h *TriggerHandler) Missing() []string {
	out := make([]string, 0, len(h.missing))
	for k := range h.missing {
		out = append(out, k)
	}
	return out
}

// FromMissing reconstructs a handler directly from a persisted list of
// canonical keys, used when a JobItem is reloaded from the Blackboard's
// on-disk state after a restart.
func FromMissing(keys []string) *TriggerHandler {
	h := &TriggerHandler{missing: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		h.missing[k] = struct{}{}
	}
	return h
}
