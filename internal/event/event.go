// Package event implements the thin typed envelope every Job Office
// component exchanges over the broker: StatusEvent and its CommandEvent
// extension, plus the selector-string construction and matching used to
// carve per-purpose subscriptions out of one broker topic. Grounded in the
// original LSST ctrl_sched event package (StatusEvent/CommandEvent,
// content-based JMS-style selector strings) and, for the wire shape, the
// teacher's event-hooks JobEvent envelope.
package event

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
)

// Status is the well-known STATUS property value used for selector
// matching and dispatch within the job office loop.
type Status string

const (
	StatusDatasetAvailable Status = "dataset:available"
	StatusJobReady         Status = "job:ready"
	StatusJobAssign        Status = "job:assign"
	StatusJobAccepted      Status = "job:accepted"
	StatusJobDone          Status = "job:done"
	StatusStop             Status = "stop"
	StatusFinalDataset     Status = "jobOffice:finalDataset"
)

// StatusEvent is the base envelope: a run-scoped, originator-attributed
// status notification with a property bag. Properties carry scalar values;
// dataset-bearing events carry their Dataset records in Datasets.
type StatusEvent struct {
	RunID        string
	OriginatorID string
	Status       Status
	Properties   map[string]string
	Datasets     []dataset.Dataset
}

// NewStatusEvent creates an event with an initialized property map.
func NewStatusEvent(runID, originatorID string, status Status) StatusEvent {
	return StatusEvent{RunID: runID, OriginatorID: originatorID, Status: status, Properties: map[string]string{}}
}

// WithProperty returns a copy with the named scalar property set.
func (e StatusEvent) WithProperty(key, value string) StatusEvent {
	out := e.clone()
	out.Properties[key] = value
	return out
}

// WithDatasets returns a copy whose Datasets field holds a copy of dss.
func (e StatusEvent) WithDatasets(dss []dataset.Dataset) StatusEvent {
	out := e.clone()
	out.Datasets = append([]dataset.Dataset(nil), dss...)
	return out
}

func (e StatusEvent) clone() StatusEvent {
	props := make(map[string]string, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v
	}
	return StatusEvent{
		RunID:        e.RunID,
		OriginatorID: e.OriginatorID,
		Status:       e.Status,
		Properties:   props,
		Datasets:     append([]dataset.Dataset(nil), e.Datasets...),
	}
}

// Property returns a scalar property, or "" if absent.
func (e StatusEvent) Property(key string) string { return e.Properties[key] }

// CommandEvent is a StatusEvent additionally addressed to a single
// destination originator — used for job:assign and stop.
type CommandEvent struct {
	StatusEvent
	DestinationID string
}

// NewCommandEvent creates a CommandEvent addressed to destinationID.
func NewCommandEvent(runID, originatorID, destinationID string, status Status) CommandEvent {
	return CommandEvent{StatusEvent: NewStatusEvent(runID, originatorID, status), DestinationID: destinationID}
}

// Selector is a parsed content-based filter equivalent to the selector
// string "RUNID='…' and STATUS='…' and DESTINATIONID='…'". Fields left
// empty are unconstrained (match any value).
type Selector struct {
	RunID         string
	Status        Status
	DestinationID string
}

// String renders the selector in its canonical selector-string form, with
// clauses sorted.
func (s Selector) String() string {
	var clauses []string
	if s.RunID != "" {
		clauses = append(clauses, fmt.Sprintf("RUNID='%s'", s.RunID))
	}
	if s.Status != "" {
		clauses = append(clauses, fmt.Sprintf("STATUS='%s'", s.Status))
	}
	if s.DestinationID != "" {
		clauses = append(clauses, fmt.Sprintf("DESTINATIONID='%s'", s.DestinationID))
	}
	sort.Strings(clauses)
	return strings.Join(clauses, " and ")
}

// Matches reports whether e satisfies every constrained clause of s.
func (s Selector) Matches(e StatusEvent) bool {
	if s.RunID != "" && s.RunID != e.RunID {
		return false
	}
	if s.Status != "" && s.Status != e.Status {
		return false
	}
	return true
}

// MatchesCommand reports whether c satisfies s, additionally constraining
// on DestinationID when set.
func (s Selector) MatchesCommand(c CommandEvent) bool {
	if !s.Matches(c.StatusEvent) {
		return false
	}
	if s.DestinationID != "" && s.DestinationID != c.DestinationID {
		return false
	}
	return true
}
