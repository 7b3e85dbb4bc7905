package scheduler

import (
	"fmt"
	"time"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
	"github.com/lsst-dm/ctrl-joboffice/internal/trigger"
	"github.com/lsst-dm/ctrl-joboffice/internal/triggerhandler"
)

// ButlerTrigger is a trigger variant whose Recognize step yields a
// candidate job identity rather than merely a yes/no match, and whose
// Prerequisites enumerates the full set of datasets that identity's job
// still needs before becoming ready. This differs from
// DataTriggeredScheduler only in this one respect — everything downstream
// (transaction discipline, input/output expansion, name/identity rules) is
// identical.
//
// MapperTrigger — a ButlerTrigger backed by a Butler data-repository
// mapper lookup instead of the configured ID-filter closure — is
// explicitly out of scope: it requires a live repository client this
// module has no analogue for, and bulk dataset payload handling that a
// real mapper integration would need is out of scope too.
type ButlerTrigger interface {
	// CandidateIdentity reports the job identity ds would belong to, if
	// any trigger in this scheduler is interested in ds's type/ids.
	CandidateIdentity(ds dataset.Dataset) (dataset.Dataset, bool)
	// Prerequisites lists every dataset the job named by identity needs
	// before its TriggerHandler is ready.
	Prerequisites(identity dataset.Dataset) ([]dataset.Dataset, error)
}

// configuredButlerTrigger adapts a plain *trigger.Trigger (trigger mode)
// into a ButlerTrigger: the candidate identity is the recognized dataset
// itself, and prerequisites are its own trigger-mode expansion.
type configuredButlerTrigger struct {
	t *trigger.Trigger
}

func (c configuredButlerTrigger) CandidateIdentity(ds dataset.Dataset) (dataset.Dataset, bool) {
	return c.t.Recognize(ds)
}

func (c configuredButlerTrigger) Prerequisites(identity dataset.Dataset) ([]dataset.Dataset, error) {
	return c.t.ListDatasets(identity, false)
}

// NewConfiguredButlerTrigger wraps t for use as a ButlerTrigger.
func NewConfiguredButlerTrigger(t *trigger.Trigger) ButlerTrigger { return configuredButlerTrigger{t: t} }

// ButlerTriggeredScheduler is the identity-first counterpart to
// DataTriggeredScheduler: instead of asking "does any trigger recognize
// this dataset", it asks "which job identity does this dataset belong
// to", then either feeds that identity's existing JobItem or creates it.
type ButlerTriggeredScheduler struct {
	Triggers       []ButlerTrigger
	InputTriggers  []*trigger.Trigger
	OutputTriggers []*trigger.Trigger
	Name           NameConfig
	RetriesMax     int

	inner *DataTriggeredScheduler
}

// NewButlerTriggered creates a ButlerTriggeredScheduler. The identity
// config of the underlying DataTriggeredScheduler is unused here — the
// identity comes directly from the matching ButlerTrigger.
func NewButlerTriggered(triggers []ButlerTrigger, inputTriggers, outputTriggers []*trigger.Trigger, name NameConfig, retriesMax int) *ButlerTriggeredScheduler {
	return &ButlerTriggeredScheduler{
		Triggers:       triggers,
		InputTriggers:  inputTriggers,
		OutputTriggers: outputTriggers,
		Name:           name,
		RetriesMax:     retriesMax,
		inner:          New(nil, inputTriggers, outputTriggers, IdentityConfig{}, name, retriesMax),
	}
}

// ProcessDataset finds the job identity ds belongs to (if any), then either
// feeds the matching existing JobItem in jobsPossible (matched by identity
// equality) or creates a new one seeded with that identity's full
// prerequisite list.
func (s *ButlerTriggeredScheduler) ProcessDataset(bb *blackboard.Blackboard, ds dataset.Dataset, success *bool) (bool, error) {
	defer func(start time.Time) { obs.ProcessDatasetDuration.Observe(time.Since(start).Seconds()) }(time.Now())

	bt, identity, ok := s.firstCandidate(ds)
	if !ok {
		return false, nil
	}

	ok2 := ds.Valid
	if success != nil {
		ok2 = *success
	}

	err := bb.Transaction(func() error {
		bb.DataAvailable.Append(blackboard.NewDataProductItem(ds, ok2))

		for _, it := range bb.JobsPossible.Iterate() {
			if !it.Identity().Equal(identity) {
				continue
			}
			th := it.TriggerHandler()
			if th.AddDataset(ds) {
				updated := it.WithTriggerHandler(th)
				idx := bb.JobsPossible.IndexOf(it.Filename)
				if idx >= 0 {
					bb.JobsPossible.PopAt(idx)
					bb.JobsPossible.InsertAt(updated, idx)
				}
			}
			return nil
		}

		needed, err := bt.Prerequisites(identity)
		if err != nil {
			return fmt.Errorf("expand prerequisites: %w", err)
		}
		th := triggerhandler.New(needed)
		th.AddDataset(ds)

		var inputs, outputs []dataset.Dataset
		for _, t := range s.InputTriggers {
			list, err := t.ListDatasets(identity, true)
			if err != nil {
				return fmt.Errorf("expand inputs: %w", err)
			}
			inputs = append(inputs, list...)
		}
		for _, t := range s.OutputTriggers {
			list, err := t.ListDatasets(identity, true)
			if err != nil {
				return fmt.Errorf("expand outputs: %w", err)
			}
			outputs = append(outputs, list...)
		}

		name := s.inner.nextName(identity)
		bb.JobsPossible.Append(blackboard.NewJobItem(name, identity, inputs, outputs, th, s.RetriesMax))
		return nil
	})
	return true, err
}

func (s *ButlerTriggeredScheduler) firstCandidate(ds dataset.Dataset) (ButlerTrigger, dataset.Dataset, bool) {
	for _, t := range s.Triggers {
		if identity, ok := t.CandidateIdentity(ds); ok {
			return t, identity, true
		}
	}
	return nil, dataset.Dataset{}, false
}

// MakeJobsAvailable delegates to the same move-ready-jobs logic
// DataTriggeredScheduler uses — the algorithm is identical regardless of
// how jobsPossible entries were formed.
func (s *ButlerTriggeredScheduler) MakeJobsAvailable(bb *blackboard.Blackboard) error {
	return s.inner.MakeJobsAvailable(bb)
}
