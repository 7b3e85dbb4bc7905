// Package scheduler implements the data-triggered job-formation algorithm:
// turning streams of heterogeneous dataset announcements into concrete,
// fully-specified JobItems on the Blackboard, and promoting jobs whose
// prerequisites are all satisfied. Grounded in the original LSST ctrl_sched
// scheduler package (DataTriggeredScheduler, ButlerTriggeredScheduler,
// the job identity/name-template rules of sched/DataTriggeredScheduler.py).
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
	"github.com/lsst-dm/ctrl-joboffice/internal/trigger"
	"github.com/lsst-dm/ctrl-joboffice/internal/triggerhandler"
)

// IdentityConfig controls how a job's synthetic naming Dataset is derived
// from its input/output dataset lists.
type IdentityConfig struct {
	// TemplateType, if set, selects which output (else input) dataset to
	// use as the identity template by matching its Type.
	TemplateType string
	// Type overrides the identity Dataset's Type when set.
	Type string
	// ID restricts which of the template's identifiers are copied onto the
	// identity Dataset. Empty means copy none (identity carries Type only).
	ID []string
}

// NameConfig controls how a job's human-readable name is derived from its
// identity Dataset.
type NameConfig struct {
	// Default is the prefix used when Template is empty or fails to
	// substitute (a referenced id is missing from the identity Dataset).
	Default string
	// Template may reference "{type}" and "{<idname>}" placeholders.
	Template string
	// InitCounter seeds the fallback name counter.
	InitCounter int
}

// DataTriggeredScheduler converts dataset announcements into JobItems: the
// first trigger recognizing an announced dataset either feeds an existing
// JobItem's TriggerHandler or, if none is interested yet, forms a brand
// new one whose inputs/outputs are computed from the configured IO-mode
// triggers.
type DataTriggeredScheduler struct {
	Triggers       []*trigger.Trigger
	InputTriggers  []*trigger.Trigger
	OutputTriggers []*trigger.Trigger
	Identity       IdentityConfig
	Name           NameConfig
	RetriesMax     int

	mu      sync.Mutex
	counter int
}

// New creates a DataTriggeredScheduler. retriesMax is the retry budget
// assigned to every newly formed job (0 means no retry).
func New(triggers, inputTriggers, outputTriggers []*trigger.Trigger, identity IdentityConfig, name NameConfig, retriesMax int) *DataTriggeredScheduler {
	return &DataTriggeredScheduler{
		Triggers:       triggers,
		InputTriggers:  inputTriggers,
		OutputTriggers: outputTriggers,
		Identity:       identity,
		Name:           name,
		RetriesMax:     retriesMax,
		counter:        name.InitCounter,
	}
}

// ProcessDataset records the announcement, feeds every outstanding
// JobItem's TriggerHandler, and forms a new JobItem if none was already
// interested. Returns false (without touching the Blackboard) if no
// configured trigger recognizes ds's type/ids.
func (s *DataTriggeredScheduler) ProcessDataset(bb *blackboard.Blackboard, ds dataset.Dataset, success *bool) (bool, error) {
	defer func(start time.Time) { obs.ProcessDatasetDuration.Observe(time.Since(start).Seconds()) }(time.Now())

	matched, ok := s.firstMatch(ds)
	if !ok {
		return false, nil
	}

	ok2 := ds.Valid
	if success != nil {
		ok2 = *success
	}

	err := bb.Transaction(func() error {
		alreadyAnnounced := false
		for _, it := range bb.DataAvailable.Iterate() {
			if it.Dataset().Equal(ds) {
				alreadyAnnounced = true
				break
			}
		}
		bb.DataAvailable.Append(blackboard.NewDataProductItem(ds, ok2))

		needed := false
		for _, it := range bb.JobsPossible.Iterate() {
			th := it.TriggerHandler()
			if th.AddDataset(ds) {
				needed = true
				updated := it.WithTriggerHandler(th)
				idx := bb.JobsPossible.IndexOf(it.Filename)
				if idx >= 0 {
					bb.JobsPossible.PopAt(idx)
					bb.JobsPossible.InsertAt(updated, idx)
				}
			}
		}
		// A dataset already recorded in dataAvailable was already offered
		// to jobsPossible once; re-announcing it must not mint a second
		// JobItem for the same trigger even though its TriggerHandler no
		// longer reports the dataset as newly consumed.
		if needed || alreadyAnnounced {
			return nil
		}

		job, err := s.formJob(matched)
		if err != nil {
			return err
		}
		bb.JobsPossible.Append(job)
		return nil
	})
	return true, err
}

func (s *DataTriggeredScheduler) firstMatch(ds dataset.Dataset) (dataset.Dataset, bool) {
	for _, t := range s.Triggers {
		if m, ok := t.Recognize(ds); ok {
			return m, true
		}
	}
	return dataset.Dataset{}, false
}

func (s *DataTriggeredScheduler) formJob(template dataset.Dataset) (blackboard.Item, error) {
	var inputs, outputs []dataset.Dataset
	for _, t := range s.InputTriggers {
		ds, err := t.ListDatasets(template, true)
		if err != nil {
			return blackboard.Item{}, fmt.Errorf("expand inputs: %w", err)
		}
		inputs = append(inputs, ds...)
	}
	for _, t := range s.OutputTriggers {
		ds, err := t.ListDatasets(template, true)
		if err != nil {
			return blackboard.Item{}, fmt.Errorf("expand outputs: %w", err)
		}
		outputs = append(outputs, ds...)
	}

	needed, err := s.matchedTrigger(template)
	if err != nil {
		return blackboard.Item{}, err
	}
	th := triggerhandler.New(needed)
	th.AddDataset(template)

	identity := computeIdentity(s.Identity, inputs, outputs)
	name := s.nextName(identity)

	return blackboard.NewJobItem(name, identity, inputs, outputs, th, s.RetriesMax), nil
}

// matchedTrigger re-expands the recognizing trigger in trigger mode to
// build the JobItem's TriggerHandler prerequisite set.
func (s *DataTriggeredScheduler) matchedTrigger(template dataset.Dataset) ([]dataset.Dataset, error) {
	for _, t := range s.Triggers {
		if _, ok := t.Recognize(template); ok {
			return t.ListDatasets(template, false)
		}
	}
	return nil, fmt.Errorf("no trigger recognizes %s", template.ToString(false))
}

// computeIdentity derives a job's synthetic identity Dataset from its
// resolved inputs/outputs per the configured IdentityConfig.
func computeIdentity(cfg IdentityConfig, inputs, outputs []dataset.Dataset) dataset.Dataset {
	var template dataset.Dataset
	found := false
	if cfg.TemplateType != "" {
		for _, ds := range outputs {
			if ds.Type == cfg.TemplateType {
				template, found = ds, true
				break
			}
		}
		if !found {
			for _, ds := range inputs {
				if ds.Type == cfg.TemplateType {
					template, found = ds, true
					break
				}
			}
		}
	}
	if !found {
		if len(outputs) > 0 {
			template, found = outputs[0], true
		} else if len(inputs) > 0 {
			template, found = inputs[0], true
		}
	}
	if !found {
		return dataset.New("unknown")
	}

	idType := template.Type
	if cfg.Type != "" {
		idType = cfg.Type
	}
	identity := dataset.New(idType)
	for _, name := range cfg.ID {
		if v, ok := template.Ids[name]; ok {
			identity = identity.WithID(name, v)
		}
	}
	return identity
}

// nextName substitutes the configured name template against identity,
// falling back to "<default>-<counter>" when the template is empty or
// references a missing identifier.
func (s *DataTriggeredScheduler) nextName(identity dataset.Dataset) string {
	if name, ok := substituteName(s.Name.Template, identity); ok {
		return name
	}
	s.mu.Lock()
	s.counter++
	n := s.counter
	s.mu.Unlock()
	return fmt.Sprintf("%s-%d", s.Name.Default, n)
}

func substituteName(tmpl string, identity dataset.Dataset) (string, bool) {
	if tmpl == "" {
		return "", false
	}
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '{' {
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return "", false
			}
			key := tmpl[i+1 : i+end]
			if key == "type" {
				b.WriteString(identity.Type)
			} else if v, ok := identity.Ids[key]; ok {
				b.WriteString(formatID(v))
			} else {
				return "", false
			}
			i += end + 1
			continue
		}
		b.WriteByte(tmpl[i])
		i++
	}
	return b.String(), true
}

func formatID(v interface{}) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// MakeJobsAvailable moves every ready JobItem from jobsPossible to
// jobsAvailable, preserving relative order, within one transaction.
func (s *DataTriggeredScheduler) MakeJobsAvailable(bb *blackboard.Blackboard) error {
	return bb.Transaction(func() error {
		for {
			moved := false
			for _, it := range bb.JobsPossible.Iterate() {
				if !it.IsReady() {
					continue
				}
				idx := bb.JobsPossible.IndexOf(it.Filename)
				if idx < 0 {
					continue
				}
				popped, err := bb.JobsPossible.PopAt(idx)
				if err != nil {
					return err
				}
				bb.JobsAvailable.Append(popped)
				moved = true
				break
			}
			if !moved {
				return nil
			}
		}
	})
}
