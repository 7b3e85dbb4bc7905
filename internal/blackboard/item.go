package blackboard

import (
	"strconv"
	"strings"

	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/triggerhandler"
)

// Kind distinguishes the three BlackboardItem variants. Grounded in the
// original LSST ctrl_sched blackboard/item.py PolicyBlackboardItem subclass
// hierarchy (DataProductItem / JobItem / PipelineItem), reworked here as one
// property-bag value type plus typed accessor methods instead of a class
// hierarchy, since Go has no subclassing to model the "same storage,
// different accessors" relationship.
type Kind string

const (
	KindDataProduct Kind = "data"
	KindJob         Kind = "job"
	KindPipeline    Kind = "pipeline"
)

// Property name constants, mirroring blackboard/item.py's Props class.
const (
	propDataset      = "dataset"
	propSuccess      = "success"
	propName         = "name"
	propIdentity     = "identity"
	propInputs       = "inputs"
	propOutputs      = "outputs"
	propMissing      = "missing"
	propPipelineID   = "pipelineId"
	propRetries      = "retries"
	propPipelineName = "pipelineName"
	propRunID        = "runId"
	propOriginatorID = "originatorId"
	propReceivedAt   = "receivedAt"
)

const listSep = "\x1e"

// Item is a polymorphic Blackboard entry: a kind tag plus a flat property
// map. It is a value type; mutator methods return a modified copy, the
// same convention dataset.Dataset uses, so that queues can hold items by
// value and transactions can snapshot them cheaply with a shallow map copy
// on write.
type Item struct {
	// Filename is the on-disk basename (without directory), assigned when
	// the item is first appended to a persisted queue. Empty for an item
	// that has never been written to disk.
	Filename string
	Kind     Kind
	Props    dataset.Record
}

func newItem(kind Kind) Item {
	return Item{Kind: kind, Props: dataset.Record{}}
}

func (it Item) clone() Item {
	props := make(dataset.Record, len(it.Props))
	for k, v := range it.Props {
		props[k] = v
	}
	return Item{Filename: it.Filename, Kind: it.Kind, Props: props}
}

func (it Item) with(key, val string) Item {
	out := it.clone()
	out.Props[key] = val
	return out
}

// Encode renders the item (without its Filename, which is carried by the
// queue's directory entry, not the payload) to the on-disk/wire record
// form.
func (it Item) Encode() string {
	rec := make(dataset.Record, len(it.Props)+1)
	for k, v := range it.Props {
		rec[k] = v
	}
	rec["kind"] = string(it.Kind)
	return rec.Encode()
}

// DecodeItem parses the record form produced by Item.Encode, attaching the
// given filename.
func DecodeItem(filename, encoded string) Item {
	rec := dataset.DecodeRecord(encoded)
	kind := Kind(rec["kind"])
	delete(rec, "kind")
	return Item{Filename: filename, Kind: kind, Props: rec}
}

func encodeDatasets(dss []dataset.Dataset) string {
	parts := make([]string, len(dss))
	for i, ds := range dss {
		parts[i] = ds.Encode()
	}
	return strings.Join(parts, listSep)
}

func decodeDatasets(s string) []dataset.Dataset {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, listSep)
	out := make([]dataset.Dataset, len(parts))
	for i, p := range parts {
		out[i] = dataset.Decode(p)
	}
	return out
}

// NewDataProductItem wraps a Dataset announcement as an audit-log entry in
// the dataAvailable queue.
func NewDataProductItem(ds dataset.Dataset, success bool) Item {
	it := newItem(KindDataProduct)
	it.Props[propDataset] = ds.Encode()
	it.Props[propSuccess] = strconv.FormatBool(success)
	return it
}

// Dataset returns the wrapped Dataset of a DataProductItem.
func (it Item) Dataset() dataset.Dataset { return dataset.Decode(it.Props[propDataset]) }

// Succeeded reports the success flag common to DataProductItem and JobItem.
func (it Item) Succeeded() bool { return it.Props[propSuccess] == "true" }

// WithSucceeded returns a copy with the success flag set.
func (it Item) WithSucceeded(ok bool) Item { return it.with(propSuccess, strconv.FormatBool(ok)) }

// NewJobItem creates a JobItem in formation: named, with its full
// input/output dataset lists, seeded TriggerHandler, and initial retry
// budget. It starts in jobsPossible until its handler is ready.
func NewJobItem(name string, identity dataset.Dataset, inputs, outputs []dataset.Dataset, th *triggerhandler.TriggerHandler, retriesRemaining int) Item {
	it := newItem(KindJob)
	it.Props[propName] = name
	it.Props[propIdentity] = identity.Encode()
	it.Props[propInputs] = encodeDatasets(inputs)
	it.Props[propOutputs] = encodeDatasets(outputs)
	if th != nil {
		it.Props[propMissing] = strings.Join(th.Missing(), listSep)
	}
	it.Props[propRetries] = strconv.Itoa(retriesRemaining)
	it.Props[propSuccess] = "false"
	return it
}

// Name returns the job's assigned name.
func (it Item) Name() string { return it.Props[propName] }

// Identity returns the synthetic Dataset naming this job.
func (it Item) Identity() dataset.Dataset { return dataset.Decode(it.Props[propIdentity]) }

// Inputs returns the job's full input dataset list.
func (it Item) Inputs() []dataset.Dataset { return decodeDatasets(it.Props[propInputs]) }

// Outputs returns the job's full output dataset list.
func (it Item) Outputs() []dataset.Dataset { return decodeDatasets(it.Props[propOutputs]) }

// TriggerHandler reconstructs the job's outstanding-prerequisite tracker
// from its persisted missing-key list.
func (it Item) TriggerHandler() *triggerhandler.TriggerHandler {
	raw := it.Props[propMissing]
	var keys []string
	if raw != "" {
		keys = strings.Split(raw, listSep)
	}
	return triggerhandler.FromMissing(keys)
}

// WithTriggerHandler persists th's current missing-key set back onto the
// item, returning a copy.
func (it Item) WithTriggerHandler(th *triggerhandler.TriggerHandler) Item {
	return it.with(propMissing, strings.Join(th.Missing(), listSep))
}

// IsReady reports whether the job's TriggerHandler has no outstanding
// prerequisites.
func (it Item) IsReady() bool { return it.TriggerHandler().IsReady() }

// PipelineID returns the originator id of the pipeline this job was
// dispatched to, or "" if not yet dispatched.
func (it Item) PipelineID() string { return it.Props[propPipelineID] }

// WithPipelineID returns a copy with the assigned pipeline originator id
// set.
func (it Item) WithPipelineID(id string) Item { return it.with(propPipelineID, id) }

// RetriesRemaining returns the number of retries still available to this
// job.
func (it Item) RetriesRemaining() int {
	n, _ := strconv.Atoi(it.Props[propRetries])
	return n
}

// WithRetriesRemaining returns a copy with the retry counter set.
func (it Item) WithRetriesRemaining(n int) Item {
	return it.with(propRetries, strconv.Itoa(n))
}

// NewPipelineItem creates a PipelineItem recording a worker pipeline's
// readiness announcement at receivedAt (unix seconds), used by the reaper
// to evict pipelines that announced readiness but were never matched to a
// job within their TTL.
func NewPipelineItem(pipelineName, runID, originatorID string, receivedAt int64) Item {
	it := newItem(KindPipeline)
	it.Props[propPipelineName] = pipelineName
	it.Props[propRunID] = runID
	it.Props[propOriginatorID] = originatorID
	it.Props[propReceivedAt] = strconv.FormatInt(receivedAt, 10)
	return it
}

// ReceivedAt returns the unix-seconds timestamp a PipelineItem's readiness
// announcement was recorded at.
func (it Item) ReceivedAt() int64 {
	n, _ := strconv.ParseInt(it.Props[propReceivedAt], 10, 64)
	return n
}

// PipelineName returns the worker pipeline's name.
func (it Item) PipelineName() string { return it.Props[propPipelineName] }

// RunID returns the run-id under which the pipeline announced readiness.
func (it Item) RunID() string { return it.Props[propRunID] }

// OriginatorID returns the pipeline's originator id, used to match a
// job:assign destination and a later job:done event back to this pipeline.
func (it Item) OriginatorID() string { return it.Props[propOriginatorID] }
