// Package joboffice implements the main scheduling loop: event I/O,
// driving the scheduler, dispatching ready jobs to ready worker pipelines,
// and handling completion/retry/stop. Grounded in the original LSST
// ctrl_sched joboffice.JobOffice run loop, restructured as
// one worker goroutine plus one stop-listener goroutine communicating via
// a halt flag, the idiomatic Go equivalent of the original's
// thread-as-object (start/stop/isAlive/join) pattern.
package joboffice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lsst-dm/ctrl-joboffice/internal/blackboard"
	"github.com/lsst-dm/ctrl-joboffice/internal/broker"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/event"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
)

// Scheduler is the interface both DataTriggeredScheduler and
// ButlerTriggeredScheduler satisfy, letting the loop stay agnostic to
// which job-formation algorithm is configured.
type Scheduler interface {
	ProcessDataset(bb *blackboard.Blackboard, ds dataset.Dataset, success *bool) (bool, error)
	MakeJobsAvailable(bb *blackboard.Blackboard) error
}

// Topics names the logical broker topics a JobOffice subscribes to and
// publishes on.
type Topics struct {
	DataReady  string
	Pipeline   string
	Stop       string
	JobOffice  string
}

// Config bundles the per-run tunables relevant to the loop (persistence
// and scheduler wiring live outside this package).
type Config struct {
	Name           string
	RunID          string
	Topics         Topics
	InitialWait    time.Duration
	EmptyWait      time.Duration
	HighWatermark  int
	StopWaitTime   time.Duration
}

// JobOffice owns the Blackboard, its broker subscriptions, and the
// halt/finalDatasetSent latches the loop and stop listener communicate
// through.
type JobOffice struct {
	cfg    Config
	bb     *blackboard.Blackboard
	br     *broker.Broker
	sched  Scheduler
	logger *zap.Logger

	dataSub     *broker.Subscription
	pipelineSub *broker.Subscription
	stopSub     *broker.Subscription
	adminSub    *broker.Subscription

	halt             atomic.Bool
	finalDatasetSent atomic.Bool

	runErr   error
	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New wires a JobOffice's broker subscriptions. Call Run to start the main
// loop and StartStopListener to start the independent stop-listener
// goroutine.
func New(cfg Config, bb *blackboard.Blackboard, br *broker.Broker, sched Scheduler, logger *zap.Logger) (*JobOffice, error) {
	jo := &JobOffice{cfg: cfg, bb: bb, br: br, sched: sched, logger: logger, stopCh: make(chan struct{})}

	var err error
	jo.dataSub, err = br.Subscribe(cfg.Topics.DataReady, event.Selector{RunID: cfg.RunID})
	if err != nil {
		return nil, fmt.Errorf("subscribe dataReady: %w", err)
	}
	jo.pipelineSub, err = br.Subscribe(cfg.Topics.Pipeline, event.Selector{RunID: cfg.RunID})
	if err != nil {
		return nil, fmt.Errorf("subscribe pipelineEvent: %w", err)
	}
	jo.stopSub, err = br.Subscribe(cfg.Topics.Stop, event.Selector{RunID: cfg.RunID})
	if err != nil {
		return nil, fmt.Errorf("subscribe stop: %w", err)
	}
	jo.adminSub, err = br.Subscribe(cfg.Topics.JobOffice, event.Selector{RunID: cfg.RunID})
	if err != nil {
		return nil, fmt.Errorf("subscribe jobOffice: %w", err)
	}
	return jo, nil
}

// StartStopListener runs the independent stop-listener goroutine: it
// blocks on the stop topic with a bounded timeout and sets halt when a
// matching stop event arrives, so a busy main loop never starves the stop
// path.
func (jo *JobOffice) StartStopListener(ctx context.Context) {
	go func() {
		wait := jo.cfg.StopWaitTime
		if wait <= 0 {
			wait = 60 * time.Second
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-jo.stopCh:
				return
			default:
			}
			if _, ok := broker.WaitForOne(jo.stopSub, wait); ok {
				jo.logger.Info("stop event received, halting")
				jo.halt.Store(true)
				return
			}
		}
	}()
}

// Run executes the main loop until halt is set (by the stop listener or by
// observeStatusOfJobs) or ctx is cancelled. Any error raised inside an
// iteration is logged, stored, and causes the loop to exit — the only way
// the process exits other than a clean halt.
func (jo *JobOffice) Run(ctx context.Context) error {
	defer jo.stopOnce.Do(func() { close(jo.stopCh) })

	for !jo.halt.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := jo.iterate(); err != nil {
			jo.mu.Lock()
			jo.runErr = err
			jo.mu.Unlock()
			jo.logger.Error("job office iteration failed, halting", zap.Error(err))
			return err
		}
	}
	return nil
}

// Err returns the error that caused the loop to exit abnormally, if any.
func (jo *JobOffice) Err() error {
	jo.mu.Lock()
	defer jo.mu.Unlock()
	return jo.runErr
}

func (jo *JobOffice) iterate() error {
	jo.timedStage("processJobOfficeEvents", func() error { jo.processJobOfficeEvents(); return nil })

	if err := jo.timedStage("processDoneJobs", jo.processDoneJobs); err != nil {
		return fmt.Errorf("process done jobs: %w", err)
	}
	if err := jo.timedStage("processDataEvents", jo.processDataEvents); err != nil {
		return fmt.Errorf("process data events: %w", err)
	}
	if err := jo.timedStage("makeJobsAvailable", func() error { return jo.sched.MakeJobsAvailable(jo.bb) }); err != nil {
		return fmt.Errorf("make jobs available: %w", err)
	}
	if err := jo.timedStage("allocateJobs", jo.allocateJobs); err != nil {
		return fmt.Errorf("allocate jobs: %w", err)
	}
	jo.timedStage("observeStatusOfJobs", func() error { jo.observeStatusOfJobs(); return nil })
	return nil
}

// timedStage runs fn and records its wall-clock duration against stage,
// so the main loop's per-iteration cost is visible per step.
func (jo *JobOffice) timedStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	obs.EventProcessingDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

// processJobOfficeEvents implements step 1: a non-blocking check of the
// admin channel for a final-dataset notification.
func (jo *JobOffice) processJobOfficeEvents() {
	for _, e := range broker.DrainUpTo(jo.adminSub, jo.cfg.HighWatermark) {
		if e.Status == event.StatusFinalDataset {
			jo.finalDatasetSent.Store(true)
		}
	}
}

// processDoneJobs implements step 2: drain job:done events and apply the
// retry/completion rule.
func (jo *JobOffice) processDoneJobs() error {
	for _, e := range jo.drainPipelineEvents(event.StatusJobDone) {
		success := e.Property("success") == "true"
		if err := jo.applyJobDone(e.OriginatorID, success); err != nil {
			return err
		}
	}
	return nil
}

func (jo *JobOffice) applyJobDone(originatorID string, success bool) error {
	return jo.bb.Transaction(func() error {
		var target blackboard.Item
		found := false
		for _, it := range jo.bb.JobsInProgress.Iterate() {
			if it.PipelineID() == originatorID {
				target, found = it, true
				break
			}
		}
		if !found {
			return nil
		}
		idx := jo.bb.JobsInProgress.IndexOf(target.Filename)
		it, err := jo.bb.JobsInProgress.PopAt(idx)
		if err != nil {
			return err
		}

		if success {
			jo.bb.JobsDone.Append(it.WithSucceeded(true))
			obs.JobsCompleted.Inc()
			return nil
		}

		remaining := it.RetriesRemaining() - 1
		if remaining >= 0 {
			jo.bb.JobsAvailable.Append(it.WithRetriesRemaining(remaining))
			obs.JobsRetried.Inc()
			return nil
		}
		jo.bb.JobsDone.Append(it.WithSucceeded(false))
		obs.JobsFailed.Inc()
		return nil
	})
}

// processDataEvents implements step 3: drain data-ready events up to the
// configured high watermark and hand each dataset to the scheduler.
func (jo *JobOffice) processDataEvents() error {
	events := jo.drainDataEvents()
	for _, e := range events {
		success := e.Property("success") == "true"
		for _, ds := range e.Datasets {
			if _, err := jo.sched.ProcessDataset(jo.bb, ds, &success); err != nil {
				return err
			}
		}
	}
	return nil
}

func (jo *JobOffice) drainDataEvents() []event.StatusEvent {
	first, ok := broker.WaitForOne(jo.dataSub, jo.cfg.InitialWait)
	if !ok {
		return nil
	}
	events := []event.StatusEvent{first}
	events = append(events, broker.DrainUpTo(jo.dataSub, jo.cfg.HighWatermark-1)...)
	return events
}

func (jo *JobOffice) drainPipelineEvents(status event.Status) []event.StatusEvent {
	var out []event.StatusEvent
	for _, e := range broker.DrainUpTo(jo.pipelineSub, jo.cfg.HighWatermark) {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// allocateJobs implements step 5: drain job:ready events into
// pipelinesReady, then pair ready pipelines with available jobs one
// transaction at a time, publishing a job:assign command per pair.
func (jo *JobOffice) allocateJobs() error {
	ready := jo.drainPipelineEvents(event.StatusJobReady)
	if len(ready) > 0 {
		if err := jo.bb.Transaction(func() error {
			for _, e := range ready {
				jo.bb.PipelinesReady.Append(blackboard.NewPipelineItem(e.Property("pipelineName"), jo.cfg.RunID, e.OriginatorID, time.Now().Unix()))
			}
			return nil
		}); err != nil {
			return err
		}
	}

	for !jo.bb.PipelinesReady.IsEmpty() && !jo.bb.JobsAvailable.IsEmpty() {
		var assigned event.CommandEvent
		var have bool
		err := jo.bb.Transaction(func() error {
			pipeline, err := jo.bb.PipelinesReady.Pop()
			if err != nil {
				return err
			}
			job, err := jo.bb.JobsAvailable.Pop()
			if err != nil {
				jo.bb.PipelinesReady.Append(pipeline)
				return err
			}
			job = job.WithPipelineID(pipeline.OriginatorID())
			jo.bb.JobsInProgress.Append(job)

			cmd := event.NewCommandEvent(jo.cfg.RunID, jo.cfg.Name, pipeline.OriginatorID(), event.StatusJobAssign).
				WithProperty("name", job.Name()).
				WithProperty("identity", job.Identity().Encode()).
				WithDatasets(append(append([]dataset.Dataset(nil), job.Inputs()...), job.Outputs()...))
			assigned, have = cmd, true
			return nil
		})
		if err != nil {
			return err
		}
		if have {
			if err := jo.br.PublishCommand(jo.cfg.Topics.Pipeline, assigned); err != nil {
				jo.logger.Warn("publish job:assign failed", zap.Error(err))
			} else {
				obs.JobsDispatched.Inc()
			}
		}
	}
	return nil
}

// observeStatusOfJobs implements step 6: halt once the final dataset has
// been seen and both jobsInProgress and jobsAvailable have drained.
func (jo *JobOffice) observeStatusOfJobs() {
	if jo.finalDatasetSent.Load() && jo.bb.JobsInProgress.IsEmpty() && jo.bb.JobsAvailable.IsEmpty() {
		jo.halt.Store(true)
	}
}
