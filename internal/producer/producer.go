// Copyright 2025 James Ross

// Package producer walks a directory tree of already-materialized files and
// announces each matching one as a dataset-available event, supplementing
// the line-file-driven announceDataset CLI with a walk mode for datasets
// that already exist on disk rather than being named one per line.
package producer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lsst-dm/ctrl-joboffice/internal/broker"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/event"
)

// Config controls a Walker's tree scan and throttling.
type Config struct {
	ScanDir      string
	IncludeGlobs []string
	ExcludeGlobs []string
	DatasetType  string
	Topic        string
	RunID        string
	OriginatorID string
	Valid        bool
	RatePerSec   int
}

// Walker announces one dataset event per file matched under Config.ScanDir.
type Walker struct {
	cfg Config
	br  *broker.Broker
	log *zap.Logger
}

// New creates a Walker.
func New(cfg Config, br *broker.Broker, log *zap.Logger) *Walker {
	return &Walker{cfg: cfg, br: br, log: log}
}

// Run walks cfg.ScanDir, publishing a dataset-available event per matching
// file, throttled to cfg.RatePerSec events/sec when positive.
func (w *Walker) Run(ctx context.Context) error {
	root := w.cfg.ScanDir
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if w.cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.cfg.RatePerSec), 1)
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		abs, err2 := filepath.Abs(path)
		if err2 != nil {
			return nil
		}
		if !strings.HasPrefix(abs, absRoot+string(os.PathSeparator)) && abs != absRoot {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if !w.matches(rel) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		ds := dataset.New(w.cfg.DatasetType).WithID("path", rel)
		e := event.NewStatusEvent(w.cfg.RunID, w.cfg.OriginatorID, event.StatusDatasetAvailable).
			WithProperty("success", boolString(w.cfg.Valid)).
			WithDatasets([]dataset.Dataset{ds})

		if err := w.br.PublishStatus(w.cfg.Topic, e); err != nil {
			return err
		}
		w.log.Info("announced dataset", zap.String("type", w.cfg.DatasetType), zap.String("path", rel))
		return nil
	})
}

func (w *Walker) matches(rel string) bool {
	include := len(w.cfg.IncludeGlobs) == 0
	for _, g := range w.cfg.IncludeGlobs {
		if ok, _ := doublestar.PathMatch(g, rel); ok {
			include = true
			break
		}
	}
	if !include {
		return false
	}
	for _, g := range w.cfg.ExcludeGlobs {
		if ok, _ := doublestar.PathMatch(g, rel); ok {
			return false
		}
	}
	return true
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
