// Copyright 2025 James Ross

// Command announcedataset publishes dataset-available events. Each
// trailing positional argument names a dataset-list file (use "-" for
// stdin) processed in order; -dataset may be repeated to send literal
// dataset descriptions before any list file is read. A directory tree of
// already-materialized files can be announced instead with -scan-dir.
//
// Dataset-list file syntax: one dataset description per line, in the
// form "<type> [<idname>=<idvalue> ...]". A line beginning with '>' is a
// directive (topic, pause, interval, iddelim, eqdelim, success, fail,
// intids) that alters how subsequent lines in that same source are
// interpreted; directive names may be abbreviated to an unambiguous
// prefix. '#' starts a comment that runs to the end of the line, and
// blank lines are skipped. Run with -help-syntax for the full grammar.
//
// The original's printf-style "format" directive, for extracting
// identifiers out of arbitrary dataset-path strings via a custom regex
// translator, is not ported: every source here uses the default
// "<type> name=value ..." grammar.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lsst-dm/ctrl-joboffice/internal/broker"
	"github.com/lsst-dm/ctrl-joboffice/internal/dataset"
	"github.com/lsst-dm/ctrl-joboffice/internal/event"
	"github.com/lsst-dm/ctrl-joboffice/internal/obs"
	"github.com/lsst-dm/ctrl-joboffice/internal/producer"
)

// stringList collects repeated occurrences of a flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// control holds the mutable directive state threaded through one source
// (a -dataset literal or one list file), mirroring the original
// announceDataset's per-source ctrl dict. Each source starts from a copy
// of the base control built from command-line flags, so directives in
// one file never leak into the next.
type control struct {
	topic    string
	success  bool
	iddelim  string
	eqdelim  string
	interval time.Duration
	intIDs   []string
}

var directiveNames = []string{"topic", "pause", "success", "fail", "interval", "iddelim", "eqdelim", "intids", "format"}

func main() {
	var brokerURL, topic, runID, originatorID, iddelim, eqdelim, scanDir, include, exclude, scanDatasetType string
	var datasets stringList
	var intervalSec float64
	var tellFail, helpSyntax bool
	var ratePerSec int
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&brokerURL, "broker", "nats://localhost:4222", "Broker URL")
	fs.StringVar(&topic, "topic", "data:ready", "Default topic for events; overridable per-source with the topic directive")
	fs.StringVar(&runID, "run-id", "", "Run id the pipelines were launched under (required)")
	fs.StringVar(&originatorID, "originator-id", "announcedataset", "Originator id")
	fs.StringVar(&iddelim, "iddelim", "", "Default delimiter separating id assignments (empty means whitespace)")
	fs.StringVar(&eqdelim, "eqdelim", "=", "Default delimiter separating an id name from its value")
	fs.Float64Var(&intervalSec, "interval", 0, "Default pause, in seconds, between sent events")
	fs.BoolVar(&tellFail, "fail", false, "Mark announced datasets as failed by default")
	fs.Var(&datasets, "dataset", "A literal dataset description to send before any list files (repeatable)")
	fs.StringVar(&scanDir, "scan-dir", "", "Directory to walk, announcing one dataset per matching file")
	fs.StringVar(&scanDatasetType, "dataset-type", "unknown", "Dataset type assigned to files found in scan-dir mode")
	fs.StringVar(&include, "include", "", "Comma-separated include globs (scan-dir mode)")
	fs.StringVar(&exclude, "exclude", "", "Comma-separated exclude globs (scan-dir mode)")
	fs.IntVar(&ratePerSec, "rate", 0, "Max announcements per second in scan-dir mode, 0 for unlimited")
	fs.BoolVar(&helpSyntax, "help-syntax", false, "Print dataset list file syntax help and exit")
	_ = fs.Parse(os.Args[1:])

	if helpSyntax {
		printSyntaxHelp()
		return
	}

	logger, err := obs.NewLogger("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if runID == "" {
		logger.Fatal("--run-id is required")
	}

	br, err := broker.Connect(brokerURL, logger)
	if err != nil {
		logger.Fatal("connect broker", obs.Err(err))
	}
	defer br.Close()

	ctx := context.Background()

	if scanDir != "" {
		cfg := producer.Config{
			ScanDir:      scanDir,
			IncludeGlobs: splitNonEmpty(include),
			ExcludeGlobs: splitNonEmpty(exclude),
			DatasetType:  scanDatasetType,
			Topic:        topic,
			RunID:        runID,
			OriginatorID: originatorID,
			Valid:        !tellFail,
			RatePerSec:   ratePerSec,
		}
		w := producer.New(cfg, br, logger)
		if err := w.Run(ctx); err != nil {
			logger.Fatal("walk scan-dir", obs.Err(err))
		}
		return
	}

	base := control{
		topic:    topic,
		success:  !tellFail,
		iddelim:  iddelim,
		eqdelim:  eqdelim,
		interval: time.Duration(intervalSec * float64(time.Second)),
	}

	total := 0
	if len(datasets) > 0 {
		n, err := sendEventsFor(base, strings.NewReader(strings.Join(datasets, "\n")), br, runID, originatorID, logger)
		total += n
		if err != nil {
			logger.Error("processing -dataset entries", obs.Err(err))
		}
	}

	for _, filename := range fs.Args() {
		n, err := processFile(base, filename, br, runID, originatorID, logger)
		total += n
		if err != nil {
			logger.Error("processing list file", obs.String("file", filename), obs.Err(err))
		}
	}

	logger.Info("announceDataset done", obs.Int("sent", total))
}

func processFile(base control, filename string, br *broker.Broker, runID, originatorID string, logger *zap.Logger) (int, error) {
	var in io.Reader
	if filename == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", filename, err)
		}
		defer f.Close()
		in = f
	}
	return sendEventsFor(base, in, br, runID, originatorID, logger)
}

// sendEventsFor processes one source (a list file, stdin, or the
// concatenated -dataset entries) against its own copy of ctrl, publishing
// one event per non-directive, non-comment, non-blank line.
func sendEventsFor(ctrl control, src io.Reader, br *broker.Broker, runID, originatorID string, logger *zap.Logger) (int, error) {
	count := 0
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if err := applyDirective(&ctrl, strings.TrimSpace(line[1:])); err != nil {
				return count, err
			}
			continue
		}

		ds, err := parseDatasetLine(ctrl, line)
		if err != nil {
			return count, err
		}
		ds.Valid = ctrl.success

		if ctrl.interval > 0 {
			time.Sleep(ctrl.interval)
		}

		e := event.NewStatusEvent(runID, originatorID, event.StatusDatasetAvailable).WithDatasets([]dataset.Dataset{ds})
		if err := br.PublishStatus(ctrl.topic, e); err != nil {
			logger.Error("publish dataset", obs.String("dataset", ds.ToString(false)), obs.Err(err))
			continue
		}
		count++
		logger.Info("announced dataset", obs.String("dataset", ds.ToString(false)), obs.String("topic", ctrl.topic))
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

func stripComment(line string) string {
	if idx := strings.Index(line, "#"); idx >= 0 {
		return line[:idx]
	}
	return line
}

// resolveDirective matches cmd against directiveNames by unambiguous
// prefix, the same way the original's updateControlData does.
func resolveDirective(cmd string) (string, error) {
	cmd = strings.ToLower(cmd)
	var matches []string
	for _, d := range directiveNames {
		if strings.HasPrefix(d, cmd) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("unrecognized directive name: %s", cmd)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous directive name %q matches %s", cmd, strings.Join(matches, ", "))
	}
}

func applyDirective(ctrl *control, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("empty directive line")
	}
	name, err := resolveDirective(fields[0])
	if err != nil {
		return err
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch name {
	case "topic":
		if rest == "" {
			return fmt.Errorf("missing argument to topic directive")
		}
		ctrl.topic = rest
	case "pause":
		args := strings.Fields(rest)
		if len(args) < 1 {
			return fmt.Errorf("missing argument to pause directive")
		}
		wait, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("bad argument to pause directive: %s", args[0])
		}
		time.Sleep(time.Duration(wait * float64(time.Second)))
	case "interval":
		if rest == "" {
			return fmt.Errorf("missing argument to interval directive")
		}
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return fmt.Errorf("bad argument to interval directive: %s", rest)
		}
		ctrl.interval = time.Duration(v * float64(time.Second))
	case "iddelim":
		ctrl.iddelim = rest
	case "eqdelim":
		if rest == "" {
			ctrl.eqdelim = "="
		} else {
			ctrl.eqdelim = rest
		}
	case "success":
		ctrl.success = !isFalsey(rest, false)
	case "fail":
		ctrl.success = isFalsey(rest, false)
	case "intids":
		ctrl.intIDs = strings.Fields(rest)
	case "format":
		if rest != "" {
			return fmt.Errorf("format directive is not supported; use the default <type> name=value grammar")
		}
	}
	return nil
}

// isFalsey implements the original's boolean-argument parsing for the
// success/fail directives: an empty argument means defaultVal; otherwise
// the argument is truthy unless it's "0" or an unambiguous prefix of "false".
func isFalsey(arg string, defaultVal bool) bool {
	if arg == "" {
		return defaultVal
	}
	val := strings.ToLower(strings.TrimSpace(arg))
	return val == "0" || strings.HasPrefix("false", val)
}

// parseDatasetLine implements the default dataset-description grammar:
// "<type> [<idname><eqdelim><idvalue> ...]", words separated by iddelim
// (or whitespace when iddelim is empty).
func parseDatasetLine(ctrl control, line string) (dataset.Dataset, error) {
	var args []string
	if ctrl.iddelim != "" {
		args = strings.Split(line, ctrl.iddelim)
	} else {
		args = strings.Fields(line)
	}

	typeTok := ""
	ids := map[string]string{}
	for _, a := range args {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if idx := strings.Index(a, ctrl.eqdelim); idx >= 0 {
			name := strings.TrimSpace(a[:idx])
			val := strings.TrimSpace(a[idx+len(ctrl.eqdelim):])
			ids[name] = val
			continue
		}
		if typeTok != "" && typeTok != a {
			return dataset.Dataset{}, fmt.Errorf("multiple dataset types given: %s %s", typeTok, a)
		}
		typeTok = a
	}
	if typeTok == "" {
		typeTok = "unknown"
	}

	ds := dataset.New(typeTok)
	for name, val := range ids {
		if containsString(ctrl.intIDs, name) {
			iv, err := strconv.Atoi(val)
			if err != nil {
				return dataset.Dataset{}, fmt.Errorf("id %s value is not an int: %s", name, val)
			}
			ds = ds.WithID(name, iv)
		} else {
			ds = ds.WithID(name, val)
		}
	}
	return ds, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printSyntaxHelp() {
	fmt.Print(`Syntax for dataset list files:

Each line is a dataset description, or a directive, or a comment.

A dataset description has the form:

    <dataset-type> [<idname>=<idvalue> ...]

that is, a dataset type name followed by zero or more name=value
identifier pairs. For example:

    PostISR visit=8193 ccd=22 snap=0 amp=3

The word-separating and name/value-separating characters can be changed
with the iddelim and eqdelim directives.

A '#' and everything after it on a line is a comment. Blank lines are
ignored.

A directive line begins with '>' followed by a directive name, optionally
abbreviated to an unambiguous prefix, and optional arguments:

    >pause 5

Directives apply to every dataset line that follows, within the same
source, until overridden:

  topic <name>       Topic subsequent datasets are sent to.
  success [bool]     Mark subsequent datasets valid (default true).
  fail [bool]        Mark subsequent datasets invalid (default true).
  pause <seconds>    Sleep once before continuing.
  interval <seconds> Pause this long between every subsequent send.
  iddelim <chars>    Delimiter separating id assignments (default: whitespace).
  eqdelim <chars>    Delimiter separating an id name from its value (default: "=").
  intids <name> ...  Id names whose values should be parsed as integers.
`)
}
