// Package pipeline drives the Sort and Search workflows. A run enumerates the
// images under a root directory, makes sure the engine is serving the
// configured model pair, classifies the images one at a time and reports a
// cumulative Snapshot after each one. Whatever the outcome, a run ends by
// stopping the engine, clearing the scratch directory and sending a final
// snapshot with Done set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/docker/image-sorter/pkg/classify"
	"github.com/docker/image-sorter/pkg/config"
	"github.com/docker/image-sorter/pkg/internal/utils"
	"github.com/docker/image-sorter/pkg/logging"
)

var (
	// ErrNoRules indicates a sort request without rules.
	ErrNoRules = errors.New("at least one rule is required")
	// ErrInvalidRule indicates a rule with an empty id or an unusable
	// folder name.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrDuplicateRule indicates two rules sharing an id.
	ErrDuplicateRule = errors.New("duplicate rule id")
	// ErrEmptyQuery indicates a search without query text.
	ErrEmptyQuery = errors.New("search query is empty")
)

const (
	// NoImagesMessage is the only log line of a run over an empty tree.
	NoImagesMessage = "No images found."
	// SearchRuleID is the id of the synthetic rule built from a query.
	SearchRuleID = "match"
	// SearchFolder is the folder name of the synthetic search rule.
	SearchFolder = "search_result"
)

// Workflow names a kind of run.
type Workflow string

const (
	// WorkflowSort moves matching images into rule folders.
	WorkflowSort Workflow = "sort"
	// WorkflowSearch collects images matching a query.
	WorkflowSearch Workflow = "search"
)

// Outcome describes what happened to one image.
type Outcome string

const (
	// OutcomeMoved means the image matched and was moved.
	OutcomeMoved Outcome = "moved"
	// OutcomeMatched means the image matched a search query.
	OutcomeMatched Outcome = "matched"
	// OutcomeNoMatch means no rule was selected.
	OutcomeNoMatch Outcome = "no_match"
	// OutcomeError means classification or the move failed.
	OutcomeError Outcome = "error"
	// OutcomeMissing means the file disappeared before it was processed.
	OutcomeMissing Outcome = "missing"
)

// Engine is the lifecycle surface of the inference engine.
type Engine interface {
	EnsureReady(ctx context.Context, models config.Models) error
	Stop() error
}

// Classifier classifies a single image.
type Classifier interface {
	Classify(ctx context.Context, imagePath string, rules []classify.Rule) (classify.Result, error)
}

// Settings provides the active model pair.
type Settings interface {
	Load() (config.Models, error)
}

// Recorder receives per-image and per-run measurements.
type Recorder interface {
	ImageProcessed(workflow Workflow, outcome Outcome, elapsed time.Duration)
	RunFinished(workflow Workflow, err error)
}

// Stats are the running counters of a run.
type Stats struct {
	// Scanned is the number of images found.
	Scanned int
	// Processed is the number of images sent for classification.
	Processed int
	// Skipped counts processed images that were not moved or matched.
	Skipped int
	// Missing counts images that vanished before their turn.
	Missing int
	// Matched counts search hits.
	Matched int
	// PerFolder counts moved images per rule folder.
	PerFolder map[string]int
}

func (s Stats) clone() Stats {
	s.PerFolder = maps.Clone(s.PerFolder)
	return s
}

// Snapshot is the cumulative state of a run. Every snapshot carries the full
// history so far, so a consumer may drop intermediate ones.
type Snapshot struct {
	// Log is the human-readable log of the run.
	Log string
	// Matches lists search hits, most recent first.
	Matches []string
	// Stats are the counters at the time of the snapshot.
	Stats Stats
	// Done marks the final snapshot. The channel is closed after it.
	Done bool
	// Err is the error that aborted the run, if any. Only set when Done.
	Err error
}

// Pipeline runs batches against one engine.
type Pipeline struct {
	log        logging.Logger
	engine     Engine
	classifier Classifier
	settings   Settings
	scratchDir string
	recorder   Recorder
}

// New creates a Pipeline. The recorder may be nil.
func New(log logging.Logger, engine Engine, classifier Classifier, settings Settings, scratchDir string, recorder Recorder) *Pipeline {
	return &Pipeline{
		log:        log,
		engine:     engine,
		classifier: classifier,
		settings:   settings,
		scratchDir: scratchDir,
		recorder:   recorder,
	}
}

// Sort classifies every image under root against rules and moves matches
// into root/<folder name>. The returned channel must be drained until it is
// closed. Cancelling ctx stops the run before the next image; snapshots the
// consumer no longer receives are dropped, but teardown still happens.
func (p *Pipeline) Sort(ctx context.Context, session *Session, root string, rules []classify.Rule) (<-chan Snapshot, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	rules = slices.Clone(rules)
	return p.start(ctx, session, WorkflowSort, root, rules), nil
}

// Search classifies every image under root against a single rule built from
// query and reports the matching paths. Files are not moved.
func (p *Pipeline) Search(ctx context.Context, session *Session, root, query string) (<-chan Snapshot, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	rules := []classify.Rule{{ID: SearchRuleID, FolderName: SearchFolder, Prompt: query}}
	return p.start(ctx, session, WorkflowSearch, root, rules), nil
}

// ValidateRules checks that rules can drive a sort.
func ValidateRules(rules []classify.Rule) error {
	if len(rules) == 0 {
		return ErrNoRules
	}
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		id := strings.ToLower(strings.TrimSpace(rule.ID))
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrInvalidRule)
		}
		if !validFolderName(rule.FolderName) {
			return fmt.Errorf("%w: rule %q: folder name %q", ErrInvalidRule, rule.ID, rule.FolderName)
		}
		if seen[id] {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, rule.ID)
		}
		seen[id] = true
	}
	return nil
}

// validFolderName accepts a single path element.
func validFolderName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.TrimSpace(name) != name {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func (p *Pipeline) start(ctx context.Context, session *Session, workflow Workflow, root string, rules []classify.Rule) <-chan Snapshot {
	out := make(chan Snapshot)
	r := &run{
		p:        p,
		ctx:      ctx,
		session:  session,
		out:      out,
		workflow: workflow,
		root:     root,
		rules:    rules,
		log:      p.log.WithField("workflow", string(workflow)),
	}
	go func() {
		defer close(out)
		r.execute()
	}()
	return out
}

// run is the state of one Sort or Search invocation.
type run struct {
	p        *Pipeline
	ctx      context.Context
	session  *Session
	out      chan<- Snapshot
	workflow Workflow
	root     string
	rules    []classify.Rule
	log      logging.Logger

	lines   []string
	matches []string
	stats   Stats
	// gone is set once the consumer can no longer be reached.
	gone bool
}

func (r *run) execute() {
	r.session.reset()
	root, err := filepath.Abs(strings.Trim(strings.TrimSpace(r.root), `"`))
	if err != nil {
		r.finish(err)
		return
	}
	r.root = root

	// Images already in a rule folder were sorted by an earlier run.
	var sorted []string
	if r.workflow == WorkflowSort {
		for _, rule := range r.rules {
			sorted = append(sorted, filepath.Join(root, rule.FolderName))
		}
	}
	images, err := FindImages(root, sorted...)
	if err != nil {
		r.logf("Unable to scan %s: %v", root, err)
		r.finish(err)
		return
	}
	if len(images) == 0 {
		r.logf(NoImagesMessage)
		r.finish(nil)
		return
	}

	r.stats = Stats{Scanned: len(images), PerFolder: make(map[string]int)}
	if r.workflow == WorkflowSort {
		for _, rule := range r.rules {
			r.stats.PerFolder[rule.FolderName] = 0
		}
		r.logf("Starting High-Precision Sort in: %s", root)
	} else {
		r.logf("Searching in: %s", root)
		r.logf("Query: %s", r.rules[0].Prompt)
	}
	r.logf("Found %d images.", len(images))
	r.logf("Initializing AI Engine...")
	r.log.Infof("Starting %s of %d images in %s", r.workflow, len(images), utils.SanitizeForLog(root))
	r.emit()

	err = r.process(images)
	r.teardown()
	if err != nil {
		r.logf("\nCRITICAL ERROR: %v", err)
	}
	r.summarize()
	r.finish(err)
}

// process runs the engine and the per-image loop. Only engine lifecycle
// failures are returned.
func (r *run) process(images []string) error {
	models, err := r.p.settings.Load()
	if err != nil {
		r.log.Warnf("Using default models, settings unreadable: %v", err)
	}
	if err := r.p.engine.EnsureReady(r.ctx, models); err != nil {
		return err
	}

	for _, path := range images {
		if r.session.Stopped() || r.ctx.Err() != nil || r.gone {
			r.logf("\n[STOPPED BY USER]")
			r.emit()
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			r.stats.Missing++
			r.record(OutcomeMissing, 0)
			continue
		}
		r.stats.Processed++
		start := time.Now()
		outcome := r.handle(path)
		r.record(outcome, time.Since(start))
		r.emit()
	}
	return nil
}

// handle classifies one image and applies the result.
func (r *run) handle(path string) Outcome {
	name := filepath.Base(path)
	result, err := r.classify(path)
	if err != nil {
		r.stats.Skipped++
		r.logf("✗ Error analyzing %s: %v", name, err)
		r.log.Warnf("Classification of %s failed: %v", utils.SanitizeForLog(name), err)
		return OutcomeError
	}
	if !result.Matched() {
		r.stats.Skipped++
		if r.workflow == WorkflowSort {
			r.logf("- %s (No confident match)", name)
		}
		return OutcomeNoMatch
	}

	if r.workflow == WorkflowSearch {
		r.stats.Matched++
		r.matches = append(r.matches, path)
		r.logf("✓ %s", name)
		return OutcomeMatched
	}

	folder := result.Rule.FolderName
	if _, err := MoveUnique(path, filepath.Join(r.root, folder)); err != nil {
		r.stats.Skipped++
		r.logf("✗ Error moving %s: %v", name, err)
		return OutcomeError
	}
	r.stats.PerFolder[folder]++
	r.logf("✓ %s -> %s", name, folder)
	return OutcomeMoved
}

// classify calls the classifier, converting a panic into an error so one
// image cannot end the run.
func (r *run) classify(path string) (result classify.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("classifier panic: %v", recovered)
		}
	}()
	return r.p.classifier.Classify(r.ctx, path, r.rules)
}

// teardown stops the engine and clears the scratch directory.
func (r *run) teardown() {
	if err := r.p.engine.Stop(); err != nil {
		r.log.Warnf("Stopping engine: %v", err)
	}
	if err := config.ClearDir(r.p.scratchDir); err != nil {
		r.log.Warnf("Clearing scratch directory: %v", err)
	}
}

func (r *run) summarize() {
	r.logf("\n--- COMPLETE ---")
	r.logf("Processed: %d/%d", r.stats.Processed, r.stats.Scanned)
	if r.workflow == WorkflowSearch {
		r.logf("Matches: %d", r.stats.Matched)
		return
	}
	r.logf("Skipped (No Match): %d", r.stats.Skipped)
	if r.stats.Missing > 0 {
		r.logf("Missing: %d", r.stats.Missing)
	}
	seen := make(map[string]bool)
	for _, rule := range r.rules {
		if seen[rule.FolderName] {
			continue
		}
		seen[rule.FolderName] = true
		r.logf("  %s: %d", rule.FolderName, r.stats.PerFolder[rule.FolderName])
	}
}

// finish sends the terminal snapshot.
func (r *run) finish(err error) {
	if r.p.recorder != nil {
		r.p.recorder.RunFinished(r.workflow, err)
	}
	if err != nil {
		r.log.Errorf("%s aborted: %v", r.workflow, err)
	} else {
		r.log.Infof("%s finished: %d/%d processed", r.workflow, r.stats.Processed, r.stats.Scanned)
	}
	r.send(r.snapshot(true, err))
}

func (r *run) record(outcome Outcome, elapsed time.Duration) {
	if r.p.recorder != nil {
		r.p.recorder.ImageProcessed(r.workflow, outcome, elapsed)
	}
}

func (r *run) logf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *run) emit() {
	r.send(r.snapshot(false, nil))
}

func (r *run) snapshot(done bool, err error) Snapshot {
	matches := make([]string, len(r.matches))
	for i, m := range r.matches {
		matches[len(r.matches)-1-i] = m
	}
	return Snapshot{
		Log:     strings.Join(r.lines, "\n"),
		Matches: matches,
		Stats:   r.stats.clone(),
		Done:    done,
		Err:     err,
	}
}

// send delivers a snapshot unless the consumer went away with ctx.
func (r *run) send(s Snapshot) {
	if r.gone {
		return
	}
	select {
	case r.out <- s:
	case <-r.ctx.Done():
		r.gone = true
	}
}
