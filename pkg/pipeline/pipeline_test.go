package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docker/image-sorter/pkg/classify"
	"github.com/docker/image-sorter/pkg/config"
	"github.com/docker/image-sorter/pkg/engine"
	"github.com/docker/image-sorter/pkg/logging"
)

type fakeEngine struct {
	mu        sync.Mutex
	ensureErr error
	ensured   []config.Models
	stops     int
}

func (e *fakeEngine) EnsureReady(_ context.Context, models config.Models) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensured = append(e.ensured, models)
	return e.ensureErr
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

// fakeClassifier answers by file name: a rule id, "" for no match, "error"
// for a request failure and "panic" for a classifier panic.
type fakeClassifier struct {
	answers map[string]string
	// onCall runs before answering the n-th (1-based) call.
	onCall func(n int)
	calls  []string
	rules  [][]classify.Rule
}

func (c *fakeClassifier) Classify(_ context.Context, path string, rules []classify.Rule) (classify.Result, error) {
	c.calls = append(c.calls, path)
	c.rules = append(c.rules, rules)
	if c.onCall != nil {
		c.onCall(len(c.calls))
	}
	switch answer := c.answers[filepath.Base(path)]; answer {
	case "":
		return classify.Result{}, nil
	case "error":
		return classify.Result{}, engine.ErrEngineRequestFailed
	case "panic":
		panic("decoder exploded")
	default:
		for i := range rules {
			if rules[i].ID == answer {
				return classify.Result{Rule: &rules[i]}, nil
			}
		}
		return classify.Result{}, nil
	}
}

type fakeSettings struct {
	models config.Models
}

func (s fakeSettings) Load() (config.Models, error) {
	return s.models, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	runs     []error
}

func (r *fakeRecorder) ImageProcessed(_ Workflow, outcome Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) RunFinished(_ Workflow, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, err)
}

var sortRules = []classify.Rule{
	{ID: "1", FolderName: "cats", Prompt: "a cat"},
	{ID: "2", FolderName: "dogs", Prompt: "a dog"},
}

type fixture struct {
	root       string
	scratch    string
	engine     *fakeEngine
	classifier *fakeClassifier
	recorder   *fakeRecorder
	pipeline   *Pipeline
}

func newFixture(t *testing.T, answers map[string]string) *fixture {
	t.Helper()
	f := &fixture{
		root:       t.TempDir(),
		scratch:    t.TempDir(),
		engine:     &fakeEngine{},
		classifier: &fakeClassifier{answers: answers},
		recorder:   &fakeRecorder{},
	}
	f.pipeline = New(logging.Discard(), f.engine, f.classifier,
		fakeSettings{models: config.Models{Main: "main.gguf", Projector: "mmproj.gguf"}},
		f.scratch, f.recorder)
	return f
}

// drain collects snapshots until the channel is closed.
func drain(t *testing.T, ch <-chan Snapshot) []Snapshot {
	t.Helper()
	var snapshots []Snapshot
	timeout := time.After(30 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return snapshots
			}
			snapshots = append(snapshots, s)
		case <-timeout:
			t.Fatal("pipeline did not finish")
		}
	}
}

func requireTerminal(t *testing.T, snapshots []Snapshot) Snapshot {
	t.Helper()
	require.NotEmpty(t, snapshots)
	for _, s := range snapshots[:len(snapshots)-1] {
		require.False(t, s.Done, "only the last snapshot may be terminal")
	}
	last := snapshots[len(snapshots)-1]
	require.True(t, last.Done)
	return last
}

func TestSortMovesMatches(t *testing.T) {
	f := newFixture(t, map[string]string{"a.jpg": "1", "d.jpg": "2"})
	touch(t, filepath.Join(f.root, "a.jpg"), "a")
	touch(t, filepath.Join(f.root, "b.png"), "b")
	touch(t, filepath.Join(f.root, "notes.txt"), "")
	touch(t, filepath.Join(f.root, "sub", "d.jpg"), "d")
	touch(t, filepath.Join(f.scratch, "image-leftover.png"), "")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	snapshots := drain(t, ch)
	last := requireTerminal(t, snapshots)

	require.Len(t, snapshots, 5, "header, one per image, terminal")
	for i := 1; i < len(snapshots); i++ {
		require.True(t, strings.HasPrefix(snapshots[i].Log, snapshots[i-1].Log), "logs must be cumulative")
	}

	require.NoError(t, last.Err)
	require.Equal(t, 3, last.Stats.Scanned)
	require.Equal(t, 3, last.Stats.Processed)
	require.Equal(t, 1, last.Stats.Skipped)
	require.Equal(t, map[string]int{"cats": 1, "dogs": 1}, last.Stats.PerFolder)
	require.Contains(t, last.Log, "✓ a.jpg -> cats")
	require.Contains(t, last.Log, "- b.png (No confident match)")
	require.Contains(t, last.Log, "Processed: 3/3")
	require.Contains(t, last.Log, "Skipped (No Match): 1")
	require.Contains(t, last.Log, "  cats: 1\n  dogs: 1")

	require.FileExists(t, filepath.Join(f.root, "cats", "a.jpg"))
	require.FileExists(t, filepath.Join(f.root, "dogs", "d.jpg"))
	require.FileExists(t, filepath.Join(f.root, "b.png"))
	require.NoFileExists(t, filepath.Join(f.root, "a.jpg"))

	require.Len(t, f.engine.ensured, 1)
	require.Equal(t, 1, f.engine.stops)
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	require.Empty(t, entries, "scratch directory must be cleared")

	require.Equal(t, []Outcome{OutcomeMoved, OutcomeNoMatch, OutcomeMoved}, f.recorder.outcomes)
	require.Equal(t, []error{nil}, f.recorder.runs)
}

func TestSortSnapshotsFollowFileActions(t *testing.T) {
	f := newFixture(t, map[string]string{"a.jpg": "1", "b.jpg": "1"})
	touch(t, filepath.Join(f.root, "a.jpg"), "a")
	touch(t, filepath.Join(f.root, "b.jpg"), "b")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	var checked int
	for s := range ch {
		if strings.HasSuffix(s.Log, "✓ a.jpg -> cats") {
			require.FileExists(t, filepath.Join(f.root, "cats", "a.jpg"))
			checked++
		}
	}
	require.Equal(t, 1, checked)
}

func TestSortNoImages(t *testing.T) {
	f := newFixture(t, nil)
	touch(t, filepath.Join(f.root, "readme.txt"), "")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	snapshots := drain(t, ch)
	require.Len(t, snapshots, 1)
	require.True(t, snapshots[0].Done)
	require.Equal(t, NoImagesMessage, snapshots[0].Log)
	require.Empty(t, f.engine.ensured, "engine must not start without images")
}

func TestSortStopRequest(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"} {
		touch(t, filepath.Join(f.root, name), name)
	}
	session := &Session{}
	session.RequestStop() // cleared when the run starts
	f.classifier.onCall = func(n int) {
		if n == 2 {
			session.RequestStop()
		}
	}

	ch, err := f.pipeline.Sort(t.Context(), session, f.root, sortRules)
	require.NoError(t, err)
	last := requireTerminal(t, drain(t, ch))

	require.Len(t, f.classifier.calls, 2)
	require.Equal(t, 2, last.Stats.Processed)
	require.Contains(t, last.Log, "[STOPPED BY USER]")
	require.Contains(t, last.Log, "Processed: 2/5")
	require.Equal(t, 1, f.engine.stops)
}

func TestSortEngineStartFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.ensureErr = engine.ErrEngineCrashed
	touch(t, filepath.Join(f.root, "a.jpg"), "a")
	touch(t, filepath.Join(f.root, "b.jpg"), "b")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	last := requireTerminal(t, drain(t, ch))

	require.ErrorIs(t, last.Err, engine.ErrEngineCrashed)
	require.Contains(t, last.Log, "CRITICAL ERROR: "+engine.ErrEngineCrashed.Error())
	require.Contains(t, last.Log, "Processed: 0/2")
	require.Empty(t, f.classifier.calls)
	require.Equal(t, 1, f.engine.stops, "engine is stopped even when it never started")
	require.Len(t, f.recorder.runs, 1)
	require.ErrorIs(t, f.recorder.runs[0], engine.ErrEngineCrashed)
}

func TestSortPerImageFailuresContinue(t *testing.T) {
	f := newFixture(t, map[string]string{"a.jpg": "error", "b.jpg": "panic", "c.jpg": "2"})
	touch(t, filepath.Join(f.root, "a.jpg"), "a")
	touch(t, filepath.Join(f.root, "b.jpg"), "b")
	touch(t, filepath.Join(f.root, "c.jpg"), "c")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	last := requireTerminal(t, drain(t, ch))

	require.NoError(t, last.Err)
	require.Equal(t, 3, last.Stats.Processed)
	require.Equal(t, 2, last.Stats.Skipped)
	require.Contains(t, last.Log, "✗ Error analyzing a.jpg")
	require.Contains(t, last.Log, "✗ Error analyzing b.jpg: classifier panic: decoder exploded")
	require.FileExists(t, filepath.Join(f.root, "dogs", "c.jpg"))
}

func TestSortCollisions(t *testing.T) {
	f := newFixture(t, map[string]string{"a.jpg": "1"})
	touch(t, filepath.Join(f.root, "x", "a.jpg"), "x")
	touch(t, filepath.Join(f.root, "y", "a.jpg"), "y")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	last := requireTerminal(t, drain(t, ch))
	require.Equal(t, 2, last.Stats.PerFolder["cats"])

	x, err := os.ReadFile(filepath.Join(f.root, "cats", "a.jpg"))
	require.NoError(t, err)
	y, err := os.ReadFile(filepath.Join(f.root, "cats", "a_1.jpg"))
	require.NoError(t, err)
	require.Equal(t, "x", string(x))
	require.Equal(t, "y", string(y))
}

func TestSortTwiceIsNoOp(t *testing.T) {
	f := newFixture(t, map[string]string{"a.jpg": "1", "b.jpg": "2"})
	touch(t, filepath.Join(f.root, "a.jpg"), "a")
	touch(t, filepath.Join(f.root, "b.jpg"), "b")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	first := requireTerminal(t, drain(t, ch))
	require.Equal(t, map[string]int{"cats": 1, "dogs": 1}, first.Stats.PerFolder)

	ch, err = f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	second := requireTerminal(t, drain(t, ch))
	require.Equal(t, NoImagesMessage, second.Log)
	require.Zero(t, second.Stats.Processed)

	require.FileExists(t, filepath.Join(f.root, "cats", "a.jpg"))
	require.FileExists(t, filepath.Join(f.root, "dogs", "b.jpg"))
	require.NoFileExists(t, filepath.Join(f.root, "cats", "a_1.jpg"))
	require.Len(t, f.classifier.calls, 2, "sorted images must not be classified again")
	require.Len(t, f.engine.ensured, 1)
}

func TestSortRescansOtherFolders(t *testing.T) {
	f := newFixture(t, map[string]string{"a.jpg": "1"})
	touch(t, filepath.Join(f.root, "cats", "kept.jpg"), "k")
	touch(t, filepath.Join(f.root, "inbox", "a.jpg"), "a")

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	last := requireTerminal(t, drain(t, ch))
	require.Equal(t, 1, last.Stats.Scanned)
	require.Equal(t, []string{filepath.Join(f.root, "inbox", "a.jpg")}, f.classifier.calls)
	require.FileExists(t, filepath.Join(f.root, "cats", "kept.jpg"))
	require.FileExists(t, filepath.Join(f.root, "cats", "a.jpg"))
}

func TestSortVanishedImage(t *testing.T) {
	f := newFixture(t, nil)
	touch(t, filepath.Join(f.root, "a.jpg"), "a")
	gone := touch(t, filepath.Join(f.root, "b.jpg"), "b")
	f.classifier.onCall = func(n int) {
		if n == 1 {
			_ = os.Remove(gone)
		}
	}

	ch, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, sortRules)
	require.NoError(t, err)
	last := requireTerminal(t, drain(t, ch))
	require.Equal(t, 1, last.Stats.Processed)
	require.Equal(t, 1, last.Stats.Missing)
	require.Contains(t, last.Log, "Processed: 1/2")
}

func TestSortContextCancelled(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg"} {
		touch(t, filepath.Join(f.root, name), name)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	ch, err := f.pipeline.Sort(ctx, &Session{}, f.root, sortRules)
	require.NoError(t, err)
	<-ch // header
	cancel()
	drain(t, ch)

	require.LessOrEqual(t, len(f.classifier.calls), 1)
	require.Equal(t, 1, f.engine.stops)
}

func TestSortRejectsInvalidRules(t *testing.T) {
	f := newFixture(t, nil)
	touch(t, filepath.Join(f.root, "a.jpg"), "a")

	cases := []struct {
		rules []classify.Rule
		err   error
	}{
		{nil, ErrNoRules},
		{[]classify.Rule{{ID: "a", FolderName: "x"}, {ID: " A ", FolderName: "y"}}, ErrDuplicateRule},
		{[]classify.Rule{{ID: "", FolderName: "x"}}, ErrInvalidRule},
		{[]classify.Rule{{ID: "1", FolderName: "../escape"}}, ErrInvalidRule},
		{[]classify.Rule{{ID: "1", FolderName: ".."}}, ErrInvalidRule},
		{[]classify.Rule{{ID: "1", FolderName: ""}}, ErrInvalidRule},
	}
	for _, tc := range cases {
		_, err := f.pipeline.Sort(t.Context(), &Session{}, f.root, tc.rules)
		require.ErrorIs(t, err, tc.err)
	}
	require.Empty(t, f.engine.ensured)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, map[string]string{"a.jpg": SearchRuleID, "c.jpg": SearchRuleID})
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		touch(t, filepath.Join(f.root, name), name)
	}

	ch, err := f.pipeline.Search(t.Context(), &Session{}, f.root, "  a red car ")
	require.NoError(t, err)
	snapshots := drain(t, ch)
	last := requireTerminal(t, snapshots)

	require.Equal(t, []string{
		filepath.Join(f.root, "c.jpg"),
		filepath.Join(f.root, "a.jpg"),
	}, last.Matches, "most recent match first")
	require.Equal(t, 2, last.Stats.Matched)
	require.Equal(t, 3, last.Stats.Processed)
	require.Equal(t, []string{filepath.Join(f.root, "a.jpg")}, snapshots[1].Matches)

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		require.FileExists(t, filepath.Join(f.root, name), "search must not move files")
	}
	require.Equal(t, []classify.Rule{{ID: SearchRuleID, FolderName: SearchFolder, Prompt: "a red car"}}, f.classifier.rules[0])
	require.Equal(t, 1, f.engine.stops)
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.pipeline.Search(t.Context(), &Session{}, f.root, "   ")
	require.True(t, errors.Is(err, ErrEmptyQuery))
}
