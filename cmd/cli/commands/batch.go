package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/docker/image-sorter/pkg/classify"
	"github.com/docker/image-sorter/pkg/pipeline"
)

// startFunc launches a pipeline run.
type startFunc func(ctx context.Context, p *pipeline.Pipeline, session *pipeline.Session) (<-chan pipeline.Snapshot, error)

// runBatch starts the engine-backed pipeline and renders its snapshots until
// the terminal one. The first interrupt asks the run to stop after the
// current image and the second aborts it.
func runBatch(cmd *cobra.Command, app *App, start startFunc) (pipeline.Snapshot, error) {
	supervisor := app.newSupervisor()
	defer func() {
		if err := supervisor.Stop(); err != nil {
			app.Log.Warnf("Unable to stop engine: %v", err)
		}
	}()
	classifier := classify.NewClassifier(app.Log.WithField("component", "classifier"), supervisor.Client(), app.Paths.ScratchDir)
	p := pipeline.New(app.Log.WithField("component", "pipeline"), supervisor, classifier, app.Store, app.Paths.ScratchDir, app.Metrics)

	ctx, cancel := context.WithCancel(context.WithoutCancel(cmd.Context()))
	defer cancel()
	session := &pipeline.Session{}
	go watchInterrupts(ctx, cmd.Context(), cmd.ErrOrStderr(), session, cancel)

	snapshots, err := start(ctx, p, session)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	r := &logRenderer{out: cmd.OutOrStdout()}
	var last pipeline.Snapshot
	for s := range snapshots {
		r.render(s)
		last = s
	}
	return last, last.Err
}

func watchInterrupts(ctx, parent context.Context, out io.Writer, session *pipeline.Session, abort context.CancelFunc) {
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	handleInterrupts(ctx, parent, interrupts, out, session, abort)
}

// handleInterrupts requests a graceful stop on the first interrupt or when
// parent ends, and aborts on the next interrupt. It returns when ctx ends.
func handleInterrupts(ctx, parent context.Context, interrupts <-chan os.Signal, out io.Writer, session *pipeline.Session, abort context.CancelFunc) {
	select {
	case <-interrupts:
	case <-parent.Done():
	case <-ctx.Done():
		return
	}
	// Signals delivered with the first one must not count as the second.
	for drained := false; !drained; {
		select {
		case <-interrupts:
		default:
			drained = true
		}
	}
	session.RequestStop()
	fmt.Fprintln(out, "Stopping after the current image. Interrupt again to abort.")
	select {
	case <-interrupts:
		abort()
	case <-ctx.Done():
	}
}

// logRenderer prints the part of each cumulative log it has not printed yet.
type logRenderer struct {
	out     io.Writer
	printed int
}

func (r *logRenderer) render(s pipeline.Snapshot) {
	if len(s.Log) <= r.printed {
		return
	}
	fresh := strings.TrimPrefix(s.Log[r.printed:], "\n")
	r.printed = len(s.Log)
	for _, line := range strings.Split(fresh, "\n") {
		fmt.Fprintln(r.out, colorize(line))
	}
}

func colorize(line string) string {
	switch {
	case strings.HasPrefix(line, "✓"):
		return color.GreenString(line)
	case strings.HasPrefix(line, "✗"), strings.HasPrefix(line, "CRITICAL ERROR"):
		return color.RedString(line)
	case strings.HasPrefix(line, "[STOPPED BY USER]"):
		return color.YellowString(line)
	default:
		return line
	}
}
