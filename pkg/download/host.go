package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/docker/image-sorter/pkg/catalog"
	"github.com/docker/image-sorter/pkg/config"
	"github.com/docker/image-sorter/pkg/logging"
	"github.com/docker/image-sorter/pkg/sandbox"
	"github.com/docker/image-sorter/pkg/tailbuffer"
)

// workerTailSize bounds the worker diagnostics kept for error reports.
const workerTailSize = 2048

// Result is the outcome of a worker run.
type Result struct {
	// Done is the text of the worker's done message.
	Done string
	// Models is the activated model pair when Activated is set.
	Models config.Models
	// Activated reports whether the downloaded variant became the active
	// configuration.
	Activated bool
}

// Observer is notified of every finished variant download.
type Observer interface {
	DownloadFinished(key catalog.Key, err error)
}

// Host runs download workers and applies their outcome to the settings.
type Host struct {
	log       logging.Logger
	modelsDir string
	store     *config.Store
	observer  Observer
	command   []string
}

// NewHost creates a Host. The worker is started as command followed by
// WorkerCommand, the models directory and the variant key. An empty command
// re-executes the current binary. The observer may be nil.
func NewHost(log logging.Logger, modelsDir string, store *config.Store, observer Observer, command ...string) *Host {
	return &Host{
		log:       log,
		modelsDir: modelsDir,
		store:     store,
		observer:  observer,
		command:   command,
	}
}

// Run downloads the variant in a worker process, passing every stream message
// to fn (which may be nil). When the worker reports success the variant's
// files are saved as the active model pair.
func (h *Host) Run(ctx context.Context, key catalog.Key, fn func(Message)) (Result, error) {
	if _, err := catalog.Lookup(key); err != nil {
		return Result{}, err
	}
	result, err := h.run(ctx, key, fn)
	if h.observer != nil {
		h.observer.DownloadFinished(key, err)
	}
	return result, err
}

func (h *Host) run(ctx context.Context, key catalog.Key, fn func(Message)) (Result, error) {
	var result Result

	command := h.command
	if len(command) == 0 {
		executable, err := os.Executable()
		if err != nil {
			return result, fmt.Errorf("locating worker executable: %w", err)
		}
		command = []string{executable}
	}
	args := append(append([]string{}, command[1:]...), WorkerCommand, h.modelsDir, string(key))

	workerLog := h.log.WithField("component", "download-worker").Writer()
	defer workerLog.Close()
	tail := tailbuffer.New(workerTailSize)

	var stdout io.ReadCloser
	var pipeErr error
	box, err := sandbox.Create(ctx, sandbox.ConfigurationWorker, func(cmd *exec.Cmd) {
		stdout, pipeErr = cmd.StdoutPipe()
		cmd.Stderr = io.MultiWriter(workerLog, tail)
	}, command[0], args...)
	if err != nil {
		return result, fmt.Errorf("starting download worker: %w", err)
	}
	defer box.Close()
	if pipeErr != nil {
		return result, fmt.Errorf("attaching to download worker: %w", pipeErr)
	}

	var done *Message
	streamDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(streamDone)
		return ReadStream(stdout, func(msg Message) error {
			if fn != nil {
				fn(msg)
			}
			if msg.Type == TypeDone {
				done = &msg
			}
			return nil
		})
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return box.Close()
		case <-streamDone:
			return nil
		}
	})
	streamErr := g.Wait()
	waitErr := box.Command().Wait()

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if streamErr != nil {
		return result, streamErr
	}
	if done == nil {
		return result, fmt.Errorf("%w: worker exited without result: %v\nwith output: %s", ErrDownloadFailed, waitErr, tail.String())
	}
	result.Done = done.Text()

	downloaded, ok := done.SucceededVariant()
	if !ok {
		return result, fmt.Errorf("%w: %s", ErrDownloadFailed, result.Done)
	}
	if waitErr != nil {
		h.log.Warnf("Download worker exited abnormally after success: %v", waitErr)
	}
	variant, err := catalog.Lookup(downloaded)
	if err != nil {
		return result, err
	}
	result.Models, err = h.store.Save(variant.Paths(h.modelsDir))
	if err != nil {
		return result, fmt.Errorf("activating %s: %w", variant.Key, err)
	}
	result.Activated = true
	h.log.Infof("Config updated to use %s", variant.Label)
	return result, nil
}
