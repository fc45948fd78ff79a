package download

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/docker/image-sorter/pkg/catalog"
)

// WorkerCommand is the subcommand that runs RunWorker.
const WorkerCommand = "download-worker"

// streamHook forwards informational log entries to the worker stream so the
// host can display them.
type streamHook struct {
	reporter *Reporter
}

func (h *streamHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel}
}

func (h *streamHook) Fire(entry *logrus.Entry) error {
	return h.reporter.Log(entry.Message)
}

// RunWorker downloads one variant into modelsDir, writing the message stream
// to out and diagnostics to errOut. The stream always ends with a done
// message unless out itself fails.
func RunWorker(ctx context.Context, out, errOut io.Writer, modelsDir, key string) error {
	reporter := NewReporter(out)

	log := logrus.New()
	log.SetOutput(errOut)
	log.AddHook(&streamHook{reporter: reporter})

	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		_ = reporter.Error(fmt.Sprintf("Could not create folder %s: %v", modelsDir, err))
		_ = reporter.Done(DoneAborted)
		return err
	}

	variant, err := catalog.Lookup(catalog.Key(key))
	if err != nil {
		_ = reporter.Error(fmt.Sprintf("Unknown variant: %s", key))
		_ = reporter.Done(DoneAborted)
		return err
	}
	log.Infof("Download started: %s\nSaving to: %s", variant.Label, modelsDir)

	downloader := NewDownloader(log.WithField("component", "downloader"), nil, func(t Task) {
		_ = reporter.Progress(t)
	})
	tasks, err := downloader.DownloadVariant(ctx, variant, modelsDir)
	if err != nil {
		_ = reporter.Error(err.Error())
		if len(tasks) < len(variant.Artifacts()) {
			_ = reporter.Done(DoneAborted)
		} else {
			_ = reporter.Done(DoneWithErrors)
		}
		return err
	}
	return reporter.Done(SuccessPrefix + string(variant.Key))
}
