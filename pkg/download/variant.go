package download

import (
	"context"
	"path/filepath"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"

	"github.com/docker/image-sorter/pkg/catalog"
)

// DownloadVariant fetches the variant's main weights and then its projector.
// A failure on the main artifact skips the projector. The returned tasks
// cover every artifact that was attempted.
func (d *Downloader) DownloadVariant(ctx context.Context, variant catalog.Variant, outDir string) ([]Task, error) {
	tasks := make([]Task, 0, 2)
	for _, spec := range variant.Artifacts() {
		d.log.Infof("Starting download: %s...", spec.Filename)
		task, err := d.Download(ctx, spec, outDir)
		tasks = append(tasks, task)
		if err != nil {
			return tasks, err
		}
		if task.Status == Success {
			d.inspect(task.Path)
		}
	}
	return tasks, nil
}

// inspect logs the GGUF header of a freshly downloaded artifact. A file that
// cannot be parsed only produces a warning since the engine is the final
// judge of what it can load.
func (d *Downloader) inspect(path string) {
	name := filepath.Base(path)
	gguf, err := parser.ParseGGUFFile(path)
	if err != nil {
		d.log.Warnf("Unable to inspect %s: %v", name, err)
		return
	}
	metadata := gguf.Metadata()
	d.log.Infof("Verified %s: architecture %s, %s parameters, %s, %s",
		name,
		strings.TrimSpace(metadata.Architecture),
		strings.TrimSpace(metadata.Parameters.String()),
		strings.TrimSpace(metadata.FileType.String()),
		strings.TrimSpace(metadata.Size.String()),
	)
}
