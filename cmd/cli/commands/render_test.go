package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/docker/image-sorter/pkg/download"
	"github.com/docker/image-sorter/pkg/pipeline"
)

func TestLogRendererPrintsOnlyNewLines(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	r := &logRenderer{out: &out}

	r.render(pipeline.Snapshot{Log: "Found 2 images.\nInitializing AI Engine..."})
	r.render(pipeline.Snapshot{Log: "Found 2 images.\nInitializing AI Engine...\n✓ a.jpg -> cats"})
	r.render(pipeline.Snapshot{Log: "Found 2 images.\nInitializing AI Engine...\n✓ a.jpg -> cats"})
	r.render(pipeline.Snapshot{Log: "Found 2 images.\nInitializing AI Engine...\n✓ a.jpg -> cats\n\n--- COMPLETE ---", Done: true})

	require.Equal(t, "Found 2 images.\nInitializing AI Engine...\n✓ a.jpg -> cats\n\n--- COMPLETE ---\n", out.String())
}

func message(t *testing.T, typ download.MessageType, data any) download.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return download.Message{Type: typ, Data: raw}
}

func TestProgressPrinterNonInteractive(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out)
	require.False(t, p.interactive)

	p.handle(message(t, download.TypeLog, "Starting download: main.gguf..."))
	for _, pct := range []float64{0, 3, 9.9, 10, 15, 55, 100} {
		p.handle(message(t, download.TypeProgress, download.Progress{
			Filename: "main.gguf", Percent: pct, Speed: "1.0 MB/s", Downloaded: "1.0 MB", Total: "10.0 MB",
		}))
	}
	p.handle(message(t, download.TypeDone, download.SuccessPrefix+"low"))
	p.finish()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, "Starting download: main.gguf...", lines[0])
	// 0%, 10%, 55% and 100% each start a new ten-percent step.
	require.Len(t, lines, 6)
	require.Contains(t, lines[4], "100.0%")
	require.Contains(t, lines[5], "Download complete.")
}

func TestProgressPrinterFailure(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out)
	p.handle(message(t, download.TypeError, "HTTP 404"))
	p.handle(message(t, download.TypeDone, download.DoneAborted))
	require.Contains(t, out.String(), "Error: HTTP 404")
	require.Contains(t, out.String(), download.DoneAborted)
}

func TestBar(t *testing.T) {
	require.Equal(t, "["+strings.Repeat(" ", progressBarWidth)+"]", bar(0))
	require.Equal(t, "["+strings.Repeat("=", progressBarWidth)+"]", bar(100))
	require.Equal(t, "["+strings.Repeat("=", progressBarWidth)+"]", bar(250))
	require.Equal(t, "["+strings.Repeat(" ", progressBarWidth)+"]", bar(-5))
}
