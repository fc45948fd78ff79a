package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/docker/image-sorter/pkg/download"
)

const progressBarWidth = 30

// progressPrinter renders a download worker's stream. On a terminal progress
// is redrawn in place; otherwise a line is printed every ten percent.
type progressPrinter struct {
	out         io.Writer
	interactive bool
	// inLine is set while a progress line is drawn without a newline.
	inLine bool
	// lastDecile is the last ten-percent step printed per file.
	lastDecile map[string]int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &progressPrinter{
		out:         out,
		interactive: interactive,
		lastDecile:  make(map[string]int),
	}
}

func (p *progressPrinter) handle(m download.Message) {
	switch m.Type {
	case download.TypeProgress:
		progress, err := m.Progress()
		if err != nil {
			return
		}
		p.progress(progress)
	case download.TypeError:
		p.line(color.RedString("Error: " + m.Text()))
	case download.TypeDone:
		if _, ok := m.SucceededVariant(); ok {
			p.line(color.GreenString("Download complete."))
			return
		}
		p.line(color.YellowString(m.Text()))
	default:
		p.line(m.Text())
	}
}

func (p *progressPrinter) progress(pr download.Progress) {
	text := fmt.Sprintf("%s %s %5.1f%% %s / %s %s",
		pr.Filename, bar(pr.Percent), pr.Percent, pr.Downloaded, pr.Total, pr.Speed)
	if p.interactive {
		fmt.Fprint(p.out, "\r\033[K"+text)
		p.inLine = true
		return
	}
	decile := int(pr.Percent) / 10
	if last, ok := p.lastDecile[pr.Filename]; ok && decile <= last {
		return
	}
	p.lastDecile[pr.Filename] = decile
	fmt.Fprintln(p.out, text)
}

func (p *progressPrinter) line(text string) {
	p.finish()
	fmt.Fprintln(p.out, text)
}

// finish ends a progress line drawn in place.
func (p *progressPrinter) finish() {
	if p.inLine {
		fmt.Fprintln(p.out)
		p.inLine = false
	}
}

func bar(percent float64) string {
	filled := int(percent / 100 * progressBarWidth)
	filled = max(0, min(filled, progressBarWidth))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", progressBarWidth-filled) + "]"
}
