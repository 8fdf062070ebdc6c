package output

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/tdh8316/nameprobe/internal/progress"
)

// Printer is the console progress sink.
type Printer struct {
	noColor bool
	verbose bool

	mu    sync.Mutex
	out   io.Writer
	taken int
	fails int
}

func NewPrinter(stdout io.Writer, noColor, verbose bool) *Printer {
	return &Printer{
		noColor: noColor,
		verbose: verbose,
		out:     stdout,
	}
}

func (p *Printer) paint(c *color.Color, s string) string {
	if p.noColor {
		return s
	}
	return c.Sprint(s)
}

var (
	takenColor     = color.New(color.FgHiRed)
	availableColor = color.New(color.FgHiGreen)
	errorColor     = color.New(color.FgHiYellow)
	siteColor      = color.New(color.FgHiWhite)
	infoColor      = color.New(color.FgHiBlue)
)

func (p *Printer) Header(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, "Checking availability for username: %s\n\n", p.paint(availableColor, username))
}

// Emit writes one line per finished probe and a summary at completion.
func (p *Printer) Emit(_ context.Context, ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev := ev.(type) {
	case progress.Update:
		p.update(ev)
	case progress.Completion:
		_, _ = fmt.Fprintf(p.out, "\n[%s] Checked %d site(s): %d taken, %d error(s)\n",
			p.paint(infoColor, "i"), ev.Total, p.taken, p.fails)
	}
}

func (p *Printer) update(u progress.Update) {
	site := p.paint(siteColor, u.Site)
	switch {
	case u.Error != "":
		p.fails++
		_, _ = fmt.Fprintf(p.out, "%s %s - %s\n", p.paint(errorColor, "Error"), site, u.Error)
	case u.IsTaken:
		p.taken++
		_, _ = fmt.Fprintf(p.out, "%s %s - %s\n", p.paint(takenColor, u.Status), site, u.URL)
	default:
		_, _ = fmt.Fprintf(p.out, "%s %s - %s\n", p.paint(availableColor, u.Status), site, u.URL)
	}
	if p.verbose {
		_, _ = fmt.Fprintf(p.out, "    [%d/%d] logo: %s\n", u.Completed, u.Total, u.LogoURL)
	}
}

func (p *Printer) Info(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, "[%s] %s\n", p.paint(infoColor, "i"), fmt.Sprintf(format, args...))
}

func (p *Printer) Warn(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, "[%s] %s\n", p.paint(takenColor, "!"), p.paint(errorColor, fmt.Sprintf(format, args...)))
}
