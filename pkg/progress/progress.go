// Package progress provides a console progress bar
package progress

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Bar redraws a single console line in place using backspaces
type Bar struct {
	out         io.Writer
	total       int
	blockCount  int
	startTime   time.Time
	currentText string
	mutex       sync.Mutex
	done        bool
}

// New creates a bar for total units of work writing to out
func New(out io.Writer, total int) *Bar {
	p := &Bar{
		out:        out,
		total:      total,
		blockCount: 50,
		startTime:  time.Now(),
	}
	p.updateText(p.render(0, 0))
	return p
}

// Report redraws the bar for completed units
func (p *Bar) Report(completed int) {
	p.mutex.Lock()
	done := p.done
	p.mutex.Unlock()
	if done {
		return
	}

	value := 0.0
	if p.total > 0 {
		value = float64(completed) / float64(p.total)
	}
	if value >= 0.999 {
		value = 1.0
	}
	value = math.Max(0, math.Min(1, value))

	rate := 0.0
	if elapsed := time.Since(p.startTime).Seconds(); elapsed > 0 {
		rate = float64(completed) / elapsed
	}
	p.updateText(p.render(value, completed) + fmt.Sprintf(" %.0f req/s", rate))
}

func (p *Bar) render(value float64, completed int) string {
	filled := int(value * float64(p.blockCount))
	return fmt.Sprintf(" %3d%% [%s%s] (%d/%d)",
		int(value*100),
		strings.Repeat("=", filled),
		strings.Repeat(" ", p.blockCount-filled),
		completed, p.total)
}

// Complete draws the final state and ends the line
func (p *Bar) Complete(elapsed time.Duration, completed int) {
	p.mutex.Lock()
	if p.done {
		p.mutex.Unlock()
		return
	}
	p.mutex.Unlock()

	p.updateText(fmt.Sprintf(" 100%% [%s] %.2fs (%d requests)",
		strings.Repeat("=", p.blockCount), elapsed.Seconds(), completed))

	p.mutex.Lock()
	p.done = true
	p.mutex.Unlock()
	fmt.Fprintln(p.out)
}

// updateText rewrites only the part of the line that changed
func (p *Bar) updateText(text string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	commonPrefixLength := 0
	commonLength := min(len(p.currentText), len(text))
	for commonPrefixLength < commonLength && text[commonPrefixLength] == p.currentText[commonPrefixLength] {
		commonPrefixLength++
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat("\b", len(p.currentText)-commonPrefixLength))
	sb.WriteString(text[commonPrefixLength:])

	if overlap := len(p.currentText) - len(text); overlap > 0 {
		sb.WriteString(strings.Repeat(" ", overlap))
		sb.WriteString(strings.Repeat("\b", overlap))
	}

	fmt.Fprint(p.out, sb.String())
	p.currentText = text
}
