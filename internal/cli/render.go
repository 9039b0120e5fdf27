package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/stream"
)

// printer writes the assistant message to a terminal as it streams in.
// It remembers the metrics of the last finished run for the footer.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
	last    *stream.Metrics
	outcome stream.State
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// OnTransition implements stream.Observer.
func (p *printer) OnTransition(t stream.Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch t.To {
	case stream.StateDispatched:
		p.printed = 0
	case stream.StateStreaming:
		p.writeText(t.Message)
	case stream.StateCompleted:
		p.writeText(t.Message)
		p.endLine()
		for _, call := range t.Message.ToolCalls {
			fmt.Fprintf(p.out, "-> %s(%s) [%s]\n", call.Function.Name, call.Function.Arguments, call.ID)
		}
		p.finish(t)
	case stream.StateCancelled:
		p.writeText(t.Message)
		p.endLine()
		fmt.Fprintln(p.out, "[cancelled]")
		p.finish(t)
	case stream.StateFailed:
		p.endLine()
		p.finish(t)
	}
}

func (p *printer) writeText(m chat.Message) {
	text, ok := m.Content.Text()
	if !ok || len(text) <= p.printed {
		return
	}
	io.WriteString(p.out, text[p.printed:])
	p.printed = len(text)
}

func (p *printer) endLine() {
	if p.printed > 0 {
		fmt.Fprintln(p.out)
		p.printed = 0
	}
}

func (p *printer) finish(t stream.Transition) {
	p.outcome = t.To
	if t.Metrics != nil {
		m := *t.Metrics
		p.last = &m
	} else {
		p.last = nil
	}
}

// lastRun returns the metrics and outcome of the most recent finished run.
func (p *printer) lastRun() (*stream.Metrics, stream.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.outcome
}

// formatMetrics renders the measurements that are known.
func formatMetrics(m stream.Metrics) string {
	var parts []string
	if d, ok := m.TimeToFirstFragment(); ok {
		parts = append(parts, "first fragment "+d.Round(time.Millisecond).String())
	}
	if r, ok := m.FragmentsPerSecond(); ok {
		parts = append(parts, fmt.Sprintf("%.1f fragments/s", r))
	}
	if m.FragmentCount != nil {
		parts = append(parts, fmt.Sprintf("%d fragments", *m.FragmentCount))
	}
	if d, ok := m.Duration(); ok {
		parts = append(parts, "total "+d.Round(time.Millisecond).String())
	}
	if len(parts) == 0 {
		return "no timing data"
	}
	return strings.Join(parts, ", ")
}

// formatMessage renders one conversation entry for /history and history show.
func formatMessage(i int, m chat.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", i, m.Role)
	if m.ToolCallID != "" {
		fmt.Fprintf(&b, " (%s)", m.ToolCallID)
	}
	b.WriteString(": ")
	switch {
	case m.Content.IsNull():
		b.WriteString("(no content)")
	default:
		b.WriteString(m.Content.String())
	}
	for _, call := range m.ToolCalls {
		fmt.Fprintf(&b, "\n    -> %s(%s) [%s]", call.Function.Name, call.Function.Arguments, call.ID)
	}
	return b.String()
}
