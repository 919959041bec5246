// Package installer is the Bubble Tea front end of the installer. It maps
// keys to dispatcher events and draws the snapshots the app publishes; it
// never mutates installer state itself.
package installer

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/optimeist/optimeist/internal/app"
	"github.com/optimeist/optimeist/internal/events"
	"github.com/optimeist/optimeist/internal/install"
	"github.com/optimeist/optimeist/internal/keys"
	"github.com/optimeist/optimeist/internal/loadstate"
	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/pubsub"
	"github.com/optimeist/optimeist/internal/ui/styles"
)

const maxLogLines = 200

// Sink receives the events produced by key presses.
type Sink interface {
	Send(events.Event) bool
}

// Renderer publishes app snapshots to the UI. It implements app.Renderer.
type Renderer struct {
	broker *pubsub.Broker[app.Snapshot]
}

// NewRenderer creates a renderer with its own broker.
func NewRenderer() *Renderer {
	return &Renderer{broker: pubsub.NewBrokerWithBuffer[app.Snapshot](64)}
}

// Render publishes s without blocking.
func (r *Renderer) Render(s app.Snapshot) {
	r.broker.Publish(pubsub.UpdatedEvent, s)
}

// Close ends every subscription.
func (r *Renderer) Close() { r.broker.Close() }

// Options configures the model.
type Options struct {
	Region string
	// Debug enables the log panel.
	Debug bool
}

// Model is the installer screen.
type Model struct {
	keys  keys.KeyMap
	help  help.Model
	input Sink
	opts  Options

	snapshots *pubsub.ContinuousListener[app.Snapshot]
	logs      *log.LogListener

	snap     app.Snapshot
	frames   []string
	width    int
	height   int
	showLogs bool
	logLines []string
	quitting bool
}

// New creates the model. ctx bounds the snapshot and log subscriptions.
func New(ctx context.Context, input Sink, renderer *Renderer, opts Options) Model {
	m := Model{
		keys:      keys.DefaultKeyMap(),
		help:      help.New(),
		input:     input,
		opts:      opts,
		snapshots: pubsub.NewContinuousListener(ctx, renderer.broker),
		frames:    spinner.MiniDot.Frames,
		snap: app.Snapshot{
			View:   events.ViewFunctions,
			Status: loadstate.StatusPending,
		},
	}
	if opts.Debug {
		m.logs = log.NewListener(ctx)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.snapshots.Listen()}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Listen())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case pubsub.Event[app.Snapshot]:
		m.snap = msg.Payload
		return m, m.snapshots.Listen()

	case log.LogEvent:
		m.logLines = append(m.logLines, strings.TrimRight(msg.Payload, "\n"))
		if len(m.logLines) > maxLogLines {
			m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
		}
		return m, m.logs.Listen()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.input.Send(events.Quit{})
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.input.Send(events.Navigate{Delta: -1})
	case key.Matches(msg, m.keys.Down):
		m.input.Send(events.Navigate{Delta: 1})
	case key.Matches(msg, m.keys.Toggle):
		m.input.Send(events.ToggleCurrent{})
	case key.Matches(msg, m.keys.ToggleAll):
		m.input.Send(events.ToggleAll{})
	case key.Matches(msg, m.keys.Confirm):
		m.input.Send(events.Confirm{})
	case key.Matches(msg, m.keys.Refresh):
		m.input.Send(events.FetchRequested{})
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Logs):
		if m.opts.Debug {
			m.showLogs = !m.showLogs
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")

	switch m.snap.View {
	case events.ViewProgress:
		b.WriteString(m.progressView())
	default:
		b.WriteString(m.functionsView())
	}

	if m.showLogs {
		b.WriteString("\n")
		b.WriteString(m.logView())
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) header() string {
	title := styles.TitleStyle.Render("optimeist")
	if m.opts.Region != "" {
		title += styles.MutedStyle.Render("  " + m.opts.Region)
	}
	if m.snap.Status == loadstate.StatusReady && m.snap.View == events.ViewFunctions {
		title += styles.MutedStyle.Render(fmt.Sprintf("  %d/%d selected", m.snap.SelectedCount(), len(m.snap.Functions)))
	}
	return title
}

func (m Model) spinnerFrame() string {
	return styles.SpinnerStyle.Render(m.frames[m.snap.Ticks%len(m.frames)])
}

func (m Model) functionsView() string {
	switch m.snap.Status {
	case loadstate.StatusPending:
		return m.spinnerFrame() + " Loading Lambda functions..."
	case loadstate.StatusFailed:
		return styles.ErrorStyle.Render(fmt.Sprintf("Failed to load functions: %v", m.snap.Err)) +
			"\n" + styles.MutedStyle.Render("press r to retry")
	}

	if len(m.snap.Functions) == 0 {
		return styles.MutedStyle.Render("No Lambda functions found in this region.")
	}

	start, end := visibleRange(m.snap.Cursor, len(m.snap.Functions), m.listHeight())
	var b strings.Builder
	for i := start; i < end; i++ {
		b.WriteString(m.functionRow(m.snap.Functions[i], i == m.snap.Cursor))
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) functionRow(fn install.Function, current bool) string {
	indicator := "  "
	if current {
		indicator = styles.SelectionIndicatorStyle.Render(">") + " "
	}
	check := "[ ]"
	if fn.Selected {
		check = styles.SuccessStyle.Render("[x]")
	}

	details := fmt.Sprintf("%s %s %dMB", fn.Runtime, fn.Architecture, fn.MemoryMB)
	badge := ""
	if fn.Installed {
		badge = " " + styles.SuccessStyle.Render("installed")
	}

	nameWidth := 40
	if m.width > 0 {
		nameWidth = max(m.width-len(details)-24, 10)
	}
	name := styles.TruncateString(fn.Name, nameWidth)
	pad := strings.Repeat(" ", max(nameWidth-lipgloss.Width(name), 0))
	return fmt.Sprintf("%s%s %s%s  %s%s", indicator, check, name, pad, styles.SecondaryStyle.Render(details), badge)
}

func (m Model) listHeight() int {
	if m.height <= 0 {
		return 20
	}
	reserved := 6
	if m.showLogs {
		reserved += logPanelHeight + 2
	}
	return max(m.height-reserved, 3)
}

// visibleRange returns the window of rows that keeps cursor visible.
func visibleRange(cursor, total, height int) (int, int) {
	if total <= height {
		return 0, total
	}
	start := max(cursor-height/2, 0)
	end := start + height
	if end > total {
		end = total
		start = end - height
	}
	return start, end
}

func (m Model) progressView() string {
	p := m.snap.Progress
	if p == nil {
		return m.spinnerFrame() + " Preparing install..."
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = min(max(m.width-20, 10), 60)
	}
	line := fmt.Sprintf("%s %d/%d", styles.ProgressBar(p.Ratio(), barWidth), p.Completed, p.Total)

	switch {
	case m.snap.Joined && m.snap.Failed > 0:
		return line + "\n\n" + styles.WarningStyle.Render(
			fmt.Sprintf("Installed on %d of %d functions; %d failed (see log).", p.Total-m.snap.Failed, p.Total, m.snap.Failed)) +
			"\n" + styles.MutedStyle.Render("press r to reload, q to quit")
	case m.snap.Joined:
		return line + "\n\n" + styles.SuccessStyle.Render(fmt.Sprintf("Installed on %d functions.", p.Total)) +
			"\n" + styles.MutedStyle.Render("press r to reload, q to quit")
	default:
		return m.spinnerFrame() + " Installing extension\n\n" + line
	}
}

const logPanelHeight = 8

func (m Model) logView() string {
	lines := m.logLines
	if len(lines) > logPanelHeight {
		lines = lines[len(lines)-logPanelHeight:]
	}
	width := 80
	if m.width > 4 {
		width = m.width - 4
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = styles.TruncateString(l, width)
	}
	if len(out) == 0 {
		out = []string{styles.MutedStyle.Render("no log entries yet")}
	}
	return styles.LogPanelStyle.Render(strings.Join(out, "\n"))
}
