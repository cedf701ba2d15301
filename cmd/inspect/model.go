package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	asyncssr "github.com/revskill10/react-async-ssr"
)

type regionStatus int

const (
	statusPending regionStatus = iota
	statusResolved
	statusFailed
	statusSkipped
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	resolvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skippedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	htmlStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// settledMsg reports that one region's promise settled and its subtree render
// finished. The graft into the shared tree happens in Update, which bubbletea
// runs serially.
type settledMsg struct {
	region  int
	pending asyncssr.NodeID
	sub     *asyncssr.Tree
	err     error
}

type model struct {
	scenario *Scenario
	renderer *asyncssr.Renderer
	tree     *asyncssr.Tree
	regions  []*regionInfo
	status   []regionStatus
	took     []time.Duration

	spinner spinner.Model
	start   time.Time
	open    int
	done    bool
	html    string
	initial []tea.Cmd
}

func newModel(sc *Scenario, renderer *asyncssr.Renderer) (*model, error) {
	el, regions, err := sc.build()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tree, err := renderer.RenderTree(el)
	if err != nil {
		return nil, err
	}

	m := &model{
		scenario: sc,
		renderer: renderer,
		tree:     tree,
		regions:  regions,
		status:   make([]regionStatus, len(regions)),
		took:     make([]time.Duration, len(regions)),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(pendingStyle)),
		start:    start,
	}

	// Regions whose promise opted out of server rendering were aborted
	// during the initial pass and never show up in the pending list.
	byPromise := make(map[asyncssr.Deferred]int, len(regions))
	for i, r := range regions {
		if r.noSSR {
			m.status[i] = statusSkipped
			continue
		}
		byPromise[r.promise] = i
	}

	for _, id := range tree.Pending() {
		idx, ok := byPromise[tree.DeferredOf(id)]
		if !ok {
			continue
		}
		m.open++
		m.initial = append(m.initial, m.resolveCmd(idx, id))
	}
	if m.open == 0 {
		m.finish()
	}
	return m, nil
}

// resolveCmd waits for the region's promise, renders its subtree off the UI
// goroutine, and hands the result back as a message. Nested async content
// inside the subtree is resolved to completion here as well.
func (m *model) resolveCmd(idx int, id asyncssr.NodeID) tea.Cmd {
	r := m.regions[idx]
	return func() tea.Msg {
		<-r.promise.Done()
		if _, err := r.promise.Result(); err != nil {
			return settledMsg{region: idx, pending: id, err: err}
		}
		sub, err := m.renderer.Resume(m.tree, id)
		if err != nil {
			return settledMsg{region: idx, pending: id, err: err}
		}
		if err := m.drain(sub); err != nil {
			return settledMsg{region: idx, pending: id, err: err}
		}
		return settledMsg{region: idx, pending: id, sub: sub}
	}
}

// drain fully resolves every pending region of a detached subtree.
func (m *model) drain(t *asyncssr.Tree) error {
	for {
		ids := t.Pending()
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			d := t.DeferredOf(id)
			p, ok := d.(*asyncssr.Promise)
			if !ok {
				return fmt.Errorf("pending node %d holds no promise", id)
			}
			<-p.Done()
			if _, err := p.Result(); err != nil {
				return err
			}
			sub, err := m.renderer.Resume(t, id)
			if err != nil {
				return err
			}
			if err := m.drain(sub); err != nil {
				return err
			}
			t.Graft(id, sub)
		}
	}
}

func (m *model) finish() {
	m.done = true
	m.html = m.tree.HTML()
}

func (m *model) Init() tea.Cmd {
	cmds := append([]tea.Cmd{m.spinner.Tick}, m.initial...)
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case settledMsg:
		m.open--
		m.took[msg.region] = time.Since(m.start)
		if msg.err != nil {
			m.status[msg.region] = statusFailed
		} else {
			m.tree.Graft(msg.pending, msg.sub)
			m.status[msg.region] = statusResolved
		}
		if m.open == 0 {
			m.finish()
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("async ssr inspector"))
	b.WriteString(fmt.Sprintf("  %s\n\n", m.scenario.Name))

	for i, r := range m.regions {
		var line string
		switch m.status[i] {
		case statusPending:
			line = fmt.Sprintf("%s %s  waiting (%s)", m.spinner.View(), r.label, r.delay)
		case statusResolved:
			line = resolvedStyle.Render(fmt.Sprintf("✓ %s  resolved after %s", r.label, m.took[i].Round(time.Millisecond)))
		case statusFailed:
			line = failedStyle.Render(fmt.Sprintf("✗ %s  failed", r.label))
		case statusSkipped:
			line = skippedStyle.Render(fmt.Sprintf("- %s  skipped, renders in the browser", r.label))
		}
		b.WriteString("  " + line + "\n")
	}

	if m.done {
		b.WriteString("\n" + htmlStyle.Render(m.html) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("q to quit"))
	return b.String()
}
