// internal/tui/app.go
//
// This is the terminal viewer for a live catalog. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the capabilities, the component list, the implementor pane
// 2. Update: reacts to keys, window resizes and catalog updates
// 3. View: renders tabs, list, detail pane and status bar
//
// Catalog updates arrive on a pubsub subscription and are turned into
// messages, so the screen refreshes whenever a fragment lands.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/implindex/internal/implindex"
	"github.com/kingrea/implindex/internal/logbook"
	"github.com/kingrea/implindex/internal/pubsub"
)

type paneFocus int

const (
	focusList paneFocus = iota
	focusDetail
)

var (
	tabStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Padding(0, 1)
	tabActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true).Padding(0, 1).Underline(true)
	stateOpenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	stateQueuedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	detailTextStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	boxStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	footerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
)

// updateMsg carries one catalog event into the bubbletea loop.
type updateMsg struct {
	event pubsub.Event[implindex.Update]
}

// updatesClosedMsg reports that the subscription ended.
type updatesClosedMsg struct{}

// componentItem implements list.Item for one component of the active capability.
type componentItem struct {
	name  string
	count int
}

func (i componentItem) Title() string       { return i.name }
func (i componentItem) Description() string { return fmt.Sprintf("%d implementor(s)", i.count) }
func (i componentItem) FilterValue() string { return i.name }

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook shows the tail of the handoff journal under the index.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// App is the viewer model.
type App struct {
	catalog *implindex.Catalog
	logbook *logbook.Logbook
	updates <-chan pubsub.Event[implindex.Update]

	capabilities []string
	active       int
	focus        paneFocus
	components   list.Model
	detail       viewport.Model
	selected     string

	statusMsg string
	width     int
	height    int
}

// NewApp creates a viewer for cat. The subscription to catalog updates lives
// until ctx is done.
func NewApp(ctx context.Context, cat *implindex.Catalog, opts ...AppOption) *App {
	components := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	components.Title = "Components"
	components.SetShowStatusBar(false)
	components.SetShowHelp(false)
	a := &App{
		catalog:    cat,
		updates:    cat.Subscribe(ctx),
		components: components,
		detail:     viewport.New(0, 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.reload()
	return a
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.waitForUpdate()
}

func (a *App) waitForUpdate() tea.Cmd {
	updates := a.updates
	return func() tea.Msg {
		evt, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg{event: evt}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case updateMsg:
		u := msg.event.Payload
		a.statusMsg = fmt.Sprintf("%s %s · rev %d · %d pending", msg.event.Type, u.Capability, u.Revision, u.Pending)
		a.reload()
		return a, a.waitForUpdate()

	case updatesClosedMsg:
		a.statusMsg = "Catalog closed"
		return a, nil

	case tea.KeyMsg:
		if a.components.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return a, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "tab":
			a.switchCapability(1)
			return a, nil
		case "shift+tab":
			a.switchCapability(-1)
			return a, nil
		case "o":
			if a.catalog.IsOpen() {
				a.statusMsg = "Catalog already open"
			} else {
				drained := a.catalog.Open()
				a.logbook.Info("catalog opened from viewer, drained %d pending mapping(s)", drained)
				a.statusMsg = fmt.Sprintf("Opened catalog, drained %d pending mapping(s)", drained)
			}
			a.reload()
			return a, nil
		case "r":
			a.reload()
			a.statusMsg = "Refreshed"
			return a, nil
		case "enter", "right", "l":
			if a.focus == focusList && a.selected != "" {
				a.focus = focusDetail
				return a, nil
			}
		case "esc", "left", "h":
			if a.focus == focusDetail {
				a.focus = focusList
				return a, nil
			}
		}
	}

	var cmd tea.Cmd
	if a.focus == focusDetail {
		a.detail, cmd = a.detail.Update(msg)
		return a, cmd
	}
	a.components, cmd = a.components.Update(msg)
	a.syncDetail()
	return a, cmd
}

// ActiveCapability returns the capability shown in the list.
func (a *App) ActiveCapability() string {
	if a.active < 0 || a.active >= len(a.capabilities) {
		return ""
	}
	return a.capabilities[a.active]
}

func (a *App) switchCapability(step int) {
	if len(a.capabilities) == 0 {
		return
	}
	a.active = (a.active + step + len(a.capabilities)) % len(a.capabilities)
	a.focus = focusList
	a.selected = ""
	a.components.ResetFilter()
	a.components.Select(0)
	a.reload()
}

// reload re-reads the catalog, keeping the active capability and the
// selected component when they still exist.
func (a *App) reload() {
	current := a.ActiveCapability()
	a.capabilities = a.catalog.Capabilities()
	a.active = 0
	for i, name := range a.capabilities {
		if name == current {
			a.active = i
			break
		}
	}
	var items []list.Item
	if capability := a.ActiveCapability(); capability != "" {
		entries, _ := a.catalog.Index(capability).Snapshot()
		items = make([]list.Item, 0, len(entries))
		for _, e := range entries {
			items = append(items, componentItem{name: e.Component, count: len(e.Implementors)})
		}
	}
	selected := a.selected
	a.components.SetItems(items)
	for i, item := range items {
		if item.(componentItem).name == selected {
			a.components.Select(i)
			break
		}
	}
	a.syncDetail()
}

func (a *App) syncDetail() {
	item, ok := a.components.SelectedItem().(componentItem)
	if !ok {
		a.selected = ""
		a.detail.SetContent("")
		return
	}
	a.selected = item.name
	impls, _ := a.catalog.Index(a.ActiveCapability()).Lookup(item.name)
	a.detail.SetContent(renderImplementors(item.name, impls))
}

func renderImplementors(component string, impls []implindex.Descriptor) string {
	if len(impls) == 0 {
		return detailTextStyle.Render(fmt.Sprintf("%s provides no implementors.", component))
	}
	lines := make([]string, 0, len(impls))
	for _, d := range impls {
		lines = append(lines, "• "+d.Text())
	}
	return strings.Join(lines, "\n")
}

func (a *App) resize() {
	width := max(40, a.width)
	listWidth := max(20, width/3)
	detailWidth := max(20, width-listWidth-8)
	bodyHeight := max(5, a.height-12)
	a.components.SetSize(listWidth, bodyHeight)
	a.detail.Width = detailWidth
	a.detail.Height = bodyHeight
}

// View renders the current state to a string.
func (a *App) View() string {
	if len(a.capabilities) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left,
			a.renderTabs(),
			boxStyle.Render("No fragments delivered yet."),
			a.renderStatusBar(),
		)
	}
	listBox := boxStyle.Render(a.components.View())
	detailBox := boxStyle.Render(a.detail.View())
	if a.focus == focusDetail {
		detailBox = boxStyle.BorderForeground(lipgloss.Color("#5B8DEF")).Render(a.detail.View())
	} else {
		listBox = boxStyle.BorderForeground(lipgloss.Color("#5B8DEF")).Render(a.components.View())
	}
	sections := []string{
		a.renderTabs(),
		lipgloss.JoinHorizontal(lipgloss.Top, listBox, detailBox),
	}
	if panel := a.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	sections = append(sections, a.renderStatusBar())
	return strings.Join(sections, "\n")
}

func (a *App) renderTabs() string {
	if len(a.capabilities) == 0 {
		return tabStyle.Render("(no capabilities)")
	}
	tabs := make([]string, 0, len(a.capabilities))
	for i, name := range a.capabilities {
		if i == a.active {
			tabs = append(tabs, tabActiveStyle.Render(name))
			continue
		}
		tabs = append(tabs, tabStyle.Render(name))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) renderStatusBar() string {
	state := stateQueuedStyle.Render("QUEUEING")
	if a.catalog.IsOpen() {
		state = stateOpenStyle.Render("OPEN")
	}
	parts := []string{state}
	if capability := a.ActiveCapability(); capability != "" {
		ix := a.catalog.Index(capability)
		parts = append(parts, fmt.Sprintf("%s · rev %d · %d component(s)", capability, ix.Revision(), ix.Len()))
	}
	parts = append(parts, fmt.Sprintf("%d pending", a.catalog.Pending()))
	if a.statusMsg != "" {
		parts = append(parts, a.statusMsg)
	}
	line := strings.Join(parts, " · ")
	hint := "tab → next capability   / → filter   enter → implementors   o → open   q → quit"
	return footerStyle.Render(line + "\n" + hint)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(5)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("HANDOFFS · %s (%d)", fileName, total))
	body := detailTextStyle.Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}
