// internal/tui/app.go
//
// Interactive front end for erf, built on bubbletea (The Elm Architecture):
//
// 1. Model: App holds every screen's state
// 2. Update: messages (keys, finished assessments) produce a new state
// 3. View: the state is rendered to a string
//
// Assessments run as tea.Cmds so the UI stays responsive while the report is
// saved and rendered.

package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/emotional-recursion/erf/internal/assessment"
	"github.com/emotional-recursion/erf/internal/history"
	"github.com/emotional-recursion/erf/internal/logbook"
	"github.com/emotional-recursion/erf/internal/report"
)

// appState represents which screen is shown.
type appState int

const (
	stateMainMenu appState = iota
	statePaste
	stateResults
	stateHistory
)

// Menu titles.
const (
	menuReflective    = "Analyze reflective sample"
	menuInformational = "Analyze informational sample"
	menuPaste         = "Paste your own transcript"
	menuHistory       = "Browse history"
	menuQuit          = "Quit"
)

// EmptyInputMessage is shown when a pasted transcript has no content.
const EmptyInputMessage = "No conversation data provided."

const historyPageSize = 50

// Renderer turns report markdown into terminal output.
type Renderer func(md []byte, width int) (string, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithHistory saves each assessment and enables the history screen.
func WithHistory(store *history.Store) AppOption {
	return func(a *App) {
		a.history = store
	}
}

// WithLogbook records each assessment in the journal and shows its tail.
func WithLogbook(book *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = book
	}
}

// WithRenderer overrides markdown rendering, mainly for tests.
func WithRenderer(r Renderer) AppOption {
	return func(a *App) {
		if r != nil {
			a.render = r
		}
	}
}

type analysisDoneMsg struct {
	report   assessment.Report
	rendered string
	err      error
}

type historyLoadedMsg struct {
	entries []history.Entry
	err     error
}

// App is the main application model.
type App struct {
	state    appState
	assessor *assessment.Assessor
	history  *history.Store
	logbook  *logbook.Logbook
	render   Renderer

	mainMenu    list.Model
	historyList list.Model
	input       textarea.Model
	results     viewport.Model

	lastReport *assessment.Report
	statusMsg  string
	busy       bool

	width  int
	height int
}

// menuItem implements list.Item for the main menu.
type menuItem struct {
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

// historyItem implements list.Item for stored assessments.
type historyItem struct {
	entry history.Entry
}

func (i historyItem) Title() string {
	source := i.entry.Source
	if source == "" {
		source = "(pasted)"
	}
	return fmt.Sprintf("%s · p=%.2f · %s", source, i.entry.Probability, i.entry.Level)
}

func (i historyItem) Description() string {
	return fmt.Sprintf("%s · stage %d · %d responses · %s",
		i.entry.CreatedAt.Local().Format("2006-01-02 15:04"), int(i.entry.Stage), i.entry.Responses, i.entry.ID)
}

func (i historyItem) FilterValue() string { return i.entry.Source }

// NewApp creates the TUI model around an assessor.
func NewApp(assessor *assessment.Assessor, opts ...AppOption) *App {
	if assessor == nil {
		assessor = assessment.New()
	}
	mainMenu := list.New(buildMainMenu(), list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "◈ EMOTIONAL RECURSION"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)

	historyList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	historyList.Title = "Assessment history"
	historyList.SetShowStatusBar(false)
	// q leaves the browser; only the main menu quits.
	historyList.KeyMap.Quit.SetEnabled(false)

	input := textarea.New()
	input.Placeholder = "Paste AI responses here, one per line. ctrl+d analyzes, esc cancels."
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.MaxHeight = 0

	app := &App{
		state:       stateMainMenu,
		assessor:    assessor,
		render:      report.RenderMarkdown,
		mainMenu:    mainMenu,
		historyList: historyList,
		input:       input,
		results:     viewport.New(80, 20),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.logbook != nil {
		app.logbook.Info("Session opened")
	}
	return app
}

func buildMainMenu() []list.Item {
	return []list.Item{
		menuItem{title: menuReflective, desc: assessment.SampleReflective.Description},
		menuItem{title: menuInformational, desc: assessment.SampleInformational.Description},
		menuItem{title: menuPaste, desc: "Assess a transcript of your own"},
		menuItem{title: menuHistory, desc: "Open earlier assessments"},
		menuItem{title: menuQuit, desc: "Leave erf"},
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case analysisDoneMsg:
		return a.handleAnalysisDone(msg)

	case historyLoadedMsg:
		a.busy = false
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("History unavailable: %v", msg.err)
			a.state = stateMainMenu
			return a, nil
		}
		items := make([]list.Item, len(msg.entries))
		for i, entry := range msg.entries {
			items[i] = historyItem{entry: entry}
		}
		a.historyList.SetItems(items)
		a.state = stateHistory
		if len(items) == 0 {
			a.statusMsg = "No assessments recorded yet"
		} else {
			a.statusMsg = fmt.Sprintf("%d assessments", len(items))
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			switch a.state {
			case stateMainMenu:
				return a, tea.Quit
			case stateHistory:
				if a.historyList.FilterState() != list.Filtering {
					return a.returnToMainMenu()
				}
			}
		case "esc":
			if a.state != stateMainMenu {
				return a.returnToMainMenu()
			}
		case "ctrl+d":
			if a.state == statePaste {
				return a.submitPaste()
			}
		case "enter":
			switch a.state {
			case stateMainMenu:
				return a.handleMainMenuSelection()
			case stateHistory:
				if a.historyList.FilterState() != list.Filtering {
					return a.openHistorySelection()
				}
			}
		}
	}

	var cmd tea.Cmd
	switch a.state {
	case stateMainMenu:
		a.mainMenu, cmd = a.mainMenu.Update(msg)
	case statePaste:
		a.input, cmd = a.input.Update(msg)
	case stateResults:
		a.results, cmd = a.results.Update(msg)
	case stateHistory:
		a.historyList, cmd = a.historyList.Update(msg)
	}
	return a, cmd
}

// handleMainMenuSelection processes menu item selection.
func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok || a.busy {
		return a, nil
	}
	switch item.title {
	case menuReflective:
		return a.startAnalysis("sample:"+assessment.SampleReflective.Name, assessment.SampleReflective.Text)
	case menuInformational:
		return a.startAnalysis("sample:"+assessment.SampleInformational.Name, assessment.SampleInformational.Text)
	case menuPaste:
		a.state = statePaste
		a.input.Reset()
		a.statusMsg = "Paste a transcript, then press ctrl+d"
		return a, a.input.Focus()
	case menuHistory:
		if a.history == nil {
			a.statusMsg = "History is not available in this session"
			return a, nil
		}
		a.busy = true
		a.statusMsg = "Loading history..."
		return a, a.loadHistory()
	case menuQuit:
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) submitPaste() (tea.Model, tea.Cmd) {
	text := a.input.Value()
	a.input.Blur()
	if strings.TrimSpace(text) == "" {
		a.state = stateMainMenu
		a.statusMsg = EmptyInputMessage
		return a, nil
	}
	return a.startAnalysis("", text)
}

func (a *App) startAnalysis(source, text string) (tea.Model, tea.Cmd) {
	a.busy = true
	a.statusMsg = "Analyzing conversation patterns..."
	return a, a.analyze(source, text)
}

// analyze scores the text, records it and renders the report.
func (a *App) analyze(source, text string) tea.Cmd {
	assessor := a.assessor
	store := a.history
	book := a.logbook
	render := a.render
	width := a.contentWidth()
	return func() tea.Msg {
		r := assessor.Analyze(source, text)
		var errs []error
		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Save(ctx, r); err != nil {
				errs = append(errs, err)
			}
		}
		if book != nil {
			if err := book.Record(r); err != nil {
				errs = append(errs, err)
			}
		}
		rendered, err := render(report.Markdown(r), width)
		if err != nil {
			rendered = string(report.Markdown(r))
			errs = append(errs, err)
		}
		return analysisDoneMsg{report: r, rendered: rendered, err: errors.Join(errs...)}
	}
}

func (a *App) handleAnalysisDone(msg analysisDoneMsg) (tea.Model, tea.Cmd) {
	a.busy = false
	if msg.report.ID == "" && msg.err != nil {
		a.state = stateMainMenu
		a.statusMsg = msg.err.Error()
		return a, nil
	}
	r := msg.report
	a.lastReport = &r
	a.results.SetContent(msg.rendered)
	a.results.GotoTop()
	a.state = stateResults
	a.statusMsg = fmt.Sprintf("Stage %d (%s) · p=%.2f · ↑/↓ scroll · esc back", int(r.CurrentStage), r.CurrentStage, r.Probability)
	if msg.err != nil {
		a.statusMsg += fmt.Sprintf(" · warning: %v", msg.err)
	}
	return a, nil
}

func (a *App) loadHistory() tea.Cmd {
	store := a.history
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		entries, err := store.List(ctx, history.Filter{Limit: historyPageSize})
		return historyLoadedMsg{entries: entries, err: err}
	}
}

func (a *App) openHistorySelection() (tea.Model, tea.Cmd) {
	item, ok := a.historyList.SelectedItem().(historyItem)
	if !ok || a.history == nil {
		return a, nil
	}
	store := a.history
	render := a.render
	width := a.contentWidth()
	id := item.entry.ID
	a.busy = true
	a.statusMsg = "Opening " + id
	return a, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r, err := store.Get(ctx, id)
		if err != nil {
			return analysisDoneMsg{err: fmt.Errorf("could not load %s: %w", id, err)}
		}
		rendered, err := render(report.Markdown(r), width)
		if err != nil {
			rendered = string(report.Markdown(r))
		}
		return analysisDoneMsg{report: r, rendered: rendered, err: err}
	}
}

// returnToMainMenu transitions back to the main menu.
func (a *App) returnToMainMenu() (tea.Model, tea.Cmd) {
	a.state = stateMainMenu
	a.input.Blur()
	a.statusMsg = ""
	return a, nil
}

func (a *App) contentWidth() int {
	if a.width <= 0 {
		return 80
	}
	return max(20, a.width-6)
}

func (a *App) resize() {
	w := a.contentWidth()
	h := max(5, a.height-12)
	a.mainMenu.SetSize(w, h)
	a.historyList.SetSize(w, h)
	a.input.SetWidth(w)
	a.input.SetHeight(h)
	a.results.Width = w
	a.results.Height = h
}

// View renders the current state to a string.
func (a *App) View() string {
	var content string
	switch a.state {
	case stateMainMenu:
		content = a.mainMenu.View()
	case statePaste:
		content = a.input.View()
	case stateResults:
		content = a.results.View()
	case stateHistory:
		content = a.historyList.View()
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("◈ ERF")
	body := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(content)
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" && a.state == stateMainMenu {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "journal"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("JOURNAL · %s · %d entries", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
