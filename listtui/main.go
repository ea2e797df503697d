package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/docopt/docopt-go"

	"courses.app/listsync"
)

const ListTuiVersion = "0.0.1"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	sectionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	checkedStyle  = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	mutedStyle    = lipgloss.NewStyle().Faint(true)
	selectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Faint(true)

	boxChecked   = "☑"
	boxUnchecked = "☐"
)

var Err *log.Logger

func init() {
	Err = log.New(os.Stderr, "", 0)
}

func main() {
	usage := `Interactive list view.

The default urls are:
    api_url: https://lists.courses.app/api
    ws_url: wss://lists.courses.app

Usage:
    listtui [--api_url=<api_url>] [--ws_url=<ws_url>] [--token=<token>] <list_id>

Options:
    -h --help          Show this screen.
    --version          Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --token=<token>    Your access token.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ListTuiVersion)
	if err != nil {
		panic(err)
	}

	listIdStr, _ := opts.String("<list_id>")
	listId, err := listsync.ParseId(listIdStr)
	if err != nil {
		Err.Printf("Invalid list_id (%s).\n", err)
		os.Exit(1)
	}

	apiUrl := "https://lists.courses.app/api"
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		apiUrl = apiUrl_
	}
	wsUrl := "wss://lists.courses.app"
	if wsUrl_, err := opts.String("--ws_url"); err == nil && wsUrl_ != "" {
		wsUrl = wsUrl_
	}
	token := ""
	if token_, err := opts.String("--token"); err == nil {
		token = token_
	}
	var auth *listsync.ChannelAuth
	if token != "" {
		auth = &listsync.ChannelAuth{ByToken: token}
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := listsync.NewListChannelWithDefaults(cancelCtx, wsUrl, auth)
	defer channel.Close()
	session := listsync.NewListSessionForChannel(channel, listsync.DefaultListSessionSettings())
	defer session.Close()

	// sections come over the api, not the channel. without them the
	// section keys have nothing to act on and every item projects into
	// the unsectioned group.
	api := listsync.NewListsApi(apiUrl)
	api.SetByToken(token)
	defer api.Close()
	callback, c := listsync.NewBlockingApiCallback[*listsync.ListDetailResult]()
	api.GetList(listId, callback)
	if result := <-c; result.Error == nil {
		session.SetSections(result.Result.Sections)
	} else {
		Err.Printf("Could not load sections (%s).\n", result.Error)
	}

	m := newModel(session, listId)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// reconciled changes land on the session's goroutines; bridge them
	// into the program's message loop
	removeCallback := session.AddChangeCallback(func() {
		p.Send(stateChangedMsg{})
	})
	defer removeCallback()

	session.Open(listId)

	if _, err := p.Run(); err != nil {
		Err.Printf("%s\n", err)
		os.Exit(1)
	}
}

// stateChangedMsg signals that the grouped view should be re-read.
type stateChangedMsg struct{}

// row is one rendered line: a section header or an item under it.
type row struct {
	header      bool
	sectionName string
	item        *listsync.Item
	// headers only: how many checked items the group holds, whether or
	// not they are currently visible
	checkedCount int
}

type inputMode int

const (
	inputNone inputMode = iota
	inputAdd
	inputEdit
)

type model struct {
	session *listsync.ListSession
	listId  listsync.Id

	rows        []row
	cursor      int
	hideChecked bool

	mode   inputMode
	input  textinput.Model
	editId listsync.Id
	inErr  string

	width  int
	height int
}

func newModel(session *listsync.ListSession, listId listsync.Id) model {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 200

	m := model{
		session: session,
		listId:  listId,
		input:   input,
		width:   80,
		height:  24,
	}
	m.reload()
	return m
}

// reload rebuilds the row list from the current grouped view, keeping
// the cursor on the same item when it still exists.
func (m *model) reload() {
	var cursorItemId listsync.Id
	if item := m.currentItem(); item != nil {
		cursorItemId = item.ItemId
	}

	grouped := m.session.GroupedView()
	rows := []row{}
	for _, sectionName := range grouped.SectionNames {
		group := grouped.Group(sectionName)
		if sectionName == listsync.UnsectionedName && len(group) == 0 {
			continue
		}
		checkedCount := 0
		for _, item := range group {
			if item.Checked {
				checkedCount += 1
			}
		}
		rows = append(rows, row{header: true, sectionName: sectionName, checkedCount: checkedCount})
		for _, item := range group {
			if m.hideChecked && item.Checked {
				continue
			}
			rows = append(rows, row{sectionName: sectionName, item: item})
		}
	}
	m.rows = rows

	if !cursorItemId.IsZero() {
		for i, r := range rows {
			if r.item != nil && r.item.ItemId == cursorItemId {
				m.cursor = i
				return
			}
		}
	}
	m.clampCursor()
}

func (m *model) clampCursor() {
	if len(m.rows) == 0 {
		m.cursor = 0
		return
	}
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	// never rest on a header when an item is adjacent
	for m.cursor < len(m.rows)-1 && m.rows[m.cursor].header {
		m.cursor += 1
	}
}

func (m *model) currentItem() *listsync.Item {
	if 0 <= m.cursor && m.cursor < len(m.rows) {
		return m.rows[m.cursor].item
	}
	return nil
}

func (m *model) currentSectionName() string {
	if 0 <= m.cursor && m.cursor < len(m.rows) {
		return m.rows[m.cursor].sectionName
	}
	return listsync.UnsectionedName
}

func (m *model) moveCursor(delta int) {
	next := m.cursor + delta
	for 0 <= next && next < len(m.rows) {
		if !m.rows[next].header {
			m.cursor = next
			return
		}
		next += delta
	}
}

// neighborItem finds the adjacent item inside the same section, for
// drag-style reordering with the keyboard.
func (m *model) neighborItem(delta int) *listsync.Item {
	item := m.currentItem()
	if item == nil {
		return nil
	}
	next := m.cursor + delta
	if 0 <= next && next < len(m.rows) {
		neighbor := m.rows[next]
		if neighbor.item != nil && neighbor.sectionName == m.rows[m.cursor].sectionName {
			return neighbor.item
		}
	}
	return nil
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateChangedMsg:
		m.reload()
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	if m.mode != inputNone {
		return m.updateInput(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.moveCursor(-1)
		case "down", "j":
			m.moveCursor(1)
		case " ":
			if item := m.currentItem(); item != nil {
				m.session.ToggleItem(item.ItemId)
			}
		case "d":
			if item := m.currentItem(); item != nil {
				m.session.DeleteItem(item.ItemId)
			}
		case "a":
			m.mode = inputAdd
			m.inErr = ""
			m.input.SetValue("")
			m.input.Placeholder = "New item..."
			m.input.Focus()
		case "e":
			if item := m.currentItem(); item != nil && !item.ItemId.IsZero() {
				m.mode = inputEdit
				m.editId = item.ItemId
				m.inErr = ""
				m.input.SetValue(item.Name)
				m.input.CursorEnd()
				m.input.Placeholder = "Item name..."
				m.input.Focus()
			}
		case "m":
			m.moveToNextSection()
		case "K":
			if item, target := m.currentItem(), m.neighborItem(-1); item != nil && target != nil {
				m.session.ApplyIntent(m.session.ResolveDrag(
					listsync.DragDescriptor{ItemId: item.ItemId},
					listsync.DropDescriptor{ItemId: target.ItemId},
				))
			}
		case "J":
			if item, target := m.currentItem(), m.neighborItem(1); item != nil && target != nil {
				m.session.ApplyIntent(m.session.ResolveDrag(
					listsync.DragDescriptor{ItemId: item.ItemId},
					listsync.DropDescriptor{ItemId: target.ItemId},
				))
			}
		case "[":
			m.reorderSection(-1)
		case "]":
			m.reorderSection(1)
		case "s":
			sectionName := m.currentSectionName()
			if sectionName != listsync.UnsectionedName {
				m.session.SortSection(sectionName)
			}
		case "h":
			m.hideChecked = !m.hideChecked
			m.reload()
		}
	}
	return m, nil
}

func (m model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			if value == "" {
				m.inErr = "Name cannot be empty"
				return m, nil
			}
			switch m.mode {
			case inputAdd:
				sectionName := m.currentSectionName()
				if sectionName == listsync.UnsectionedName {
					sectionName = ""
				}
				m.session.AddItem(value, "", "", sectionName)
			case inputEdit:
				if item := m.session.Item(m.editId); item != nil {
					m.session.EditItem(m.editId, value, item.Quantity, item.Notes)
				}
			}
			m.mode = inputNone
			m.input.Blur()
			return m, nil
		case "esc":
			m.mode = inputNone
			m.input.Blur()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// moveToNextSection cycles the current item through the display order
// of sections, the sentinel group included.
func (m *model) moveToNextSection() {
	item := m.currentItem()
	if item == nil || item.ItemId.IsZero() {
		return
	}
	order := m.session.SectionOrder()
	if len(order) < 2 {
		return
	}
	current := item.Section
	if current == "" {
		current = listsync.UnsectionedName
	}
	for i, sectionName := range order {
		if sectionName == current {
			next := order[(i+1)%len(order)]
			m.session.ApplyIntent(m.session.ResolveDrag(
				listsync.DragDescriptor{ItemId: item.ItemId},
				listsync.DropDescriptor{SectionName: next},
			))
			return
		}
	}
}

func (m *model) reorderSection(delta int) {
	sectionName := m.currentSectionName()
	sections := m.session.Sections()
	section := sectionByName(sections, sectionName)
	if section == nil {
		return
	}
	order := m.session.SectionOrder()
	for i, name := range order {
		if name == sectionName {
			next := i + delta
			if next < 0 || len(order) <= next {
				return
			}
			target := sectionByName(sections, order[next])
			if target == nil {
				return
			}
			m.session.ApplyIntent(m.session.ResolveDrag(
				listsync.DragDescriptor{SectionId: section.SectionId},
				listsync.DropDescriptor{SectionName: target.Name},
			))
			return
		}
	}
}

func sectionByName(sections []*listsync.Section, name string) *listsync.Section {
	for _, section := range sections {
		if section.Name == name {
			return section
		}
	}
	return nil
}

func (m model) View() string {
	var b strings.Builder

	connectivity := mutedStyle.Render("connecting...")
	if m.session.Connected() {
		connectivity = mutedStyle.Render("connected")
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("List %s", m.listId)) + "  " + connectivity + "\n\n")

	for i, r := range m.rows {
		if r.header {
			header := sectionStyle.Render(r.sectionName)
			if 0 < r.checkedCount {
				header += mutedStyle.Render(fmt.Sprintf("  %d checked", r.checkedCount))
			}
			b.WriteString(header + "\n")
			continue
		}
		box := boxUnchecked
		name := r.item.Name
		if r.item.Checked {
			box = boxChecked
			name = checkedStyle.Render(name)
		}
		line := fmt.Sprintf("%s %s", box, name)
		if r.item.Quantity != "" {
			line += mutedStyle.Render(fmt.Sprintf(" (%s)", r.item.Quantity))
		}
		if r.item.Notes != "" {
			line += mutedStyle.Render("  " + r.item.Notes)
		}
		prefix := "  "
		if i == m.cursor && m.mode == inputNone {
			prefix = selectedStyle.Render("> ")
		}
		b.WriteString(prefix + line + "\n")
	}
	if len(m.rows) == 0 {
		b.WriteString(mutedStyle.Render("(empty)") + "\n")
	}

	if m.mode != inputNone {
		title := "Add item"
		if m.mode == inputEdit {
			title = "Edit item"
		}
		if m.inErr != "" {
			title += "  " + errorStyle.Render(m.inErr)
		}
		bar := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
		b.WriteString("\n" + bar.Render(title+"\n"+m.input.View()) + "\n")
	} else {
		b.WriteString("\n" + helpStyle.Render("space toggle · a add · e edit · d delete · m move · J/K reorder · [/] sections · s sort · h hide checked · q quit") + "\n")
	}

	return b.String()
}
