package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/concord-chat/helpdesk/internal/client"
	"github.com/concord-chat/helpdesk/internal/models"
)

const (
	sidebarWidth  = 32
	selectTimeout = 15 * time.Second
	// header, pane header, typing line, input box and footer
	chromeHeight = 7
)

// Chat is the part of a session both screens drive
type Chat interface {
	Events() <-chan client.Event
	State() client.ConnectionState
	Viewer() *models.Viewer
	Messages() []*models.Message
	SendMessage(content string) error
	SetTyping(text string)
	Typing(roomID int64) (models.TypingState, bool)
	UnreadTotal() int
}

// Shopper is a single-room chat widget
type Shopper interface {
	Chat
	Room() *models.Room
	Unread() int
	SetOpen(open bool)
}

// Console is the staff multi-room chat
type Console interface {
	Chat
	Rooms() []*models.Room
	ActiveRoom() (int64, client.SelectionState)
	SelectRoom(ctx context.Context, roomID int64) error
	SetSearch(query string)
}

// Focus represents which area has keyboard focus
type Focus int

const (
	FocusInput Focus = iota
	FocusRooms
	FocusSearch
)

// sessionMsg carries a session change notification into the update loop
type sessionMsg client.Event

// selectedMsg reports the outcome of a room selection
type selectedMsg struct {
	roomID int64
	err    error
}

// Model is the bubbletea model for both the shopper widget and the staff console
type Model struct {
	chat    Chat
	shopper Shopper
	console Console

	styles *Styles

	input    textinput.Model
	search   textinput.Model
	viewport viewport.Model

	width  int
	height int
	focus  Focus
	cursor int
	open   bool

	statusMessage string
	statusError   bool
}

// NewShopperModel creates the widget screen; it opens the chat on Init
func NewShopperModel(s Shopper, theme *Theme) *Model {
	m := newModel(s, theme)
	m.shopper = s
	m.open = true
	return m
}

// NewConsoleModel creates the staff console screen
func NewConsoleModel(c Console, theme *Theme) *Model {
	m := newModel(c, theme)
	m.console = c

	m.search = textinput.New()
	m.search.Placeholder = "Search customers"
	m.search.Prompt = "/ "
	m.search.CharLimit = 64
	m.search.Width = sidebarWidth - 4
	return m
}

func newModel(c Chat, theme *Theme) *Model {
	if theme == nil {
		theme = DefaultTheme()
	}

	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 2000
	input.Width = 50
	input.Focus()

	return &Model{
		chat:     c,
		styles:   theme.BuildStyles(),
		input:    input,
		viewport: viewport.New(80, 20),
		focus:    FocusInput,
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	if m.shopper != nil {
		m.shopper.SetOpen(m.open)
	}
	m.refresh()
	return tea.Batch(
		textinput.Blink,
		waitForEvent(m.chat.Events()),
	)
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateViewportSize()
		m.refresh()

	case sessionMsg:
		m.refresh()
		return m, waitForEvent(m.chat.Events())

	case selectedMsg:
		if msg.err != nil && !errors.Is(msg.err, client.ErrSelectionSuperseded) {
			m.setStatus("Could not open conversation: "+msg.err.Error(), true)
		}
		m.refresh()
	}

	return m, nil
}

// handleKeyPress routes a key to the focused area
func (m *Model) handleKeyPress(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab":
		if m.console != nil {
			m.cycleFocus()
			return nil
		}
	case "ctrl+o":
		if m.shopper != nil {
			m.open = !m.open
			m.shopper.SetOpen(m.open)
			return nil
		}
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}

	switch m.focus {
	case FocusRooms:
		return m.handleRoomKeys(msg)
	case FocusSearch:
		return m.handleSearchKeys(msg)
	default:
		return m.handleInputKeys(msg)
	}
}

func (m *Model) cycleFocus() {
	m.input.Blur()
	m.search.Blur()
	m.focus = (m.focus + 1) % 3
	switch m.focus {
	case FocusInput:
		m.input.Focus()
	case FocusSearch:
		m.search.Focus()
	}
}

func (m *Model) handleRoomKeys(msg tea.KeyMsg) tea.Cmd {
	rooms := m.console.Rooms()
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(rooms)-1 {
			m.cursor++
		}
	case "enter":
		if m.cursor < len(rooms) {
			return selectRoom(m.console, rooms[m.cursor].ID)
		}
	}
	return nil
}

func (m *Model) handleSearchKeys(msg tea.KeyMsg) tea.Cmd {
	before := m.search.Value()
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if m.search.Value() != before {
		m.console.SetSearch(m.search.Value())
		m.cursor = 0
	}
	return cmd
}

func (m *Model) handleInputKeys(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "enter" {
		m.handleSendMessage()
		return nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.chat.SetTyping(m.input.Value())
	}
	return cmd
}

// handleSendMessage sends the current input as a message
func (m *Model) handleSendMessage() {
	err := m.chat.SendMessage(m.input.Value())
	switch {
	case errors.Is(err, client.ErrEmptyContent):
		return
	case errors.Is(err, client.ErrNoActiveRoom):
		m.setStatus("Pick a conversation first", true)
		return
	case err != nil:
		m.setStatus(err.Error(), true)
		return
	}

	m.input.Reset()
	m.setStatus("", false)
	m.refresh()
	m.viewport.GotoBottom()
}

func (m *Model) setStatus(text string, isError bool) {
	m.statusMessage = text
	m.statusError = isError
}

// refresh re-reads session state into the viewport
func (m *Model) refresh() {
	if m.console != nil {
		if n := len(m.console.Rooms()); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
	}

	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages(m.chat.Messages()))
	if follow {
		m.viewport.GotoBottom()
	}
}

// updateViewportSize fits the conversation pane to the window
func (m *Model) updateViewportSize() {
	chatWidth := m.width
	if m.console != nil {
		chatWidth -= sidebarWidth + 1
	}
	chatHeight := m.height - chromeHeight
	if chatHeight < 1 {
		chatHeight = 1
	}

	m.viewport.Width = chatWidth
	m.viewport.Height = chatHeight
	m.input.Width = max(chatWidth-6, 10)
}

// activeRoom returns the room the conversation pane shows
func (m *Model) activeRoom() int64 {
	if m.shopper != nil {
		if room := m.shopper.Room(); room != nil {
			return room.ID
		}
		return 0
	}
	id, _ := m.console.ActiveRoom()
	return id
}

func waitForEvent(events <-chan client.Event) tea.Cmd {
	return func() tea.Msg {
		return sessionMsg(<-events)
	}
}

func selectRoom(c Console, roomID int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), selectTimeout)
		defer cancel()
		return selectedMsg{roomID: roomID, err: c.SelectRoom(ctx, roomID)}
	}
}
