package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/concord-chat/helpdesk/internal/client"
	"github.com/concord-chat/helpdesk/internal/models"
)

// View implements tea.Model
func (m *Model) View() string {
	header := m.renderHeader()
	footer := m.renderFooter()

	if m.shopper != nil && !m.open {
		body := m.styles.Hint.Render(fmt.Sprintf("Chat minimized · %d unread · ctrl+o to open", m.shopper.Unread()))
		return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
	}

	chatWidth := m.width
	var body string
	if m.console != nil {
		chatWidth -= sidebarWidth + 1
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderRoomList(sidebarWidth, m.height-2),
			m.renderChatPanel(chatWidth))
	} else {
		body = m.renderChatPanel(chatWidth)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// renderHeader renders the title bar with identity and connection state
func (m *Model) renderHeader() string {
	title := "Support chat"
	if m.console != nil {
		title = "Support console"
	}

	parts := []string{m.styles.Title.Render(title)}
	if v := m.chat.Viewer(); v != nil {
		parts = append(parts, " "+v.DisplayName())
	}

	state := m.chat.State()
	stateStyle := m.styles.Offline
	if state == client.StateConnected {
		stateStyle = m.styles.Online
	}
	parts = append(parts, "  "+stateStyle.Render("● "+strings.ToLower(state.String())))

	if n := m.chat.UnreadTotal(); n > 0 {
		parts = append(parts, "  "+m.styles.Badge.Render(fmt.Sprintf("%d unread", n)))
	}
	return strings.Join(parts, "")
}

// renderRoomList renders the staff sidebar
func (m *Model) renderRoomList(width, height int) string {
	var b strings.Builder
	b.WriteString(m.search.View())
	b.WriteString("\n\n")

	rooms := m.console.Rooms()
	activeID, _ := m.console.ActiveRoom()
	if len(rooms) == 0 {
		b.WriteString(m.styles.Hint.Render(" No conversations"))
	}

	for i, room := range rooms {
		style := m.styles.RoomItem
		switch {
		case i == m.cursor && m.focus == FocusRooms:
			style = m.styles.RoomCursor
		case room.ID == activeID:
			style = m.styles.RoomActive
		}

		dot := m.styles.Offline.Render("○")
		if room.CounterpartOnline {
			dot = m.styles.Online.Render("●")
		}
		line := dot + " " + truncate(room.CounterpartName, width-10)
		if room.UnreadCount > 0 {
			line += " " + m.styles.UnreadIndicator.Render(fmt.Sprintf("(%d)", room.UnreadCount))
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")

		if room.LastMessage != nil {
			b.WriteString(m.styles.Preview.Render(truncate(room.LastMessage.Content, width-6)))
			b.WriteString("\n")
		}
	}

	style := m.styles.Sidebar
	if m.focus != FocusInput {
		style = m.styles.SidebarFocused
	}
	return style.Width(width).Height(max(height, 1)).Render(b.String())
}

// renderChatPanel renders the conversation pane
func (m *Model) renderChatPanel(width int) string {
	header := m.styles.PaneHeader.Width(max(width, 1)).Render(m.paneTitle())

	typing := ""
	if roomID := m.activeRoom(); roomID != 0 {
		if t, ok := m.chat.Typing(roomID); ok && t.Active(time.Now()) {
			typing = t.ByUserName + " is typing..."
		}
	}

	inputStyle := m.styles.InputField
	if m.focus == FocusInput {
		inputStyle = m.styles.InputFocused
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.styles.Typing.Render(typing),
		inputStyle.Width(max(width-2, 1)).Render(m.input.View()),
	)
}

func (m *Model) paneTitle() string {
	if m.shopper != nil {
		room := m.shopper.Room()
		if room == nil {
			return "Connecting to support..."
		}
		if room.CounterpartOnline {
			return room.CounterpartName + " · online"
		}
		return room.CounterpartName
	}

	id, state := m.console.ActiveRoom()
	if id == 0 {
		return "Select a conversation"
	}
	name := fmt.Sprintf("Room %d", id)
	for _, room := range m.console.Rooms() {
		if room.ID == id {
			name = room.CounterpartName
			break
		}
	}
	if state == client.SelectionLoading {
		return name + " · loading"
	}
	return name
}

// renderMessages renders the conversation, oldest first
func (m *Model) renderMessages(msgs []*models.Message) string {
	if len(msgs) == 0 {
		return m.styles.SystemMessage.Render("No messages yet.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}

		if msg.ID.Kind() == models.IDSystem {
			b.WriteString(m.styles.SystemMessage.Render(msg.Content))
			b.WriteString("\n")
			continue
		}

		nameStyle := m.styles.UsernameOther
		if msg.IsOwn {
			nameStyle = m.styles.UsernameSelf
		}
		header := fmt.Sprintf("%s  %s",
			nameStyle.Render(msg.SenderName),
			m.styles.Timestamp.Render(msg.CreatedAt.Local().Format("15:04")))
		if msg.Status == models.StatusSending {
			header += "  " + m.styles.Pending.Render("sending")
		}

		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(m.styles.MessageContent.Render(msg.Content))
		b.WriteString("\n")
	}
	return b.String()
}

// renderFooter renders the status line or key help
func (m *Model) renderFooter() string {
	if m.statusMessage != "" {
		if m.statusError {
			return m.styles.Error.Render(m.statusMessage)
		}
		return m.styles.Hint.Render(m.statusMessage)
	}
	if m.console != nil {
		return m.styles.Hint.Render("tab focus · ↑↓ rooms · enter open/send · pgup/pgdn scroll · ctrl+c quit")
	}
	return m.styles.Hint.Render("enter send · ctrl+o minimize · pgup/pgdn scroll · ctrl+c quit")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
