package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/pelletier/go-toml/v2"
)

// Theme is a color palette for the chat screens
type Theme struct {
	Meta   ThemeMeta   `toml:"meta"`
	Colors ThemeColors `toml:"colors"`
}

// ThemeMeta contains metadata about the theme
type ThemeMeta struct {
	Name    string `toml:"name"`
	Variant string `toml:"variant"` // "dark" or "light"
}

// ThemeColors contains the base palette
type ThemeColors struct {
	Background string `toml:"background"`
	Selection  string `toml:"selection"`
	Foreground string `toml:"foreground"`
	Comment    string `toml:"comment"`
	Red        string `toml:"red"`
	Orange     string `toml:"orange"`
	Yellow     string `toml:"yellow"`
	Green      string `toml:"green"`
	Cyan       string `toml:"cyan"`
	Purple     string `toml:"purple"`
}

// Styles contains pre-computed lipgloss styles for the theme
type Styles struct {
	// Header bar
	Title lipgloss.Style
	Badge lipgloss.Style

	// Room list
	Sidebar         lipgloss.Style
	SidebarFocused  lipgloss.Style
	RoomItem        lipgloss.Style
	RoomCursor      lipgloss.Style
	RoomActive      lipgloss.Style
	Preview         lipgloss.Style
	UnreadIndicator lipgloss.Style

	// Conversation
	PaneHeader     lipgloss.Style
	MessageContent lipgloss.Style
	Timestamp      lipgloss.Style
	UsernameSelf   lipgloss.Style
	UsernameOther  lipgloss.Style
	SystemMessage  lipgloss.Style
	Pending        lipgloss.Style
	Typing         lipgloss.Style

	// Input
	InputField   lipgloss.Style
	InputFocused lipgloss.Style

	// Status
	Online  lipgloss.Style
	Offline lipgloss.Style
	Error   lipgloss.Style
	Hint    lipgloss.Style
}

// LoadTheme loads a theme from a TOML file. Colors missing from the file
// keep their default value.
func LoadTheme(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme file: %w", err)
	}

	theme := DefaultTheme()
	if err := toml.Unmarshal(data, theme); err != nil {
		return nil, fmt.Errorf("failed to parse theme file: %w", err)
	}

	return theme, nil
}

// DefaultTheme returns the Dracula palette
func DefaultTheme() *Theme {
	return &Theme{
		Meta: ThemeMeta{
			Name:    "Dracula",
			Variant: "dark",
		},
		Colors: ThemeColors{
			Background: "#282A36",
			Selection:  "#44475A",
			Foreground: "#F8F8F2",
			Comment:    "#6272A4",
			Red:        "#FF5555",
			Orange:     "#FFB86C",
			Yellow:     "#F1FA8C",
			Green:      "#50FA7B",
			Cyan:       "#8BE9FD",
			Purple:     "#BD93F9",
		},
	}
}

// BuildStyles creates lipgloss styles from a theme
func (t *Theme) BuildStyles() *Styles {
	c := t.Colors
	s := &Styles{}

	s.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground)).
		Background(lipgloss.Color(c.Purple)).
		Bold(true).
		Padding(0, 1)

	s.Badge = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Background)).
		Background(lipgloss.Color(c.Orange)).
		Bold(true).
		Padding(0, 1)

	// Room list
	s.Sidebar = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder(), false, true, false, false).
		BorderForeground(lipgloss.Color(c.Selection))

	s.SidebarFocused = s.Sidebar.
		BorderForeground(lipgloss.Color(c.Purple))

	s.RoomItem = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground)).
		PaddingLeft(1)

	s.RoomCursor = s.RoomItem.
		Background(lipgloss.Color(c.Selection))

	s.RoomActive = s.RoomItem.
		Foreground(lipgloss.Color(c.Purple)).
		Bold(true)

	s.Preview = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Comment)).
		PaddingLeft(3)

	s.UnreadIndicator = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Orange)).
		Bold(true)

	// Conversation
	s.PaneHeader = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground)).
		Background(lipgloss.Color(c.Selection)).
		Bold(true).
		Padding(0, 1)

	s.MessageContent = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Foreground))

	s.Timestamp = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Comment)).
		Faint(true)

	s.UsernameSelf = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Purple)).
		Bold(true)

	s.UsernameOther = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Cyan)).
		Bold(true)

	s.SystemMessage = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Comment)).
		Italic(true)

	s.Pending = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Yellow)).
		Faint(true)

	s.Typing = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Comment)).
		Italic(true)

	// Input
	s.InputField = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(c.Comment)).
		Padding(0, 1)

	s.InputFocused = s.InputField.
		BorderForeground(lipgloss.Color(c.Purple))

	// Status
	s.Online = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Green))

	s.Offline = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Comment))

	s.Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Red))

	s.Hint = lipgloss.NewStyle().
		Foreground(lipgloss.Color(c.Comment))

	return s
}
