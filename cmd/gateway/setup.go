package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/concord-chat/helpdesk/internal/gateway"
)

// configFilename is the default config file written by setup
const configFilename = "helpdesk-gateway.toml"

// setupModel is a minimal bubbletea model for first-run gateway configuration
type setupModel struct {
	inputs    []textinput.Model
	focused   int
	done      bool
	cancelled bool
	err       string
}

const (
	fieldHost = iota
	fieldPort
	fieldDB
	fieldNATS
	fieldAdminUser
	fieldAdminPassword
	numFields
)

var fieldLabels = []string{"Bind Host", "Port", "Database Path", "Embedded NATS (y/n)", "Admin Username", "Admin Password"}

func newSetupModel() setupModel {
	inputs := make([]textinput.Model, numFields)

	inputs[fieldHost] = textinput.New()
	inputs[fieldHost].Placeholder = "0.0.0.0"
	inputs[fieldHost].SetValue("0.0.0.0")
	inputs[fieldHost].Focus()
	inputs[fieldHost].CharLimit = 64

	inputs[fieldPort] = textinput.New()
	inputs[fieldPort].Placeholder = "8080"
	inputs[fieldPort].SetValue("8080")
	inputs[fieldPort].CharLimit = 5

	inputs[fieldDB] = textinput.New()
	inputs[fieldDB].Placeholder = "helpdesk.db"
	inputs[fieldDB].SetValue("helpdesk.db")
	inputs[fieldDB].CharLimit = 128

	inputs[fieldNATS] = textinput.New()
	inputs[fieldNATS].Placeholder = "n"
	inputs[fieldNATS].SetValue("n")
	inputs[fieldNATS].CharLimit = 3

	inputs[fieldAdminUser] = textinput.New()
	inputs[fieldAdminUser].Placeholder = "admin"
	inputs[fieldAdminUser].CharLimit = 32

	inputs[fieldAdminPassword] = textinput.New()
	inputs[fieldAdminPassword].Placeholder = "at least 8 characters"
	inputs[fieldAdminPassword].EchoMode = textinput.EchoPassword
	inputs[fieldAdminPassword].CharLimit = 72

	return setupModel{inputs: inputs}
}

func (m setupModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit

		case "tab", "down", "enter":
			if msg.String() == "enter" && m.focused == numFields-1 {
				if err := m.validate(); err != "" {
					m.err = err
					return m, nil
				}
				m.done = true
				return m, tea.Quit
			}
			m.inputs[m.focused].Blur()
			m.focused = (m.focused + 1) % numFields
			m.inputs[m.focused].Focus()

		case "shift+tab", "up":
			m.inputs[m.focused].Blur()
			m.focused = (m.focused - 1 + numFields) % numFields
			m.inputs[m.focused].Focus()
		}
	}

	// Forward key events to focused input
	var cmd tea.Cmd
	m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
	return m, cmd
}

func (m setupModel) validate() string {
	if _, err := strconv.Atoi(m.value(fieldPort)); err != nil {
		return "Port must be a number."
	}
	if user := m.value(fieldAdminUser); user != "" {
		if len(user) < 2 {
			return "Admin username must be at least 2 characters."
		}
		if len(m.inputs[fieldAdminPassword].Value()) < 8 {
			return "Admin password must be at least 8 characters."
		}
	}
	return ""
}

func (m setupModel) value(field int) string {
	return strings.TrimSpace(m.inputs[field].Value())
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#bd93f9")).Bold(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555"))
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f8f8f2")).
			Background(lipgloss.Color("#bd93f9")).
			Bold(true).
			Padding(0, 2)
)

func (m setupModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("  Helpdesk Gateway First-Run Setup  "))
	b.WriteString("\n\n")
	b.WriteString(hintStyle.Render("Tab/↑↓ to navigate · Enter on last field to confirm · Esc to cancel"))
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("Leave the admin username empty to skip creating an account"))
	b.WriteString("\n\n")

	for i, label := range fieldLabels {
		b.WriteString(labelStyle.Render(label))
		b.WriteString("\n")
		b.WriteString("  " + m.inputs[i].View())
		b.WriteString("\n\n")
	}

	if m.err != "" {
		b.WriteString(errStyle.Render("  ⚠ " + m.err))
		b.WriteString("\n")
	}

	return b.String()
}

// setupResult is what the operator entered during first-run setup
type setupResult struct {
	config        *gateway.Config
	adminUser     string
	adminPassword string
}

// runFirstRunSetup runs the interactive TUI setup and writes
// helpdesk-gateway.toml to the working directory
func runFirstRunSetup() *setupResult {
	p := tea.NewProgram(newSetupModel())
	result, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup error: %v\n", err)
		os.Exit(1)
	}

	final := result.(setupModel)
	if final.cancelled {
		fmt.Fprintln(os.Stderr, "Setup cancelled.")
		os.Exit(1)
	}
	if !final.done {
		os.Exit(0)
	}

	cfg := gateway.DefaultConfig()
	cfg.Host = final.value(fieldHost)
	if port, _ := strconv.Atoi(final.value(fieldPort)); port != 0 {
		cfg.Port = port
	}
	if db := final.value(fieldDB); db != "" {
		cfg.DatabasePath = db
	}
	cfg.NATS.Enabled = strings.HasPrefix(strings.ToLower(final.value(fieldNATS)), "y")

	if err := gateway.SaveConfig(configFilename, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	} else {
		fmt.Printf("\nConfig written to %s\n", configFilename)
	}

	fmt.Printf("Share this address: %s\n\n", cfg.Addr())
	return &setupResult{
		config:        cfg,
		adminUser:     final.value(fieldAdminUser),
		adminPassword: final.inputs[fieldAdminPassword].Value(),
	}
}
