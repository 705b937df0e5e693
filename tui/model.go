package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// state represents the current phase of startup.
type state int

const (
	stateInit       state = iota
	stateMinting          // exchanging the identity secret
	stateRefreshing       // refreshing the persisted pair
	stateConnecting       // opening the chat gateway
	stateReady            // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// maxStatusLines caps the log so a long retry loop stays on screen.
const maxStatusLines = 12

// Model is the BubbleTea model for the startup TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Ready / error display
	tokenPreview     string
	accessExpiresIn  time.Duration
	refreshExpiresIn time.Duration
	errMsg           string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Startup messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgCredentialsFound:
		m.addStatus(statusOK, "Found persisted credentials")
		return m, nil

	case MsgCredentialsNotFound:
		m.addStatus(statusInfo, "No usable credentials on disk")
		return m, nil

	case MsgCredentialValid:
		m.addStatus(statusOK, "Access token valid for "+formatDuration(msg.ExpiresIn))
		return m, nil

	case MsgMinting:
		m.state = stateMinting
		m.addStatus(statusInfo, "Minting credentials...")
		return m, nil

	case MsgMintOK:
		m.addStatus(statusOK, "Credentials minted")
		return m, nil

	case MsgMintFallback:
		m.addStatus(statusWarn, "Minting failed, using persisted credentials")
		return m, nil

	case MsgRetrying:
		m.addStatus(statusWarn, fmt.Sprintf("%s attempt %d failed: %v", msg.Op, msg.Attempt, msg.Err))
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Credentials refreshed")
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgSaved:
		m.addStatus(statusOK, "Credentials saved to "+msg.Path)
		return m, nil

	case MsgSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save credentials: %v", msg.Err))
		return m, nil

	case MsgRoutingLoaded:
		kind := statusOK
		if msg.Configured == 0 {
			kind = statusWarn
		}
		m.addStatus(kind, fmt.Sprintf("Notification channels: %d of %d configured", msg.Configured, msg.Total))
		return m, nil

	case MsgDecisionsRecovered:
		m.addStatus(statusInfo, fmt.Sprintf("Pending decisions: %d resumed, %d expired", msg.Resumed, msg.Expired))
		return m, nil

	case MsgConnecting:
		m.state = stateConnecting
		m.addStatus(statusInfo, "Connecting to Discord...")
		return m, nil

	case MsgReady:
		m.tokenPreview = msg.Preview
		m.accessExpiresIn = msg.AccessExpiresIn
		m.refreshExpiresIn = msg.RefreshExpiresIn
		m.state = stateReady
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateReady:
		return tea.NewView(m.viewReady())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while credentials are being primed.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  ringbot  "))
	b.WriteString("\n\n")

	b.WriteString(m.spinner.View())
	switch m.state {
	case stateMinting:
		b.WriteString(" Minting credentials...\n")
	case stateRefreshing:
		b.WriteString(" Refreshing access token...\n")
	case stateConnecting:
		b.WriteString(" Connecting to Discord...\n")
	default:
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewReady is shown once the bot is connected.
func (m Model) viewReady() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Bot is running"))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Access Token:       "))
	b.WriteString(m.tokenPreview + "\n")

	b.WriteString(styleBold.Render("Access Expires In:  "))
	b.WriteString(formatDuration(m.accessExpiresIn) + "\n")

	b.WriteString(styleBold.Render("Refresh Expires In: "))
	b.WriteString(formatDuration(m.refreshExpiresIn) + "\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when startup fails.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Startup failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log, dropping the oldest past
// maxStatusLines.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if n := len(m.statusLines); n > maxStatusLines {
		m.statusLines = m.statusLines[n-maxStatusLines:]
	}
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
