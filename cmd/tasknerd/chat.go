package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tasknerd/internal/resolver"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	chatUser    string
	chatChannel string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Try the resolver interactively in the terminal",
	Long: `Opens a chat window wired to the resolver. Follow-up answers ("はい", "18時で")
continue the pending question exactly as they would through the HTTP service.

Type /list N to tell the resolver that a list of N items is in view.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "cli", "User ID")
	chatCmd.Flags().StringVar(&chatChannel, "channel", "cli", "Channel ID")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	m := newChatModel(ctx, a.engine, chatUser, chatChannel)
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// messageHandler is the part of the engine the chat window drives.
type messageHandler interface {
	Handle(ctx context.Context, msg resolver.Message) (resolver.Decision, error)
}

type chatLine struct {
	user     bool
	text     string
	decision *resolver.Decision
	err      error
}

// decisionMsg carries the engine's answer back into Update.
type decisionMsg struct {
	decision resolver.Decision
	err      error
}

type chatStyles struct {
	user    lipgloss.Style
	prompt  lipgloss.Style
	muted   lipgloss.Style
	err     lipgloss.Style
	outcome map[resolver.Outcome]lipgloss.Style
}

func defaultChatStyles() chatStyles {
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#101F38"))
	return chatStyles{
		user:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
		prompt: lipgloss.NewStyle().PaddingLeft(2),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")),
		outcome: map[resolver.Outcome]lipgloss.Style{
			resolver.OutcomeExecute: badge.Background(lipgloss.Color("#8BC34A")),
			resolver.OutcomeClarify: badge.Background(lipgloss.Color("#2196F3")),
			resolver.OutcomeConfirm: badge.Background(lipgloss.Color("#FFC107")),
			resolver.OutcomeExpired: badge.Background(lipgloss.Color("#d6dae0")),
		},
	}
}

type chatModel struct {
	ctx       context.Context
	handler   messageHandler
	userID    string
	channelID string
	maxIndex  int
	seq       int

	input    textinput.Model
	viewport viewport.Model
	styles   chatStyles
	lines    []chatLine
	busy     bool
	ready    bool
	now      func() time.Time
}

func newChatModel(ctx context.Context, h messageHandler, userID, channelID string) chatModel {
	in := textinput.New()
	in.Placeholder = "メッセージを入力 (Esc で終了)"
	in.Prompt = "> "
	in.CharLimit = 500
	in.Focus()

	return chatModel{
		ctx:       ctx,
		handler:   h,
		userID:    userID,
		channelID: channelID,
		input:     in,
		viewport:  viewport.New(80, 20),
		styles:    defaultChatStyles(),
		now:       time.Now,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			if n, ok := parseListCommand(text); ok {
				m.maxIndex = n
				m.lines = append(m.lines, chatLine{text: fmt.Sprintf("リスト %d 件を表示中として扱います", n)})
				m.refresh()
				return m, nil
			}
			m.lines = append(m.lines, chatLine{user: true, text: text})
			m.busy = true
			m.refresh()
			return m, m.handle(text)
		}

	case decisionMsg:
		m.busy = false
		line := chatLine{err: msg.err}
		if msg.err == nil {
			d := msg.decision
			line.decision = &d
		}
		m.lines = append(m.lines, line)
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handle runs the engine off the UI goroutine.
func (m *chatModel) handle(text string) tea.Cmd {
	m.seq++
	msg := resolver.Message{
		Text:      text,
		UserID:    m.userID,
		ChannelID: m.channelID,
		MessageID: fmt.Sprintf("chat-%d", m.seq),
		Timestamp: m.now(),
		MaxIndex:  m.maxIndex,
	}
	ctx, h := m.ctx, m.handler
	return func() tea.Msg {
		d, err := h.Handle(ctx, msg)
		return decisionMsg{decision: d, err: err}
	}
}

func (m *chatModel) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m chatModel) renderHistory() string {
	var sb strings.Builder
	for _, l := range m.lines {
		switch {
		case l.user:
			sb.WriteString(m.styles.user.Render("You") + "\n")
			sb.WriteString(m.styles.prompt.Render(l.text) + "\n\n")
		case l.err != nil:
			sb.WriteString(m.styles.err.Render("error: "+l.err.Error()) + "\n\n")
		case l.decision != nil:
			d := l.decision
			sb.WriteString(m.styles.outcome[d.Outcome].Render(string(d.Outcome)))
			if d.Spec != nil && d.Spec.Intent.Valid() {
				sb.WriteString(m.styles.muted.Render(fmt.Sprintf(" %s %.2f %s", d.Spec.Intent, d.Spec.Confidence, d.Spec.Source)))
			}
			sb.WriteString("\n")
			sb.WriteString(m.styles.prompt.Render(d.Prompt) + "\n\n")
		default:
			sb.WriteString(m.styles.muted.Render(l.text) + "\n\n")
		}
	}
	return sb.String()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	status := m.styles.muted.Render(fmt.Sprintf("%s@%s", m.userID, m.channelID))
	if m.busy {
		status = m.styles.muted.Render("resolving...")
	}
	return m.viewport.View() + "\n" + status + "\n" + m.input.View()
}

// parseListCommand recognizes "/list N".
func parseListCommand(text string) (int, bool) {
	rest, ok := strings.CutPrefix(text, "/list")
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(rest), "%d", &n); err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
