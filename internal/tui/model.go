package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/diogo/kiki/internal/conversation"
	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/export"
	"github.com/diogo/kiki/internal/models"
	"github.com/diogo/kiki/internal/normalize"
	"github.com/diogo/kiki/internal/render"
)

// statusTickInterval refreshes the status LED so timed states expire.
const statusTickInterval = 100 * time.Millisecond

type (
	statusTickMsg time.Time
	submitDoneMsg struct {
		err error
	}
	attachDoneMsg struct {
		path string
		url  string
		err  error
	}
	catalogMsg models.ModelCatalog
)

// Uploader stores a local image on the relay.
type Uploader interface {
	UploadFile(ctx context.Context, path string) ([]byte, error)
}

// CatalogSource lists the models available to the session.
type CatalogSource interface {
	Catalog(ctx context.Context) models.ModelCatalog
}

// Config wires a chat Model to its collaborators.
type Config struct {
	Controller *conversation.Controller
	Uploader   Uploader
	Catalog    CatalogSource
	Normalizer *normalize.Normalizer
	Clipboard  export.Clipboard
	ExportDir  string
	Render     render.Options
	Logger     *slog.Logger
}

// Model represents the TUI state
type Model struct {
	ctrl       *conversation.Controller
	uploader   Uploader
	catalog    CatalogSource
	norm       *normalize.Normalizer
	clipboard  export.Clipboard
	exportDir  string
	renderOpts render.Options
	logger     *slog.Logger
	bridge     *bridge
	now        func() time.Time

	// UI components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	// State mirrored from the controller
	messages []models.Message
	status   models.Status
	model    string
	inputOp  models.OperationType

	uploading bool
	notice    string
	err       error
	ready     bool

	width  int
	height int
}

// NewChatModel creates a chat model bound to cfg.Controller.
func NewChatModel(cfg Config) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message, /imagine <prompt> or /help"
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.Focus()

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle().Foreground(colorText)
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(colorTextDim)
	ta.BlurredStyle = ta.FocusedStyle

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = loadingStyle

	norm := cfg.Normalizer
	if norm == nil {
		norm = normalize.New()
	}
	clip := cfg.Clipboard
	if clip == nil {
		clip = export.SystemClipboard{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	renderOpts := cfg.Render
	if renderOpts.Style == "" {
		renderOpts = render.DefaultOptions()
	}

	return Model{
		ctrl:       cfg.Controller,
		uploader:   cfg.Uploader,
		catalog:    cfg.Catalog,
		norm:       norm,
		clipboard:  clip,
		exportDir:  cfg.ExportDir,
		renderOpts: renderOpts,
		logger:     log,
		bridge:     newBridge(cfg.Controller.Bus()),
		now:        time.Now,
		textarea:   ta,
		spinner:    s,
		messages:   cfg.Controller.Messages(),
		status:     cfg.Controller.Status(),
		model:      cfg.Controller.SelectedModel(),
		inputOp:    models.OpTextToText,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.bridge.wait(),
		statusTick(),
	)
}

func statusTick() tea.Cmd {
	return tea.Tick(statusTickInterval, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.bridge.close()
			return m, tea.Quit

		case "esc":
			if m.ctrl.Busy() {
				m.ctrl.Cancel()
				m.notice = "Cancelling..."
				return m, nil
			}
			m.bridge.close()
			return m, tea.Quit

		case "enter":
			return m.handleInput(m.textarea.Value())
		}

		before := m.textarea.Value()
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
		if after := m.textarea.Value(); after != before {
			m.ctrl.SetInput(after)
		}

	case messagesMsg:
		m.messages = msg
		m.updateViewport()
		m.viewport.GotoBottom()
		cmds = append(cmds, m.bridge.wait())

	case statusMsg:
		m.status = models.Status(msg)
		cmds = append(cmds, m.bridge.wait())

	case modelChangedMsg:
		m.model = string(msg)
		cmds = append(cmds, m.bridge.wait())

	case inputChangedMsg:
		m.inputOp = models.OperationType(msg)
		cmds = append(cmds, m.bridge.wait())

	case newChatMsg:
		m.err = nil
		m.notice = "Started a new chat"
		m.inputOp = models.OpTextToText
		cmds = append(cmds, m.bridge.wait())

	case focusMsg:
		cmds = append(cmds, m.textarea.Focus(), m.bridge.wait())

	case submitDoneMsg:
		m.handleSubmitResult(msg.err)
		m.status = m.ctrl.Status()

	case attachDoneMsg:
		m.uploading = false
		if msg.err != nil {
			m.logger.Warn("image attach failed", "path", msg.path, "error", msg.err)
			m.err = fmt.Errorf("attach %s: %w", filepath.Base(msg.path), msg.err)
			break
		}
		m.ctrl.AttachImage(msg.url)
		m.notice = "Attached " + filepath.Base(msg.path)

	case catalogMsg:
		m.notice = formatCatalog(models.ModelCatalog(msg), m.model)

	case statusTickMsg:
		m.status = m.ctrl.Status()
		cmds = append(cmds, statusTick())

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	headerHeight := 3
	inputHeight := 6
	footerHeight := 2

	vpHeight := m.height - headerHeight - inputHeight - footerHeight
	if vpHeight < 5 {
		vpHeight = 5
	}
	contentWidth := m.width - 4

	if !m.ready {
		m.viewport = viewport.New(contentWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = contentWidth
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(contentWidth - 4)
	m.updateViewport()
}

// handleInput runs a local command or submits the composer content.
func (m Model) handleInput(value string) (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(value)
	if cmd, ok := parseCommand(input); ok {
		m.textarea.Reset()
		m.ctrl.SetInput("")
		return m.runCommand(cmd)
	}

	if input == "" && m.ctrl.Attachment() == "" {
		return m, nil
	}
	if m.ctrl.Busy() {
		m.notice = "Wait for the current reply or press Esc to cancel"
		return m, nil
	}

	m.ctrl.SetInput(input)
	m.textarea.Reset()
	m.err = nil
	m.notice = ""
	return m, tea.Batch(m.submit(), m.spinner.Tick)
}

func (m Model) submit() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return submitDoneMsg{err: ctrl.Submit(context.Background())}
	}
}

func (m *Model) handleSubmitResult(err error) {
	var ve *apierrors.ValidationError
	switch {
	case err == nil:
		m.err = nil
	case errors.Is(err, apierrors.ErrEmptyInput):
	case errors.Is(err, apierrors.ErrBusy):
		m.notice = "Wait for the current reply or press Esc to cancel"
	case errors.As(err, &ve):
		m.notice = ve.Message
	case apierrors.IsAborted(err):
		m.notice = "Request cancelled"
	default:
		m.err = err
	}
}

func (m Model) runCommand(cmd slashCommand) (tea.Model, tea.Cmd) {
	m.err = nil
	m.notice = ""

	switch cmd.name {
	case "help":
		m.notice = helpText

	case "exit":
		m.bridge.close()
		return m, tea.Quit

	case "new":
		m.ctrl.NewChat()

	case "model":
		id := cmd.arg
		if strings.EqualFold(id, "auto") {
			id = ""
		}
		m.ctrl.SelectModel(id)
		m.model = id
		if id == "" {
			m.notice = "Model selection: automatic"
		} else {
			m.notice = "Model: " + models.ShortName(id)
		}

	case "models":
		if m.catalog == nil {
			m.notice = formatCatalog(models.DefaultCatalog(), m.model)
			break
		}
		src := m.catalog
		return m, func() tea.Msg {
			return catalogMsg(src.Catalog(context.Background()))
		}

	case "attach":
		if cmd.arg == "" {
			m.notice = "Usage: /attach <path to image>"
			break
		}
		if m.uploader == nil {
			m.err = errors.New("image upload is not available")
			break
		}
		m.uploading = true
		return m, tea.Batch(m.attach(expandHome(cmd.arg)), m.spinner.Tick)

	case "detach":
		m.ctrl.ClearAttachment()
		m.notice = "Attachment removed"

	case "export":
		f, err := export.ParseFormat(cmd.arg)
		if err != nil {
			m.err = err
			break
		}
		path, err := export.WriteFile(m.exportDir, f, m.ctrl.Messages(), export.Options{
			Title: "Chat Export",
			Model: m.displayModel(),
			Now:   m.now(),
		})
		if err != nil {
			m.err = err
			break
		}
		m.logger.Info("conversation exported", "path", path, "format", f)
		m.notice = "Saved to " + path

	case "copy":
		var err error
		if strings.EqualFold(cmd.arg, "last") {
			err = export.CopyLastReply(m.clipboard, m.ctrl.Messages())
		} else {
			err = export.CopyTranscript(m.clipboard, m.ctrl.Messages())
		}
		if err != nil {
			m.err = err
			break
		}
		m.notice = "Copied to clipboard"
	}

	return m, nil
}

func (m Model) attach(path string) tea.Cmd {
	up, norm := m.uploader, m.norm
	return func() tea.Msg {
		raw, err := up.UploadFile(context.Background(), path)
		if err != nil {
			return attachDoneMsg{path: path, err: err}
		}
		url, err := norm.UploadURL(raw)
		return attachDoneMsg{path: path, url: url, err: err}
	}
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

func (m Model) displayModel() string {
	if m.model == "" {
		return "auto"
	}
	return models.ShortName(m.model)
}

func formatCatalog(c models.ModelCatalog, pinned string) string {
	var sb strings.Builder
	sb.WriteString("Available models:")
	for _, info := range c.Models {
		marker := "  "
		if info.ID == pinned {
			marker = "▸ "
		}
		name := info.Name
		if name == "" {
			name = models.ShortName(info.ID)
		}
		fmt.Fprintf(&sb, "\n%s%s  %s", marker, info.ID, hintStyle.Render(fmt.Sprintf("%s, %s", name, info.Type)))
	}
	return sb.String()
}

// View renders the TUI
func (m Model) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}

	contentWidth := m.width - 4
	var sections []string

	headerParts := []string{
		titleStyle.Render("✦ kiki"),
		hintStyle.Render("  •  "),
		subtitleStyle.Render(m.displayModel()),
		hintStyle.Render("  •  "),
		statusLED(m.status),
	}
	if m.inputOp != "" && m.inputOp != models.OpTextToText {
		headerParts = append(headerParts, hintStyle.Render("  •  "), attachmentStyle.Render(string(m.inputOp)))
	}
	header := headerStyle.Width(contentWidth).Render(lipgloss.JoinHorizontal(lipgloss.Center, headerParts...))
	sections = append(sections, header)

	var messagesContent string
	if !m.hasConversation() {
		messagesContent = m.renderWelcome()
	} else {
		messagesContent = m.viewport.View()
	}
	sections = append(sections, messagesAreaStyle.Width(contentWidth).Height(m.viewport.Height).Render(messagesContent))

	sections = append(sections, inputPanelStyle.Width(contentWidth).Render(m.renderInput()))

	if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	if m.err != nil {
		sections = append(sections, FormatError(m.err))
	}
	sections = append(sections, m.renderStatusBar(contentWidth))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) hasConversation() bool {
	for _, msg := range m.messages {
		if msg.Role != models.RoleSystem {
			return true
		}
	}
	return false
}

func (m Model) renderWelcome() string {
	width := m.viewport.Width - 4
	title := welcomeTitleStyle.Width(width).Align(lipgloss.Center).Render("Welcome to kiki")
	subtitle := welcomeStyle.Width(width).Align(lipgloss.Center).Render("Ask anything, or try /imagine a lighthouse at dusk")

	content := lipgloss.JoinVertical(lipgloss.Center, "", title, "", subtitle, "")
	topPadding := (m.viewport.Height - lipgloss.Height(content)) / 2
	if topPadding < 0 {
		topPadding = 0
	}
	return strings.Repeat("\n", topPadding) + content
}

func (m Model) renderInput() string {
	switch {
	case m.uploading:
		return m.spinner.View() + loadingStyle.Render(" Uploading image...")
	case m.status == models.StatusAwaitingImage:
		return m.spinner.View() + loadingStyle.Render(" Generating image...") + hintStyle.Render("  (Esc to cancel)")
	case m.status == models.StatusAwaitingText:
		return m.spinner.View() + loadingStyle.Render(" Waiting for reply...") + hintStyle.Render("  (Esc to cancel)")
	}

	parts := []string{inputLabelStyle.Render("You")}
	if att := m.ctrl.Attachment(); att != "" {
		label := "image attached"
		if !strings.HasPrefix(att, "data:") {
			label = att
		}
		parts = append(parts, attachmentStyle.Render("📎 "+label))
	}
	parts = append(parts, m.textarea.View())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderStatusBar(width int) string {
	shortcuts := []struct {
		key  string
		desc string
	}{
		{"Enter", "Send"},
		{"Esc", "Cancel/Quit"},
		{"↑↓", "Scroll"},
		{"/help", "Commands"},
	}

	items := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		items = append(items, statusKeyStyle.Render(s.key)+statusDescStyle.Render(" "+s.desc))
	}
	return statusBarStyle.Width(width).Align(lipgloss.Center).Render(strings.Join(items, "  │  "))
}

// updateViewport refreshes the viewport content with styled messages
func (m *Model) updateViewport() {
	if !m.ready {
		return
	}

	var content strings.Builder
	bubbleWidth := m.viewport.Width - 6
	opts := m.renderOpts.WithWidth(bubbleWidth - 4)

	first := true
	for _, msg := range m.messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		if !first {
			content.WriteString("\n")
		}
		first = false

		switch {
		case msg.Role == models.RoleUser:
			content.WriteString(userLabelStyle.Render("● You") + "\n")
			content.WriteString(userBubbleStyle.Width(bubbleWidth).Render(render.PrepareContent(msg.Content)))
		case msg.IsGenerating:
			content.WriteString(assistantLabelStyle.Render("✦ Assistant") + "\n")
			content.WriteString(generatingBubbleStyle.Width(bubbleWidth).Render(msg.Content))
		default:
			content.WriteString(assistantLabelStyle.Render("✦ Assistant") + "\n")
			content.WriteString(assistantBubbleStyle.Width(bubbleWidth).Render(render.Message(msg.Content, opts)))
		}
		content.WriteString("\n")
	}

	m.viewport.SetContent(content.String())
}

// RunChat starts the chat TUI and blocks until it exits.
func RunChat(cfg Config) error {
	m := NewChatModel(cfg)
	defer m.bridge.close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
