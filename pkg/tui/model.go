// Package tui is the interactive chat front-end: a scrolling thread of
// message bubbles above an input box.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/chat"
	"github.com/papercomputeco/parley/pkg/history"
	"github.com/papercomputeco/parley/pkg/transport"
)

// UI configuration constants
const (
	defaultWidth    = 100
	defaultHeight   = 30
	inputHeight     = 3
	inputCharLimit  = 8000
	chromeHeight    = 3 // header, status and spacing around the input
	fragmentBacklog = 64
)

// Sender sends one chat message. *transport.Client implements it.
type Sender interface {
	Send(ctx context.Context, req chat.ChatRequest, onFragment transport.FragmentFunc) (*chat.ChatResponse, error)
}

// Options configures a Model.
type Options struct {
	Sender Sender
	Store  history.Store
	Logger *zap.Logger

	// ConversationID resumes a stored conversation; empty starts a new one.
	ConversationID string

	// Streaming requests fragments as they are generated. When false only
	// the single-request transport is used.
	Streaming bool
}

// SenderChangedMsg replaces the sender used for subsequent messages, for
// instance after the configuration was reloaded.
type SenderChangedMsg struct {
	Sender Sender
}

type (
	fragmentMsg struct{ fragment string }
	sendDoneMsg struct {
		resp *chat.ChatResponse
		err  error
	}
)

// inflight is the one send in progress.
type inflight struct {
	fragments <-chan string
	done      <-chan sendDoneMsg
}

// attempt is a user message and the request that carries it, kept so a
// failed send can be resubmitted unchanged.
type attempt struct {
	messageID string
	req       chat.ChatRequest
}

// Model is the Bubble Tea model of the chat UI.
type Model struct {
	sender    Sender
	store     history.Store
	logger    *zap.Logger
	streaming bool

	conversation *history.Conversation
	bubbles      []bubble

	input    textarea.Model
	view     viewport.Model
	spinner  spinner.Model
	mdStyle  string
	markdown *glamour.TermRenderer

	sending *inflight
	current *attempt
	failed  *attempt
	status  string
	err     error

	width  int
	height int
}

// New creates the model, loading the conversation to resume if one was
// requested.
func New(opts Options) (Model, error) {
	if opts.Sender == nil || opts.Store == nil {
		return Model{}, errors.New("tui: sender and store are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	input := textarea.New()
	input.Placeholder = "Send a message…"
	input.CharLimit = inputCharLimit
	input.ShowLineNumbers = false
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = dimStyle

	view := viewport.New(defaultWidth, defaultHeight)
	// Letters belong to the input, so only paging keys scroll the thread.
	view.KeyMap = viewport.KeyMap{
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
	}

	m := Model{
		sender:    opts.Sender,
		store:     opts.Store,
		logger:    opts.Logger,
		streaming: opts.Streaming,
		input:     input,
		view:      view,
		spinner:   spin,
		mdStyle:   markdownStyle(),
		width:     defaultWidth,
		height:    defaultHeight + inputHeight + chromeHeight,
	}
	m.resize(m.width, m.height)

	if opts.ConversationID != "" {
		if err := m.load(context.Background(), opts.ConversationID); err != nil {
			return Model{}, err
		}
	}

	return m, nil
}

func (m *Model) load(ctx context.Context, id string) error {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", id, err)
	}
	msgs, err := m.store.Messages(ctx, id)
	if err != nil {
		return fmt.Errorf("load messages of %s: %w", id, err)
	}

	m.conversation = conv
	m.bubbles = make([]bubble, 0, len(msgs))
	for _, msg := range msgs {
		m.bubbles = append(m.bubbles, bubble{role: msg.Role, content: msg.Content, failed: msg.Failed})
	}

	// The last failed user message can be retried after a restart.
	if n := len(msgs); n > 0 && msgs[n-1].Failed && msgs[n-1].Role == chat.RoleUser {
		m.failed = &attempt{
			messageID: msgs[n-1].ID,
			req: chat.ChatRequest{
				ConversationID: conv.RemoteID,
				Message:        msgs[n-1].Content,
				History:        history.Turns(msgs[:n-1]),
			},
		}
	}

	m.refresh()
	return nil
}

// Init initializes the model (Bubble Tea interface)
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update processes messages and updates the model (Bubble Tea interface)
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if handled {
			return m, cmd
		}

	case fragmentMsg:
		m.appendFragment(msg.fragment)
		return m, m.waitForSend()

	case sendDoneMsg:
		m.finishSend(msg)
		return m, nil

	case SenderChangedMsg:
		if msg.Sender != nil {
			m.sender = msg.Sender
			m.status = "configuration reloaded"
		}
		return m, nil

	case spinner.TickMsg:
		if m.sending == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.sending == nil {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey handles the chat's own bindings; other keys go to the input.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return tea.Quit, true

	case "enter":
		if m.sending != nil {
			return nil, true
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return nil, true
		}
		m.input.Reset()
		return m.submit(text), true

	case "ctrl+r":
		if m.sending != nil || m.failed == nil {
			return nil, true
		}
		return m.retry(), true

	case "ctrl+n":
		if m.sending != nil {
			return nil, true
		}
		m.conversation = nil
		m.bubbles = nil
		m.failed = nil
		m.err = nil
		m.status = "new conversation"
		m.refresh()
		return nil, true
	}

	return nil, false
}

// submit stores a new user message and sends it.
func (m *Model) submit(text string) tea.Cmd {
	ctx := context.Background()
	m.err = nil
	m.status = ""

	if m.conversation == nil {
		conv, err := m.store.CreateConversation(ctx, history.Title(text))
		if err != nil {
			m.err = fmt.Errorf("could not save conversation: %w", err)
			m.refresh()
			return nil
		}
		m.conversation = conv
	}

	prior, err := m.store.Messages(ctx, m.conversation.ID)
	if err != nil {
		m.logger.Warn("failed to load history", zap.Error(err))
	}

	msg := &history.Message{ConversationID: m.conversation.ID, Role: chat.RoleUser, Content: text}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		m.logger.Warn("failed to store message", zap.Error(err))
	}

	// Only the latest failure stays retryable.
	m.failed = nil

	m.bubbles = append(m.bubbles, bubble{role: chat.RoleUser, content: text})
	return m.send(attempt{
		messageID: msg.ID,
		req: chat.ChatRequest{
			ConversationID: m.conversation.RemoteID,
			Message:        text,
			History:        history.Turns(prior),
		},
	})
}

// retry resubmits the last failed request unchanged.
func (m *Model) retry() tea.Cmd {
	a := *m.failed
	m.failed = nil
	m.err = nil
	m.status = "retrying"

	if err := m.store.MarkFailed(context.Background(), a.messageID, false); err != nil {
		m.logger.Warn("failed to update message", zap.Error(err))
	}
	for i := len(m.bubbles) - 1; i >= 0; i-- {
		if m.bubbles[i].failed {
			m.bubbles[i].failed = false
			break
		}
	}

	return m.send(a)
}

// send starts a send in the background and returns the command that pumps its
// fragments and result into the model.
func (m *Model) send(a attempt) tea.Cmd {
	fragments := make(chan string, fragmentBacklog)
	done := make(chan sendDoneMsg, 1)

	sender := m.sender
	req := a.req.Clone()
	var onFragment transport.FragmentFunc
	if m.streaming {
		onFragment = func(f string) { fragments <- f }
	}

	go func() {
		resp, err := sender.Send(context.Background(), req, onFragment)
		close(fragments)
		done <- sendDoneMsg{resp: resp, err: err}
	}()

	m.current = &a
	m.sending = &inflight{fragments: fragments, done: done}
	m.bubbles = append(m.bubbles, bubble{role: chat.RoleAssistant, pending: true})
	m.input.Blur()
	m.refresh()

	return tea.Batch(m.waitForSend(), m.spinner.Tick)
}

// waitForSend delivers the next fragment, or the result once all
// fragments were delivered.
func (m *Model) waitForSend() tea.Cmd {
	s := m.sending
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		if f, ok := <-s.fragments; ok {
			return fragmentMsg{fragment: f}
		}
		return <-s.done
	}
}

func (m *Model) appendFragment(fragment string) {
	if b := m.pendingBubble(); b != nil {
		b.content += fragment
		m.refresh()
	}
}

func (m *Model) finishSend(msg sendDoneMsg) {
	ctx := context.Background()
	a := m.current
	m.sending = nil
	m.current = nil
	m.input.Focus()

	if msg.err != nil {
		m.logger.Error("send failed", zap.Error(msg.err))
		m.dropPendingBubble()
		for i := len(m.bubbles) - 1; i >= 0; i-- {
			if m.bubbles[i].role == chat.RoleUser {
				m.bubbles[i].failed = true
				break
			}
		}
		if a != nil {
			m.failed = a
			if err := m.store.MarkFailed(ctx, a.messageID, true); err != nil {
				m.logger.Warn("failed to update message", zap.Error(err))
			}
		}
		m.err = msg.err
		m.status = ""
		m.refresh()
		return
	}

	// The final answer replaces whatever fragments arrived, which differ
	// when the stream failed part way and the fallback answered.
	if b := m.pendingBubble(); b != nil {
		b.content = msg.resp.Answer
		b.pending = false
	}
	m.status = ""

	if m.conversation != nil {
		answer := &history.Message{ConversationID: m.conversation.ID, Role: chat.RoleAssistant, Content: msg.resp.Answer}
		if err := m.store.AppendMessage(ctx, answer); err != nil {
			m.logger.Warn("failed to store answer", zap.Error(err))
		}
		if id := msg.resp.ConversationID; id != "" && id != m.conversation.RemoteID {
			if err := m.store.SetRemoteID(ctx, m.conversation.ID, id); err != nil {
				m.logger.Warn("failed to store conversation id", zap.Error(err))
			}
			m.conversation.RemoteID = id
		}
	}

	m.refresh()
}

func (m *Model) pendingBubble() *bubble {
	if n := len(m.bubbles); n > 0 && m.bubbles[n-1].pending {
		return &m.bubbles[n-1]
	}
	return nil
}

func (m *Model) dropPendingBubble() {
	if m.pendingBubble() != nil {
		m.bubbles = m.bubbles[:len(m.bubbles)-1]
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.input.SetWidth(width)

	viewHeight := height - inputHeight - chromeHeight
	if viewHeight < 1 {
		viewHeight = 1
	}
	m.view.Width = width
	m.view.Height = viewHeight
	wrap := width*3/4 - bubbleChrome
	if wrap < 10 {
		wrap = 10
	}
	m.markdown = newMarkdownRenderer(m.mdStyle, wrap)
	m.refresh()
}

// refresh re-renders the thread and keeps the newest message in view.
func (m *Model) refresh() {
	m.view.SetContent(renderThread(m.bubbles, m.width, m.markdown))
	m.view.GotoBottom()
}

// View renders the UI (Bubble Tea interface)
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("parley"))
	if m.conversation != nil {
		b.WriteString(dimStyle.Render("  " + m.conversation.Title))
	}
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.input.View())

	return b.String()
}

func (m Model) statusLine() string {
	switch {
	case m.sending != nil:
		return m.spinner.View() + dimStyle.Render(" waiting for reply…")
	case m.err != nil:
		return errorStyle.Render(describeError(m.err))
	case m.status != "":
		return dimStyle.Render(m.status)
	default:
		return dimStyle.Render("enter send · alt+enter newline · ctrl+n new · esc quit")
	}
}

// describeError turns a send failure into a user-facing line.
func describeError(err error) string {
	var serverErr *transport.ServerError
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return "The reply took too long. Press ctrl+r to try again."
	case errors.As(err, &serverErr):
		return fmt.Sprintf("The server answered %d: %s. Press ctrl+r to try again.",
			serverErr.StatusCode, strings.TrimSpace(serverErr.Body))
	case errors.Is(err, transport.ErrNetwork):
		return "Could not reach the chat server. Press ctrl+r to try again."
	default:
		return "Error: " + err.Error()
	}
}
