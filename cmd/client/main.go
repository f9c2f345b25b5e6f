package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/King-Eliah/mentorship-platform-sub001/internal/chat"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/client/session"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/models"
)

// --- Styles ---

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")
	warnColor      = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warnColor)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	unreadStyle = lipgloss.NewStyle().
			Foreground(warnColor).
			Bold(true)

	onlineDot  = lipgloss.NewStyle().Foreground(secondaryColor).Render("●")
	offlineDot = mutedStyle.Render("○")

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// --- View State ---

type viewState int

const (
	viewAuth viewState = iota
	viewConversations
	viewChat
)

// --- Bridged events ---
// Core callbacks push onto the events channel; waitEvent feeds them
// back into Update.

type connStateMsg struct{ state chat.ConnState }

type messageMsg struct{ msg chat.ChatMessage }

type typingMsg struct{ ind chat.TypingIndicator }

type notifyMsg struct{ msg chat.ChatMessage }

type toastClearMsg struct{}

type loginResultMsg struct {
	sess session.Session
	err  error
}

type seedResultMsg struct {
	convs   []chat.Conversation
	history map[string][]chat.ChatMessage
	err     error
}

// --- Main Model ---

type model struct {
	core    *chat.Client
	events  chan tea.Msg
	profile string

	serverURL string
	userID    string
	username  string
	token     string

	connState chat.ConnState

	// Auth
	authAction    string // "login" or "register"
	usernameInput textinput.Model
	passwordInput textinput.Model
	authFocused   int
	authError     string

	// Conversations
	selectedConv int

	// Chat
	currentConvID string
	unsubscribe   func()
	messageInput  textinput.Model
	chatViewport  viewport.Model

	toast  string
	view   viewState
	width  int
	height int
}

func initialModel(serverURL, profile string) model {
	usernameInput := textinput.New()
	usernameInput.Placeholder = "Username"
	usernameInput.Focus()
	usernameInput.CharLimit = 32
	usernameInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 64
	passwordInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 1000
	messageInput.Width = 50

	return model{
		events:        make(chan tea.Msg, 64),
		profile:       profile,
		serverURL:     serverURL,
		connState:     chat.StateDisconnected,
		authAction:    "login",
		usernameInput: usernameInput,
		passwordInput: passwordInput,
		messageInput:  messageInput,
		chatViewport:  viewport.New(80, 20),
		view:          viewAuth,
	}
}

// --- REST collaborator ---

func apiLogin(serverURL, action, username, password string) (session.Session, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	resp, err := http.Post(serverURL+"/api/"+action, "application/json", bytes.NewReader(body))
	if err != nil {
		return session.Session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Message == "" {
			e.Message = resp.Status
		}
		return session.Session{}, fmt.Errorf("%s", e.Message)
	}

	var lr models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return session.Session{}, err
	}
	return session.Session{
		ServerURL: serverURL,
		Username:  lr.User.Username,
		UserID:    lr.User.ID,
		Token:     lr.Token,
	}, nil
}

func apiGet(serverURL, token, path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot fetch: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fetchSnapshot pulls the conversation list and each thread's recent
// history; the core reconciles live frames on top of this.
func fetchSnapshot(serverURL, token string) tea.Cmd {
	return func() tea.Msg {
		var raw []models.Conversation
		if err := apiGet(serverURL, token, "/api/conversations", &raw); err != nil {
			return seedResultMsg{err: err}
		}

		convs := make([]chat.Conversation, 0, len(raw))
		history := make(map[string][]chat.ChatMessage, len(raw))
		for _, c := range raw {
			conv := chat.Conversation{
				ID:            c.ID,
				OtherUserID:   c.OtherUserID,
				OtherUserName: c.OtherUserName,
				UnreadCount:   c.UnreadCount,
			}
			if c.LastMessage != nil {
				conv.LastMessage = &chat.ChatMessage{
					ID:             c.LastMessage.ID,
					SenderID:       c.LastMessage.SenderID,
					RecipientID:    c.LastMessage.RecipientID,
					ConversationID: c.LastMessage.ConversationID,
					Content:        c.LastMessage.Content,
					Timestamp:      c.LastMessage.Timestamp,
					IsRead:         c.LastMessage.IsRead,
				}
			}
			convs = append(convs, conv)

			var msgs []models.Message
			if err := apiGet(serverURL, token, "/api/conversations/"+c.ID+"/messages", &msgs); err != nil {
				continue
			}
			for _, m := range msgs {
				history[c.ID] = append(history[c.ID], chat.ChatMessage{
					ID:             m.ID,
					SenderID:       m.SenderID,
					RecipientID:    m.RecipientID,
					ConversationID: m.ConversationID,
					Content:        m.Content,
					Timestamp:      m.Timestamp,
					IsRead:         m.IsRead,
				})
			}
		}
		return seedResultMsg{convs: convs, history: history}
	}
}

func wsURL(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL + "/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

// --- Commands ---

func (m model) waitEvent() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

func doLogin(serverURL, action, username, password string) tea.Cmd {
	return func() tea.Msg {
		sess, err := apiLogin(serverURL, action, username, password)
		return loginResultMsg{sess: sess, err: err}
	}
}

func clearToastLater() tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg { return toastClearMsg{} })
}

// --- Init ---

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitEvent())
}

// startCore builds the realtime client and bridges its callbacks into
// the program's event channel.
func (m *model) startCore(sess session.Session) {
	m.serverURL = sess.ServerURL
	m.username = sess.Username
	m.userID = sess.UserID
	m.token = sess.Token

	core := chat.NewClient(chat.Config{
		ServerURL: wsURL(sess.ServerURL),
		Token:     sess.Token,
		UserID:    sess.UserID,
		Logger:    zerolog.Nop(),
	})
	m.core = core

	core.OnStateChange(func(s chat.ConnState) {
		m.events <- connStateMsg{state: s}
	})
	core.OnNotify(func(msg chat.ChatMessage) {
		m.events <- notifyMsg{msg: msg}
	})

	go core.Connect(context.Background())
}

// --- Update ---

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 6
		m.chatViewport.Height = msg.Height - 10
		m.refreshChatViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case loginResultMsg:
		if msg.err != nil {
			m.authError = msg.err.Error()
			return m, nil
		}
		m.authError = ""
		session.Save(m.profile, msg.sess)
		m.startCore(msg.sess)
		m.view = viewConversations
		return m, tea.Batch(fetchSnapshot(msg.sess.ServerURL, msg.sess.Token), m.waitEvent())

	case seedResultMsg:
		if msg.err != nil {
			m.toast = "snapshot failed: " + msg.err.Error()
			return m, clearToastLater()
		}
		m.core.Seed(msg.convs, msg.history)
		return m, nil

	case connStateMsg:
		m.connState = msg.state
		return m, m.waitEvent()

	case messageMsg:
		if msg.msg.ConversationID == m.currentConvID {
			m.refreshChatViewport()
			m.chatViewport.GotoBottom()
		}
		return m, m.waitEvent()

	case typingMsg:
		m.refreshChatViewport()
		return m, m.waitEvent()

	case notifyMsg:
		name := msg.msg.SenderID
		if c, ok := m.core.Conversation(msg.msg.ConversationID); ok {
			name = c.OtherUserName
		}
		m.toast = fmt.Sprintf("new message from %s", name)
		return m, tea.Batch(m.waitEvent(), clearToastLater())

	case toastClearMsg:
		m.toast = ""
		return m, nil
	}

	var cmd tea.Cmd
	switch m.view {
	case viewAuth:
		if m.authFocused == 0 {
			m.usernameInput, cmd = m.usernameInput.Update(msg)
		} else {
			m.passwordInput, cmd = m.passwordInput.Update(msg)
		}
	case viewChat:
		m.messageInput, cmd = m.messageInput.Update(msg)
	}
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case viewAuth:
		return m.handleAuthKey(msg)
	case viewConversations:
		return m.handleListKey(msg)
	case viewChat:
		return m.handleChatKey(msg)
	}
	return m, nil
}

func (m model) handleAuthKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "tab":
		if m.authFocused == 0 {
			m.authFocused = 1
			m.usernameInput.Blur()
			m.passwordInput.Focus()
		} else {
			m.authFocused = 0
			m.passwordInput.Blur()
			m.usernameInput.Focus()
		}
		return m, nil

	case "ctrl+r":
		if m.authAction == "login" {
			m.authAction = "register"
		} else {
			m.authAction = "login"
		}
		return m, nil

	case "enter":
		if m.authFocused == 0 {
			m.authFocused = 1
			m.usernameInput.Blur()
			m.passwordInput.Focus()
			return m, nil
		}
		username := strings.TrimSpace(m.usernameInput.Value())
		password := m.passwordInput.Value()
		if username == "" || password == "" {
			m.authError = "username and password required"
			return m, nil
		}
		return m, doLogin(m.serverURL, m.authAction, username, password)
	}

	var cmd tea.Cmd
	if m.authFocused == 0 {
		m.usernameInput, cmd = m.usernameInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func (m model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	convs := m.core.Conversations()

	switch msg.String() {
	case "ctrl+c", "q":
		if m.core != nil {
			m.core.Disconnect()
		}
		return m, tea.Quit

	case "up", "k":
		if m.selectedConv > 0 {
			m.selectedConv--
		}
		return m, nil

	case "down", "j":
		if m.selectedConv < len(convs)-1 {
			m.selectedConv++
		}
		return m, nil

	case "ctrl+l":
		session.Clear(m.profile)
		if m.core != nil {
			m.core.Disconnect()
		}
		return m, tea.Quit

	case "enter":
		if m.selectedConv >= len(convs) {
			return m, nil
		}
		return m.openConversation(convs[m.selectedConv].ID)
	}
	return m, nil
}

func (m model) openConversation(conversationID string) (tea.Model, tea.Cmd) {
	m.currentConvID = conversationID
	m.core.MarkActive(conversationID)

	events := m.events
	m.unsubscribe = m.core.Subscribe(conversationID, chat.Subscriber{
		OnMessage: func(msg chat.ChatMessage) { events <- messageMsg{msg: msg} },
		OnTyping:  func(ind chat.TypingIndicator) { events <- typingMsg{ind: ind} },
	})

	m.view = viewChat
	m.messageInput.Focus()
	m.messageInput.SetValue("")
	m.refreshChatViewport()
	m.chatViewport.GotoBottom()
	return m, textinput.Blink
}

func (m model) closeConversation() (tea.Model, tea.Cmd) {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.core.ClearActive()
	m.currentConvID = ""
	m.messageInput.Blur()
	m.view = viewConversations
	return m, nil
}

func (m model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.core != nil {
			m.core.Disconnect()
		}
		return m, tea.Quit

	case "esc":
		return m.closeConversation()

	case "pgup":
		m.chatViewport.LineUp(5)
		return m, nil

	case "pgdown":
		m.chatViewport.LineDown(5)
		return m, nil

	case "enter":
		content := strings.TrimSpace(m.messageInput.Value())
		if content == "" {
			return m, nil
		}
		conv, ok := m.core.Conversation(m.currentConvID)
		if !ok {
			return m, nil
		}
		_, err := m.core.SendMessage(m.currentConvID, conv.OtherUserID, content)
		if err != nil {
			m.toast = "not connected; message kept locally"
		}
		m.messageInput.SetValue("")
		m.refreshChatViewport()
		m.chatViewport.GotoBottom()
		return m, clearToastLater()
	}

	// Any other key is typing activity.
	var cmd tea.Cmd
	m.messageInput, cmd = m.messageInput.Update(msg)
	if msg.Type == tea.KeyRunes || msg.Type == tea.KeyBackspace || msg.Type == tea.KeySpace {
		m.core.Keystroke(m.currentConvID)
	}
	return m, cmd
}

// --- Rendering ---

func (m *model) refreshChatViewport() {
	if m.core == nil || m.currentConvID == "" {
		return
	}

	var b strings.Builder
	for _, msg := range m.core.Messages(m.currentConvID) {
		ts := msg.Time().Local().Format("15:04")
		if msg.SenderID == m.userID {
			b.WriteString(ownMessageStyle.Render(fmt.Sprintf("[%s] you: %s", ts, msg.Content)))
		} else {
			name := msg.SenderID
			if c, ok := m.core.Conversation(m.currentConvID); ok {
				name = c.OtherUserName
			}
			b.WriteString(otherMessageStyle.Render(fmt.Sprintf("[%s] %s: %s", ts, name, msg.Content)))
		}
		b.WriteString("\n")
	}
	m.chatViewport.SetContent(b.String())
}

func (m model) connBadge() string {
	switch m.connState {
	case chat.StateConnected:
		return selectedStyle.Render("● connected")
	case chat.StateReconnecting:
		return warnStyle.Render("◌ reconnecting...")
	case chat.StateConnecting:
		return warnStyle.Render("◌ connecting...")
	default:
		return errorStyle.Render("○ offline")
	}
}

func (m model) View() string {
	switch m.view {
	case viewAuth:
		return m.authView()
	case viewConversations:
		return m.conversationsView()
	case viewChat:
		return m.chatView()
	}
	return ""
}

func (m model) authView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Mentorship Messaging"))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("Mode: %s\n\n", selectedStyle.Render(m.authAction)))
	b.WriteString(m.usernameInput.View())
	b.WriteString("\n")
	b.WriteString(m.passwordInput.View())
	b.WriteString("\n\n")
	if m.authError != "" {
		b.WriteString(errorStyle.Render(m.authError))
		b.WriteString("\n\n")
	}
	b.WriteString(helpStyle.Render("tab: switch field • ctrl+r: login/register • enter: submit • esc: quit"))
	return boxStyle.Render(b.String())
}

func (m model) conversationsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Conversations — %s", m.username)))
	b.WriteString("  ")
	b.WriteString(m.connBadge())
	b.WriteString("\n\n")

	convs := m.core.Conversations()
	if len(convs) == 0 {
		b.WriteString(mutedStyle.Render("No conversations yet."))
		b.WriteString("\n")
	}

	for i, c := range convs {
		dot := offlineDot
		if online, known := m.core.IsOnline(c.OtherUserID); known && online {
			dot = onlineDot
		}

		line := fmt.Sprintf("%s %s", dot, c.OtherUserName)
		if c.UnreadCount > 0 {
			line += " " + unreadStyle.Render(fmt.Sprintf("(%d)", c.UnreadCount))
		}
		if c.LastMessage != nil {
			preview := c.LastMessage.Content
			if len(preview) > 40 {
				preview = preview[:40] + "…"
			}
			line += "  " + mutedStyle.Render(preview)
		}

		if i == m.selectedConv {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if m.toast != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(m.toast))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓: select • enter: open • ctrl+l: logout • q: quit"))
	return boxStyle.Render(b.String())
}

func (m model) chatView() string {
	conv, _ := m.core.Conversation(m.currentConvID)

	dot := offlineDot
	if online, known := m.core.IsOnline(conv.OtherUserID); known && online {
		dot = onlineDot
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", dot, conv.OtherUserName)))
	b.WriteString("  ")
	b.WriteString(m.connBadge())
	b.WriteString("\n\n")
	b.WriteString(m.chatViewport.View())
	b.WriteString("\n")

	if m.core.IsPeerTyping(m.currentConvID) {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%s is typing…", conv.OtherUserName)))
	}
	b.WriteString("\n")
	b.WriteString(m.messageInput.View())

	if m.toast != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(m.toast))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: send • esc: back • pgup/pgdn: scroll"))
	return boxStyle.Render(b.String())
}

// --- Main ---

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	profile := flag.String("profile", "default", "session profile name")
	flag.Parse()

	m := initialModel(*serverURL, *profile)

	// A saved session skips the login view.
	if sess := session.Load(*profile); sess != nil && sess.Token != "" {
		m.startCore(*sess)
		m.view = viewConversations
		p := tea.NewProgram(m, tea.WithAltScreen())
		go func() {
			p.Send(fetchSnapshot(sess.ServerURL, sess.Token)())
		}()
		if _, err := p.Run(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
