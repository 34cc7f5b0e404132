// Package ws implements the realtime chat relay: one WebSocket per
// authenticated user, three inbound frame kinds, presence and notification
// side effects. All cross-connection state lives in the backing stores.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

const (
	persistTimeout = 5 * time.Second
	typingTimeout  = 3 * time.Second
)

// MessageStore persists chat messages. Create is the primary effect of a
// chat_message frame; MarkChatRead backs read receipts.
type MessageStore interface {
	Create(ctx context.Context, m *model.ChatMessage) error
	MarkChatRead(ctx context.Context, chatID, recipientID string) error
}

// ChatStore maintains the denormalized last-message preview.
type ChatStore interface {
	SetLastMessage(ctx context.Context, chatID string, lm model.LastMessage) error
	MarkLastMessageRead(ctx context.Context, chatID, readerID string) error
}

// TypingStore records fire-and-forget typing signals.
type TypingStore interface {
	Upsert(ctx context.Context, chatID, userID string, isTyping bool, at time.Time) error
}

// NotificationStore records the notification row for a delivered message.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// PresenceStore flips a user's online flag and last-seen timestamp.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// PushNotifier delivers a Web Push alongside the notification row. nil
// disables pushes entirely.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body, actionURL string, data map[string]string) error
}

type Relay struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	messages MessageStore
	chats    ChatStore
	typing   TypingStore
	notifs   NotificationStore
	presence PresenceStore
	push     PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewRelay(
	messages MessageStore,
	chats ChatStore,
	typing TypingStore,
	notifs NotificationStore,
	presence PresenceStore,
	maxConns int,
	push PushNotifier,
) *Relay {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Relay{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		messages:   messages,
		chats:      chats,
		typing:     typing,
		notifs:     notifs,
		presence:   presence,
		push:       push,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run owns the register/unregister flow. Routing both through a single loop
// guarantees the presence flip runs exactly once per connection lifetime,
// whether the close was clean or a transport error.
func (rl *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			rl.shutdown()
			return
		case client := <-rl.register:
			rl.addClient(client)
		case client := <-rl.unregister:
			rl.removeClient(client)
		}
	}
}

func (rl *Relay) shutdown() {
	// Unblock Register/Unregister before touching any client: every closing
	// readPump defers an Unregister, and nothing drains that channel once the
	// Run loop has left its select.
	close(rl.done)

	// Connections still queued for registration never went online; just
	// close them.
	for {
		select {
		case c := <-rl.register:
			c.Close()
			continue
		default:
		}
		break
	}

	// Collect all clients under the lock; no I/O while holding it.
	rl.mu.Lock()
	allClients := make([]*Client, 0, rl.total)
	userIDs := make([]string, 0, len(rl.clients))
	for userID, clients := range rl.clients {
		userIDs = append(userIDs, userID)
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	rl.clients = make(map[string]map[*Client]struct{})
	rl.total = 0
	rl.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}

	// The unregister path is bypassed above, so the offline flips happen
	// here, once per user.
	for _, userID := range userIDs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := rl.presence.SetOnline(ctx, userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", userID, err)
		}
		cancel()
	}
}

func (rl *Relay) addClient(c *Client) {
	rl.mu.Lock()
	if rl.total >= rl.maxConns {
		rl.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", rl.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := rl.clients[c.userID]; !ok {
		rl.clients[c.userID] = make(map[*Client]struct{})
	}
	rl.clients[c.userID][c] = struct{}{}
	rl.total++
	rl.mu.Unlock()

	// Presence is best-effort: a failed flip is logged, never fatal to the
	// connection — messaging works without it.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := rl.presence.SetOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
}

func (rl *Relay) removeClient(c *Client) {
	rl.mu.Lock()
	clients, ok := rl.clients[c.userID]
	if !ok {
		rl.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		rl.mu.Unlock()
		return
	}
	delete(clients, c)
	rl.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(rl.clients, c.userID)
	}
	rl.mu.Unlock()

	c.Close()

	// Offline only when the user's last socket is gone; a second tab keeps
	// them online.
	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := rl.presence.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
	}
}

// HandleFrame decodes one inbound frame and dispatches it to exactly one
// handler. Decode and dispatch errors are recoverable: the client gets an
// error frame and the connection stays open.
func (rl *Relay) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		rl.sendError(c, err.Error())
		return
	}
	switch f := frame.(type) {
	case *ChatMessageFrame:
		rl.handleChatMessage(ctx, c, f)
	case *TypingStatusFrame:
		rl.handleTyping(ctx, c, f)
	case *ReadReceiptFrame:
		rl.handleReadReceipt(ctx, c, f)
	}
}

func (rl *Relay) handleChatMessage(ctx context.Context, c *Client, f *ChatMessageFrame) {
	defer logger.DeferLogDuration("ws.handleChatMessage", time.Now())()

	m := &model.ChatMessage{
		ID:          uuid.New().String(),
		ChatID:      f.ChatID,
		SenderID:    c.userID,
		RecipientID: f.RecipientID,
		Text:        f.Text,
		ImageURL:    f.ImageURL,
		VoiceURL:    f.VoiceURL,
		Read:        false,
		CreatedAt:   time.Now().UTC(),
	}

	// Validation happens before any write.
	var missing []string
	if f.ChatID == "" {
		missing = append(missing, "chatId")
	}
	if f.RecipientID == "" {
		missing = append(missing, "recipientId")
	}
	if !m.HasContent() {
		missing = append(missing, "text, imageUrl or voiceUrl")
	}
	if len(missing) > 0 {
		rl.sendError(c, (&MissingFieldError{Fields: missing}).Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	// The insert is the one critical effect; everything after it is
	// best-effort and independently retryable.
	if err := rl.messages.Create(ctx, m); err != nil {
		logger.Errorf("ws save message chat=%s user=%s: %v", f.ChatID, c.userID, err)
		rl.sendError(c, "failed to send message")
		return
	}

	if err := rl.chats.SetLastMessage(ctx, f.ChatID, model.LastMessageFrom(m)); err != nil {
		logger.Errorf("ws update chat summary chat=%s: %v", f.ChatID, err)
	}

	rl.notifyRecipient(ctx, m)

	rl.sendToClient(c, SentAck{Type: FrameMessageSent, MessageID: m.ID, Timestamp: m.CreatedAt})
}

// notifyRecipient writes the notification row and fires a Web Push. Both are
// log-only: a lost notification never fails a delivered message.
func (rl *Relay) notifyRecipient(ctx context.Context, m *model.ChatMessage) {
	body := m.Text
	if body == "" {
		body = "You received a new message"
	}
	actionURL := "/chats/" + m.ChatID
	data := map[string]string{"chatId": m.ChatID, "senderId": m.SenderID}

	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    m.RecipientID,
		Type:      model.NotificationTypeMessage,
		Title:     "New message",
		Body:      body,
		ActionURL: actionURL,
		Read:      false,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := rl.notifs.Create(ctx, n); err != nil {
		logger.Errorf("ws create notification chat=%s recipient=%s: %v", m.ChatID, m.RecipientID, err)
	}

	if rl.push != nil {
		go func() {
			if err := rl.push.Notify(context.Background(), m.RecipientID, n.Title, n.Body, actionURL, data); err != nil {
				logger.Errorf("ws push notify recipient=%s: %v", m.RecipientID, err)
			}
		}()
	}
}

func (rl *Relay) handleTyping(ctx context.Context, c *Client, f *TypingStatusFrame) {
	// Fire-and-forget signal: a missing chatId silently no-ops, and no
	// response frame is ever sent. Dropped updates are acceptable.
	if f.ChatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, typingTimeout)
	defer cancel()

	if err := rl.typing.Upsert(ctx, f.ChatID, c.userID, f.IsTyping, time.Now().UTC()); err != nil {
		logger.Errorf("ws typing upsert chat=%s user=%s: %v", f.ChatID, c.userID, err)
	}
}

func (rl *Relay) handleReadReceipt(ctx context.Context, c *Client, f *ReadReceiptFrame) {
	defer logger.DeferLogDuration("ws.handleReadReceipt", time.Now())()
	if f.ChatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	// Idempotent bulk update; a reader whose receipt is lost simply
	// re-sends it on next read. Failures are logged server-side only.
	if err := rl.messages.MarkChatRead(ctx, f.ChatID, c.userID); err != nil {
		logger.Errorf("ws mark read chat=%s user=%s: %v", f.ChatID, c.userID, err)
		return
	}
	if err := rl.chats.MarkLastMessageRead(ctx, f.ChatID, c.userID); err != nil {
		logger.Errorf("ws mark summary read chat=%s user=%s: %v", f.ChatID, c.userID, err)
	}
}

func (rl *Relay) sendError(c *Client, msg string) {
	rl.sendToClient(c, ErrorFrame{Error: msg})
}

func (rl *Relay) sendToClient(c *Client, msg any) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close the slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (rl *Relay) Register(c *Client) {
	select {
	case rl.register <- c:
	case <-rl.done:
		c.Close()
	}
}

func (rl *Relay) Unregister(c *Client) {
	select {
	case rl.unregister <- c:
	case <-rl.done:
	}
}
