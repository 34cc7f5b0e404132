package ws_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/ws"
)

// --- fakes ---------------------------------------------------------------

type fakeMessageStore struct {
	mu         sync.Mutex
	created    []model.ChatMessage
	failCreate bool
	markCalls  [][2]string // chatID, recipientID
}

func (s *fakeMessageStore) Create(ctx context.Context, m *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return context.DeadlineExceeded
	}
	s.created = append(s.created, *m)
	return nil
}

func (s *fakeMessageStore) MarkChatRead(ctx context.Context, chatID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls = append(s.markCalls, [2]string{chatID, recipientID})
	return nil
}

func (s *fakeMessageStore) setFailCreate(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = fail
}

func (s *fakeMessageStore) snapshot() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ChatMessage(nil), s.created...)
}

func (s *fakeMessageStore) marks() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string(nil), s.markCalls...)
}

type fakeChatStore struct {
	mu        sync.Mutex
	summaries map[string]model.LastMessage
	readCalls [][2]string // chatID, readerID
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{summaries: make(map[string]model.LastMessage)}
}

func (s *fakeChatStore) SetLastMessage(ctx context.Context, chatID string, lm model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[chatID] = lm
	return nil
}

func (s *fakeChatStore) MarkLastMessageRead(ctx context.Context, chatID, readerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls = append(s.readCalls, [2]string{chatID, readerID})
	if lm, ok := s.summaries[chatID]; ok && lm.SenderID != readerID {
		lm.Read = true
		s.summaries[chatID] = lm
	}
	return nil
}

func (s *fakeChatStore) summary(chatID string) (model.LastMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lm, ok := s.summaries[chatID]
	return lm, ok
}

type typingState struct {
	isTyping bool
	at       time.Time
}

type fakeTypingStore struct {
	mu     sync.Mutex
	states map[string]typingState // chatID|userID
}

func newFakeTypingStore() *fakeTypingStore {
	return &fakeTypingStore{states: make(map[string]typingState)}
}

func (s *fakeTypingStore) Upsert(ctx context.Context, chatID, userID string, isTyping bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[chatID+"|"+userID] = typingState{isTyping: isTyping, at: at}
	return nil
}

func (s *fakeTypingStore) state(chatID, userID string) (typingState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[chatID+"|"+userID]
	return st, ok
}

type fakeNotifStore struct {
	mu     sync.Mutex
	notifs []model.Notification
}

func (s *fakeNotifStore) Create(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifs = append(s.notifs, *n)
	return nil
}

func (s *fakeNotifStore) snapshot() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.notifs...)
}

type fakePresenceStore struct {
	mu     sync.Mutex
	online map[string]bool
	flips  []string // "userID:true" in call order
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{online: make(map[string]bool)}
}

func (s *fakePresenceStore) SetOnline(ctx context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = online
	if online {
		s.flips = append(s.flips, userID+":online")
	} else {
		s.flips = append(s.flips, userID+":offline")
	}
	return nil
}

func (s *fakePresenceStore) isOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

func (s *fakePresenceStore) flipCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flips)
}

func (s *fakePresenceStore) onlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, online := range s.online {
		if online {
			n++
		}
	}
	return n
}

type fakePush struct {
	mu    sync.Mutex
	calls []string // recipient userID
}

func (p *fakePush) Notify(ctx context.Context, userID, title, body, actionURL string, data map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, userID)
	return nil
}

func (p *fakePush) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type tokenVerifier struct{}

// Verify accepts tokens of the form "user:<id>".
func (tokenVerifier) Verify(ctx context.Context, token string) (string, error) {
	if id, ok := strings.CutPrefix(token, "user:"); ok && id != "" {
		return id, nil
	}
	return "", context.Canceled
}

// --- harness -------------------------------------------------------------

type relayHarness struct {
	messages *fakeMessageStore
	chats    *fakeChatStore
	typing   *fakeTypingStore
	notifs   *fakeNotifStore
	presence *fakePresenceStore
	push     *fakePush
	srv      *httptest.Server

	stopRelay context.CancelFunc
	relayDone chan struct{}
}

func newRelayHarness(t *testing.T) *relayHarness {
	t.Helper()
	h := &relayHarness{
		messages: &fakeMessageStore{},
		chats:    newFakeChatStore(),
		typing:   newFakeTypingStore(),
		notifs:   &fakeNotifStore{},
		presence: newFakePresenceStore(),
		push:     &fakePush{},
	}
	relay := ws.NewRelay(h.messages, h.chats, h.typing, h.notifs, h.presence, 200, h.push)
	ctx, cancel := context.WithCancel(context.Background())
	h.stopRelay = cancel
	h.relayDone = make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(h.relayDone)
	}()
	t.Cleanup(cancel)

	wsHandler := handler.NewWSHandler(relay, "*")
	h.srv = httptest.NewServer(middleware.BearerAuth(tokenVerifier{})(http.HandlerFunc(wsHandler.ServeWS)))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *relayHarness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	header := http.Header{"Authorization": []string{"Bearer user:" + userID}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal frame %q: %v", raw, err)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- tests ---------------------------------------------------------------

func TestChatMessagePersistAndAck(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"hi bob"}`)
	ack := readFrame(t, conn)

	if ack["type"] != "message_sent" {
		t.Fatalf("ack type = %v, want message_sent", ack["type"])
	}
	if ack["messageId"] == "" || ack["messageId"] == nil {
		t.Error("ack missing messageId")
	}
	if _, err := time.Parse(time.RFC3339Nano, ack["timestamp"].(string)); err != nil {
		t.Errorf("ack timestamp not RFC3339: %v", err)
	}

	msgs := h.messages.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.SenderID != "alice" || m.RecipientID != "bob" || m.ChatID != "c1" || m.Text != "hi bob" {
		t.Errorf("persisted message = %+v", m)
	}
	if m.Read {
		t.Error("fresh message persisted as read")
	}
	if m.ID != ack["messageId"] {
		t.Errorf("ack id %v != persisted id %s", ack["messageId"], m.ID)
	}

	lm, ok := h.chats.summary("c1")
	if !ok {
		t.Fatal("chat summary not updated")
	}
	if lm.Text != "hi bob" || lm.SenderID != "alice" || lm.Read {
		t.Errorf("summary = %+v", lm)
	}
}

func TestChatMessageAttachmentSummary(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","imageUrl":"https://cdn/x.png"}`)
	readFrame(t, conn) // ack

	lm, ok := h.chats.summary("c1")
	if !ok {
		t.Fatal("chat summary not updated")
	}
	if lm.Text != "Image" {
		t.Errorf("summary text = %q, want %q", lm.Text, "Image")
	}
}

func TestChatMessageMissingFields(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{
			name:  "no chatId",
			frame: `{"type":"chat_message","recipientId":"bob","text":"hi"}`,
			want:  "chatId",
		},
		{
			name:  "no recipientId",
			frame: `{"type":"chat_message","chatId":"c1","text":"hi"}`,
			want:  "recipientId",
		},
		{
			name:  "no content",
			frame: `{"type":"chat_message","chatId":"c1","recipientId":"bob"}`,
			want:  "text, imageUrl or voiceUrl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRelayHarness(t)
			conn := h.dial(t, "alice")

			sendFrame(t, conn, tt.frame)
			resp := readFrame(t, conn)

			errMsg, _ := resp["error"].(string)
			if !strings.Contains(errMsg, tt.want) {
				t.Errorf("error = %q, want mention of %q", errMsg, tt.want)
			}
			if got := len(h.messages.snapshot()); got != 0 {
				t.Errorf("persisted %d messages on invalid frame, want 0", got)
			}
			if h.push.count() != 0 {
				t.Error("push fired for invalid frame")
			}
		})
	}
}

func TestChatMessagePersistFailure(t *testing.T) {
	h := newRelayHarness(t)
	h.messages.setFailCreate(true)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"hi"}`)
	resp := readFrame(t, conn)

	if resp["error"] != "failed to send message" {
		t.Errorf("error = %v, want %q", resp["error"], "failed to send message")
	}
	if _, ok := h.chats.summary("c1"); ok {
		t.Error("summary updated although the insert failed")
	}
	if h.push.count() != 0 {
		t.Error("push fired although the insert failed")
	}

	// The connection survives; the next frame still works.
	h.messages.setFailCreate(false)
	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"retry"}`)
	ack := readFrame(t, conn)
	if ack["type"] != "message_sent" {
		t.Fatalf("retry ack type = %v", ack["type"])
	}
}

func TestChatMessageNotifiesRecipient(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"hi"}`)
	readFrame(t, conn) // ack

	notifs := h.notifs.snapshot()
	if len(notifs) != 1 {
		t.Fatalf("created %d notifications, want 1", len(notifs))
	}
	n := notifs[0]
	if n.UserID != "bob" || n.Type != model.NotificationTypeMessage {
		t.Errorf("notification = %+v", n)
	}
	if n.Title != "New message" || n.Body != "hi" {
		t.Errorf("notification title/body = %q / %q", n.Title, n.Body)
	}
	if n.ActionURL != "/chats/c1" {
		t.Errorf("ActionURL = %q", n.ActionURL)
	}
	if n.Data["chatId"] != "c1" || n.Data["senderId"] != "alice" {
		t.Errorf("Data = %v", n.Data)
	}

	waitFor(t, func() bool { return h.push.count() == 1 }, "push never fired")
}

func TestChatMessageAttachmentNotificationBody(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","voiceUrl":"https://cdn/v.ogg"}`)
	readFrame(t, conn) // ack

	notifs := h.notifs.snapshot()
	if len(notifs) != 1 {
		t.Fatalf("created %d notifications, want 1", len(notifs))
	}
	if notifs[0].Body != "You received a new message" {
		t.Errorf("body = %q", notifs[0].Body)
	}
}

func TestTypingStatus(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"typing_status","chatId":"c1","isTyping":true}`)
	waitFor(t, func() bool {
		st, ok := h.typing.state("c1", "alice")
		return ok && st.isTyping
	}, "typing=true never recorded")

	// Last write wins.
	sendFrame(t, conn, `{"type":"typing_status","chatId":"c1","isTyping":false}`)
	waitFor(t, func() bool {
		st, ok := h.typing.state("c1", "alice")
		return ok && !st.isTyping
	}, "typing=false never recorded")
}

func TestTypingStatusWithoutChatIDIsIgnored(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"typing_status","isTyping":true}`)
	// Follow with a message so we know the typing frame was processed.
	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"x"}`)
	readFrame(t, conn)

	if _, ok := h.typing.state("", "alice"); ok {
		t.Error("typing without chatId was recorded")
	}
}

func TestReadReceipt(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	sendFrame(t, alice, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"hi"}`)
	readFrame(t, alice)

	sendFrame(t, bob, `{"type":"read_receipt","chatId":"c1"}`)
	waitFor(t, func() bool { return len(h.messages.marks()) == 1 }, "read receipt never processed")

	mark := h.messages.marks()[0]
	if mark[0] != "c1" || mark[1] != "bob" {
		t.Errorf("MarkChatRead(%q, %q), want (c1, bob)", mark[0], mark[1])
	}
	lm, _ := h.chats.summary("c1")
	if !lm.Read {
		t.Error("summary still unread after recipient receipt")
	}

	// Idempotent: a duplicate receipt is processed and changes nothing.
	sendFrame(t, bob, `{"type":"read_receipt","chatId":"c1"}`)
	waitFor(t, func() bool { return len(h.messages.marks()) == 2 }, "second receipt never processed")
}

func TestReadReceiptBySenderKeepsSummaryUnread(t *testing.T) {
	h := newRelayHarness(t)
	alice := h.dial(t, "alice")

	sendFrame(t, alice, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"hi"}`)
	readFrame(t, alice)

	sendFrame(t, alice, `{"type":"read_receipt","chatId":"c1"}`)
	waitFor(t, func() bool { return len(h.messages.marks()) == 1 }, "receipt never processed")

	lm, _ := h.chats.summary("c1")
	if lm.Read {
		t.Error("sender's own receipt marked the summary read")
	}
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `this is not json`)
	resp := readFrame(t, conn)
	if resp["error"] != "invalid message format" {
		t.Errorf("error = %v, want %q", resp["error"], "invalid message format")
	}

	sendFrame(t, conn, `{"type":"chat_message","chatId":"c1","recipientId":"bob","text":"still here"}`)
	ack := readFrame(t, conn)
	if ack["type"] != "message_sent" {
		t.Fatalf("connection did not survive malformed frame, got %v", ack)
	}
}

func TestUnknownFrameType(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	sendFrame(t, conn, `{"type":"video_call"}`)
	resp := readFrame(t, conn)
	if resp["error"] != `unknown message type: "video_call"` {
		t.Errorf("error = %v", resp["error"])
	}
}

func TestPresenceLifecycle(t *testing.T) {
	h := newRelayHarness(t)
	conn := h.dial(t, "alice")

	waitFor(t, func() bool { return h.presence.isOnline("alice") }, "alice never went online")

	// Abrupt close of the underlying TCP connection, no close handshake.
	conn.UnderlyingConn().Close()
	waitFor(t, func() bool { return !h.presence.isOnline("alice") }, "alice never went offline")
}

func TestPresenceSecondSocketKeepsUserOnline(t *testing.T) {
	h := newRelayHarness(t)
	tab1 := h.dial(t, "alice")
	_ = h.dial(t, "alice") // second tab

	waitFor(t, func() bool { return h.presence.isOnline("alice") }, "alice never went online")
	before := h.presence.flipCount()

	tab1.Close()
	// Give the unregister time to land; the user must stay online.
	time.Sleep(150 * time.Millisecond)
	if !h.presence.isOnline("alice") {
		t.Fatal("alice went offline while a second socket was open")
	}
	if h.presence.flipCount() != before {
		t.Error("presence flipped on a non-last socket close")
	}
}

func TestShutdownDrainsManyClients(t *testing.T) {
	h := newRelayHarness(t)

	// More sockets than the relay's internal channel buffers hold, so the
	// drain cannot rely on queued unregisters being consumed.
	const n = 80
	for i := 0; i < n; i++ {
		h.dial(t, fmt.Sprintf("user-%03d", i))
	}
	waitFor(t, func() bool { return h.presence.onlineCount() == n }, "not all clients went online")

	h.stopRelay()
	select {
	case <-h.relayDone:
	case <-time.After(5 * time.Second):
		t.Fatal("relay loop did not stop with all sockets open")
	}

	if got := h.presence.onlineCount(); got != 0 {
		t.Errorf("%d users still online after shutdown, want 0", got)
	}
}

func TestUnauthenticatedUpgradeRejected(t *testing.T) {
	h := newRelayHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}
	resp.Body.Close()
}

func TestNonWebSocketRequestGets400(t *testing.T) {
	h := newRelayHarness(t)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL, nil)
	req.Header.Set("Authorization", "Bearer user:alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
