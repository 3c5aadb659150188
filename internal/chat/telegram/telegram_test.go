package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
)

// mockBot implements botClient for tests.
type mockBot struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.Chattable
	fileURLs map[string]string
	stopped  bool
}

func newMockBot() *mockBot {
	return &mockBot{
		updates:  make(chan tgbotapi.Update, 10),
		fileURLs: make(map[string]string),
	}
}

func (m *mockBot) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockBot) StopReceivingUpdates() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	m.sent = append(m.sent, c)
	m.mu.Unlock()
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockBot) GetFileDirectURL(fileID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileURLs[fileID], nil
}

func newConnected(t *testing.T, bot *mockBot) *Adapter {
	t.Helper()
	a, err := New(Opts{Bot: bot})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a
}

func textUpdate(chatID int64, msgID int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: msgID,
			From:      &tgbotapi.User{ID: 42, UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("want error without token or injected bot")
	}
}

func TestListenConvertsTextMessage(t *testing.T) {
	bot := newMockBot()
	a := newConnected(t, bot)
	defer a.Close()

	inbound, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	bot.updates <- textUpdate(-100555, 7, "printer on fire")

	msg := <-inbound
	if msg.Platform != "telegram" {
		t.Errorf("platform = %q", msg.Platform)
	}
	if msg.Thread.ChatID != "-100555" || msg.Thread.TopicID != "" {
		t.Errorf("thread = %+v", msg.Thread)
	}
	if msg.MessageID != "7" || msg.UserName != "alice" || msg.Text != "printer on fire" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestListenSkipsBotsAndEmpty(t *testing.T) {
	bot := newMockBot()
	a := newConnected(t, bot)
	defer a.Close()

	inbound, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	fromBot := textUpdate(-1, 1, "beep")
	fromBot.Message.From.IsBot = true
	bot.updates <- fromBot
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: -1},
	}}
	bot.updates <- textUpdate(-1, 3, "real one")

	msg := <-inbound
	if msg.MessageID != "3" {
		t.Fatalf("first delivered message = %+v, want the non-bot, non-empty one", msg)
	}
}

func TestListenExtractsDocument(t *testing.T) {
	bot := newMockBot()
	a := newConnected(t, bot)
	defer a.Close()

	inbound, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 9,
		From:      &tgbotapi.User{ID: 42, FirstName: "Bob", LastName: "K"},
		Chat:      &tgbotapi.Chat{ID: 555},
		Caption:   "see log",
		Document: &tgbotapi.Document{
			FileID:   "doc-1",
			FileName: "app.log",
			MimeType: "text/plain",
			FileSize: 128,
		},
	}}

	msg := <-inbound
	if msg.Text != "see log" || msg.UserName != "Bob K" {
		t.Errorf("msg = %+v", msg)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ID != "doc-1" || msg.Attachments[0].Size != 128 {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
}

func TestSendBuildsReply(t *testing.T) {
	bot := newMockBot()
	a := newConnected(t, bot)
	defer a.Close()

	err := a.Send(context.Background(), chat.OutboundMessage{
		Thread:  chat.ThreadKey{ChatID: "555"},
		Text:    "Ticket #7001 created.",
		ReplyTo: "9",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(bot.sent))
	}
	mc, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent type = %T", bot.sent[0])
	}
	if mc.ChatID != 555 || mc.ReplyToMessageID != 9 {
		t.Errorf("config = %+v", mc)
	}
}

func TestSendRejectsBadChatID(t *testing.T) {
	bot := newMockBot()
	a := newConnected(t, bot)
	defer a.Close()

	err := a.Send(context.Background(), chat.OutboundMessage{
		Thread: chat.ThreadKey{ChatID: "not-a-number"},
		Text:   "x",
	})
	if err == nil || !strings.Contains(err.Error(), "invalid chat id") {
		t.Fatalf("err = %v", err)
	}
}

func TestDownloadStreamsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file bytes"))
	}))
	defer srv.Close()

	bot := newMockBot()
	bot.fileURLs["f-1"] = srv.URL + "/file/f-1"
	a, err := New(Opts{Bot: bot, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Close()

	rc, err := a.Download(context.Background(), chat.FileRef{ID: "f-1"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "file bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestCloseStopsPolling(t *testing.T) {
	bot := newMockBot()
	a := newConnected(t, bot)
	if _, err := a.Listen(context.Background()); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if !bot.stopped {
		t.Error("StopReceivingUpdates not called")
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
