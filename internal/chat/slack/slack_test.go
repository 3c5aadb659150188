package slack

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	authResp *slackapi.AuthTestResponse
	authErr  error
	posted   []postedMessage
	postErr  error
	users    map[string]*slackapi.User
	files    map[string]*slackapi.File
	fileData map[string][]byte
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123"},
		users:    make(map[string]*slackapi.User),
		files:    make(map[string]*slackapi.File),
		fileData: make(map[string][]byte),
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", userID)
}

func (m *mockSlackClient) GetFileInfo(fileID string, count, page int) (*slackapi.File, []slackapi.Comment, *slackapi.Paging, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("file not found: %s", fileID)
	}
	return f, nil, nil, nil
}

func (m *mockSlackClient) GetFile(downloadURL string, writer io.Writer) error {
	m.mu.Lock()
	data, ok := m.fileData[downloadURL]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no data at %s", downloadURL)
	}
	_, err := writer.Write(data)
	return err
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events chan socketmode.Event
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{events: make(chan socketmode.Event, 10)}
}

func (m *mockSocketClient) Run() error                         { return nil }
func (m *mockSocketClient) EventsChan() chan socketmode.Event  { return m.events }
func (m *mockSocketClient) Ack(socketmode.Request, ...interface{}) {}

func newConnected(t *testing.T) (*Adapter, *mockSlackClient, *mockSocketClient) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()
	a, err := New(Opts{Client: client, Socket: socket})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a, client, socket
}

func messageEvent(ev *slackevents.MessageEvent) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: ev,
			},
		},
	}
}

func TestNewRequiresTokens(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("want error without tokens or injected clients")
	}
}

func TestListenConvertsMessage(t *testing.T) {
	a, client, socket := newConnected(t)
	defer a.Close()

	client.users["U1"] = &slackapi.User{RealName: "Alice A"}

	inbound, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	socket.events <- messageEvent(&slackevents.MessageEvent{
		Channel:         "C123",
		ThreadTimeStamp: "100.1",
		TimeStamp:       "1234567890.2",
		User:            "U1",
		Text:            "vpn is down",
	})

	select {
	case msg := <-inbound:
		if msg.Platform != "slack" {
			t.Errorf("platform = %q", msg.Platform)
		}
		if msg.Thread.ChatID != "C123" || msg.Thread.TopicID != "100.1" {
			t.Errorf("thread = %+v", msg.Thread)
		}
		if msg.UserName != "Alice A" || msg.Text != "vpn is down" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
}

func TestListenFiltersSelfAndBots(t *testing.T) {
	a, _, socket := newConnected(t)
	defer a.Close()

	inbound, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	socket.events <- messageEvent(&slackevents.MessageEvent{
		Channel: "C123", TimeStamp: "1.1", User: "U_BOT_123", Text: "self",
	})
	socket.events <- messageEvent(&slackevents.MessageEvent{
		Channel: "C123", TimeStamp: "1.2", BotID: "B9", Text: "bot",
	})
	socket.events <- messageEvent(&slackevents.MessageEvent{
		Channel: "C123", TimeStamp: "1.3", User: "U1", SubType: "message_changed", Text: "edit",
	})
	socket.events <- messageEvent(&slackevents.MessageEvent{
		Channel: "C123", TimeStamp: "1.4", User: "U1", Text: "real",
	})

	select {
	case msg := <-inbound:
		if msg.Text != "real" {
			t.Fatalf("delivered = %+v, want the real user message", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
}

func TestListenKeepsFileShares(t *testing.T) {
	a, _, socket := newConnected(t)
	defer a.Close()

	inbound, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	socket.events <- messageEvent(&slackevents.MessageEvent{
		Channel:   "C123",
		TimeStamp: "2.1",
		User:      "U1",
		SubType:   "file_share",
		Text:      "log attached",
		Files: []slackevents.File{
			{ID: "F1", Name: "app.log", Mimetype: "text/plain", Size: 42},
		},
	})

	select {
	case msg := <-inbound:
		if len(msg.Attachments) != 1 {
			t.Fatalf("attachments = %+v", msg.Attachments)
		}
		ref := msg.Attachments[0]
		if ref.ID != "F1" || ref.Name != "app.log" || ref.Size != 42 {
			t.Errorf("ref = %+v", ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
}

func TestSendPostsToThread(t *testing.T) {
	a, client, _ := newConnected(t)
	defer a.Close()

	err := a.Send(context.Background(), chat.OutboundMessage{
		Thread: chat.ThreadKey{ChatID: "C123", TopicID: "100.1"},
		Text:   "Ticket #7001 created.",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.postedCount() != 1 {
		t.Fatalf("posted = %d, want 1", client.postedCount())
	}
	if client.posted[0].channelID != "C123" {
		t.Errorf("channel = %q", client.posted[0].channelID)
	}
}

func TestSendRequiresChannel(t *testing.T) {
	a, _, _ := newConnected(t)
	defer a.Close()

	err := a.Send(context.Background(), chat.OutboundMessage{Text: "x"})
	if err == nil {
		t.Fatal("want error without channel")
	}
}

func TestDownloadStreamsFile(t *testing.T) {
	a, client, _ := newConnected(t)
	defer a.Close()

	client.files["F1"] = &slackapi.File{ID: "F1", URLPrivateDownload: "https://files/F1"}
	client.fileData["https://files/F1"] = []byte("file bytes")

	rc, err := a.Download(context.Background(), chat.FileRef{ID: "F1"})
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

func TestDownloadUnknownFile(t *testing.T) {
	a, _, _ := newConnected(t)
	defer a.Close()

	if _, err := a.Download(context.Background(), chat.FileRef{ID: "F404"}); err == nil {
		t.Fatal("want error for unknown file")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, _, _ := newConnected(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
