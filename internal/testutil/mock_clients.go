package testutil

import (
	"context"
	"sync"

	"github.com/embyguard/emby-guard/internal/telegram"
)

// MockPolicyClient is an in-memory emby.PolicyClient.
type MockPolicyClient struct {
	mu           sync.Mutex
	DisableErr   error
	DisableCalls []string
}

func (m *MockPolicyClient) DisableUser(_ context.Context, embyID string) error {
	m.mu.Lock()
	m.DisableCalls = append(m.DisableCalls, embyID)
	m.mu.Unlock()
	return m.DisableErr
}

func (m *MockPolicyClient) Ping(context.Context) error { return nil }

// Disabled returns the recorded DisableUser calls.
func (m *MockPolicyClient) Disabled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.DisableCalls...)
}

// SentMessage records one MockSender delivery.
type SentMessage struct {
	Kind string // "send", "forward", "delete"
	Msg  telegram.Message
	// Forward/delete details
	ToChatID  int64
	ChatID    int64
	MessageID int
}

// MockSender is an in-memory telegram.Sender. Every delivery is recorded and,
// when Delivered is non-nil, also published there so tests can wait for
// asynchronous sends.
type MockSender struct {
	mu        sync.Mutex
	SendErr   error
	nextMsgID int
	sent      []SentMessage

	Delivered chan SentMessage
}

func (m *MockSender) record(s SentMessage) {
	m.mu.Lock()
	m.sent = append(m.sent, s)
	m.mu.Unlock()
	if m.Delivered != nil {
		m.Delivered <- s
	}
}

func (m *MockSender) SendMessage(_ context.Context, msg telegram.Message) (int, error) {
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	m.mu.Lock()
	m.nextMsgID++
	id := m.nextMsgID
	m.mu.Unlock()
	m.record(SentMessage{Kind: "send", Msg: msg, MessageID: id})
	return id, nil
}

func (m *MockSender) ForwardMessage(_ context.Context, toChatID, fromChatID int64, messageID int) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.record(SentMessage{Kind: "forward", ToChatID: toChatID, ChatID: fromChatID, MessageID: messageID})
	return nil
}

func (m *MockSender) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.record(SentMessage{Kind: "delete", ChatID: chatID, MessageID: messageID})
	return nil
}

// Sent returns a copy of all recorded deliveries.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
