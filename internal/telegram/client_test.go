package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Sender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &client{
		token: "12345:testtoken",
		base:  srv.URL,
		http:  &http.Client{Timeout: 2 * time.Second},
		log:   zerolog.Nop(),
	}
}

func TestSendMessageReturnsMessageID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"chat_id":-100`) {
			t.Errorf("body: %s", body)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77}}`))
	})

	id, err := c.SendMessage(context.Background(), Message{ChatID: -100, Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != 77 {
		t.Errorf("message id: got %d", id)
	}
}

func TestSendMessageAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	})

	_, err := c.SendMessage(context.Background(), Message{ChatID: 1, Text: "hi"})
	if err == nil {
		t.Fatal("expected error from non-ok response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Description, "chat not found") {
		t.Errorf("api error: %+v", apiErr)
	}
}

func TestEmptyTokenFailsFast(t *testing.T) {
	c := NewClient("", 2*time.Second, zerolog.Nop())
	if _, err := c.SendMessage(context.Background(), Message{ChatID: 1, Text: "hi"}); err == nil {
		t.Error("expected error when token is not configured")
	}
}

func TestForwardAndDelete(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		methods = append(methods, parts[len(parts)-1])
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	if err := c.ForwardMessage(context.Background(), 42, -100, 77); err != nil {
		t.Fatalf("ForwardMessage: %v", err)
	}
	if err := c.DeleteMessage(context.Background(), -100, 77); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if len(methods) != 2 || methods[0] != "forwardMessage" || methods[1] != "deleteMessage" {
		t.Errorf("methods called: %v", methods)
	}
}
