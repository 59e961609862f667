package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create_conversation" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Apikey") != "key-1" {
			t.Errorf("apikey header = %q", r.Header.Get("Apikey"))
		}
		fmt.Fprint(w, `{"Conversation":{"AppConversationID":"conv-42"}}`)
	}))
	defer srv.Close()

	h := NewHiAgent(HiAgentConfig{BaseURL: srv.URL, APIKey: "key-1"})
	id, err := h.CreateConversation(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if id != "conv-42" {
		t.Fatalf("conversation id = %q", id)
	}
}

func TestCreateConversationMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Conversation":{}}`)
	}))
	defer srv.Close()

	h := NewHiAgent(HiAgentConfig{BaseURL: srv.URL, APIKey: "k"})
	if _, err := h.CreateConversation(context.Background(), "u"); err == nil {
		t.Fatal("expected error for missing conversation id")
	}
}

func TestChatStreamParsesDataLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"answer\":\"你好\"}\n")
		fmt.Fprint(w, "\n")
		fmt.Fprint(w, ": comment line\n")
		fmt.Fprint(w, "data: not json\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\"}\n")
		fmt.Fprint(w, "data: {\"answer\":\"，世界。\"}\n")
	}))
	defer srv.Close()

	h := NewHiAgent(HiAgentConfig{BaseURL: srv.URL, APIKey: "k"})
	stream, err := h.ChatStream(context.Background(), "u", "conv", "打个招呼")
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}

	var got []string
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("chunk err: %v", chunk.Err)
		}
		got = append(got, chunk.Answer)
	}

	if len(got) != 2 || got[0] != "你好" || got[1] != "，世界。" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestChatAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"answer\":\"a\"}\ndata: {\"answer\":\"b\"}\n")
	}))
	defer srv.Close()

	h := NewHiAgent(HiAgentConfig{BaseURL: srv.URL, APIKey: "k"})
	answer, err := h.Chat(context.Background(), "u", "conv", "q")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if answer != "ab" {
		t.Fatalf("answer = %q", answer)
	}
}

func TestChatStreamRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHiAgent(HiAgentConfig{BaseURL: srv.URL, APIKey: "k"})
	if _, err := h.ChatStream(context.Background(), "u", "conv", "q"); err == nil {
		t.Fatal("expected error for 502")
	}
}
