package pipeline

import (
	"context"
	"sync"
	"testing"

	"avalive/internal/llm"
	"avalive/internal/stream"
)

type fakeLLM struct {
	chunks []string
}

func (f *fakeLLM) CreateConversation(ctx context.Context, userID string) (string, error) {
	return "conv-1", nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, userID, conversationID, query string) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- llm.Chunk{Answer: c}
	}
	close(out)
	return out, nil
}

type fakeTTS struct {
	mu        sync.Mutex
	sentences []string
	chunks    int // 每句返回的音频分片数
	onCall    func()
}

func (f *fakeTTS) Connect(ctx context.Context) error { return nil }
func (f *fakeTTS) IsConnected() bool                 { return true }

func (f *fakeTTS) SynthesizeAll(ctx context.Context, text string) ([][]byte, error) {
	f.mu.Lock()
	f.sentences = append(f.sentences, text)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}

	out := make([][]byte, f.chunks)
	for i := range out {
		out[i] = []byte("pcm-chunk")
	}
	return out, nil
}

func (f *fakeTTS) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sentences...)
}

type fakeAvatar struct {
	mu       sync.Mutex
	drives   int
	finishes int
}

func (f *fakeAvatar) IsConnected() bool { return true }
func (f *fakeAvatar) LiveID() string    { return "room-a" }

func (f *fakeAvatar) DriveWithStreamingAudio(ctx context.Context, audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drives++
	return nil
}

func (f *fakeAvatar) FinishStreamingAudio(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes++
	return nil
}

func (f *fakeAvatar) driveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drives
}

func collectTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestPipelineEndToEnd(t *testing.T) {
	provider := &fakeLLM{chunks: []string{"Hello.", " How are you?"}}
	tts := &fakeTTS{chunks: 2}
	av := &fakeAvatar{}
	reg := stream.NewRegistry()
	o := NewOrchestrator(provider, tts, av, reg)

	var events []Event
	o.Run(context.Background(), Request{
		SessionID: "s1",
		RoomID:    "room-a",
		UserID:    "u1",
		Query:     "greet me",
	}, func(e Event) { events = append(events, e) })

	// 两个句末标点，恰好两次合成，按原文顺序
	if got := tts.calls(); len(got) != 2 || got[0] != "Hello." || got[1] != "How are you?" {
		t.Fatalf("tts calls = %q", got)
	}

	// 每句两个分片都推给了数字人
	if av.driveCount() != 4 {
		t.Fatalf("avatar drives = %d, want 4", av.driveCount())
	}

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("terminal event = %s, events = %v", last.Type, collectTypes(events))
	}
	if last.FullText != "Hello. How are you?" {
		t.Fatalf("full text = %q", last.FullText)
	}

	// 句子级事件的次序：complete 在 audio 之前，processed 在之后
	var order []string
	for _, e := range events {
		switch e.Type {
		case EventSentenceComplete, EventAudioChunk, EventSentenceProcessed:
			order = append(order, e.Type)
		}
	}
	want := []string{
		EventSentenceComplete, EventAudioChunk, EventAudioChunk, EventSentenceProcessed,
		EventSentenceComplete, EventAudioChunk, EventAudioChunk, EventSentenceProcessed,
	}
	if len(order) != len(want) {
		t.Fatalf("sentence events = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (%v)", i, order[i], want[i], order)
		}
	}

	if reg.Len() != 0 {
		t.Fatalf("session not released, len = %d", reg.Len())
	}
}

// 第一句合成已发出、音频还没送完时取消：
// 终态是 cancelled，数字人零驱动，会话已从登记表移除
func TestPipelineMidStreamCancellation(t *testing.T) {
	provider := &fakeLLM{chunks: []string{"第一句。"}}
	reg := stream.NewRegistry()

	tts := &fakeTTS{chunks: 3}
	tts.onCall = func() {
		reg.CancelBySession("s1")
	}

	av := &fakeAvatar{}
	o := NewOrchestrator(provider, tts, av, reg)

	var events []Event
	o.Run(context.Background(), Request{
		SessionID: "s1",
		RoomID:    "room-a",
		UserID:    "u1",
		Query:     "说点什么",
	}, func(e Event) { events = append(events, e) })

	last := events[len(events)-1]
	if last.Type != EventCancelled {
		t.Fatalf("terminal event = %s, events = %v", last.Type, collectTypes(events))
	}
	if av.driveCount() != 0 {
		t.Fatalf("avatar drives after cancel = %d, want 0", av.driveCount())
	}
	if reg.Len() != 0 {
		t.Fatal("session not released after cancellation")
	}
}

func TestPipelineCancelledBeforeStart(t *testing.T) {
	provider := &fakeLLM{chunks: []string{"不会被消费。"}}
	reg := stream.NewRegistry()
	tts := &fakeTTS{chunks: 1}
	o := NewOrchestrator(provider, tts, &fakeAvatar{}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var events []Event
	o.Run(ctx, Request{SessionID: "s1", UserID: "u1", Query: "q"},
		func(e Event) { events = append(events, e) })

	if len(events) != 2 || events[0].Type != EventStart || events[1].Type != EventCancelled {
		t.Fatalf("events = %v", collectTypes(events))
	}
	if len(tts.calls()) != 0 {
		t.Fatal("tts called after cancellation")
	}
}
