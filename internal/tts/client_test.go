package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"testing"

	"avalive/internal/errs"
	"avalive/internal/protocol"
)

// fakeConn 按脚本回放服务端帧，记录客户端发出的帧
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	sent   [][]byte
	done   chan struct{}
	once   sync.Once
}

func newFakeConn(frames ...[]byte) *fakeConn {
	return &fakeConn{frames: frames, done: make(chan struct{})}
}

func (f *fakeConn) Recv(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil, io.EOF
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

func (f *fakeConn) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) SendText(ctx context.Context, data []byte) error { return f.Send(ctx, data) }
func (f *fakeConn) Ping(ctx context.Context) error                  { return nil }
func (f *fakeConn) Done() <-chan struct{}                           { return f.done }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) sentEvents(t *testing.T) []protocol.EventType {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []protocol.EventType
	for _, frame := range f.sent {
		msg, err := protocol.NewMessageFromBytes(frame)
		if err != nil {
			t.Fatalf("parse sent frame: %v", err)
		}
		events = append(events, msg.EventType)
	}
	return events
}

func writeInt32(buf *bytes.Buffer, v int32) { binary.Write(buf, binary.BigEndian, v) }

func writeString(buf *bytes.Buffer, s string) {
	writeInt32(buf, int32(len(s)))
	buf.WriteString(s)
}

func sessionEventFrame(event protocol.EventType, sessionID, meta string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(protocol.ProtocolVersion<<4 | protocol.DefaultHeaderSize)
	buf.WriteByte(byte(protocol.MsgTypeFullServerResponse)<<4 | protocol.FlagWithEvent)
	buf.WriteByte(protocol.SerializationJSON << 4)
	buf.WriteByte(0)
	writeInt32(&buf, int32(event))
	writeString(&buf, sessionID)
	writeString(&buf, meta)
	return buf.Bytes()
}

func audioFrame(sessionID string, audio []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(protocol.ProtocolVersion<<4 | protocol.DefaultHeaderSize)
	buf.WriteByte(byte(protocol.MsgTypeAudioOnlyServer)<<4 | protocol.FlagWithEvent)
	buf.WriteByte(protocol.SerializationRaw << 4)
	buf.WriteByte(0)
	writeInt32(&buf, int32(protocol.EventType_TTSResponse))
	writeString(&buf, sessionID)
	writeInt32(&buf, int32(len(audio)))
	buf.Write(audio)
	return buf.Bytes()
}

func clientWithConn(conn *fakeConn) *Client {
	c := NewClient(Config{Speaker: "zh_female_test"})
	c.conn = conn
	c.connected = true
	return c
}

func TestSynthesizeTextCollectsAudio(t *testing.T) {
	conn := newFakeConn(
		sessionEventFrame(protocol.EventType_SessionStarted, "s", "{}"),
		audioFrame("s", []byte("chunk-1")),
		audioFrame("s", []byte("chunk-2")),
		sessionEventFrame(protocol.EventType_SessionFinished, "s", "{}"),
	)
	c := clientWithConn(conn)

	var got [][]byte
	err := c.SynthesizeText(context.Background(), "你好，世界。", func(audio []byte) error {
		got = append(got, audio)
		return nil
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got) != 2 || string(got[0]) != "chunk-1" || string(got[1]) != "chunk-2" {
		t.Fatalf("chunks = %q", got)
	}

	events := conn.sentEvents(t)
	want := []protocol.EventType{
		protocol.EventType_StartSession,
		protocol.EventType_TaskRequest,
		protocol.EventType_FinishSession,
	}
	if len(events) != len(want) {
		t.Fatalf("sent events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("sent[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestSynthesizeTextSessionFailed(t *testing.T) {
	conn := newFakeConn(
		sessionEventFrame(protocol.EventType_SessionFailed, "s", `{"error":"quota"}`),
	)
	c := clientWithConn(conn)

	err := c.SynthesizeText(context.Background(), "text", func([]byte) error { return nil })
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.KindOf(err) != errs.KindSession {
		t.Fatalf("kind = %v, want session", errs.KindOf(err))
	}
}

func TestSynthesizeAllCancelledNotRetried(t *testing.T) {
	conn := newFakeConn()
	c := clientWithConn(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SynthesizeAll(ctx, "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.KindOf(err) != errs.KindCancelled {
		t.Fatalf("kind = %v, want cancelled", errs.KindOf(err))
	}
	if n := len(conn.sentEvents(t)); n != 0 {
		t.Fatalf("expected no frames sent after cancel, got %d", n)
	}
}

func TestSynthesizeAllZeroChunksRetried(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}

	// 三次会话都正常结束但没有音频，应判定为失败
	var frames [][]byte
	for i := 0; i < synthesizeAttempts; i++ {
		frames = append(frames,
			sessionEventFrame(protocol.EventType_SessionStarted, "s", "{}"),
			sessionEventFrame(protocol.EventType_SessionFinished, "s", "{}"),
		)
	}
	conn := newFakeConn(frames...)
	c := clientWithConn(conn)

	_, err := c.SynthesizeAll(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "no audio chunks") {
		t.Fatalf("err = %v", err)
	}

	starts := 0
	for _, ev := range conn.sentEvents(t) {
		if ev == protocol.EventType_StartSession {
			starts++
		}
	}
	if starts != synthesizeAttempts {
		t.Fatalf("start sessions = %d, want %d", starts, synthesizeAttempts)
	}
}
