package avatar

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"avalive/internal/errs"
)

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

func (f *fakeConn) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func clientWithConn(conn *fakeConn) *Client {
	c := NewClient(Config{AppID: "app", Token: "token"})
	c.conn = conn
	return c
}

func TestStartLiveSkipsHeartbeat(t *testing.T) {
	conn := newFakeConn(
		[]byte(TagHeartbeat+`{}`),
		[]byte(TagHeartbeat+`{}`),
		[]byte(TagAck+`{"code":1000,"message":"success"}`),
	)
	c := clientWithConn(conn)

	err := c.StartLive(context.Background(), StartLiveRequest{
		LiveID:     "live-1",
		AvatarType: "2d",
		Role:       "anchor",
		Streaming:  NewRTMPStreaming("rtmp://example/live"),
	})
	if err != nil {
		t.Fatalf("start live: %v", err)
	}
	if c.LiveID() != "live-1" {
		t.Fatalf("live id = %q", c.LiveID())
	}

	sent := conn.lastSent()
	if !bytes.HasPrefix(sent, []byte(TagStartLive)) {
		t.Fatalf("sent frame = %q", sent)
	}
	if !bytes.Contains(sent, []byte(`"live_id":"live-1"`)) {
		t.Fatalf("missing live_id in %q", sent)
	}
}

func TestStartLiveRejected(t *testing.T) {
	conn := newFakeConn(
		[]byte(TagAck + `{"code":4001,"message":"invalid role"}`),
	)
	c := clientWithConn(conn)

	err := c.StartLive(context.Background(), StartLiveRequest{LiveID: "live-2"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.KindOf(err) != errs.KindSession {
		t.Fatalf("kind = %v, want session", errs.KindOf(err))
	}
	if c.LiveID() != "" {
		t.Fatalf("live id should stay empty, got %q", c.LiveID())
	}
}

// 流式音频帧是标签后直接拼裸字节，没有长度前缀
func TestDriveWithStreamingAudioFrame(t *testing.T) {
	conn := newFakeConn()
	c := clientWithConn(conn)

	audio := []byte{0x01, 0x02, 0x03, 0x04}
	if err := c.DriveWithStreamingAudio(context.Background(), audio); err != nil {
		t.Fatalf("drive: %v", err)
	}

	want := append([]byte(TagStreamAudio), audio...)
	if !bytes.Equal(conn.lastSent(), want) {
		t.Fatalf("frame = %v, want %v", conn.lastSent(), want)
	}
}

func TestDriveWithAudioURLBuildsSSML(t *testing.T) {
	conn := newFakeConn()
	c := clientWithConn(conn)

	if err := c.DriveWithAudioURL(context.Background(), "https://example/a.wav", ""); err != nil {
		t.Fatalf("drive: %v", err)
	}

	want := TagAudioURL + `<speak><audio url="https://example/a.wav" format="wav"/></speak>`
	if string(conn.lastSent()) != want {
		t.Fatalf("frame = %q, want %q", conn.lastSent(), want)
	}
}

func TestStopLiveWithoutLiveIsNoop(t *testing.T) {
	conn := newFakeConn()
	c := clientWithConn(conn)

	if err := c.StopLive(context.Background()); err != nil {
		t.Fatalf("stop live: %v", err)
	}
	if conn.lastSent() != nil {
		t.Fatalf("unexpected frame sent: %q", conn.lastSent())
	}
}

func TestSplitTag(t *testing.T) {
	tag, body := splitTag([]byte(TagAck + `{"code":1000}`))
	if tag != TagAck || string(body) != `{"code":1000}` {
		t.Fatalf("tag=%q body=%q", tag, body)
	}

	tag, body = splitTag([]byte("short"))
	if tag != "" || string(body) != "short" {
		t.Fatalf("tag=%q body=%q", tag, body)
	}
}

func TestConfigClamping(t *testing.T) {
	video := NewVideoConfig(100000, 100, 1)
	if video.VideoWidth != 1920 || video.VideoHeight != 240 || video.Bitrate != 100 {
		t.Fatalf("video = %+v", video)
	}

	role := NewRoleConfig(50, -10, -5)
	if role.RoleWidth != 100 {
		t.Fatalf("role width = %d", role.RoleWidth)
	}
	if role.RoleTopOffset != 0 {
		t.Fatalf("role top = %d", role.RoleTopOffset)
	}
}

func TestConnectRetryDelayHonorsCancellation(t *testing.T) {
	// 端口未监听，首次拨号立即失败，随后应在策略间等待中
	// 响应取消而不是睡满整个间隔
	c := NewClient(Config{Endpoint: "wss://127.0.0.1:1/live"})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Connect(ctx)
	if err == nil {
		t.Fatal("connect succeeded against closed port")
	}
	if errs.KindOf(err) != errs.KindCancelled {
		t.Fatalf("kind = %v, want cancelled", errs.KindOf(err))
	}
	if elapsed := time.Since(start); elapsed >= connectRetryDelay {
		t.Fatalf("connect held %s after cancellation", elapsed)
	}
}
