package tts

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"avalive/internal/errs"
	"avalive/internal/protocol"
	"avalive/pkg/ws"
)

const (
	// DefaultEndpoint 双向流式合成入口
	DefaultEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/bidirection"

	connectTimeout     = 10 * time.Second
	healthCheckTimeout = 5 * time.Second

	// 整句合成的重试策略：最多 3 次，间隔 2 秒
	synthesizeAttempts = 3
	synthesizeBackoff  = 2 * time.Second
)

// Config 语音合成客户端配置
type Config struct {
	AppKey     string
	AccessKey  string
	ResourceID string
	Endpoint   string

	// Speaker 音色标识
	Speaker string

	// 音频输出参数
	Format     string // 默认 "pcm"
	SampleRate int32  // 默认 24000
	SpeechRate int32
	Emotion    string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Endpoint == "" {
		out.Endpoint = DefaultEndpoint
	}
	if out.Format == "" {
		out.Format = "pcm"
	}
	if out.Speaker != "" {
		// 别名解析成平台音色 ID；未登记的别名原样透传
		profile := LookupSpeaker(out.Speaker)
		out.Speaker = profile.VoiceType
		if out.SampleRate == 0 {
			out.SampleRate = profile.SampleRate
		}
	}
	if out.SampleRate == 0 {
		out.SampleRate = 24000
	}
	return out
}

// Client 双向流式语音合成客户端。
// 一个 Client 维护一条 WebSocket 连接，连接上可以顺序执行多个合成会话
type Client struct {
	cfg Config
	log *logrus.Entry

	mu        sync.Mutex
	conn      ws.Client
	connID    string
	connected bool
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg.withDefaults(),
		log: logrus.WithField("component", "tts"),
	}
}

// Connect 建立 WebSocket 连接并完成 StartConnection 握手。
// 握手整体受 10 秒超时约束
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppKey)
	header.Set("X-Api-Access-Key", c.cfg.AccessKey)
	header.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", uuid.New().String())

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := ws.Dial(ctx, ws.Config{
		URL:         c.cfg.Endpoint,
		Headers:     header,
		DialTimeout: connectTimeout,
	})
	if err != nil {
		return errs.New(errs.KindConnection, "tts.connect", err)
	}

	if err := protocol.StartConnection(ctx, conn); err != nil {
		conn.Close()
		return errs.New(errs.KindConnection, "tts.connect", err)
	}

	msg, err := protocol.WaitForEvent(ctx, conn, protocol.MsgTypeFullServerResponse, protocol.EventType_ConnectionStarted)
	if err != nil {
		conn.Close()
		return errs.New(errs.KindConnection, "tts.connect", err)
	}
	if msg.EventType != protocol.EventType_ConnectionStarted {
		conn.Close()
		return errs.Newf(errs.KindConnection, "tts.connect", "handshake rejected: %s", msg)
	}

	c.conn = conn
	c.connID = msg.ConnectionID
	c.connected = true
	c.log.Infof("connection started, connection_id=%s", c.connID)
	return nil
}

// IsConnected 连接是否存活
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return false
	}
	select {
	case <-c.conn.Done():
		c.connected = false
		return false
	default:
		return true
	}
}

// HealthCheck 通过 ping/pong 探活，5 秒超时
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errs.Newf(errs.KindConnection, "tts.health", "not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return errs.New(errs.KindConnection, "tts.health", err)
	}
	return nil
}

// SynthesizeText 在一个会话内合成一段文本，音频分片按到达顺序
// 交给 onAudio。onAudio 返回错误时终止会话并透传该错误。
// 会话流程：StartSession → SessionStarted → TaskRequest → FinishSession
// → 收 TTSResponse 音频直到 SessionFinished
func (c *Client) SynthesizeText(ctx context.Context, text string, onAudio func(audio []byte) error) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return errs.Newf(errs.KindConnection, "tts.synthesize", "not connected")
	}

	sessionID := uuid.New().String()
	log := c.log.WithField("session_id", sessionID)

	startPayload, err := NewRequestBuilder().
		WithEvent(protocol.EventType_StartSession).
		WithSpeaker(c.cfg.Speaker).
		WithAudioParams(&AudioParams{
			Format:          c.cfg.Format,
			SampleRate:      c.cfg.SampleRate,
			SpeechRate:      c.cfg.SpeechRate,
			Emotion:         c.cfg.Emotion,
			EnableTimestamp: true,
		}).
		Marshal()
	if err != nil {
		return errs.New(errs.KindProtocol, "tts.synthesize", err)
	}

	if err := protocol.StartSession(ctx, conn, startPayload, sessionID); err != nil {
		return errs.New(errs.KindConnection, "tts.synthesize", err)
	}

	msg, err := protocol.WaitForEvent(ctx, conn, protocol.MsgTypeFullServerResponse, protocol.EventType_SessionStarted)
	if err != nil {
		return errs.New(errs.KindSession, "tts.synthesize", err)
	}
	if msg.EventType != protocol.EventType_SessionStarted {
		return errs.Newf(errs.KindSession, "tts.synthesize", "start session rejected: %s", msg)
	}
	log.Debug("session started")

	taskPayload, err := NewRequestBuilder().
		WithEvent(protocol.EventType_TaskRequest).
		WithText(text).
		WithSpeaker(c.cfg.Speaker).
		Marshal()
	if err != nil {
		return errs.New(errs.KindProtocol, "tts.synthesize", err)
	}
	if err := protocol.TaskRequest(ctx, conn, taskPayload, sessionID); err != nil {
		return errs.New(errs.KindConnection, "tts.synthesize", err)
	}
	if err := protocol.FinishSession(ctx, conn, sessionID); err != nil {
		return errs.New(errs.KindConnection, "tts.synthesize", err)
	}

	chunks := 0
	for {
		msg, err := protocol.ReceiveMessage(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return errs.New(errs.KindCancelled, "tts.synthesize", ctx.Err())
			}
			return errs.New(errs.KindConnection, "tts.synthesize", err)
		}

		switch {
		case msg.MsgType == protocol.MsgTypeAudioOnlyServer:
			chunks++
			if err := onAudio(msg.Payload); err != nil {
				return err
			}

		case msg.EventType == protocol.EventType_TTSSentenceStart,
			msg.EventType == protocol.EventType_TTSSentenceEnd:
			log.Debugf("sentence boundary: %s", msg.EventType)

		case msg.EventType == protocol.EventType_SessionFinished:
			log.Debugf("session finished, %d audio chunks", chunks)
			return nil

		case msg.EventType == protocol.EventType_SessionFailed:
			return errs.Newf(errs.KindSession, "tts.synthesize", "session failed: %s", msg.MetaJSON)

		case msg.MsgType == protocol.MsgTypeError:
			return errs.Newf(errs.KindProtocol, "tts.synthesize", "server error %d: %s", msg.ErrorCode, msg.Payload)
		}
	}
}

// SynthesizeAll 合成整句并收集全部音频分片，失败自动重试。
// 成功但一个分片都没收到视为失败参与重试；取消永不重试
func (c *Client) SynthesizeAll(ctx context.Context, text string) ([][]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= synthesizeAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, errs.New(errs.KindCancelled, "tts.synthesize_all", ctx.Err())
		}

		if !c.IsConnected() {
			if err := c.Connect(ctx); err != nil {
				lastErr = err
				c.log.Warnf("reconnect failed on attempt %d/%d: %v", attempt, synthesizeAttempts, err)
				c.sleepBeforeRetry(ctx, attempt)
				continue
			}
		}

		var chunks [][]byte
		err := c.SynthesizeText(ctx, text, func(audio []byte) error {
			buf := make([]byte, len(audio))
			copy(buf, audio)
			chunks = append(chunks, buf)
			return nil
		})

		if err == nil && len(chunks) == 0 {
			err = errs.Newf(errs.KindSession, "tts.synthesize_all", "no audio chunks returned")
		}
		if err == nil {
			return chunks, nil
		}
		if errs.IsCancelled(err) || errs.KindOf(err) == errs.KindCancelled {
			return nil, err
		}

		lastErr = err
		c.log.Warnf("synthesize attempt %d/%d failed: %v", attempt, synthesizeAttempts, err)
		c.sleepBeforeRetry(ctx, attempt)
	}

	return nil, lastErr
}

func (c *Client) sleepBeforeRetry(ctx context.Context, attempt int) {
	if attempt >= synthesizeAttempts {
		return
	}
	select {
	case <-time.After(synthesizeBackoff):
	case <-ctx.Done():
	}
}

// Disconnect 发送 FinishConnection 并关闭连接。可安全重复调用
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	finishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := protocol.FinishConnection(finishCtx, conn); err == nil {
		// 尽力等 ConnectionFinished，超时不视为错误
		_, _ = protocol.WaitForEvent(finishCtx, conn, protocol.MsgTypeFullServerResponse, protocol.EventType_ConnectionFinished)
	}

	c.log.Info("connection closed")
	return conn.Close()
}
