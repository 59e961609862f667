package avatar

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"avalive/internal/errs"
	"avalive/pkg/ws"
)

const (
	// DefaultEndpoint 数字人直播控制通道入口
	DefaultEndpoint = "wss://openspeech.bytedance.com/virtual_human/avatar_live/live"

	connectRetryDelay  = 2 * time.Second
	startLiveTimeout   = 20 * time.Second
	healthCheckTimeout = 5 * time.Second
	disconnectTimeout  = 10 * time.Second
)

// connectStrategy 一种建连姿势：是否校验证书、整体超时
type connectStrategy struct {
	insecureTLS bool
	timeout     time.Duration
}

// 依次尝试：严格 TLS 25 秒 → 跳过校验 25 秒 → 跳过校验 35 秒
var connectStrategies = []connectStrategy{
	{insecureTLS: false, timeout: 25 * time.Second},
	{insecureTLS: true, timeout: 25 * time.Second},
	{insecureTLS: true, timeout: 35 * time.Second},
}

// Config 数字人客户端配置
type Config struct {
	AppID    string
	Token    string
	Endpoint string
}

// StartLiveRequest 开播参数
type StartLiveRequest struct {
	LiveID     string
	AvatarType string
	Role       string
	Background string
	Streaming  StreamingConfig
	Video      *VideoConfig
	RoleConf   *RoleConfig
}

// Client 数字人直播控制客户端。
// 一个 Client 绑定一条控制通道连接，连接上最多绑定一个 live
type Client struct {
	cfg Config
	log *logrus.Entry

	mu     sync.Mutex
	conn   ws.Client
	liveID string
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	return &Client{
		cfg: cfg,
		log: logrus.WithField("component", "avatar"),
	}
}

// Connect 依次用多种 TLS 策略建连，全部失败时返回最后一次错误
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		select {
		case <-c.conn.Done():
			c.conn = nil
			c.liveID = ""
		default:
			return nil
		}
	}

	var lastErr error
	for i, strategy := range connectStrategies {
		c.log.Infof("connect attempt %d/%d, insecure_tls=%v, timeout=%s",
			i+1, len(connectStrategies), strategy.insecureTLS, strategy.timeout)

		cfg := ws.Config{
			URL:              c.cfg.Endpoint,
			DialTimeout:      strategy.timeout,
			HandshakeTimeout: strategy.timeout,
		}
		if strategy.insecureTLS {
			cfg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		}

		conn, err := ws.Dial(ctx, cfg)
		if err == nil {
			c.conn = conn
			c.log.Info("control channel connected")
			return nil
		}

		lastErr = err
		c.log.Warnf("connect attempt %d failed: %v", i+1, err)
		if ctx.Err() != nil {
			return errs.New(errs.KindCancelled, "avatar.connect", ctx.Err())
		}
		if i < len(connectStrategies)-1 {
			select {
			case <-time.After(connectRetryDelay):
			case <-ctx.Done():
				return errs.New(errs.KindCancelled, "avatar.connect", ctx.Err())
			}
		}
	}

	return errs.New(errs.KindConnection, "avatar.connect", lastErr)
}

// IsConnected 连接是否存活
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	select {
	case <-c.conn.Done():
		return false
	default:
		return true
	}
}

// LiveID 当前绑定的 live，未开播时为空
func (c *Client) LiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveID
}

// HealthCheck 通过 ping/pong 探活，5 秒超时
func (c *Client) HealthCheck(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.health", "not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return errs.New(errs.KindConnection, "avatar.health", err)
	}
	return nil
}

// StartLive 发送开播指令并等待应答。
// 等待期间跳过心跳帧；应答码不是 1000 或等满 20 秒都算失败
func (c *Client) StartLive(ctx context.Context, req StartLiveRequest) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.start_live", "not connected")
	}

	payload := map[string]any{
		"live": map[string]any{
			"live_id": req.LiveID,
		},
		"auth": map[string]any{
			"appid": c.cfg.AppID,
			"token": c.cfg.Token,
		},
		"avatar": buildAvatarSection(req),
		"streaming": req.Streaming,
	}
	if req.Video != nil {
		payload["video"] = req.Video
	}

	frame, err := textFrame(TagStartLive, payload)
	if err != nil {
		return errs.New(errs.KindProtocol, "avatar.start_live", err)
	}

	ctx, cancel := context.WithTimeout(ctx, startLiveTimeout)
	defer cancel()

	if err := conn.SendText(ctx, frame); err != nil {
		return errs.New(errs.KindConnection, "avatar.start_live", err)
	}
	c.log.Infof("start live sent, live_id=%s", req.LiveID)

	for {
		data, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return errs.Newf(errs.KindTimeout, "avatar.start_live", "no ack within %s", startLiveTimeout)
			}
			return errs.New(errs.KindConnection, "avatar.start_live", err)
		}

		tag, body := splitTag(data)
		switch tag {
		case TagAck:
			var ack Ack
			if err := json.Unmarshal(body, &ack); err != nil {
				return errs.New(errs.KindProtocol, "avatar.start_live", err)
			}
			if ack.Code != AckSuccess {
				return errs.Newf(errs.KindSession, "avatar.start_live", "rejected: %s (code %d)", ack.Message, ack.Code)
			}
			c.mu.Lock()
			c.liveID = req.LiveID
			c.mu.Unlock()
			c.log.Infof("live started, live_id=%s", req.LiveID)
			return nil

		case TagHeartbeat:
			continue

		case TagError:
			var ack Ack
			_ = json.Unmarshal(body, &ack)
			return errs.Newf(errs.KindSession, "avatar.start_live", "server error: %s (code %d)", ack.Message, ack.Code)

		default:
			return errs.Newf(errs.KindProtocol, "avatar.start_live", "unexpected frame %q", truncateFrame(data))
		}
	}
}

func buildAvatarSection(req StartLiveRequest) map[string]any {
	section := map[string]any{
		"avatar_type": req.AvatarType,
		"input_mode":  "audio",
		"role":        req.Role,
	}
	if req.Background != "" {
		section["background"] = req.Background
	}
	if req.RoleConf != nil {
		section["role_conf"] = req.RoleConf
	}
	return section
}

// DriveWithAudioURL 用音频地址驱动，包装成 SSML 下发
func (c *Client) DriveWithAudioURL(ctx context.Context, audioURL, format string) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.drive_url", "not connected")
	}
	if format == "" {
		format = "wav"
	}
	ssml := fmt.Sprintf(`<speak><audio url="%s" format="%s"/></speak>`, audioURL, format)
	frame, _ := textFrame(TagAudioURL, ssml)
	if err := conn.SendText(ctx, frame); err != nil {
		return errs.New(errs.KindConnection, "avatar.drive_url", err)
	}
	return nil
}

// DriveWithStreamingAudio 推送一个 PCM 分片（16kHz 单声道 16bit）。
// 标签后直接拼裸音频字节，按二进制帧发送
func (c *Client) DriveWithStreamingAudio(ctx context.Context, audio []byte) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.drive_stream", "not connected")
	}
	frame := append([]byte(TagStreamAudio), audio...)
	if err := conn.Send(ctx, frame); err != nil {
		return errs.New(errs.KindConnection, "avatar.drive_stream", err)
	}
	return nil
}

// DriveWithStructuredAudio 推送带附加数据的结构化音频
func (c *Client) DriveWithStructuredAudio(ctx context.Context, audio []byte, extraData string) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.drive_struct", "not connected")
	}
	body := map[string]any{
		"audio": base64.StdEncoding.EncodeToString(audio),
	}
	if extraData != "" {
		body["extra_data"] = extraData
	}
	frame, err := textFrame(TagStructAudio, body)
	if err != nil {
		return errs.New(errs.KindProtocol, "avatar.drive_struct", err)
	}
	if err := conn.SendText(ctx, frame); err != nil {
		return errs.New(errs.KindConnection, "avatar.drive_struct", err)
	}
	return nil
}

// FinishStreamingAudio 通知一段流式音频输入结束。发送失败只记日志
func (c *Client) FinishStreamingAudio(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.finish_audio", "not connected")
	}
	if err := conn.SendText(ctx, []byte(TagFinishAudio)); err != nil {
		c.log.Warnf("finish streaming audio: %v", err)
	}
	return nil
}

// InterruptPlayback 打断当前播报，进入静默
func (c *Client) InterruptPlayback(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.interrupt", "not connected")
	}
	if err := conn.SendText(ctx, []byte(TagInterrupt)); err != nil {
		return errs.New(errs.KindConnection, "avatar.interrupt", err)
	}
	return nil
}

// StopLive 停播。未开播时直接返回；发送失败不报错，
// 无论如何都清空本地 live 绑定
func (c *Client) StopLive(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	liveID := c.liveID
	c.liveID = ""
	c.mu.Unlock()

	if conn == nil || liveID == "" {
		return nil
	}

	if err := conn.SendText(ctx, []byte(TagStopLive)); err != nil {
		c.log.Warnf("stop live for %s: %v", liveID, err)
		return nil
	}
	c.log.Infof("stop live sent, live_id=%s", liveID)
	return nil
}

// ListenEvents 消费下行事件直到连接断开或 ctx 结束。
// 下行 |DAT|02| 复用为状态事件；心跳直接丢弃
func (c *Client) ListenEvents(ctx context.Context, onStatus func(eventType string, data json.RawMessage), onError func(code int, message string)) error {
	conn := c.current()
	if conn == nil {
		return errs.Newf(errs.KindConnection, "avatar.listen", "not connected")
	}

	for {
		data, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return errs.New(errs.KindCancelled, "avatar.listen", ctx.Err())
			}
			return nil
		}

		tag, body := splitTag(data)
		switch tag {
		case TagStreamAudio:
			var event StatusEvent
			if err := json.Unmarshal(body, &event); err != nil {
				continue
			}
			if onStatus != nil {
				onStatus(event.Type, event.Data)
			}

		case TagError:
			var ack Ack
			if err := json.Unmarshal(body, &ack); err != nil {
				continue
			}
			if onError != nil {
				onError(ack.Code, ack.Message)
			}

		case TagHeartbeat:
			// 心跳不处理
		}
	}
}

// Disconnect 断开控制通道：先停播，稍等指令送达，再关闭连接。
// 无论结果如何都清空本地状态
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	liveID := c.liveID
	c.conn = nil
	c.liveID = ""
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	defer cancel()

	if liveID != "" {
		if err := conn.SendText(ctx, []byte(TagStopLive)); err == nil {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
		}
	}

	err := conn.Close()
	c.log.Info("control channel disconnected")
	return err
}

func (c *Client) current() ws.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func truncateFrame(data []byte) string {
	if len(data) > 100 {
		return string(data[:100]) + "..."
	}
	return string(data)
}
