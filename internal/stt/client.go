package stt

import (
	"context"
	"encoding/json"
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
	// DefaultEndpoint 大模型流式识别入口
	DefaultEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"

	connectTimeout   = 10 * time.Second
	recognizeTimeout = 30 * time.Second

	// segmentSize 每个音频分片的字节数，16k/16bit/单声道下约 100ms
	segmentSize = 3200
)

// Config 语音识别客户端配置
type Config struct {
	AppKey     string
	AccessKey  string
	ResourceID string
	Endpoint   string

	SampleRate int // 默认 16000
	Channels   int // 默认 1
	BitDepth   int // 默认 16
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Endpoint == "" {
		out.Endpoint = DefaultEndpoint
	}
	if out.SampleRate == 0 {
		out.SampleRate = 16000
	}
	if out.Channels == 0 {
		out.Channels = 1
	}
	if out.BitDepth == 0 {
		out.BitDepth = 16
	}
	return out
}

// Client 一次性语音识别客户端。
// 每次 Recognize 建立独立连接：发配置帧，按序号推送音频分片，
// 末片序号取负，然后等待最终识别结果
type Client struct {
	cfg Config
	log *logrus.Entry
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg.withDefaults(),
		log: logrus.WithField("component", "stt"),
	}
}

// recognizeSession 一次识别会话的连接与序号状态。
// seqMu 保护序号的读取、发送、自增三步：序号只在发送成功后自增
type recognizeSession struct {
	conn  ws.Client
	seqMu sync.Mutex
	seq   int32
}

func (s *recognizeSession) sendConfig(ctx context.Context, payload []byte) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if err := protocol.FullClientRequest(ctx, s.conn, s.seq, payload); err != nil {
		return err
	}
	s.seq++
	return nil
}

func (s *recognizeSession) sendAudio(ctx context.Context, segment []byte, isLast bool) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if err := protocol.SendAudio(ctx, s.conn, s.seq, isLast, segment); err != nil {
		return err
	}
	s.seq++
	return nil
}

// Recognize 识别一段裸 PCM 音频，返回识别文本。
// 空音频直接返回空串，不建连
func (c *Client) Recognize(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, recognizeTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppKey)
	header.Set("X-Api-Access-Key", c.cfg.AccessKey)
	header.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", uuid.New().String())

	conn, err := ws.Dial(ctx, ws.Config{
		URL:         c.cfg.Endpoint,
		Headers:     header,
		DialTimeout: connectTimeout,
	})
	if err != nil {
		return "", errs.New(errs.KindConnection, "stt.recognize", err)
	}
	defer conn.Close()

	sess := &recognizeSession{conn: conn, seq: 1}

	configPayload, err := c.buildConfig()
	if err != nil {
		return "", errs.New(errs.KindProtocol, "stt.recognize", err)
	}
	if err := sess.sendConfig(ctx, configPayload); err != nil {
		return "", errs.New(errs.KindConnection, "stt.recognize", err)
	}

	// 配置帧的应答在音频发送前回来，先消费掉
	if _, err := protocol.ReceiveMessage(ctx, conn); err != nil {
		return "", errs.New(errs.KindConnection, "stt.recognize", err)
	}

	wav := wrapPCM(pcm, c.cfg.SampleRate, c.cfg.Channels, c.cfg.BitDepth)
	for off := 0; off < len(wav); off += segmentSize {
		end := off + segmentSize
		if end > len(wav) {
			end = len(wav)
		}
		if err := sess.sendAudio(ctx, wav[off:end], end == len(wav)); err != nil {
			return "", errs.New(errs.KindConnection, "stt.recognize", err)
		}
	}

	return c.awaitResult(ctx, conn)
}

func (c *Client) buildConfig() ([]byte, error) {
	cfg := map[string]any{
		"user": map[string]any{
			"uid": uuid.New().String(),
		},
		"audio": map[string]any{
			"format":   "wav",
			"codec":    "raw",
			"rate":     c.cfg.SampleRate,
			"bits":     c.cfg.BitDepth,
			"channel":  c.cfg.Channels,
			"language": "zh-CN",
		},
		"request": map[string]any{
			"model_name":  "bigmodel",
			"enable_punc": true,
		},
	}
	return json.Marshal(cfg)
}

// awaitResult 读服务端响应直到末包，提取末包中的识别文本
func (c *Client) awaitResult(ctx context.Context, conn ws.Client) (string, error) {
	for {
		msg, err := protocol.ReceiveMessage(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return "", errs.New(errs.KindTimeout, "stt.recognize", ctx.Err())
			}
			return "", errs.New(errs.KindConnection, "stt.recognize", err)
		}

		if msg.MsgType == protocol.MsgTypeError {
			return "", errs.Newf(errs.KindProtocol, "stt.recognize", "server error %d: %s", msg.ErrorCode, msg.Payload)
		}

		if !msg.IsLast {
			continue
		}

		text := extractText(msg.Payload)
		c.log.Infof("recognize done, %d bytes payload, text=%q", len(msg.Payload), text)
		return text, nil
	}
}

// recognizeResult 覆盖识别服务几种返回形态的兼容结构
type recognizeResult struct {
	Result struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances"`
	} `json:"result"`
	Text     string `json:"text"`
	Sentence []struct {
		Text string `json:"text"`
	} `json:"sentence"`
}

// extractText 按兼容顺序提取文本：
// result.text → text → sentence[0].text → result.utterances[0].text
func extractText(payload []byte) string {
	var r recognizeResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return ""
	}
	switch {
	case r.Result.Text != "":
		return r.Result.Text
	case r.Text != "":
		return r.Text
	case len(r.Sentence) > 0 && r.Sentence[0].Text != "":
		return r.Sentence[0].Text
	case len(r.Result.Utterances) > 0:
		return r.Result.Utterances[0].Text
	}
	return ""
}
