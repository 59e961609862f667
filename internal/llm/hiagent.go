package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"avalive/internal/errs"
)

// HiAgentConfig 对话后端配置
type HiAgentConfig struct {
	BaseURL string
	APIKey  string

	// Timeout 单次请求超时（含流式读取），默认 60 秒
	Timeout time.Duration
}

// HiAgent 基于 chunked HTTP 的对话客户端。
// 流式响应是 UTF-8 的 data: 前缀行，每行一个 JSON 对象
type HiAgent struct {
	cfg    HiAgentConfig
	client *http.Client
	log    *logrus.Entry
}

var _ Provider = (*HiAgent)(nil)

func NewHiAgent(cfg HiAgentConfig) *HiAgent {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HiAgent{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logrus.WithField("component", "llm"),
	}
}

type createConversationResponse struct {
	Conversation struct {
		AppConversationID string `json:"AppConversationID"`
	} `json:"Conversation"`
}

// CreateConversation 创建会话，返回会话 ID
func (h *HiAgent) CreateConversation(ctx context.Context, userID string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"UserID": userID,
		"Inputs": map[string]string{},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+"/create_conversation", bytes.NewReader(body))
	if err != nil {
		return "", errs.New(errs.KindConnection, "llm.create_conversation", err)
	}
	h.setHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", errs.New(errs.KindConnection, "llm.create_conversation", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errs.Newf(errs.KindConnection, "llm.create_conversation", "unexpected status %s", resp.Status)
	}

	var out createConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.New(errs.KindProtocol, "llm.create_conversation", err)
	}
	if out.Conversation.AppConversationID == "" {
		return "", errs.Newf(errs.KindProtocol, "llm.create_conversation", "response missing AppConversationID")
	}
	return out.Conversation.AppConversationID, nil
}

type streamEvent struct {
	Answer string `json:"answer"`
	Event  string `json:"event"`
}

// ChatStream 发起流式查询。逐行读取 data: 前缀的 JSON，
// 提取 answer 增量；解析不了的行跳过。通道在流结束或出错后关闭
func (h *HiAgent) ChatStream(ctx context.Context, userID, conversationID, query string) (<-chan Chunk, error) {
	body, _ := json.Marshal(map[string]any{
		"UserID":            userID,
		"AppConversationID": conversationID,
		"Query":             query,
		"ResponseMode":      "streaming",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+"/chat_query_v2", bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.KindConnection, "llm.chat_stream", err)
	}
	h.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindConnection, "llm.chat_stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errs.Newf(errs.KindConnection, "llm.chat_stream", "unexpected status %s", resp.Status)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if event.Answer == "" {
				continue
			}

			select {
			case out <- Chunk{Answer: event.Answer}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && err != io.EOF && ctx.Err() == nil {
			out <- Chunk{Err: errs.New(errs.KindConnection, "llm.chat_stream", err)}
		}
	}()

	return out, nil
}

// Chat 阻塞式查询，聚合整段回答
func (h *HiAgent) Chat(ctx context.Context, userID, conversationID, query string) (string, error) {
	stream, err := h.ChatStream(ctx, userID, conversationID, query)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return sb.String(), chunk.Err
		}
		sb.WriteString(chunk.Answer)
	}
	if ctx.Err() != nil {
		return sb.String(), errs.New(errs.KindCancelled, "llm.chat", ctx.Err())
	}
	return sb.String(), nil
}

func (h *HiAgent) setHeaders(req *http.Request) {
	req.Header.Set("Apikey", h.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (h *HiAgent) String() string {
	return fmt.Sprintf("hiagent(%s)", h.cfg.BaseURL)
}
