package llm

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"avalive/internal/errs"
)

// ArkConfig 方舟大模型配置
type ArkConfig struct {
	BaseURL string // 例如 https://ark.cn-beijing.volces.com/api/v3
	Model   string
	APIKey  string

	// SystemPrompt 可选的系统提示词
	SystemPrompt string
}

// Ark 基于 eino ChatModel 的备选对话后端。
// 方舟侧没有服务端会话概念，会话历史在本地按会话 ID 维护
type Ark struct {
	cfg   ArkConfig
	model *openai.ChatModel
	log   *logrus.Entry

	mu      sync.Mutex
	history map[string][]*schema.Message
}

var _ Provider = (*Ark)(nil)

func NewArk(ctx context.Context, cfg ArkConfig) (*Ark, error) {
	model, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, errs.New(errs.KindConnection, "llm.ark", err)
	}
	return &Ark{
		cfg:     cfg,
		model:   model,
		log:     logrus.WithField("component", "llm"),
		history: make(map[string][]*schema.Message),
	}, nil
}

// CreateConversation 本地生成会话 ID 并初始化历史
func (a *Ark) CreateConversation(ctx context.Context, userID string) (string, error) {
	id := uuid.New().String()

	var messages []*schema.Message
	if a.cfg.SystemPrompt != "" {
		messages = append(messages, &schema.Message{
			Role:    schema.System,
			Content: a.cfg.SystemPrompt,
		})
	}

	a.mu.Lock()
	a.history[id] = messages
	a.mu.Unlock()
	return id, nil
}

// ChatStream 把查询追加进会话历史并流式取回答。
// 完整回答在流结束后写回历史
func (a *Ark) ChatStream(ctx context.Context, userID, conversationID, query string) (<-chan Chunk, error) {
	a.mu.Lock()
	messages, ok := a.history[conversationID]
	a.mu.Unlock()
	if !ok {
		return nil, errs.Newf(errs.KindSession, "llm.ark", "unknown conversation %s", conversationID)
	}

	messages = append(messages, &schema.Message{Role: schema.User, Content: query})

	reader, err := a.model.Stream(ctx, messages)
	if err != nil {
		return nil, errs.New(errs.KindConnection, "llm.ark", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer reader.Close()

		var answer strings.Builder
		for {
			msg, err := reader.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					out <- Chunk{Err: errs.New(errs.KindConnection, "llm.ark", err)}
				}
				return
			}
			if msg.Content == "" {
				continue
			}
			answer.WriteString(msg.Content)

			select {
			case out <- Chunk{Answer: msg.Content}:
			case <-ctx.Done():
				return
			}
		}

		a.mu.Lock()
		a.history[conversationID] = append(messages, &schema.Message{
			Role:    schema.Assistant,
			Content: answer.String(),
		})
		a.mu.Unlock()
	}()

	return out, nil
}
