package llm

import "context"

// Chunk 流式回答的一个增量。流以通道关闭结束；
// 中途出错时最后一个 Chunk 携带 Err
type Chunk struct {
	Answer string
	Err    error
}

// Provider 对话后端抽象。流水线只依赖两个能力：
// 建会话、按会话流式取回答
type Provider interface {
	CreateConversation(ctx context.Context, userID string) (string, error)
	ChatStream(ctx context.Context, userID, conversationID, query string) (<-chan Chunk, error)
}
