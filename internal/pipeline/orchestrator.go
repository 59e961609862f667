package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"avalive/internal/llm"
	"avalive/internal/stream"
)

// TTSClient 流水线对合成客户端的依赖面
type TTSClient interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	SynthesizeAll(ctx context.Context, text string) ([][]byte, error)
}

// AvatarDriver 流水线对数字人客户端的依赖面
type AvatarDriver interface {
	IsConnected() bool
	LiveID() string
	DriveWithStreamingAudio(ctx context.Context, audio []byte) error
	FinishStreamingAudio(ctx context.Context) error
}

// Request 一次查询
type Request struct {
	SessionID      string // 为空时由 Registry 生成
	RoomID         string // 为空表示本次不驱动数字人
	UserID         string
	ConversationID string // 为空时自动建会话
	Query          string
}

// Orchestrator 串起 LLM→分句→合成→数字人驱动的流水线。
// 事件通过 emit 回调按发生顺序交出；同一会话内句子与音频分片
// 严格按到达顺序处理，不做并行扇出
type Orchestrator struct {
	llm      llm.Provider
	tts      TTSClient
	avatar   AvatarDriver
	registry *stream.Registry
	log      *logrus.Entry
}

func NewOrchestrator(provider llm.Provider, ttsClient TTSClient, avatarDriver AvatarDriver, registry *stream.Registry) *Orchestrator {
	return &Orchestrator{
		llm:      provider,
		tts:      ttsClient,
		avatar:   avatarDriver,
		registry: registry,
		log:      logrus.WithField("component", "pipeline"),
	}
}

// Run 执行一次查询，阻塞到流水线终态。
// 取消在固定挂起点轮询：入口、LLM 增量之间、每次合成前、
// 音频分片之间。兜底分支无条件释放会话
func (o *Orchestrator) Run(ctx context.Context, req Request, emit func(Event)) {
	session := o.registry.Register(req.SessionID, req.RoomID)
	defer o.registry.ReleaseSession(session)

	// 会话取消联动 ctx，让在途的远端调用也能尽快退出
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-session.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	o.log.Infof("pipeline start, session_id=%s, room_id=%s", session.ID, req.RoomID)
	emit(Event{Type: EventStart, SessionID: session.ID, Query: req.Query})

	if o.cancelled(ctx, session) {
		emit(Event{Type: EventCancelled, SessionID: session.ID})
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := o.llm.CreateConversation(ctx, req.UserID)
		if err != nil {
			o.log.Errorf("create conversation: %v", err)
			emit(Event{Type: EventError, SessionID: session.ID, Message: err.Error()})
			return
		}
		conversationID = id
	}

	chunks, err := o.llm.ChatStream(ctx, req.UserID, conversationID, req.Query)
	if err != nil {
		o.log.Errorf("chat stream: %v", err)
		emit(Event{Type: EventError, SessionID: session.ID, Message: err.Error()})
		return
	}

	var (
		textBuffer string
		sentences  SentenceBuffer
	)

	for chunk := range chunks {
		if o.cancelled(ctx, session) {
			emit(Event{Type: EventCancelled, SessionID: session.ID})
			return
		}
		if chunk.Err != nil {
			o.log.Errorf("llm stream: %v", chunk.Err)
			emit(Event{Type: EventError, SessionID: session.ID, Message: chunk.Err.Error()})
			return
		}
		if chunk.Answer == "" {
			continue
		}

		textBuffer += chunk.Answer
		sentences.Append(chunk.Answer)
		emit(Event{Type: EventTextChunk, SessionID: session.ID, Content: chunk.Answer, AccumulatedText: textBuffer})

		if !sentences.Ready() {
			continue
		}

		sentence := sentences.Flush()
		emit(Event{Type: EventSentenceComplete, SessionID: session.ID, Sentence: sentence, Status: "processing_audio"})

		if done := o.processSentence(ctx, session, sentence, emit, false); done {
			return
		}
	}

	// 收尾：残余文本按最后一句处理
	if sentences.Pending() && !o.cancelled(ctx, session) {
		sentence := sentences.Flush()
		emit(Event{Type: EventFinalSentence, SessionID: session.ID, Sentence: sentence, Status: "processing_audio"})
		if done := o.processSentence(ctx, session, sentence, emit, true); done {
			return
		}
	}

	if o.cancelled(ctx, session) {
		emit(Event{Type: EventCancelled, SessionID: session.ID})
		return
	}

	if o.avatarReady() {
		if err := o.avatar.FinishStreamingAudio(ctx); err != nil {
			o.log.Warnf("finish streaming audio: %v", err)
		}
	}

	o.log.Infof("pipeline complete, session_id=%s, text_len=%d", session.ID, len(textBuffer))
	emit(Event{Type: EventComplete, SessionID: session.ID, FullText: textBuffer, Status: "finished"})
}

// processSentence 合成一句并把音频依序推给数字人。
// 返回 true 表示流水线应当就此终止（已观察到取消）。
// 合成失败只上报错误事件，流水线继续处理后续句子
func (o *Orchestrator) processSentence(ctx context.Context, session *stream.Session, sentence string, emit func(Event), final bool) bool {
	if o.cancelled(ctx, session) {
		emit(Event{Type: EventCancelled, SessionID: session.ID})
		return true
	}

	audioEvent, errEvent := EventAudioChunk, EventTTSError
	if final {
		audioEvent, errEvent = EventFinalAudioChunk, EventFinalTTSError
	}

	if !o.tts.IsConnected() {
		o.log.Warn("tts disconnected, reconnecting")
		if err := o.tts.Connect(ctx); err != nil {
			emit(Event{Type: errEvent, SessionID: session.ID, Sentence: sentence, Message: err.Error()})
			return false
		}
	}

	audioChunks, err := o.tts.SynthesizeAll(ctx, sentence)
	if err != nil {
		o.log.Errorf("synthesize %q: %v", sentence, err)
		emit(Event{Type: errEvent, SessionID: session.ID, Sentence: sentence, Message: err.Error()})
		return false
	}

	for _, audio := range audioChunks {
		if o.cancelled(ctx, session) {
			emit(Event{Type: EventCancelled, SessionID: session.ID})
			return true
		}

		if o.avatarReady() {
			if err := o.avatar.DriveWithStreamingAudio(ctx, audio); err != nil {
				o.log.Warnf("drive avatar: %v", err)
			}
		}

		emit(Event{Type: audioEvent, SessionID: session.ID, Sentence: sentence, AudioSize: len(audio), Status: "driving_avatar"})
	}

	if !final {
		emit(Event{Type: EventSentenceProcessed, SessionID: session.ID, Sentence: sentence, Status: "complete"})
	}
	return false
}

func (o *Orchestrator) cancelled(ctx context.Context, session *stream.Session) bool {
	return session.Cancelled() || ctx.Err() != nil
}

func (o *Orchestrator) avatarReady() bool {
	return o.avatar != nil && o.avatar.IsConnected() && o.avatar.LiveID() != ""
}
