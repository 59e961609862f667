package protocol

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Conn 发送与接收原始帧的传输抽象，由 pkg/ws 的客户端实现
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// StartConnection 发送建连事件，payload 固定为空 JSON 对象
func StartConnection(ctx context.Context, conn Conn) error {
	msg := NewMessageBuilder().
		WithEventType(EventType_StartConnection).
		WithPayload([]byte("{}")).
		Build()
	return sendMessage(ctx, conn, msg)
}

func FinishConnection(ctx context.Context, conn Conn) error {
	msg := NewMessageBuilder().
		WithEventType(EventType_FinishConnection).
		WithPayload([]byte("{}")).
		Build()
	return sendMessage(ctx, conn, msg)
}

func StartSession(ctx context.Context, conn Conn, payload []byte, sessionID string) error {
	msg := NewMessageBuilder().
		WithEventType(EventType_StartSession).
		WithSessionID(sessionID).
		WithPayload(payload).
		Build()
	return sendMessage(ctx, conn, msg)
}

func FinishSession(ctx context.Context, conn Conn, sessionID string) error {
	msg := NewMessageBuilder().
		WithEventType(EventType_FinishSession).
		WithSessionID(sessionID).
		WithPayload([]byte("{}")).
		Build()
	return sendMessage(ctx, conn, msg)
}

func TaskRequest(ctx context.Context, conn Conn, payload []byte, sessionID string) error {
	msg := NewMessageBuilder().
		WithEventType(EventType_TaskRequest).
		WithSessionID(sessionID).
		WithPayload(payload).
		Build()
	return sendMessage(ctx, conn, msg)
}

// FullClientRequest 发送带序列号的完整客户端请求（STT 建连配置），
// payload 为 JSON 并 gzip 压缩
func FullClientRequest(ctx context.Context, conn Conn, seq int32, payload []byte) error {
	msg := NewMessageBuilder().
		WithFlags(FlagPositiveSeq).
		WithSequence(seq, false).
		WithCompression(CompressionGzip).
		WithPayload(payload).
		Build()
	return sendMessage(ctx, conn, msg)
}

// SendAudio 发送音频分片。isLast 为 true 时序列号取负，标记流结束
func SendAudio(ctx context.Context, conn Conn, seq int32, isLast bool, audio []byte) error {
	msg := NewMessageBuilder().
		WithMsgType(MsgTypeAudioOnlyClient).
		WithFlags(FlagNoSeq).
		WithSequence(seq, isLast).
		WithSerialization(SerializationRaw).
		WithCompression(CompressionGzip).
		WithPayload(audio).
		Build()
	return sendMessage(ctx, conn, msg)
}

// ReceiveMessage 读取并解析下一帧
func ReceiveMessage(ctx context.Context, conn Conn) (*Message, error) {
	data, err := conn.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return NewMessageFromBytes(data)
}

// WaitForEvent 阻塞等待指定类型与事件的帧，静默跳过
// 中间穿插的其他帧（如心跳、句边界事件）。
// 收到 Error 帧或失败事件直接返回该帧与 nil error，由调用方判定
func WaitForEvent(ctx context.Context, conn Conn, msgType MsgType, event EventType) (*Message, error) {
	for {
		msg, err := ReceiveMessage(ctx, conn)
		if err != nil {
			return msg, err
		}
		if msg.MsgType == msgType && msg.EventType == event {
			return msg, nil
		}
		if msg.MsgType == MsgTypeError ||
			msg.EventType == EventType_ConnectionFailed ||
			msg.EventType == EventType_SessionFailed {
			return msg, nil
		}
		logrus.Debugf("protocol: skip frame while waiting %s/%s: %s", msgType, event, msg.String())
	}
}

func sendMessage(ctx context.Context, conn Conn, msg *Message) error {
	frame, err := msg.Marshal()
	if err != nil {
		return err
	}
	return conn.Send(ctx, frame)
}
