package protocol

// MessageBuilder 链式构造协议消息，默认值对应最常见的
// 带事件 JSON 客户端请求
type MessageBuilder struct {
	msg Message
}

func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		msg: Message{
			MsgType:       MsgTypeFullClientRequest,
			Flags:         FlagWithEvent,
			Serialization: SerializationJSON,
			Compression:   CompressionNone,
		},
	}
}

func (b *MessageBuilder) WithMsgType(t MsgType) *MessageBuilder {
	b.msg.MsgType = t
	return b
}

func (b *MessageBuilder) WithFlags(flags byte) *MessageBuilder {
	b.msg.Flags = flags
	return b
}

func (b *MessageBuilder) WithEventType(event EventType) *MessageBuilder {
	b.msg.EventType = event
	b.msg.Flags |= FlagWithEvent
	return b
}

func (b *MessageBuilder) WithSessionID(id string) *MessageBuilder {
	b.msg.SessionID = id
	return b
}

// WithSequence 设置序列号；isLast 为 true 时编码为负值表示末包
func (b *MessageBuilder) WithSequence(seq int32, isLast bool) *MessageBuilder {
	b.msg.Sequence = seq
	b.msg.IsLast = isLast
	if isLast {
		b.msg.Flags |= FlagNegativeSeq
	} else {
		b.msg.Flags |= FlagPositiveSeq
	}
	return b
}

func (b *MessageBuilder) WithSerialization(s byte) *MessageBuilder {
	b.msg.Serialization = s
	return b
}

func (b *MessageBuilder) WithCompression(c byte) *MessageBuilder {
	b.msg.Compression = c
	return b
}

func (b *MessageBuilder) WithPayload(payload []byte) *MessageBuilder {
	b.msg.Payload = payload
	return b
}

func (b *MessageBuilder) Build() *Message {
	return &b.msg
}
