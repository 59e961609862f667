package protocol

// 协议版本与头部长度，单位为 4 字节
const (
	ProtocolVersion   = 0b0001
	DefaultHeaderSize = 0b0001
)

// MsgType 消息类型，占头部第二字节的高 4 位
type MsgType byte

const (
	MsgTypeFullClientRequest MsgType = 0b0001
	MsgTypeAudioOnlyClient   MsgType = 0b0010
	MsgTypeFullServerResponse MsgType = 0b1001
	MsgTypeAudioOnlyServer    MsgType = 0b1011
	MsgTypeError              MsgType = 0b1111
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeFullClientRequest:
		return "FullClientRequest"
	case MsgTypeAudioOnlyClient:
		return "AudioOnlyClient"
	case MsgTypeFullServerResponse:
		return "FullServerResponse"
	case MsgTypeAudioOnlyServer:
		return "AudioOnlyServer"
	case MsgTypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// 消息类型标志位，占头部第二字节的低 4 位
const (
	FlagNoSeq       byte = 0b0000
	FlagPositiveSeq byte = 0b0001
	FlagLastNoSeq   byte = 0b0010
	FlagNegativeSeq byte = 0b0011
	FlagWithEvent   byte = 0b0100
)

// 序列化与压缩方式
const (
	SerializationRaw  byte = 0b0000
	SerializationJSON byte = 0b0001

	CompressionNone byte = 0b0000
	CompressionGzip byte = 0b0001
)

// EventType 事件编号，有符号 int32，大端编码
type EventType int32

const (
	EventType_None EventType = 0

	EventType_StartConnection  EventType = 1
	EventType_FinishConnection EventType = 2

	EventType_ConnectionStarted  EventType = 50
	EventType_ConnectionFailed   EventType = 51
	EventType_ConnectionFinished EventType = 52

	EventType_StartSession  EventType = 100
	EventType_FinishSession EventType = 102

	EventType_SessionStarted  EventType = 150
	EventType_SessionFinished EventType = 152
	EventType_SessionFailed   EventType = 153

	EventType_TaskRequest EventType = 200

	EventType_TTSSentenceStart EventType = 350
	EventType_TTSSentenceEnd   EventType = 351
	EventType_TTSResponse      EventType = 352
)

func (e EventType) String() string {
	switch e {
	case EventType_None:
		return "None"
	case EventType_StartConnection:
		return "StartConnection"
	case EventType_FinishConnection:
		return "FinishConnection"
	case EventType_ConnectionStarted:
		return "ConnectionStarted"
	case EventType_ConnectionFailed:
		return "ConnectionFailed"
	case EventType_ConnectionFinished:
		return "ConnectionFinished"
	case EventType_StartSession:
		return "StartSession"
	case EventType_FinishSession:
		return "FinishSession"
	case EventType_SessionStarted:
		return "SessionStarted"
	case EventType_SessionFinished:
		return "SessionFinished"
	case EventType_SessionFailed:
		return "SessionFailed"
	case EventType_TaskRequest:
		return "TaskRequest"
	case EventType_TTSSentenceStart:
		return "TTSSentenceStart"
	case EventType_TTSSentenceEnd:
		return "TTSSentenceEnd"
	case EventType_TTSResponse:
		return "TTSResponse"
	default:
		return "Unknown"
	}
}
