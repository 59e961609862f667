package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFrameTooShort 帧长度不足以容纳声明的字段
	ErrFrameTooShort = errors.New("protocol: frame too short")
	// ErrDecompress payload 解压失败，帧返回空 payload，由调用方按协议错误处理
	ErrDecompress = errors.New("protocol: payload decompress failed")
	// ErrFlagConflict 序列号与事件标志同时置位。可选字段的固定顺序是
	// 事件 → 会话 → 序列号，而两类服务端帧从不并用这两个标志
	ErrFlagConflict = errors.New("protocol: sequence and event flags both set")
)

// Message 一条二进制协议消息，收发共用同一结构。
// 可选字段是否存在由 Flags 与 EventType 共同决定，编码顺序固定：
// event → sessionId → sequence →（服务端）connectionId/errorCode/meta → payload
type Message struct {
	Version       byte
	HeaderSize    byte
	MsgType       MsgType
	Flags         byte
	Serialization byte
	Compression   byte

	EventType EventType
	SessionID string
	Sequence  int32
	IsLast    bool

	// 仅服务端消息携带
	ConnectionID string
	MetaJSON     string
	ErrorCode    int32

	Payload []byte
}

func (m *Message) String() string {
	switch {
	case m.MsgType == MsgTypeError:
		return fmt.Sprintf("Error code=%d payload=%s", m.ErrorCode, truncate(m.Payload, 128))
	case m.MsgType == MsgTypeAudioOnlyServer:
		return fmt.Sprintf("AudioOnlyServer event=%s session=%s audio=%dB", m.EventType, m.SessionID, len(m.Payload))
	default:
		return fmt.Sprintf("%s event=%s session=%s seq=%d payload=%s",
			m.MsgType, m.EventType, m.SessionID, m.Sequence, truncate(m.Payload, 128))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Marshal 编码为线上帧。
// 压缩规则：Compression 为 gzip 时压缩 payload；payload 长度前缀
// 永远是 4 字节大端有符号整数，且位于 payload 之前
func (m *Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer

	version := m.Version
	if version == 0 {
		version = ProtocolVersion
	}
	headerSize := m.HeaderSize
	if headerSize == 0 {
		headerSize = DefaultHeaderSize
	}

	buf.WriteByte(version<<4 | headerSize)
	buf.WriteByte(byte(m.MsgType)<<4 | m.Flags)
	buf.WriteByte(m.Serialization<<4 | m.Compression)
	buf.WriteByte(0) // reserved

	if m.Flags&FlagWithEvent != 0 {
		if err := binary.Write(&buf, binary.BigEndian, int32(m.EventType)); err != nil {
			return nil, err
		}
	}

	if m.SessionID != "" {
		id := []byte(m.SessionID)
		if err := binary.Write(&buf, binary.BigEndian, int32(len(id))); err != nil {
			return nil, err
		}
		buf.Write(id)
	}

	// 最后一包以负序列号标记，解码侧只需检查符号
	if m.Flags&FlagPositiveSeq != 0 {
		seq := m.Sequence
		if m.IsLast {
			seq = -seq
		}
		if err := binary.Write(&buf, binary.BigEndian, seq); err != nil {
			return nil, err
		}
	}

	if m.Payload != nil {
		payload := m.Payload
		if m.Compression == CompressionGzip {
			compressed, err := gzipCompress(payload)
			if err != nil {
				return nil, fmt.Errorf("protocol: gzip payload: %w", err)
			}
			payload = compressed
		}
		if err := binary.Write(&buf, binary.BigEndian, int32(len(payload))); err != nil {
			return nil, err
		}
		buf.Write(payload)
	}

	return buf.Bytes(), nil
}

// NewMessageFromBytes 解码服务端帧。
// 解压失败不向上 panic：返回空 payload 的消息和 ErrDecompress，
// 且不会越过长度前缀继续读取
func NewMessageFromBytes(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, ErrFrameTooShort
	}

	m := &Message{
		Version:       data[0] >> 4,
		HeaderSize:    data[0] & 0x0f,
		MsgType:       MsgType(data[1] >> 4),
		Flags:         data[1] & 0x0f,
		Serialization: data[2] >> 4,
		Compression:   data[2] & 0x0f,
	}

	offset := int(m.HeaderSize) * 4
	if offset > len(data) {
		return nil, ErrFrameTooShort
	}

	// 标志位低三位：bit0 序列号，bit1 末包，bit2 事件
	if m.Flags&0x01 != 0 && m.Flags&FlagWithEvent != 0 {
		return nil, ErrFlagConflict
	}
	if m.Flags&0x01 != 0 {
		seq, next, err := readInt32(data, offset)
		if err != nil {
			return nil, err
		}
		m.Sequence = seq
		offset = next
		if seq < 0 {
			m.IsLast = true
		}
	}
	if m.Flags&0x02 != 0 {
		m.IsLast = true
	}

	if m.MsgType == MsgTypeError {
		code, next, err := readInt32(data, offset)
		if err != nil {
			return nil, err
		}
		m.ErrorCode = code
		offset = next
		return m, m.readPayload(data, offset)
	}

	if m.Flags&FlagWithEvent != 0 {
		event, next, err := readInt32(data, offset)
		if err != nil {
			return nil, err
		}
		m.EventType = EventType(event)
		offset = next

		switch m.EventType {
		case EventType_None:
			return m, nil

		case EventType_ConnectionStarted:
			// 连接建立事件只带 connectionId
			id, next, err := readString(data, offset)
			if err != nil {
				return nil, err
			}
			m.ConnectionID = id
			offset = next
			return m, nil

		case EventType_ConnectionFailed, EventType_ConnectionFinished:
			meta, next, err := readString(data, offset)
			if err != nil {
				return nil, err
			}
			m.MetaJSON = meta
			offset = next
			return m, nil

		case EventType_SessionStarted, EventType_SessionFinished, EventType_SessionFailed:
			id, next, err := readString(data, offset)
			if err != nil {
				return nil, err
			}
			m.SessionID = id
			meta, next, err := readString(data, next)
			if err != nil {
				return nil, err
			}
			m.MetaJSON = meta
			offset = next
			return m, nil

		default:
			// 其余事件（TTSResponse、SentenceStart/End 等）：sessionId + payload。
			// 音频 payload 不压缩，直接按长度前缀截取
			id, next, err := readString(data, offset)
			if err != nil {
				return nil, err
			}
			m.SessionID = id
			offset = next
			return m, m.readPayload(data, offset)
		}
	}

	// 无事件帧（STT 服务端响应）：直接读 payload
	if offset < len(data) {
		return m, m.readPayload(data, offset)
	}
	return m, nil
}

// readPayload 按长度前缀读取 payload，并按需解压
func (m *Message) readPayload(data []byte, offset int) error {
	size, next, err := readInt32(data, offset)
	if err != nil {
		return err
	}
	if size < 0 || next+int(size) > len(data) {
		return ErrFrameTooShort
	}
	payload := data[next : next+int(size)]

	// 音频帧不参与 gzip，原样返回
	if m.Compression == CompressionGzip && m.MsgType != MsgTypeAudioOnlyServer {
		decompressed, err := gzipDecompress(payload)
		if err != nil {
			m.Payload = nil
			return ErrDecompress
		}
		payload = decompressed
	}
	m.Payload = payload
	return nil
}

func readInt32(data []byte, offset int) (int32, int, error) {
	if offset+4 > len(data) {
		return 0, 0, ErrFrameTooShort
	}
	v := int32(binary.BigEndian.Uint32(data[offset : offset+4]))
	return v, offset + 4, nil
}

func readString(data []byte, offset int) (string, int, error) {
	size, next, err := readInt32(data, offset)
	if err != nil {
		return "", 0, err
	}
	if size < 0 || next+int(size) > len(data) {
		return "", 0, ErrFrameTooShort
	}
	return string(data[next : next+int(size)]), next + int(size), nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
