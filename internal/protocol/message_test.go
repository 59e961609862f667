package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		build  func() *Message
		verify func(t *testing.T, decoded *Message)
	}{
		{
			name: "task request with session and payload",
			build: func() *Message {
				return NewMessageBuilder().
					WithEventType(EventType_TaskRequest).
					WithSessionID("session-123").
					WithPayload([]byte(`{"text":"你好"}`)).
					Build()
			},
			verify: func(t *testing.T, decoded *Message) {
				if decoded.EventType != EventType_TaskRequest {
					t.Fatalf("event = %s, want TaskRequest", decoded.EventType)
				}
				if decoded.SessionID != "session-123" {
					t.Fatalf("session = %q", decoded.SessionID)
				}
				if string(decoded.Payload) != `{"text":"你好"}` {
					t.Fatalf("payload = %q", decoded.Payload)
				}
			},
		},
		{
			name: "gzip compressed json payload",
			build: func() *Message {
				return NewMessageBuilder().
					WithEventType(EventType_StartSession).
					WithSessionID("s1").
					WithCompression(CompressionGzip).
					WithPayload([]byte(`{"namespace":"BidirectionalTTS"}`)).
					Build()
			},
			verify: func(t *testing.T, decoded *Message) {
				if string(decoded.Payload) != `{"namespace":"BidirectionalTTS"}` {
					t.Fatalf("payload not decompressed: %q", decoded.Payload)
				}
			},
		},
		{
			name: "audio only request with positive sequence",
			build: func() *Message {
				return NewMessageBuilder().
					WithMsgType(MsgTypeAudioOnlyClient).
					WithFlags(FlagNoSeq).
					WithSequence(7, false).
					WithSerialization(SerializationRaw).
					WithCompression(CompressionGzip).
					WithPayload([]byte{0x01, 0x02, 0x03}).
					Build()
			},
			verify: func(t *testing.T, decoded *Message) {
				if decoded.Sequence != 7 {
					t.Fatalf("sequence = %d, want 7", decoded.Sequence)
				}
				if decoded.IsLast {
					t.Fatalf("unexpected last flag")
				}
				if !bytes.Equal(decoded.Payload, []byte{0x01, 0x02, 0x03}) {
					t.Fatalf("payload = %v", decoded.Payload)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := tt.build().Marshal()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			decoded, err := NewMessageFromBytes(frame)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			tt.verify(t, decoded)
		})
	}
}

// 末包序列号取负编码，解码侧通过符号识别流结束
func TestSequenceSignLaw(t *testing.T) {
	frame, err := NewMessageBuilder().
		WithMsgType(MsgTypeAudioOnlyClient).
		WithFlags(FlagNoSeq).
		WithSequence(42, true).
		WithSerialization(SerializationRaw).
		WithCompression(CompressionGzip).
		WithPayload([]byte("pcm")).
		Build().
		Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// 序列号紧跟 4 字节头部
	raw := int32(binary.BigEndian.Uint32(frame[4:8]))
	if raw != -42 {
		t.Fatalf("encoded sequence = %d, want -42", raw)
	}

	decoded, err := NewMessageFromBytes(frame)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.IsLast {
		t.Fatalf("expected last package")
	}
	if decoded.Sequence != -42 {
		t.Fatalf("decoded sequence = %d, want -42", decoded.Sequence)
	}
}

func TestDecodeServerEvents(t *testing.T) {
	// 服务端事件帧没有现成的编码入口，手工拼帧验证解码分支
	header := []byte{
		ProtocolVersion<<4 | DefaultHeaderSize,
		byte(MsgTypeFullServerResponse)<<4 | FlagWithEvent,
		SerializationJSON<<4 | CompressionNone,
		0,
	}

	writeInt32 := func(buf *bytes.Buffer, v int32) {
		binary.Write(buf, binary.BigEndian, v)
	}
	writeString := func(buf *bytes.Buffer, s string) {
		writeInt32(buf, int32(len(s)))
		buf.WriteString(s)
	}

	t.Run("connection started carries connection id", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(header)
		writeInt32(&buf, int32(EventType_ConnectionStarted))
		writeString(&buf, "conn-9")

		msg, err := NewMessageFromBytes(buf.Bytes())
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.ConnectionID != "conn-9" {
			t.Fatalf("connection id = %q", msg.ConnectionID)
		}
	})

	t.Run("session finished carries session id and meta", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(header)
		writeInt32(&buf, int32(EventType_SessionFinished))
		writeString(&buf, "sess-1")
		writeString(&buf, `{"usage":1}`)

		msg, err := NewMessageFromBytes(buf.Bytes())
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.SessionID != "sess-1" || msg.MetaJSON != `{"usage":1}` {
			t.Fatalf("got session=%q meta=%q", msg.SessionID, msg.MetaJSON)
		}
	})

	t.Run("audio response payload is not gunzipped", func(t *testing.T) {
		audio := []byte{0xde, 0xad, 0xbe, 0xef}
		var buf bytes.Buffer
		buf.WriteByte(ProtocolVersion<<4 | DefaultHeaderSize)
		buf.WriteByte(byte(MsgTypeAudioOnlyServer)<<4 | FlagWithEvent)
		buf.WriteByte(SerializationRaw<<4 | CompressionGzip)
		buf.WriteByte(0)
		writeInt32(&buf, int32(EventType_TTSResponse))
		writeString(&buf, "sess-2")
		writeInt32(&buf, int32(len(audio)))
		buf.Write(audio)

		msg, err := NewMessageFromBytes(buf.Bytes())
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !bytes.Equal(msg.Payload, audio) {
			t.Fatalf("audio payload altered: %v", msg.Payload)
		}
	})

	t.Run("error frame carries code and payload", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteByte(ProtocolVersion<<4 | DefaultHeaderSize)
		buf.WriteByte(byte(MsgTypeError) << 4)
		buf.WriteByte(SerializationJSON<<4 | CompressionNone)
		buf.WriteByte(0)
		writeInt32(&buf, 55000001)
		writeString(&buf, `{"message":"session error"}`)

		msg, err := NewMessageFromBytes(buf.Bytes())
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.ErrorCode != 55000001 {
			t.Fatalf("error code = %d", msg.ErrorCode)
		}
		if string(msg.Payload) != `{"message":"session error"}` {
			t.Fatalf("payload = %q", msg.Payload)
		}
	})
}

// 解压失败返回空 payload 的帧与 ErrDecompress，不 panic、不越界
func TestDecompressFailure(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(ProtocolVersion<<4 | DefaultHeaderSize)
	buf.WriteByte(byte(MsgTypeFullServerResponse)<<4 | FlagWithEvent)
	buf.WriteByte(SerializationJSON<<4 | CompressionGzip)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, int32(EventType_TTSSentenceEnd))
	binary.Write(&buf, binary.BigEndian, int32(2))
	buf.WriteString("s3")
	garbage := []byte("not gzip at all")
	binary.Write(&buf, binary.BigEndian, int32(len(garbage)))
	buf.Write(garbage)

	msg, err := NewMessageFromBytes(buf.Bytes())
	if !errors.Is(err, ErrDecompress) {
		t.Fatalf("err = %v, want ErrDecompress", err)
	}
	if msg == nil || len(msg.Payload) != 0 {
		t.Fatalf("expected empty payload, got %v", msg)
	}
}

func TestTruncatedFrame(t *testing.T) {
	frame, err := NewMessageBuilder().
		WithEventType(EventType_StartSession).
		WithSessionID("abcdef").
		WithPayload([]byte("{}")).
		Build().
		Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for cut := 1; cut < len(frame); cut += 3 {
		if _, err := NewMessageFromBytes(frame[:cut]); err == nil && cut < 8 {
			t.Fatalf("expected error for %d-byte frame", cut)
		}
	}
}

func TestSequenceAndEventFlagsRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(ProtocolVersion<<4 | DefaultHeaderSize)
	buf.WriteByte(byte(MsgTypeFullServerResponse)<<4 | FlagPositiveSeq | FlagWithEvent)
	buf.WriteByte(SerializationJSON << 4)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, int32(42))

	if _, err := NewMessageFromBytes(buf.Bytes()); !errors.Is(err, ErrFlagConflict) {
		t.Fatalf("err = %v, want ErrFlagConflict", err)
	}
}
