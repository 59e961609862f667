package tts

import (
	"encoding/json"

	"avalive/internal/protocol"
)

// Namespace 双向流式 TTS 的固定命名空间
const Namespace = "BidirectionalTTS"

// Request 发送给语音合成服务的请求结构
type Request struct {
	User      *User      `json:"user,omitempty"`
	Event     int32      `json:"event"`
	Namespace string     `json:"namespace"`
	ReqParams *ReqParams `json:"req_params,omitempty"`
}

type User struct {
	Uid string `json:"uid,omitempty"`
}

// ReqParams 请求参数
type ReqParams struct {
	Text        string       `json:"text,omitempty"`
	Speaker     string       `json:"speaker,omitempty"`
	AudioParams *AudioParams `json:"audio_params,omitempty"`
	Additions   string       `json:"additions,omitempty"` // additions 需要是 JSON 字符串
}

// AudioParams 音频参数
type AudioParams struct {
	Format          string `json:"format,omitempty"`
	SampleRate      int32  `json:"sample_rate,omitempty"`
	Channel         int32  `json:"channel,omitempty"`
	SpeechRate      int32  `json:"speech_rate,omitempty"`
	PitchRate       int32  `json:"pitch_rate,omitempty"`
	Volume          int32  `json:"volume,omitempty"`
	Emotion         string `json:"emotion,omitempty"`
	EnableTimestamp bool   `json:"enable_timestamp,omitempty"`
}

type RequestBuilder struct {
	req Request
}

func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{
		req: Request{
			Namespace: Namespace,
		},
	}
}

func (b *RequestBuilder) WithEvent(eventType protocol.EventType) *RequestBuilder {
	b.req.Event = int32(eventType)
	return b
}

func (b *RequestBuilder) WithUser(uid string) *RequestBuilder {
	b.req.User = &User{Uid: uid}
	return b
}

func (b *RequestBuilder) WithText(text string) *RequestBuilder {
	b.params().Text = text
	return b
}

func (b *RequestBuilder) WithSpeaker(speaker string) *RequestBuilder {
	b.params().Speaker = speaker
	return b
}

func (b *RequestBuilder) WithAudioParams(audioParams *AudioParams) *RequestBuilder {
	b.params().AudioParams = audioParams
	return b
}

func (b *RequestBuilder) params() *ReqParams {
	if b.req.ReqParams == nil {
		b.req.ReqParams = &ReqParams{}
	}
	return b.req.ReqParams
}

func (b *RequestBuilder) Build() *Request {
	return &b.req
}

// Marshal 序列化为 JSON payload
func (b *RequestBuilder) Marshal() ([]byte, error) {
	return json.Marshal(&b.req)
}
