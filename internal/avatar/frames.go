package avatar

import (
	"encoding/json"
	"fmt"
)

// 控制通道的消息以固定 8 字节 ASCII 标签开头，标签后紧跟消息体。
// 流式音频（TagStreamAudio）的消息体是裸字节，没有长度前缀，
// 边界由 WebSocket 消息边界决定。标签取值是与远端的既定契约
const (
	tagLen = 8

	TagStartLive   = "|CTL|00|" // 开播
	TagStopLive    = "|CTL|01|" // 停播
	TagInterrupt   = "|CTL|03|" // 打断当前播报
	TagFinishAudio = "|CTL|12|" // 流式音频结束

	TagAudioURL    = "|DAT|01|" // SSML 音频地址驱动
	TagStreamAudio = "|DAT|02|" // 流式音频驱动；下行复用为状态事件
	TagStructAudio = "|DAT|04|" // 结构化音频驱动（base64 JSON）

	TagAck       = "|MSG|00|" // 指令应答
	TagError     = "|MSG|01|" // 错误通知
	TagHeartbeat = "|MSG|02|" // 心跳
)

// AckSuccess 应答成功码
const AckSuccess = 1000

// Ack 指令应答消息体
type Ack struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StatusEvent 下行状态事件消息体
type StatusEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// textFrame 组装标签加 JSON 消息体的文本帧
func textFrame(tag string, body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return []byte(tag), nil
	case string:
		return []byte(tag + v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("avatar: marshal %s body: %w", tag, err)
		}
		return append([]byte(tag), data...), nil
	}
}

// splitTag 拆出标签与消息体；长度不足 8 字节视为无标签
func splitTag(data []byte) (string, []byte) {
	if len(data) < tagLen {
		return "", data
	}
	return string(data[:tagLen]), data[tagLen:]
}
