package avatar

// StreamingType 推流类型
type StreamingType string

const (
	StreamingRTMP    StreamingType = "rtmp"
	StreamingByteRTC StreamingType = "bytertc"
)

// StreamingConfig 推流配置，RTMP 与 ByteRTC 二选一
type StreamingConfig struct {
	Type StreamingType `json:"type"`

	RTMPAddr string `json:"rtmp_addr,omitempty"`

	RTCAppID  string `json:"rtc_app_id,omitempty"`
	RTCRoomID string `json:"rtc_room_id,omitempty"`
	RTCUid    string `json:"rtc_uid,omitempty"`
	RTCToken  string `json:"rtc_token,omitempty"`
}

// NewRTMPStreaming RTMP 推流配置
func NewRTMPStreaming(addr string) StreamingConfig {
	return StreamingConfig{Type: StreamingRTMP, RTMPAddr: addr}
}

// NewRTCStreaming ByteRTC 推流配置
func NewRTCStreaming(appID, roomID, uid, token string) StreamingConfig {
	return StreamingConfig{
		Type:      StreamingByteRTC,
		RTCAppID:  appID,
		RTCRoomID: roomID,
		RTCUid:    uid,
		RTCToken:  token,
	}
}

// VideoConfig 视频输出配置
type VideoConfig struct {
	VideoWidth  int `json:"video_width"`
	VideoHeight int `json:"video_height"`
	Bitrate     int `json:"bitrate"`
}

// NewVideoConfig 创建视频配置并把参数钳到服务端允许的范围
func NewVideoConfig(width, height, bitrate int) *VideoConfig {
	return &VideoConfig{
		VideoWidth:  clamp(width, 240, 1920),
		VideoHeight: clamp(height, 240, 1920),
		Bitrate:     clamp(bitrate, 100, 8000),
	}
}

// RoleConfig 形象在画面中的位置与尺寸
type RoleConfig struct {
	RoleWidth      int `json:"role_width,omitempty"`
	RoleLeftOffset int `json:"role_left_offset,omitempty"`
	RoleTopOffset  int `json:"role_top_offset,omitempty"`
}

// NewRoleConfig 创建形象配置；width 钳到 [100,5760]，top 不为负
func NewRoleConfig(width, left, top int) *RoleConfig {
	cfg := &RoleConfig{RoleLeftOffset: left}
	if width > 0 {
		cfg.RoleWidth = clamp(width, 100, 5760)
	}
	if top > 0 {
		cfg.RoleTopOffset = top
	}
	return cfg
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
