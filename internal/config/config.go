package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config 进程配置，全部来自环境变量。
// 必填项缺失不在这里报错，由各客户端在建连时拒绝
type Config struct {
	// ListenAddr HTTP 服务监听地址
	ListenAddr string

	// LogLevel logrus 日志级别
	LogLevel string

	// AudioMonitor 为真时音频分片播到本机声卡而不是驱动数字人，
	// 用于没有房间时的本地调试
	AudioMonitor bool

	LLM    LLMConfig
	TTS    TTSConfig
	STT    STTConfig
	Avatar AvatarConfig
}

type LLMConfig struct {
	// Provider hiagent 或 ark
	Provider string

	HiAgentBaseURL string
	HiAgentAPIKey  string

	ArkBaseURL string
	ArkModel   string
	ArkAPIKey  string
}

type TTSConfig struct {
	AppKey     string
	AccessKey  string
	ResourceID string
	Speaker    string
	SampleRate int32
}

type STTConfig struct {
	AppKey     string
	AccessKey  string
	ResourceID string
}

type AvatarConfig struct {
	AppID string
	Token string
}

// Load 从环境变量读配置
func Load() Config {
	return Config{
		ListenAddr:   getenv("AVALIVE_LISTEN_ADDR", ":8080"),
		LogLevel:     getenv("AVALIVE_LOG_LEVEL", "info"),
		AudioMonitor: os.Getenv("AVALIVE_AUDIO_MONITOR") == "1",
		LLM: LLMConfig{
			Provider:       getenv("AVALIVE_LLM_PROVIDER", "hiagent"),
			HiAgentBaseURL: os.Getenv("AVALIVE_HIAGENT_BASE_URL"),
			HiAgentAPIKey:  os.Getenv("AVALIVE_HIAGENT_API_KEY"),
			ArkBaseURL:     getenv("AVALIVE_ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			ArkModel:       os.Getenv("AVALIVE_ARK_MODEL"),
			ArkAPIKey:      os.Getenv("AVALIVE_ARK_API_KEY"),
		},
		TTS: TTSConfig{
			AppKey:     os.Getenv("AVALIVE_TTS_APP_KEY"),
			AccessKey:  os.Getenv("AVALIVE_TTS_ACCESS_KEY"),
			ResourceID: getenv("AVALIVE_TTS_RESOURCE_ID", "volc.service_type.10029"),
			Speaker:    getenv("AVALIVE_TTS_SPEAKER", "zh_female_shuangkuaisisi_moon_bigtts"),
			SampleRate: int32(getenvInt("AVALIVE_TTS_SAMPLE_RATE", 24000)),
		},
		STT: STTConfig{
			AppKey:     os.Getenv("AVALIVE_STT_APP_KEY"),
			AccessKey:  os.Getenv("AVALIVE_STT_ACCESS_KEY"),
			ResourceID: getenv("AVALIVE_STT_RESOURCE_ID", "volc.bigasr.sauc.duration"),
		},
		Avatar: AvatarConfig{
			AppID: os.Getenv("AVALIVE_AVATAR_APP_ID"),
			Token: os.Getenv("AVALIVE_AVATAR_TOKEN"),
		},
	}
}

// SetupLogging 应用日志级别并统一输出格式
func (c Config) SetupLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("config: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
