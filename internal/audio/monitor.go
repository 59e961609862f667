package audio

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/sirupsen/logrus"
)

// Monitor 把流水线产出的音频分片播到本机声卡，用于没有
// 数字人房间时的本地试听。暴露与数字人客户端相同的驱动面，
// 可以直接替换流水线里的数字人出口
type Monitor struct {
	sampleRate beep.SampleRate
	queue      *Queue
	log        *logrus.Entry

	mu      sync.Mutex
	current *Streamer
	started bool
}

func NewMonitor(sampleRate int) *Monitor {
	return &Monitor{
		sampleRate: beep.SampleRate(sampleRate),
		queue:      NewQueue(),
		log:        logrus.WithField("component", "audio"),
	}
}

// Start 初始化声卡并开始消费队列
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if err := speaker.Init(m.sampleRate, m.sampleRate.N(time.Second/10)); err != nil {
		return err
	}
	speaker.Play(m.queue)
	m.started = true
	m.log.Infof("local audio monitor started, sample_rate=%d", int(m.sampleRate))
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Clear()
	m.current = nil
}

func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Monitor) LiveID() string { return "local-monitor" }

// DriveWithStreamingAudio 追加一段 PCM；首个分片开启新的播放流
func (m *Monitor) DriveWithStreamingAudio(ctx context.Context, audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrStreamClosed
	}
	if m.current == nil {
		m.current = NewStreamer(m.sampleRate, 1)
		m.queue.Push(m.current)
	}
	m.current.Append(audio)
	return nil
}

// FinishStreamingAudio 结束当前播放流，后续分片进入新流
func (m *Monitor) FinishStreamingAudio(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Finish()
		m.current = nil
	}
	return nil
}

// InterruptPlayback 丢掉当前流和所有排队的流
func (m *Monitor) InterruptPlayback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Clear()
	m.current = nil
	return nil
}
