package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/gopxl/beep"
	"github.com/sirupsen/logrus"
)

var ErrStreamClosed = errors.New("stream closed")

// Streamer 把增量写入的 s16le PCM 暴露为 beep.Streamer。
// 写入端按到达顺序 Append，播放端非阻塞拉取；
// 缓冲暂空但未收到结尾时返回 (0, true) 让播放器继续轮询
type Streamer struct {
	format beep.Format

	mu  sync.RWMutex
	buf *bytes.Buffer
	eos bool
	err error

	ctx    context.Context
	cancel context.CancelFunc
}

func NewStreamer(sampleRate beep.SampleRate, channels int) *Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		format: beep.Format{
			SampleRate:  sampleRate,
			NumChannels: channels,
			Precision:   2,
		},
		buf:    bytes.NewBuffer(make([]byte, 0, 8192)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Append 追加一段 PCM。流被关闭后写入被丢弃
func (s *Streamer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eos || s.err != nil {
		return
	}
	if _, err := s.buf.Write(p); err != nil {
		s.err = err
		logrus.Errorf("audio: buffer write failed: %v", err)
	}
}

// Finish 声明不会再有写入；缓冲排空后 Stream 返回结束
func (s *Streamer) Finish() {
	s.mu.Lock()
	s.eos = true
	s.mu.Unlock()
}

// Close 立即终止播放，丢弃未播的缓冲
func (s *Streamer) Close() {
	s.cancel()
}

func (s *Streamer) Stream(samples [][2]float64) (int, bool) {
	select {
	case <-s.ctx.Done():
		return 0, false
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bytesPerSample := s.format.NumChannels * s.format.Precision
	required := len(samples) * bytesPerSample

	if s.buf.Len() == 0 {
		if s.eos || s.err != nil {
			return 0, false
		}
		return 0, true
	}

	chunk := make([]byte, min(required, s.buf.Len()))
	n, err := s.buf.Read(chunk)
	if err != nil && err != io.EOF {
		s.err = err
		return 0, false
	}

	samplesRead := n / bytesPerSample
	for i := 0; i < samplesRead; i++ {
		offset := i * bytesPerSample
		if s.format.NumChannels == 1 {
			v := pcm16ToFloat(chunk[offset:])
			samples[i][0] = v
			samples[i][1] = v
		} else {
			samples[i][0] = pcm16ToFloat(chunk[offset:])
			samples[i][1] = pcm16ToFloat(chunk[offset+2:])
		}
	}
	return samplesRead, true
}

func (s *Streamer) Err() error {
	if s.ctx.Err() != nil {
		return nil // 主动关闭不算播放错误
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func pcm16ToFloat(b []byte) float64 {
	if len(b) < 2 {
		return 0
	}
	return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
