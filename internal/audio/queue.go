package audio

import (
	"sync"

	"github.com/gopxl/beep"
)

// Queue 顺序播放队列：当前流结束后无缝切到下一个，
// 队列暂空时保持播放不停止
type Queue struct {
	mu      sync.Mutex
	current beep.Streamer
	pending []beep.Streamer
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(s beep.Streamer) {
	q.mu.Lock()
	q.pending = append(q.pending, s)
	q.mu.Unlock()
}

// StopCurrent 丢弃当前正在播放的流
func (q *Queue) StopCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.current.(*Streamer); ok {
		s.Close()
	}
}

// Clear 丢弃当前流和所有排队的流
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.current.(*Streamer); ok {
		s.Close()
	}
	for _, p := range q.pending {
		if s, ok := p.(*Streamer); ok {
			s.Close()
		}
	}
	q.current = nil
	q.pending = nil
}

func (q *Queue) Stream(samples [][2]float64) (n int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.current == nil {
			if len(q.pending) == 0 {
				return 0, true
			}
			q.current = q.pending[0]
			q.pending = q.pending[1:]
		}

		n, ok = q.current.Stream(samples)
		if !ok {
			q.current = nil
			continue
		}
		return n, ok
	}
}

func (q *Queue) Err() error { return nil }
