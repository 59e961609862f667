package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Session 一次查询在 LLM→TTS→数字人流水线中的执行。
// 取消是协作式的：Cancel 只置位，流水线在固定挂起点轮询
type Session struct {
	ID        string
	RoomID    string
	CreatedAt time.Time

	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

// Cancel 置位取消标志。首次置位返回 true，重复调用返回 false
func (s *Session) Cancel() bool {
	first := s.cancelled.CompareAndSwap(false, true)
	s.once.Do(func() { close(s.done) })
	return first
}

// Cancelled 取消标志当前值
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Done 取消信号通道，用于 select
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Registry 在途流水线会话表，按会话 ID 主索引、按房间 ID 辅助索引。
// 辅助索引只服务于按房间批量取消，空条目即时剪除
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session

	log *logrus.Entry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		log:      logrus.WithField("component", "stream"),
	}
}

// Register 登记一个会话。sessionID 为空时自动生成；
// roomID 非空时同时写入房间索引
func (r *Registry) Register(sessionID, roomID string) *Session {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	s := &Session{
		ID:        sessionID,
		RoomID:    roomID,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = s
	if roomID != "" {
		room, ok := r.rooms[roomID]
		if !ok {
			room = make(map[string]*Session)
			r.rooms[roomID] = room
		}
		room[sessionID] = s
	}

	r.log.Debugf("session registered, session_id=%s, room_id=%s", sessionID, roomID)
	return s
}

// Get 按会话 ID 查找
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// CancelBySession 取消单个会话。返回新置位的数量：首次 1，重复 0，
// 会话不存在也是 0
func (r *Registry) CancelBySession(sessionID string) int {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()

	if !ok {
		return 0
	}
	if s.Cancel() {
		r.log.Infof("session cancelled, session_id=%s", sessionID)
		return 1
	}
	return 0
}

// CancelByRoom 取消房间下的全部会话，返回新置位的数量
func (r *Registry) CancelByRoom(roomID string) int {
	r.mu.Lock()
	room := r.rooms[roomID]
	targets := make([]*Session, 0, len(room))
	for _, s := range room {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	count := 0
	for _, s := range targets {
		if s.Cancel() {
			count++
		}
	}
	if count > 0 {
		r.log.Infof("room cancelled, room_id=%s, sessions=%d", roomID, count)
	}
	return count
}

// CancelAll 取消登记表里的全部会话，返回新置位的数量
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	count := 0
	for _, s := range targets {
		if s.Cancel() {
			count++
		}
	}
	if count > 0 {
		r.log.Infof("all sessions cancelled, sessions=%d", count)
	}
	return count
}

// Release 从两个索引中移除会话。对每个已登记会话恰好调用一次，
// 放在流水线的兜底分支里，与成败无关
func (r *Registry) Release(sessionID string) {
	r.release(sessionID, nil)
}

// ReleaseSession 仅当登记表中仍是这个会话对象时才移除。
// 同名新会话顶替旧会话后，旧流水线的兜底分支不会误删新条目
func (r *Registry) ReleaseSession(s *Session) {
	r.release(s.ID, s)
}

func (r *Registry) release(sessionID string, expect *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if expect != nil && s != expect {
		return
	}
	delete(r.sessions, sessionID)

	if s.RoomID != "" {
		if room, ok := r.rooms[s.RoomID]; ok {
			delete(room, sessionID)
			if len(room) == 0 {
				delete(r.rooms, s.RoomID)
			}
		}
	}

	r.log.Debugf("session released, session_id=%s", sessionID)
}

// Len 在途会话数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RoomSessions 房间下在途会话的 ID 列表
func (r *Registry) RoomSessions(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[roomID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}
