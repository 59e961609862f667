package room

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"avalive/internal/avatar"
	"avalive/internal/errs"
	"avalive/internal/stream"
)

const (
	// cooldownPeriod 开播失败后同一房间的冷却时长
	cooldownPeriod = 10 * time.Second

	connectAttempts   = 3
	connectRetryDelay = 3 * time.Second
	connectTimeout    = 45 * time.Second
	healthTimeout     = 10 * time.Second

	startLiveTimeout = 30 * time.Second

	// joinTimeout 一次加入房间的总时长上限
	joinTimeout = 90 * time.Second

	sweepInterval = 30 * time.Second
)

// AvatarClient 协调器对数字人客户端的依赖面
type AvatarClient interface {
	Connect(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	StartLive(ctx context.Context, req avatar.StartLiveRequest) error
	StopLive(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	LiveID() string
}

// TTSClient 协调器对合成客户端的依赖面，只管连接生命周期
type TTSClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
}

// Coordinator 串行化房间级的连接操作：
// 同一房间最多一个在途加入请求；失败房间进入固定冷却窗口；
// 所有房间的建连尝试共用一把进程级锁，避免在同一条控制通道上
// 并发握手
type Coordinator struct {
	avatar   AvatarClient
	tts      TTSClient
	registry *stream.Registry
	log      *logrus.Entry

	mu       sync.Mutex
	pending  map[string]struct{}
	failures map[string]time.Time

	// connectMu 进程级建连锁，串行化所有房间的连接尝试
	connectMu sync.Mutex
}

func NewCoordinator(avatarClient AvatarClient, ttsClient TTSClient, registry *stream.Registry) *Coordinator {
	return &Coordinator{
		avatar:   avatarClient,
		tts:      ttsClient,
		registry: registry,
		log:      logrus.WithField("component", "room"),
		pending:  make(map[string]struct{}),
		failures: make(map[string]time.Time),
	}
}

// JoinRequest 加入房间参数，RoomID 同时作为开播的 live_id
type JoinRequest struct {
	RoomID     string
	AvatarType string
	Role       string
	Background string
	Streaming  avatar.StreamingConfig
	Video      *avatar.VideoConfig
	RoleConf   *avatar.RoleConfig
}

// JoinRoom 加入房间：确保控制通道可用后为该房间开播。
// 重复请求与冷却中的房间立即拒绝，不开任何连接。
// 取消不计入冷却
func (c *Coordinator) JoinRoom(ctx context.Context, req JoinRequest) error {
	if err := c.markPending(req.RoomID); err != nil {
		return err
	}
	defer c.clearPending(req.RoomID)

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	if err := c.ensureConnected(ctx); err != nil {
		c.recordFailure(req.RoomID, err)
		return err
	}

	startCtx, startCancel := context.WithTimeout(ctx, startLiveTimeout)
	defer startCancel()

	err := c.avatar.StartLive(startCtx, avatar.StartLiveRequest{
		LiveID:     req.RoomID,
		AvatarType: req.AvatarType,
		Role:       req.Role,
		Background: req.Background,
		Streaming:  req.Streaming,
		Video:      req.Video,
		RoleConf:   req.RoleConf,
	})
	if err != nil {
		c.recordFailure(req.RoomID, err)
		return err
	}

	c.mu.Lock()
	delete(c.failures, req.RoomID)
	c.mu.Unlock()

	c.log.Infof("room joined, room_id=%s", req.RoomID)
	return nil
}

func (c *Coordinator) markPending(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[roomID]; ok {
		return errs.Newf(errs.KindConcurrency, "room.join", "join already pending for room %s", roomID)
	}

	if failedAt, ok := c.failures[roomID]; ok {
		remaining := cooldownPeriod - time.Since(failedAt)
		if remaining > 0 {
			return errs.Newf(errs.KindConcurrency, "room.join",
				"room %s cooling down, retry in %.0fs", roomID, remaining.Seconds())
		}
		delete(c.failures, roomID)
	}

	c.pending[roomID] = struct{}{}
	return nil
}

func (c *Coordinator) clearPending(roomID string) {
	c.mu.Lock()
	delete(c.pending, roomID)
	c.mu.Unlock()
}

// recordFailure 记录失败时间戳激活冷却；取消不算失败
func (c *Coordinator) recordFailure(roomID string, err error) {
	if errs.IsCancelled(err) || errs.KindOf(err) == errs.KindCancelled {
		return
	}
	c.mu.Lock()
	c.failures[roomID] = time.Now()
	c.mu.Unlock()
	c.log.Warnf("join failed, room_id=%s, cooldown %s: %v", roomID, cooldownPeriod, err)
}

// ensureConnected 在进程级锁内确保控制通道可用：
// 健康检查通过直接复用；否则重建连接，最多尝试 3 次，间隔 3 秒
func (c *Coordinator) ensureConnected(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if ctx.Err() != nil {
			return errs.New(errs.KindCancelled, "room.connect", ctx.Err())
		}

		if c.avatar.IsConnected() {
			healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
			err := c.avatar.HealthCheck(healthCtx)
			cancel()
			if err == nil {
				return nil
			}
			c.log.Warnf("health check failed, reconnecting: %v", err)
			_ = c.avatar.Disconnect(ctx)
		}

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := c.avatar.Connect(connectCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		c.log.Warnf("connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
		if attempt < connectAttempts {
			select {
			case <-time.After(connectRetryDelay):
			case <-ctx.Done():
				return errs.New(errs.KindCancelled, "room.connect", ctx.Err())
			}
		}
	}

	if errs.KindOf(lastErr) == errs.KindUnknown {
		return errs.New(errs.KindConnection, "room.connect", lastErr)
	}
	return lastErr
}

// LeaveRoom 取消房间下全部在途会话并停播。停播失败不中断
// 后续清理，改为强制断开控制通道。返回取消的会话数
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID string) (int, error) {
	cancelled := c.registry.CancelByRoom(roomID)

	if c.avatar.LiveID() == roomID {
		if err := c.avatar.StopLive(ctx); err != nil {
			c.log.Warnf("stop live failed, room_id=%s, forcing disconnect: %v", roomID, err)
			if err := c.avatar.Disconnect(ctx); err != nil {
				c.log.Warnf("avatar disconnect failed, room_id=%s: %v", roomID, err)
			}
		}
	}

	if c.tts != nil && c.tts.IsConnected() {
		if err := c.tts.Disconnect(ctx); err != nil {
			c.log.Warnf("tts disconnect failed, room_id=%s: %v", roomID, err)
		}
	}

	c.log.Infof("room left, room_id=%s, cancelled=%d", roomID, cancelled)
	return cancelled, nil
}

// Reset 强制拆除全部连接：取消所有在途会话，清空挂起与冷却标记，
// 数字人与合成通道并发断开，错误合并返回
func (c *Coordinator) Reset(ctx context.Context) error {
	cancelled := c.registry.CancelAll()

	c.mu.Lock()
	c.pending = make(map[string]struct{})
	c.failures = make(map[string]time.Time)
	c.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		_ = c.avatar.StopLive(ctx)
		return c.avatar.Disconnect(ctx)
	})
	g.Go(func() error {
		if c.tts == nil || !c.tts.IsConnected() {
			return nil
		}
		return c.tts.Disconnect(ctx)
	})

	err := g.Wait()
	c.log.Infof("connections reset, cancelled=%d", cancelled)
	return err
}

// Status 协调器当前状态
type Status struct {
	AvatarConnected bool               `json:"avatar_connected"`
	TTSConnected    bool               `json:"tts_connected"`
	LiveID          string             `json:"live_id,omitempty"`
	ActiveSessions  int                `json:"active_sessions"`
	PendingJoins    []string           `json:"pending_joins,omitempty"`
	Cooldowns       map[string]float64 `json:"cooldowns,omitempty"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	pending := make([]string, 0, len(c.pending))
	for room := range c.pending {
		pending = append(pending, room)
	}
	cooldowns := make(map[string]float64)
	for room, failedAt := range c.failures {
		if remaining := cooldownPeriod - time.Since(failedAt); remaining > 0 {
			cooldowns[room] = remaining.Seconds()
		}
	}
	c.mu.Unlock()

	st := Status{
		AvatarConnected: c.avatar.IsConnected(),
		LiveID:          c.avatar.LiveID(),
		ActiveSessions:  c.registry.Len(),
		PendingJoins:    pending,
		Cooldowns:       cooldowns,
	}
	if c.tts != nil {
		st.TTSConnected = c.tts.IsConnected()
	}
	return st
}

// RunSweeper 周期清理已过期的冷却条目，直到 ctx 结束
func (c *Coordinator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			for room, failedAt := range c.failures {
				if time.Since(failedAt) >= cooldownPeriod {
					delete(c.failures, room)
				}
			}
			c.mu.Unlock()
		}
	}
}
