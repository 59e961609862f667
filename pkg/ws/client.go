package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Config WebSocket 客户端配置
type Config struct {
	// URL WebSocket 服务器地址（ws:// 或 wss://）
	URL string

	// Headers 连接时发送的 HTTP 头
	Headers http.Header

	// TLSConfig TLS 配置（用于 wss:// 连接）
	// 如果为 nil，使用默认的 TLS 配置
	TLSConfig *tls.Config

	// DialTimeout 连接超时时间（默认 5 秒）
	DialTimeout time.Duration

	// HandshakeTimeout 握手超时时间（默认 10 秒）
	HandshakeTimeout time.Duration
}

// Client WebSocket 客户端接口。
// Recv/Send 阻塞在 ctx 上；连接断开后 Done 关闭，Recv 返回底层错误或 io.EOF
type Client interface {
	Recv(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	SendText(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
	Done() <-chan struct{}
}

type client struct {
	conn *websocket.Conn

	recvCh chan []byte
	sendCh chan frame
	pongCh chan struct{}

	done chan struct{}

	closeOnce sync.Once
	err       atomic.Value // 保存 error
}

type frame struct {
	msgType int
	data    []byte
}

// Dial 建立连接并启动读写协程
func Dial(ctx context.Context, config Config) (Client, error) {
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: config.HandshakeTimeout,
	}
	if config.TLSConfig != nil {
		dialer.TLSClientConfig = config.TLSConfig
	}

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, config.URL, config.Headers)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: %w, status: %s", err, resp.Status)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	c := &client{
		conn:   conn,
		recvCh: make(chan []byte, 128),
		sendCh: make(chan frame, 128),
		pongCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		select {
		case c.pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

func (c *client) readLoop() {
	defer c.Close()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}

		select {
		case c.recvCh <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *client) writeLoop() {
	defer c.Close()

	for {
		select {
		case f := <-c.sendCh:
			if err := c.conn.WriteMessage(f.msgType, f.data); err != nil {
				c.setErr(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.recvCh:
		return msg, nil

	case <-c.done:
		if err := c.getErr(); err != nil {
			return nil, err
		}
		return nil, io.EOF

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *client) Send(ctx context.Context, data []byte) error {
	return c.send(ctx, frame{msgType: websocket.BinaryMessage, data: data})
}

func (c *client) SendText(ctx context.Context, data []byte) error {
	return c.send(ctx, frame{msgType: websocket.TextMessage, data: data})
}

func (c *client) send(ctx context.Context, f frame) error {
	select {
	case c.sendCh <- f:
		return nil

	case <-c.done:
		return io.EOF

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping 发送 ping 控制帧并等待 pong，用于探活。
// gorilla 允许 WriteControl 与写协程并发，不经过 sendCh
func (c *client) Ping(ctx context.Context) error {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	// 清掉上一次残留的 pong 信号
	select {
	case <-c.pongCh:
	default:
	}

	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}

	select {
	case <-c.pongCh:
		return nil
	case <-c.done:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

func (c *client) Done() <-chan struct{} {
	return c.done
}

func (c *client) setErr(err error) {
	if err != nil {
		c.err.Store(err)
	}
}

func (c *client) getErr() error {
	if v := c.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}
