package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"PaperTrade/internal/domain/models"
	drepo "PaperTrade/internal/domain/repository"
	applogger "PaperTrade/pkg/logger"
	"PaperTrade/pkg/util"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

// Ticker frames carry both "e" and "E" keys, so field matching must be case sensitive.
var json = jsoniter.Config{CaseSensitive: true, ValidateJsonRawMessage: true}.Froze()

var (
	ErrNotConnected = errors.New("stream not connected")
	ErrClosed       = errors.New("stream closed")
)

const writeWait = 10 * time.Second

// Config configures the ticker stream.
type Config struct {
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

// Client implements a MarketStream over a Binance-compatible combined miniTicker websocket.
type Client struct {
	cfg Config
	l   *applogger.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	nextID    int
}

var _ drepo.MarketStream = (*Client)(nil)

// New creates a new ticker stream.
func New(cfg Config, l *applogger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{cfg: cfg, l: l.With(applogger.String("component", "stream"))}
}

func (c *Client) streams() []string {
	out := make([]string, 0, len(c.cfg.Symbols))
	for _, s := range c.cfg.Symbols {
		out = append(out, strings.ToLower(util.NormalizeSymbol(s))+"@miniTicker")
	}
	return out
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	readWait := 2 * c.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.l.Info("stream connected", applogger.String("url", redact(c.cfg.URL)))
	return nil
}

// Subscribe subscribes to the miniTicker stream of every configured symbol.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	conn, ok := c.conn, c.connected
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	if conn == nil || !ok {
		return ErrNotConnected
	}
	msg := map[string]interface{}{"method": "SUBSCRIBE", "params": c.streams(), "id": id}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.write(conn, websocket.TextMessage, b); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.l.Info("stream subscribed", applogger.Strings("streams", c.streams()))
	return nil
}

func (c *Client) write(conn *websocket.Conn, kind int, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(kind, b)
}

type miniTicker struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

type envelope struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
}

// Read streams ticks and errors until ctx ends or Close is called. Read errors are reported and
// the loop resumes on the next connection established by Reconnect.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, c.cfg.BufferSize)
	errs := make(chan error, 1)

	go c.pingLoop(ctx)
	go func() {
		defer close(ticks)
		defer close(errs)
		var failed *websocket.Conn
		for {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			conn, closed := c.conn, c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if conn == nil || conn == failed {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.ReconnectDelay):
				}
				continue
			}

			_, b, err := conn.ReadMessage()
			if err != nil {
				failed = conn
				c.mu.Lock()
				if c.conn == conn {
					c.connected = false
				}
				closed = c.closed
				c.mu.Unlock()
				if closed {
					return
				}
				select {
				case errs <- fmt.Errorf("stream read: %w", err):
				default:
				}
				continue
			}
			t, ok := decodeTick(b)
			if !ok {
				continue
			}
			select {
			case ticks <- t:
			default:
				// backpressure: the latest price supersedes this one
			}
		}
	}()

	return ticks, errs
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn, ok, closed := c.conn, c.connected, c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if conn == nil || !ok {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.l.Debug("stream ping failed", applogger.Error(err))
			}
		}
	}
}

// decodeTick accepts both combined-stream envelopes and raw miniTicker frames.
func decodeTick(b []byte) (*models.Tick, bool) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, false
	}
	mt := env.Data
	if env.Stream == "" {
		if err := json.Unmarshal(b, &mt); err != nil {
			return nil, false
		}
	}
	if mt.Event != "24hrMiniTicker" || mt.Symbol == "" {
		return nil, false
	}
	price, err := strconv.ParseFloat(mt.Close, 64)
	if err != nil || price <= 0 {
		return nil, false
	}
	vol, _ := strconv.ParseFloat(mt.Volume, 64)
	return &models.Tick{
		Symbol:    util.NormalizeSymbol(mt.Symbol),
		Price:     price,
		Volume:    vol,
		Timestamp: util.FromMillis(mt.EventTime),
	}, true
}

// Reconnect waits the reconnect delay, dials again and resubscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.connected = false
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.ReconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the connection. Read loops exit and close their channels.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
