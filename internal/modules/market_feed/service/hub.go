package service

import (
	"context"
	"sync"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/metrics"
	"fibo_bot/pkg/logger"

	"github.com/gorilla/websocket"
)

// ConnState receives connection health, implemented by the health module.
type ConnState interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

type Options struct {
	URL          string
	PingInterval time.Duration
	// DeliverTimeout bounds how long a closed candle waits for a slow subscriber.
	DeliverTimeout time.Duration
	BufferSize     int
}

// Hub owns the single venue stream connection and fans candles out to
// subscribers. Keys are refcounted: the stream subscribes when the first
// subscriber wants a key and unsubscribes when the last one leaves.
type Hub struct {
	opt    Options
	dialer *websocket.Dialer
	state  ConnState

	mu   sync.Mutex
	refs map[models.FeedKey]map[*Subscription]struct{}
	conn *websocket.Conn
	wmu  sync.Mutex // gorilla allows one concurrent writer
}

// Subscription is one reader of the stream. C carries both closed candles
// and in-progress updates of the subscribed keys.
type Subscription struct {
	C    chan models.Candle
	hub  *Hub
	once sync.Once
	done chan struct{}
}

func NewHub(opt Options, state ConnState) *Hub {
	if opt.URL == "" {
		opt.URL = "wss://ws.okx.com:8443/ws/v5/business"
	}
	if opt.PingInterval <= 0 {
		opt.PingInterval = 20 * time.Second
	}
	if opt.DeliverTimeout <= 0 {
		opt.DeliverTimeout = time.Second
	}
	if opt.BufferSize <= 0 {
		opt.BufferSize = 1024
	}
	return &Hub{
		opt:    opt,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:  state,
		refs:   make(map[models.FeedKey]map[*Subscription]struct{}),
	}
}

func (h *Hub) NewSubscription() *Subscription {
	return &Subscription{
		C:    make(chan models.Candle, h.opt.BufferSize),
		hub:  h,
		done: make(chan struct{}),
	}
}

func (s *Subscription) Candles() <-chan models.Candle { return s.C }

// Add subscribes s to keys. Already subscribed keys are ignored.
func (s *Subscription) Add(keys ...models.FeedKey) {
	s.hub.change(s, keys, true)
}

// Remove drops keys from s.
func (s *Subscription) Remove(keys ...models.FeedKey) {
	s.hub.change(s, keys, false)
}

// Close removes every key of s. C is never closed; readers stop on their own
// context.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.mu.Lock()
		var keys []models.FeedKey
		for k, set := range s.hub.refs {
			if _, ok := set[s]; ok {
				keys = append(keys, k)
			}
		}
		s.hub.mu.Unlock()
		s.hub.change(s, keys, false)
	})
}

func (h *Hub) change(s *Subscription, keys []models.FeedKey, add bool) {
	var toggled []models.FeedKey

	h.mu.Lock()
	for _, k := range keys {
		set := h.refs[k]
		if add {
			if set == nil {
				set = make(map[*Subscription]struct{})
				h.refs[k] = set
				toggled = append(toggled, k)
			}
			set[s] = struct{}{}
			continue
		}
		if set == nil {
			continue
		}
		delete(set, s)
		if len(set) == 0 {
			delete(h.refs, k)
			toggled = append(toggled, k)
		}
	}
	conn := h.conn
	metrics.FeedKeys.Set(float64(len(h.refs)))
	h.mu.Unlock()

	if len(toggled) == 0 || conn == nil {
		// a (re)connect subscribes everything in refs
		return
	}
	op := "unsubscribe"
	if add {
		op = "subscribe"
	}
	if err := h.send(conn, op, toggled); err != nil {
		logger.Warn("[FEED] %s %d keys: %v", op, len(toggled), err)
	}
}

// Keys lists the currently subscribed keys.
func (h *Hub) Keys() []models.FeedKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.FeedKey, 0, len(h.refs))
	for k := range h.refs {
		out = append(out, k)
	}
	return out
}

func (h *Hub) send(conn *websocket.Conn, op string, keys []models.FeedKey) error {
	args := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, channelArg(k))
	}
	h.wmu.Lock()
	defer h.wmu.Unlock()
	return conn.WriteJSON(map[string]any{"op": op, "args": args})
}

// Publish fans one candle out to the key's subscribers. In-progress updates
// are dropped for a full subscriber. Closed candles reach every subscriber
// with room at once; the full ones are waited for in parallel, sharing a
// single DeliverTimeout, so one slow reader never delays the others.
func (h *Hub) Publish(c models.Candle) {
	h.mu.Lock()
	set := h.refs[c.Key()]
	subs := make([]*Subscription, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	closed := "0"
	if c.Closed {
		closed = "1"
	}
	metrics.FeedCandles.WithLabelValues(closed).Inc()

	var slow []*Subscription
	for _, s := range subs {
		select {
		case s.C <- c:
			continue
		default:
		}
		if c.Closed {
			slow = append(slow, s)
		}
	}
	if len(slow) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opt.DeliverTimeout)
	defer cancel()
	var wg sync.WaitGroup
	for _, s := range slow {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			select {
			case s.C <- c:
			case <-s.done:
			case <-ctx.Done():
				metrics.FeedDropped.Inc()
				logger.Warn("[FEED] slow subscriber, dropped %s@%s", c.Key(), c.Start.Format(time.RFC3339))
			}
		}(s)
	}
	wg.Wait()
}

// Run keeps the stream connected until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		if err := h.session(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("[FEED] stream: %v", err)
		}
		if h.state != nil {
			h.state.SetWSConnected(false)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
			metrics.FeedReconnects.Inc()
		}
	}
}

func (h *Hub) session(ctx context.Context) error {
	conn, _, err := h.dialer.DialContext(ctx, h.opt.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	h.mu.Lock()
	h.conn = conn
	keys := make([]models.FeedKey, 0, len(h.refs))
	for k := range h.refs {
		keys = append(keys, k)
	}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
	}()

	if len(keys) > 0 {
		if err := h.send(conn, "subscribe", keys); err != nil {
			return err
		}
	}
	if h.state != nil {
		h.state.SetWSConnected(true)
	}
	logger.Info("[FEED] connected, %d keys", len(keys))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(h.opt.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				// unblock ReadMessage
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				h.wmu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				h.wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		cs, ev, err := parseFrame(msg)
		if err != nil {
			continue
		}
		if ev != "" {
			logger.Warn("[FEED] venue event: %s", ev)
			continue
		}
		for _, c := range cs {
			if h.state != nil {
				h.state.TouchTick(time.Now())
			}
			h.Publish(c)
		}
	}
}
