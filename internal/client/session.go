package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"hermes/server/internal/events"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected    = errors.New("session is not connected")
	ErrNoConversation  = errors.New("no conversation is open")
	ErrSessionRejected = errors.New("server rejected the session credentials")
)

type SessionConfig struct {
	// URL of the channel endpoint, e.g. ws://localhost:5003/ws.
	URL      string
	Token    string
	Identity string

	WriteWait       time.Duration
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration // 0 retries until the context ends
	TypingDelay     time.Duration

	Dialer *websocket.Dialer
	Log    *zap.Logger
	// OnEvent, when set, sees every event after it was applied.
	OnEvent func(events.Envelope)
}

// Session is one client connection to the push channel. It joins the
// identity room on every (re)connect, re-joins the open group and reloads the
// open conversation's history, since the server keeps no replay buffer.
type Session struct {
	cfg     SessionConfig
	rec     *Reconciler
	history HistoryFetcher
	typist  *Typist
	log     *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func NewSession(cfg SessionConfig, rec *Reconciler, history HistoryFetcher) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.WriteWait == 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.TypingDelay == 0 {
		cfg.TypingDelay = TypingDelay
	}
	s := &Session{
		cfg:     cfg,
		rec:     rec,
		history: history,
		log:     cfg.Log.With(zap.String("identity", cfg.Identity)),
	}
	s.typist = NewTypist(cfg.TypingDelay, func(t events.Type, p events.TypingPayload) {
		if err := s.emit(t, p); err != nil {
			s.log.Debug("typing event not sent", zap.String("type", string(t)), zap.Error(err))
		}
	})
	return s
}

func (s *Session) Reconciler() *Reconciler { return s.rec }

// Open dials the channel and keeps it connected until ctx ends or Close is
// called.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("session already open")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	conn, err := s.dial(s.ctx)
	if err != nil {
		s.cancel()
		close(s.done)
		return err
	}
	s.attach(conn)
	go s.run(conn)
	return nil
}

// Close stops reconnecting and closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	conn, done := s.conn, s.done
	s.mu.Unlock()

	s.typist.Stop()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	<-done
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Token)

	var conn *websocket.Conn
	operation := func() error {
		c, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return backoff.Permanent(ErrSessionRejected)
			}
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxElapsedTime = s.cfg.RetryMaxElapsed
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		s.log.Warn("channel dial failed", zap.Error(err), zap.Duration("retry_in", wait))
	})
	return conn, err
}

// attach installs conn and replays the subscriptions the server forgot.
func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.emit(events.JoinRoom, events.RoomPayload{Username: s.cfg.Identity}); err != nil {
		s.log.Warn("join identity room", zap.Error(err))
	}
	if k, ok := s.rec.Current(); ok {
		if k.Kind == Group {
			if err := s.emit(events.JoinGroup, events.RoomPayload{GroupID: k.ID}); err != nil {
				s.log.Warn("rejoin group", zap.String("group_id", k.ID), zap.Error(err))
			}
		}
		go func() {
			if err := s.refresh(s.ctx, k); err != nil {
				s.log.Warn("history refetch failed", zap.Error(err))
			}
		}()
	}
}

func (s *Session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Session) run(conn *websocket.Conn) {
	defer close(s.done)
	for {
		s.readLoop(conn)
		s.detach(conn)
		if s.ctx.Err() != nil {
			return
		}

		s.log.Info("channel disconnected, reconnecting")
		next, err := s.dial(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Error("giving up on channel", zap.Error(err))
			}
			return
		}
		conn = next
		s.attach(conn)
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("channel read", zap.Error(err))
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("malformed event", zap.Error(err))
			continue
		}
		if env.Type == events.Error {
			var p events.ErrorPayload
			_ = env.Decode(&p)
			s.log.Warn("server rejected event",
				zap.String("event", string(p.Event)), zap.String("code", p.Code), zap.String("message", p.Message))
		}
		if err := s.rec.Apply(env); err != nil {
			s.log.Warn("apply event", zap.String("type", string(env.Type)), zap.Error(err))
		}
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(env)
		}
	}
}

func (s *Session) emit(t events.Type, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	env, err := events.New(t, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// OpenConversation switches the open conversation, moves the group
// subscription along and reloads the history.
func (s *Session) OpenConversation(ctx context.Context, k Key) error {
	prev, hadPrev := s.rec.Current()
	s.typist.Stop()
	s.rec.Open(k)

	if hadPrev && prev.Kind == Group && prev != k {
		_ = s.emit(events.LeaveGroup, events.RoomPayload{GroupID: prev.ID})
	}
	if k.Kind == Group {
		if err := s.emit(events.JoinGroup, events.RoomPayload{GroupID: k.ID}); err != nil && !errors.Is(err, ErrNotConnected) {
			return err
		}
	}
	return s.refresh(ctx, k)
}

func (s *Session) refresh(ctx context.Context, k Key) error {
	if s.history == nil {
		return nil
	}
	var msgs []Message
	if k.Kind == Group {
		hist, err := s.history.GroupHistory(ctx, k.ID)
		if err != nil {
			return err
		}
		for _, m := range hist {
			msgs = append(msgs, FromGroup(m))
		}
	} else {
		hist, err := s.history.DirectHistory(ctx, s.cfg.Identity, k.ID)
		if err != nil {
			return err
		}
		for _, m := range hist {
			msgs = append(msgs, FromDirect(m))
		}
	}
	s.rec.LoadHistory(k, msgs)
	return nil
}

// Keystroke reports input in the open conversation.
func (s *Session) Keystroke() {
	k, ok := s.rec.Current()
	if !ok {
		return
	}
	target := events.TypingPayload{From: s.cfg.Identity}
	if k.Kind == Group {
		target.GroupID = k.ID
	} else {
		target.To = k.ID
	}
	s.typist.Keystroke(target)
}

// Send appends content optimistically to the open conversation and emits it.
// The entry is reconciled when the server acknowledges it.
func (s *Session) Send(content string) (Message, error) {
	k, ok := s.rec.Current()
	if !ok {
		return Message{}, ErrNoConversation
	}
	s.typist.Sent()

	m := s.rec.SendLocal(k, content)
	p := events.SendPayload{ClientID: m.ClientID, Sender: s.cfg.Identity, Content: content}
	t := events.SendMessage
	if k.Kind == Group {
		t = events.SendGroupMessage
		p.GroupID = k.ID
	} else {
		p.Receiver = k.ID
	}
	if err := s.emit(t, p); err != nil {
		s.rec.MarkFailed(k, m.ClientID)
		return m, err
	}
	return m, nil
}
