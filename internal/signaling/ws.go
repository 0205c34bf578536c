package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"
)

// WSConfig tunes the websocket transport.
type WSConfig struct {
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string // host patterns; "*" accepts any origin
}

// Server upgrades HTTP requests to signaling connections.
type Server struct {
	router *Router
	cfg    WSConfig
	log    *slog.Logger
}

func NewServer(rt *Router, cfg WSConfig, log *slog.Logger) *Server {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 * 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{router: rt, cfg: cfg, log: log.With("component", "ws")}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.router.Accepting() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	c, err := ws.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.log.Warn("ws accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	c.SetReadLimit(s.cfg.ReadLimit)

	sess := s.router.Attach()
	if sess == nil {
		_ = c.Close(ws.StatusGoingAway, "shutting down")
		return
	}
	s.log.Info("client connected", "session", sess.ID(), "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writePump(ctx, cancel, c, sess)
	s.readPump(ctx, c, sess)

	s.router.Detach(sess)
	_ = c.Close(ws.StatusNormalClosure, "")
	s.log.Info("client disconnected", "session", sess.ID())
}

func (s *Server) acceptOptions() *ws.AcceptOptions {
	opts := &ws.AcceptOptions{}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
	}
	opts.OriginPatterns = s.cfg.AllowedOrigins
	return opts
}

// readPump handles frames in arrival order until the connection fails.
func (s *Server) readPump(ctx context.Context, c *ws.Conn, sess *Session) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if !expectedClose(ctx, err) {
				s.log.Debug("read ended", "session", sess.ID(), "err", err)
			}
			return
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		in, err := Decode(data)
		if err != nil {
			reason := dropMalformed
			if errors.Is(err, ErrUnknownKind) {
				reason = dropUnknownKind
			}
			metricDropped.WithLabelValues(reason).Inc()
			s.log.Warn("bad frame", "session", sess.ID(), "err", err)
			continue
		}
		s.router.Handle(sess, in)
	}
}

// writePump is the only writer on c. It exits when the session closes, a
// write or ping fails, or ctx ends; cancel then unblocks readPump.
func (s *Server) writePump(ctx context.Context, cancel context.CancelFunc, c *ws.Conn, sess *Session) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			_ = c.Close(ws.StatusGoingAway, "server closing session")
			return
		case frame := <-sess.Outbox():
			wctx, wcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := c.Write(wctx, ws.MessageText, frame)
			wcancel()
			if err != nil {
				s.log.Debug("write failed", "session", sess.ID(), "err", err)
				return
			}
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := c.Ping(pctx)
			pcancel()
			if err != nil {
				s.log.Debug("ping failed", "session", sess.ID(), "err", err)
				return
			}
		}
	}
}

func expectedClose(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	switch ws.CloseStatus(err) {
	case ws.StatusNormalClosure, ws.StatusGoingAway:
		return true
	}
	return false
}
