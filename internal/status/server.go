// Package status streams pipeline status events and log entries to WebSocket
// subscribers. New subscribers receive a replay of recent items before the
// live feed.
package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/clipforge/internal/logging"
	"github.com/normanking/clipforge/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Server broadcasts StatusEvents over WebSocket. It implements
// pipeline.Sink; Publish never blocks the pipeline, slow subscribers are
// dropped.
type Server struct {
	addr       string
	replaySize int
	upgrader   websocket.Upgrader
	log        zerolog.Logger

	mu      sync.Mutex
	recent  []pipeline.StatusEvent
	subs    map[chan pipeline.StatusEvent]struct{}
	logSubs map[chan logging.Entry]struct{}
	history func(limit int) []logging.Entry

	httpSrv *http.Server
}

// NewServer creates a Server listening on addr when started. replaySize <= 0
// disables replay.
func NewServer(addr string, replaySize int, log zerolog.Logger) *Server {
	return &Server{
		addr:       addr,
		replaySize: replaySize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// local observability endpoint; subscribers are trusted
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.With().Str("component", "status").Logger(),
		subs:    make(map[chan pipeline.StatusEvent]struct{}),
		logSubs: make(map[chan logging.Entry]struct{}),
	}
}

// AttachLogger streams the logger's entries to /ws/logs subscribers, with
// the logger's history ring as the replay source.
func (s *Server) AttachLogger(l *logging.Logger) {
	s.mu.Lock()
	s.history = l.GetHistory
	s.mu.Unlock()
	l.SetOnLog(s.publishLog)
}

// publishLog fans a log entry out to log subscribers. Same contract as
// Publish: never blocks, slow subscribers are dropped.
func (s *Server) publishLog(e logging.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.logSubs {
		select {
		case ch <- e:
		default:
			delete(s.logSubs, ch)
			close(ch)
		}
	}
}

func (s *Server) subscribeLogs() (chan logging.Entry, []logging.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan logging.Entry, sendBuffer)
	s.logSubs[ch] = struct{}{}
	var replay []logging.Entry
	if s.history != nil && s.replaySize > 0 {
		replay = s.history(s.replaySize)
	}
	return ch, replay
}

func (s *Server) unsubscribeLogs(ch chan logging.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logSubs[ch]; ok {
		delete(s.logSubs, ch)
		close(ch)
	}
}

// Publish records the event and fans it out to all subscribers.
func (s *Server) Publish(ev pipeline.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replaySize > 0 {
		s.recent = append(s.recent, ev)
		if len(s.recent) > s.replaySize {
			s.recent = s.recent[len(s.recent)-s.replaySize:]
		}
	}

	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// subscriber is not draining; cut it loose
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// subscribe registers a new subscriber and returns the replay snapshot.
func (s *Server) subscribe() (chan pipeline.StatusEvent, []pipeline.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan pipeline.StatusEvent, sendBuffer)
	s.subs[ch] = struct{}{}
	replay := make([]pipeline.StatusEvent, len(s.recent))
	copy(replay, s.recent)
	return ch, replay
}

func (s *Server) unsubscribe(ch chan pipeline.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// HandleWS upgrades the connection and streams events until the client
// disconnects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, replay := s.subscribe()
	defer s.unsubscribe(ch)

	for _, ev := range replay {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	// drain reads so close frames and pongs are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleLogWS upgrades the connection and streams log entries, starting with
// a replay of the logger's recent history.
func (s *Server) HandleLogWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, replay := s.subscribeLogs()
	defer s.unsubscribeLogs(ch)

	for _, e := range replay {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start serves the WebSocket endpoints until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/ws/logs", s.HandleLogWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("status server listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
