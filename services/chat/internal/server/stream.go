package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"roomchat/internal/realtime"
	"roomchat/internal/util"
	"roomchat/services/chat/internal/app"
)

// handleConnect serves the push stream as server-sent events. The first frame
// carries the connection id; every later frame is named after its destination.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user := s.optionalUser(r)
	conn, hello, err := s.app.OpenConnection()
	if err != nil {
		if errors.Is(err, realtime.ErrRegistryClosed) {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.writeAppError(w, r, err)
		return
	}

	nickname := ""
	if user != nil {
		nickname = user.Nickname
	}
	logger := util.LoggerFromContext(r.Context()).With("connection_id", conn.ID())
	logger.Info("stream opened", "client_ip", util.ClientIP(r, s.trustedProxies), "user", nickname)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sw := &sseWriter{w: w, rc: http.NewResponseController(w)}

	data, err := json.Marshal(hello)
	if err == nil {
		err = sw.event(app.EventConnectionResponse, data)
	}
	if err != nil {
		// Stream still runs so the connection is finished and cleaned up.
		cancel()
	}

	var wg sync.WaitGroup
	if s.heartbeatInterval > 0 {
		wg.Go(func() { heartbeat(ctx, cancel, sw, s.heartbeatInterval) })
	}
	err = s.app.Stream(ctx, conn, func(ev realtime.Event) error {
		return sw.event(ev.Destination, ev.Data)
	})
	cancel()
	wg.Wait()
	if err != nil {
		logger.Debug("stream write failed", "err", err)
	}
}

type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *sseWriter) event(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

func heartbeat(ctx context.Context, cancel context.CancelFunc, sw *sseWriter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sw.comment("ping"); err != nil {
				cancel()
				return
			}
		}
	}
}
