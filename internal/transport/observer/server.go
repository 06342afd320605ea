// Package observer serves the debug WebSocket feed: per-frame streaming
// statistics, selection lists, and load events for a local viewer.
//
// Session membership is owned by the frame-loop goroutine. The HTTP handlers
// hand new sessions over through buffered channels; Broadcast drains them, so
// it must be called from the loop that drives Tileset.Update.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilestream.ai/internal/observerproto"
)

type Server struct {
	bootstrap func() observerproto.BootstrapResponse
	log       *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	join   chan joinRequest
	leave  chan string
	update chan updateRequest

	// Frame-loop goroutine only.
	sessions map[string]*session
}

type joinRequest struct {
	sessionID string
	frameOut  chan []byte
	everyN    int
}

type updateRequest struct {
	sessionID string
	everyN    int
}

type session struct {
	id       string
	frameOut chan []byte
	everyN   int
}

func NewServer(bootstrap func() observerproto.BootstrapResponse, logger *log.Logger) *Server {
	return &Server{
		bootstrap: bootstrap,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		join:     make(chan joinRequest, 16),
		leave:    make(chan string, 16),
		update:   make(chan updateRequest, 16),
		sessions: map[string]*session{},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		frameOut := make(chan []byte, 8)

		select {
		case s.join <- joinRequest{sessionID: sid, frameOut: frameOut, everyN: normalizeEveryN(sub.EveryNFrames)}:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.leave <- sid:
			default:
				// Frame loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-frameOut:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
				continue
			}
			select {
			case s.update <- updateRequest{sessionID: sid, everyN: normalizeEveryN(sub.EveryNFrames)}:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Broadcast stamps and fans out one frame message. Frame-loop goroutine only.
func (s *Server) Broadcast(msg observerproto.FrameMsg) {
	s.drainMembership()
	if len(s.sessions) == 0 {
		return
	}

	msg.Type = "FRAME"
	msg.ProtocolVersion = observerproto.Version
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, c := range s.sessions {
		if c.everyN > 1 && msg.Frame%uint64(c.everyN) != 0 {
			continue
		}
		trySend(c.frameOut, b)
	}
}

// SessionCount reports connected observers. Frame-loop goroutine only.
func (s *Server) SessionCount() int {
	s.drainMembership()
	return len(s.sessions)
}

func (s *Server) drainMembership() {
	for {
		select {
		case req := <-s.join:
			if old := s.sessions[req.sessionID]; old != nil {
				close(old.frameOut)
			}
			s.sessions[req.sessionID] = &session{id: req.sessionID, frameOut: req.frameOut, everyN: req.everyN}
			if s.log != nil {
				s.log.Printf("observer joined session=%s every_n=%d", req.sessionID, req.everyN)
			}
		case sid := <-s.leave:
			if c := s.sessions[sid]; c != nil {
				close(c.frameOut)
				delete(s.sessions, sid)
				if s.log != nil {
					s.log.Printf("observer left session=%s", sid)
				}
			}
		case req := <-s.update:
			if c := s.sessions[req.sessionID]; c != nil {
				c.everyN = req.everyN
			}
		default:
			return
		}
	}
}

func normalizeEveryN(n int) int {
	if n <= 1 {
		return 1
	}
	if n > 300 {
		return 300
	}
	return n
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
