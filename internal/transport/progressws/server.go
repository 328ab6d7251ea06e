// Package progressws publishes export progress to websocket watchers.
package progressws

import (
	"encoding/json"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelmesh.ai/internal/export/report"
)

// Server is a progress.Observer that fans every update out to connected
// websocket clients. Slow clients lose updates rather than stall the export.
type Server struct {
	runID string
	log   *log.Logger

	// AllowRemote accepts non-loopback clients.
	AllowRemote bool

	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	phase    string
	permille int
	seq      uint64
	done     []byte
	closed   bool
}

type client struct {
	out chan []byte
}

func NewServer(runID string, logger *log.Logger) *Server {
	return &Server{
		runID:    runID,
		log:      logger,
		permille: -1,
		clients:  map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) SetProgress(f float64) {
	pm := int(math.Floor(f * 1000))
	s.mu.Lock()
	defer s.mu.Unlock()
	if pm == s.permille {
		return
	}
	s.permille = pm
	s.broadcastLocked(s.progressLocked())
}

func (s *Server) SetMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == s.phase {
		return
	}
	s.phase = msg
	s.broadcastLocked(s.progressLocked())
}

// Finish sends the run summary to every client, present and future.
func (s *Server) Finish(sum report.RunSummary) {
	b, _ := json.Marshal(DoneMsg{Type: "DONE", ProtocolVersion: Version, RunID: s.runID, Summary: sum})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = b
	s.broadcastLocked(b)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for c := range s.clients {
		close(c.out)
		delete(s.clients, c)
	}
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) progressLocked() []byte {
	s.seq++
	b, _ := json.Marshal(ProgressMsg{
		Type:            "PROGRESS",
		ProtocolVersion: Version,
		RunID:           s.runID,
		Phase:           s.phase,
		Progress:        float64(max(s.permille, 0)) / 1000,
		Seq:             s.seq,
	})
	return b
}

func (s *Server) broadcastLocked(b []byte) {
	for c := range s.clients {
		select {
		case c.out <- b:
		default:
			// Drop under load; the next update supersedes this one.
		}
	}
}

// StatusHandler serves the current progress as JSON.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.Lock()
		b := s.progressLocked()
		s.mu.Unlock()
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write(b)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{out: make(chan []byte, 64)}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "export finished"), time.Now().Add(time.Second))
			return
		}
		c.out <- s.progressLocked()
		if s.done != nil {
			c.out <- s.done
		}
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		if s.log != nil {
			s.log.Printf("progress watcher connected from %s", r.RemoteAddr)
		}

		defer func() {
			s.mu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.out)
			}
			s.mu.Unlock()
		}()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for b := range c.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			writeErr <- nil
		}()

		// Reader loop only detects the peer going away.
		readErr := make(chan error, 1)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					readErr <- err
					return
				}
			}
		}()

		select {
		case <-writeErr:
		case <-readErr:
		}
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
