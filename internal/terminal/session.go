// Package terminal manages PTY-backed terminal sessions: creation bound to
// a directory, bounded scrollback history with monotonic sequence numbers,
// SSE streaming with resume-by-sequence, and an on-disk registry so
// multiplexer-backed sessions survive a process restart.
package terminal

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"

	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/model"
)

const (
	historyByteCap = 512 * 1024
	readBufferSize = 8 * 1024
)

// historyChunk is one read from the PTY master, tagged with a monotonic
// sequence number so clients can resume a stream from a known point.
type historyChunk struct {
	seq  int64
	data []byte
}

// subscriber is a live SSE consumer of a session's data/exit events.
type subscriber struct {
	data chan historyChunk
	exit chan exitEvent
}

type exitEvent struct {
	code   int
	signal string
}

// Session owns one PTY master and the goroutines reading/writing it. PTY
// reads block, so the read pipeline gets its own goroutine.
type Session struct {
	ID      string
	Cwd     string
	Backend model.TerminalBackend
	Name    string

	mu           sync.Mutex
	cols, rows   int
	master       *os.File
	cmd          *exec.Cmd
	lastActivity time.Time

	histMu  sync.Mutex
	history []historyChunk
	histLen int
	nextSeq int64

	subMu       sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int

	done chan struct{}
}

func newSession(id, cwd string, cols, rows int, backend model.TerminalBackend, name string) *Session {
	return &Session{
		ID: id, Cwd: cwd, Backend: backend, Name: name,
		cols: cols, rows: rows,
		lastActivity: time.Now(),
		subscribers:  map[int]*subscriber{},
		done:         make(chan struct{}),
	}
}

func (s *Session) start(cmd *exec.Cmd) error {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(s.rows), Cols: uint16(s.cols)})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.master = f
	s.cmd = cmd
	s.mu.Unlock()

	go s.readLoop()
	go s.waitLoop()
	return nil
}

func (s *Session) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		s.mu.Lock()
		f := s.master
		s.mu.Unlock()
		if f == nil {
			return
		}

		n, err := f.Read(buf)
		if n > 0 {
			chunk := sanitizeUTF8(buf[:n])
			s.appendHistory(chunk)
			s.touch()
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil {
		return
	}

	err := cmd.Wait()
	code, signal := 0, ""
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	s.broadcastExit(exitEvent{code: code, signal: signal})
	close(s.done)
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character so history and SSE payloads are always valid UTF-8.
func sanitizeUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return append([]byte(nil), b...)
	}
	var out bytes.Buffer
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out.WriteRune(r)
		b = b[size:]
	}
	return out.Bytes()
}

func (s *Session) appendHistory(data []byte) {
	s.histMu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	s.history = append(s.history, historyChunk{seq: seq, data: data})
	s.histLen += len(data)
	for s.histLen > historyByteCap && len(s.history) > 1 {
		evicted := s.history[0]
		s.history = s.history[1:]
		s.histLen -= len(evicted.data)
	}
	s.histMu.Unlock()

	s.broadcastData(historyChunk{seq: seq, data: data})
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent read, write, or resize.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Write sends input to the PTY master.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return os.ErrClosed
	}
	s.lastActivity = time.Now()
	_, err := s.master.Write(data)
	return err
}

// Resize updates the PTY window size.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return os.ErrClosed
	}
	s.cols, s.rows = cols, rows
	s.lastActivity = time.Now()
	return pty.Setsize(s.master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Size returns the current PTY dimensions.
func (s *Session) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Kill terminates the child process and closes the PTY master.
func (s *Session) Kill() {
	s.mu.Lock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.master != nil {
		_ = s.master.Close()
		s.master = nil
	}
	s.mu.Unlock()
}

// oldestRetainedSeq returns the lowest sequence number still in history, or
// the next sequence to be allocated when history is empty.
func (s *Session) oldestRetainedSeq() int64 {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if len(s.history) == 0 {
		return s.nextSeq + 1
	}
	return s.history[0].seq
}

// replayFrom returns every retained chunk with seq > since: the caller's
// cursor names the last chunk it already has.
func (s *Session) replayFrom(since int64) []historyChunk {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	var out []historyChunk
	for _, c := range s.history {
		if c.seq > since {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) subscribe() (id int, sub *subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id = s.nextSubID
	sub = &subscriber{data: make(chan historyChunk, 64), exit: make(chan exitEvent, 1)}
	s.subscribers[id] = sub
	return id, sub
}

func (s *Session) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subscribers, id)
}

func (s *Session) broadcastData(c historyChunk) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subscribers {
		select {
		case sub.data <- c:
		default:
			logger.Terminal().Warn().Str("sessionID", s.ID).Msg("slow terminal subscriber dropped a chunk")
		}
	}
}

func (s *Session) broadcastExit(ev exitEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subscribers {
		select {
		case sub.exit <- ev:
		default:
		}
	}
}

// Done is closed when the underlying child process has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// waitWithContext blocks until the session exits or ctx is canceled.
func (s *Session) waitWithContext(ctx context.Context) {
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}
