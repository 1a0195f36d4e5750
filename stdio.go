package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// StdIO implements a line-delimited transport over an io.Reader/io.Writer pair, typically
// stdin and stdout. It provides a single persistent session and can be used as either
// ServerTransport or ClientTransport.
//
// Writes are queued to a single writer goroutine, and lines are read by a single reader
// goroutine, so the session is safe for concurrent Send calls. Use NewStdIO to create
// instances.
type StdIO struct {
	sess   stdIOSession
	closed chan struct{}
}

// StdIOOption represents the options for StdIO.
type StdIOOption func(*StdIO)

type stdIOSession struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeMessages chan stdIOMessage
	lines         chan []byte

	startOnce *sync.Once
	stopOnce  *sync.Once
	started   chan struct{}
	done      chan struct{}
	writeDone chan struct{}
}

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

// NewStdIO creates a new StdIO instance reading lines from reader and writing lines to writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) StdIO {
	s := StdIO{
		sess: stdIOSession{
			id:            uuid.New().String(),
			reader:        reader,
			writer:        writer,
			logger:        slog.Default(),
			writeMessages: make(chan stdIOMessage),
			lines:         make(chan []byte),
			startOnce:     &sync.Once{},
			stopOnce:      &sync.Once{},
			started:       make(chan struct{}),
			done:          make(chan struct{}),
			writeDone:     make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.sess.logger = logger.With(
			slog.String("package", "devtools-mcp"),
			slog.String("component", "stdio"),
		)
	}
}

// Sessions implements the ServerTransport interface by yielding the single session, then
// waiting until that session is stopped.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		s.sess.start()

		// StdIO only supports a single session, so we yield it and wait until it's done.
		yield(s.sess)
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface by waiting for the Sessions loop to end.
func (s StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

// StartSession implements the ClientTransport interface.
func (s StdIO) StartSession(_ context.Context) (Session, error) {
	s.sess.start()
	return s.sess, nil
}

func (s stdIOSession) ID() string {
	return s.id
}

func (s stdIOSession) Send(ctx context.Context, line []byte) error {
	msg := make([]byte, len(line), len(line)+1)
	copy(msg, line)
	// Append newline to maintain message framing protocol
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg = append(msg, '\n')
	}

	ioMsg := stdIOMessage{
		msg:  msg,
		errs: make(chan error, 1),
	}

	// Queue the message for sending to avoid interleaved writes.
	select {
	case <-ctx.Done():
		s.logger.Error("failed to feed writeMessages channel", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while feeding writeMessages channel", slog.String("message", string(msg)))
		return errSessionClosed
	case s.writeMessages <- ioMsg:
	}

	// Wait for the resulting error channel to receive the error.
	select {
	case err := <-ioMsg.errs:
		if err != nil {
			s.logger.Error("get error result from write", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		s.logger.Error("failed to wait for write result", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while waiting for write result", slog.String("message", string(msg)))
		return errSessionClosed
	}
}

func (s stdIOSession) Lines() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		s.start()
		for {
			var line []byte
			var ok bool
			select {
			case <-s.done:
				return
			case line, ok = <-s.lines:
			}
			if !ok {
				return
			}
			if !yield(line) {
				return
			}
		}
	}
}

func (s stdIOSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	select {
	case <-s.started:
		<-s.writeDone
	default:
	}
}

func (s stdIOSession) start() {
	s.startOnce.Do(func() {
		close(s.started)
		go s.processWriteMessages()
		go s.readLines()
	})
}

// readLines feeds the lines channel until the reader ends. A bufio.Reader is used instead
// of a bufio.Scanner to avoid max token size errors.
func (s stdIOSession) readLines() {
	defer close(s.lines)

	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")

		if len(line) > 0 {
			select {
			case <-s.done:
				return
			case s.lines <- line:
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Error("failed to read line", slog.String("err", err.Error()))
			}
			return
		}
	}
}

func (s stdIOSession) processWriteMessages() {
	defer close(s.writeDone)

	for {
		// Process writing the message queue until the session is closed.
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)

		msg.errs <- err
	}
}
