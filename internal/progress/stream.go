package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const DefaultWriteTimeout = 5 * time.Second

// MessageWriter is the write half of a websocket connection.
type MessageWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Stream pushes JSON encoded events to a single remote listener. Concurrent
// Emit calls are serialized; after the first failed write the stream is marked
// broken and further events are dropped.
type Stream struct {
	mu     sync.Mutex
	conn   MessageWriter
	broken bool

	log          logrus.FieldLogger
	writeTimeout time.Duration
}

func NewStream(conn MessageWriter, logger logrus.FieldLogger) *Stream {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Stream{
		conn:         conn,
		log:          logger,
		writeTimeout: DefaultWriteTimeout,
	}
}

func (s *Stream) Emit(ctx context.Context, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		s.log.WithError(err).Error("encode progress event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, msg); err != nil {
		s.broken = true
		s.log.WithError(err).WithField("event", ev.Kind()).Warn("failed to send progress message, dropping further events")
	}
}

// Broken reports whether a write has failed.
func (s *Stream) Broken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}
