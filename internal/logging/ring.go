package logging

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is one captured log record, decoded into plain values so the
// HTTP API can serve it as JSON.
type Entry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Logger  string                 `json:"logger,omitempty"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// ringCore is a zapcore.Core that keeps the latest entries in a fixed
// buffer. With() children share the same store.
type ringCore struct {
	zapcore.LevelEnabler
	store  *ringStore
	fields []zapcore.Field
}

type ringStore struct {
	mu    sync.Mutex
	buf   []Entry
	start int
	count int
}

func newRingCore(capacity int, enab zapcore.LevelEnabler) *ringCore {
	return &ringCore{
		LevelEnabler: enab,
		store:        &ringStore{buf: make([]Entry, capacity)},
	}
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	child := &ringCore{
		LevelEnabler: c.LevelEnabler,
		store:        c.store,
		fields:       make([]zapcore.Field, 0, len(c.fields)+len(fields)),
	}
	child.fields = append(child.fields, c.fields...)
	child.fields = append(child.fields, fields...)
	return child
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	var kv map[string]interface{}
	if len(enc.Fields) > 0 {
		kv = enc.Fields
	}
	c.store.push(Entry{
		Time:    ent.Time,
		Level:   LevelName(ent.Level),
		Logger:  ent.LoggerName,
		Message: ent.Message,
		Fields:  kv,
	})
	return nil
}

func (c *ringCore) Sync() error { return nil }

func (s *ringStore) push(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return
	}
	if s.count < len(s.buf) {
		s.buf[(s.start+s.count)%len(s.buf)] = e
		s.count++
		return
	}
	// overwrite oldest
	s.buf[s.start] = e
	s.start = (s.start + 1) % len(s.buf)
}

// recent returns up to n of the latest entries, oldest first.
func (c *ringCore) recent(n int) []Entry {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > s.count {
		n = s.count
	}
	out := make([]Entry, 0, n)
	for i := s.count - n; i < s.count; i++ {
		out = append(out, s.buf[(s.start+i)%len(s.buf)])
	}
	return out
}
