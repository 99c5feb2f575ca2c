// Package monitor captures a child process's stdout and stderr into bounded
// buffers and tracks when the child last produced any output.
package monitor

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
)

// Stream identifies one of the two captured output streams.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

type streamBuffer struct {
	buf       bytes.Buffer
	total     int64
	truncated bool
}

// Monitor is safe for concurrent use by the two reader goroutines and any
// number of snapshot readers.
type Monitor struct {
	clock    core.Clock
	maxBytes int

	mu           sync.Mutex
	streams      [2]streamBuffer
	started      time.Time
	lastActivity time.Time
	echo         [2]io.Writer
}

// New creates a monitor capping each stream at maxBytes (<= 0 uses
// core.DefaultMaxOutputBytes). The last-activity clock starts now.
func New(clock core.Clock, maxBytes int) *Monitor {
	clock = core.ClockOrReal(clock)
	if maxBytes <= 0 {
		maxBytes = core.DefaultMaxOutputBytes
	}
	now := clock.Now()
	return &Monitor{
		clock:        clock,
		maxBytes:     maxBytes,
		started:      now,
		lastActivity: now,
	}
}

// SetEcho mirrors every chunk of a stream to w (live pass-through). Echo
// writes happen outside the monitor lock; a slow writer only slows its
// own stream.
func (m *Monitor) SetEcho(stream Stream, w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo[stream] = w
}

// Feed records a chunk read from stream. Bytes past the cap are counted and
// dropped; the truncation marker is appended exactly once.
func (m *Monitor) Feed(stream Stream, chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	m.mu.Lock()
	now := m.clock.Now()
	if now.After(m.lastActivity) {
		m.lastActivity = now
	}

	sb := &m.streams[stream]
	sb.total += int64(len(chunk))
	if !sb.truncated {
		room := m.maxBytes - sb.buf.Len()
		if len(chunk) <= room {
			sb.buf.Write(chunk)
		} else {
			if room > 0 {
				sb.buf.Write(chunk[:room])
			}
			sb.buf.WriteString(core.TruncationMarker)
			sb.truncated = true
		}
	}
	echo := m.echo[stream]
	m.mu.Unlock()

	if echo != nil {
		_, _ = echo.Write(chunk)
	}
}

// Drain reads r until EOF or a read error, feeding every chunk. Read errors
// after the pipe is closed are expected and not reported.
func (m *Monitor) Drain(stream Stream, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.Feed(stream, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// LastActivity returns the time of the most recent byte on either stream,
// or the monitor creation time when nothing was received.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// LastActivityAge returns how long both streams have been silent.
func (m *Monitor) LastActivityAge() time.Duration {
	m.mu.Lock()
	last := m.lastActivity
	m.mu.Unlock()

	age := m.clock.Now().Sub(last)
	if age < 0 {
		return 0
	}
	return age
}

// Snapshot is an immutable copy of the monitor state.
type Snapshot struct {
	Stdout          string
	Stderr          string
	StdoutBytes     int64
	StderrBytes     int64
	StdoutTruncated bool
	StderrTruncated bool
	Started         time.Time
	LastActivity    time.Time
	TakenAt         time.Time
}

// Silence returns how long both streams had been silent when the snapshot
// was taken.
func (s Snapshot) Silence() time.Duration {
	d := s.TakenAt.Sub(s.LastActivity)
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot copies the captured output so far.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	taken := m.clock.Now()
	if taken.Before(m.lastActivity) {
		taken = m.lastActivity
	}
	return Snapshot{
		Stdout:          m.streams[Stdout].buf.String(),
		Stderr:          m.streams[Stderr].buf.String(),
		StdoutBytes:     m.streams[Stdout].total,
		StderrBytes:     m.streams[Stderr].total,
		StdoutTruncated: m.streams[Stdout].truncated,
		StderrTruncated: m.streams[Stderr].truncated,
		Started:         m.started,
		LastActivity:    m.lastActivity,
		TakenAt:         taken,
	}
}
