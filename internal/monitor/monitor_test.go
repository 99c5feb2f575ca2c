package monitor

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/testutil"
)

var epoch = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func TestMonitor_FeedAndSnapshot(t *testing.T) {
	m := New(testutil.NewFakeClock(epoch), 1024)

	m.Feed(Stdout, []byte("hello "))
	m.Feed(Stderr, []byte("warn\n"))
	m.Feed(Stdout, []byte("world"))

	snap := m.Snapshot()
	assert.Equal(t, "hello world", snap.Stdout)
	assert.Equal(t, "warn\n", snap.Stderr)
	assert.EqualValues(t, 11, snap.StdoutBytes)
	assert.False(t, snap.StdoutTruncated)
}

func TestMonitor_TruncatesWithMarker(t *testing.T) {
	m := New(testutil.NewFakeClock(epoch), 8)

	m.Feed(Stdout, []byte("0123456789"))
	m.Feed(Stdout, []byte("more"))

	snap := m.Snapshot()
	assert.True(t, snap.StdoutTruncated)
	assert.Equal(t, "01234567"+core.TruncationMarker, snap.Stdout)
	assert.EqualValues(t, 14, snap.StdoutBytes)
	assert.Equal(t, 1, strings.Count(snap.Stdout, strings.TrimSpace(core.TruncationMarker)))
}

func TestMonitor_TruncationIsPerStream(t *testing.T) {
	m := New(testutil.NewFakeClock(epoch), 4)

	m.Feed(Stdout, []byte("abcdefgh"))
	m.Feed(Stderr, []byte("xy"))

	snap := m.Snapshot()
	assert.True(t, snap.StdoutTruncated)
	assert.False(t, snap.StderrTruncated)
	assert.Equal(t, "xy", snap.Stderr)
}

func TestMonitor_ExactCapIsNotTruncated(t *testing.T) {
	m := New(testutil.NewFakeClock(epoch), 4)
	m.Feed(Stdout, []byte("abcd"))

	snap := m.Snapshot()
	assert.False(t, snap.StdoutTruncated)
	assert.Equal(t, "abcd", snap.Stdout)
}

func TestMonitor_LastActivityAge(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	m := New(clock, 1024)

	clock.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, m.LastActivityAge())

	m.Feed(Stderr, []byte("x"))
	assert.Equal(t, time.Duration(0), m.LastActivityAge())

	clock.Advance(time.Second)
	assert.Equal(t, time.Second, m.LastActivityAge())
}

func TestMonitor_LastActivityNeverMovesBackward(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	m := New(clock, 1024)

	clock.Advance(10 * time.Second)
	m.Feed(Stdout, []byte("a"))
	latest := m.LastActivity()

	// a reading from a clock that stepped backward must not rewind the mark
	clock.Set(epoch.Add(2 * time.Second))
	m.Feed(Stdout, []byte("b"))

	assert.Equal(t, latest, m.LastActivity())
	assert.Equal(t, time.Duration(0), m.LastActivityAge())
}

func TestMonitor_EmptyChunkIsNotActivity(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	m := New(clock, 1024)
	clock.Advance(time.Minute)

	m.Feed(Stdout, nil)
	assert.Equal(t, time.Minute, m.LastActivityAge())
}

func TestMonitor_SnapshotIsACopy(t *testing.T) {
	m := New(nil, 1024)
	m.Feed(Stdout, []byte("first"))
	snap := m.Snapshot()

	m.Feed(Stdout, []byte(" second"))
	assert.Equal(t, "first", snap.Stdout)
	assert.Equal(t, "first second", m.Snapshot().Stdout)
}

func TestMonitor_Echo(t *testing.T) {
	m := New(nil, 4)
	var echo bytes.Buffer
	m.SetEcho(Stdout, &echo)

	m.Feed(Stdout, []byte("abcdefgh"))
	assert.Equal(t, "abcdefgh", echo.String(), "echo is not subject to the cap")
}

func TestMonitor_DrainReadsToEOF(t *testing.T) {
	m := New(nil, 1<<20)
	payload := strings.Repeat("line of output\n", 5000)

	require.NoError(t, m.Drain(Stdout, strings.NewReader(payload)))
	assert.Equal(t, payload, m.Snapshot().Stdout)
}

func TestMonitor_DrainReturnsReadError(t *testing.T) {
	m := New(nil, 1024)
	r := io.MultiReader(strings.NewReader("partial"), errReader{})

	err := m.Drain(Stderr, r)
	assert.ErrorIs(t, err, testutil.ErrTest)
	assert.Equal(t, "partial", m.Snapshot().Stderr)
}

func TestMonitor_ConcurrentFeedAndSnapshot(t *testing.T) {
	m := New(nil, 64*1024)
	var wg sync.WaitGroup

	for _, s := range []Stream{Stdout, Stderr} {
		wg.Add(1)
		go func(s Stream) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.Feed(s, []byte("0123456789"))
			}
		}(s)
	}

	var prev time.Time
	for i := 0; i < 200; i++ {
		snap := m.Snapshot()
		assert.False(t, snap.LastActivity.Before(prev), "last activity moved backward")
		prev = snap.LastActivity
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.EqualValues(t, 10000, snap.StdoutBytes)
	assert.EqualValues(t, 10000, snap.StderrBytes)
}

func TestStream_String(t *testing.T) {
	assert.Equal(t, "stdout", Stdout.String())
	assert.Equal(t, "stderr", Stderr.String())
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, testutil.ErrTest }
