package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestFeed() (*Feed, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	f := NewFeed()
	f.now = c.now
	return f, c
}

func TestFeedSeverityDurations(t *testing.T) {
	f, _ := newTestFeed()
	f.Success("saved")
	f.Error("failed")
	f.Warning("careful")
	f.Info("fyi")

	msgs := f.Active()
	require.Len(t, msgs, 4)
	require.Equal(t, SeveritySuccess, msgs[0].Severity)
	require.Equal(t, DefaultDuration, msgs[0].Duration)
	require.Equal(t, SeverityError, msgs[1].Severity)
	require.Equal(t, DefaultErrorDuration, msgs[1].Duration)
	require.Equal(t, int64(5000), msgs[1].DurationMs)
}

func TestFeedAutoDismiss(t *testing.T) {
	f, c := newTestFeed()
	f.Success("saved")
	f.Error("failed")

	c.t = c.t.Add(4500 * time.Millisecond)
	msgs := f.Active()
	require.Len(t, msgs, 1)
	require.Equal(t, "failed", msgs[0].Text)

	c.t = c.t.Add(time.Second)
	require.Empty(t, f.Active())
}

func TestFeedDismiss(t *testing.T) {
	f, _ := newTestFeed()
	f.Info("one")
	f.Info("two")

	first := f.Active()[0]
	require.True(t, f.Dismiss(first.ID))
	require.False(t, f.Dismiss(first.ID))

	msgs := f.Active()
	require.Len(t, msgs, 1)
	require.Equal(t, "two", msgs[0].Text)
}
