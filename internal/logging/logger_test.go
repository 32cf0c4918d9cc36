package logging

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, maxHist int) *Logger {
	t.Helper()
	l, err := New(&Config{
		LogDir:     t.TempDir(),
		Level:      LevelDebug,
		MaxHistory: maxHist,
		Console:    false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestHistoryIsBounded(t *testing.T) {
	l := newTestLogger(t, 4)
	for i := 0; i < 10; i++ {
		l.Info("pipeline", fmt.Sprintf("event %d", i), nil)
	}

	got := l.GetHistory(0)
	require.Len(t, got, 4)
	assert.Equal(t, "event 6", got[0].Message)
	assert.Equal(t, "event 9", got[3].Message)
}

func TestGetHistoryLimitReturnsNewest(t *testing.T) {
	l := newTestLogger(t, 16)
	l.Info("pipeline", "one", nil)
	l.Info("pipeline", "two", nil)

	got := l.GetHistory(1)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Message)
}

func TestOnLogCallbackFires(t *testing.T) {
	l := newTestLogger(t, 16)
	ch := make(chan Entry, 4)
	l.SetOnLog(func(e Entry) { ch <- e })

	l.Error("pipeline", "stage failed", errors.New("boom"), map[string]interface{}{"stage": "video"})

	select {
	case e := <-ch:
		assert.Equal(t, "error", e.Level)
		assert.Equal(t, "pipeline", e.Component)
		assert.Equal(t, "stage failed", e.Message)
		assert.Contains(t, e.Data, "stage=video")
		assert.Contains(t, e.Data, "error=boom")
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestFormatDataIsStable(t *testing.T) {
	got := formatData(map[string]interface{}{"b": 2, "a": 1}, nil)
	assert.Equal(t, "a=1, b=2", got)
	assert.Empty(t, formatData(nil, nil))
}
