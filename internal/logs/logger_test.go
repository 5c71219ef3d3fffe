package logs

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Run("LevelFiltering", func(t *testing.T) {
		logger := NewLogger(10, INFO)
		// Minimum level is INFO
		logger.Debug().Msg("should not be logged")
		logger.Info().Msg("should be logged")
		logger.Warn().Msg("should be logged")
		logger.Error().Msg("should be logged")

		entries := logger.GetLast(10)
		require.Len(t, entries, 3, "Logger should have ignored DEBUG but kept INFO, WARN, and ERROR")
		assert.Equal(t, INFO, entries[0].Level)
		assert.Equal(t, WARN, entries[1].Level)
		assert.Equal(t, ERROR, entries[2].Level)
	})

	t.Run("RingBufferBehavior", func(t *testing.T) {
		// max size is 2 so adding a 3rd entry shall push out the first entry (FIFO)
		logger := NewLogger(2, DEBUG)

		logger.Info().Msg("first")
		logger.Info().Msg("second")
		logger.Info().Msg("third")

		entries := logger.GetLast(10)
		require.Len(t, entries, 2, "Logger should only keep maxSize entries")
		assert.Equal(t, "second", entries[0].Message)
		assert.Equal(t, "third", entries[1].Message)
	})

	t.Run("ConcurrentLogging", func(t *testing.T) {
		logger := NewLogger(100, DEBUG)
		var wg sync.WaitGroup
		numLogs := 50

		for i := 0; i < numLogs; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				logger.Info().Msg(fmt.Sprintf("concurrent log %d", i))
			}(i)
		}
		wg.Wait()

		entries := logger.GetLast(100)
		assert.Len(t, entries, numLogs, "Logger should have all concurrent log entries")
	})

	t.Run("GetLastBoundaries", func(t *testing.T) {
		logger := NewLogger(10, DEBUG)
		logger.Info().Msg("msg1")
		logger.Info().Msg("msg2")
		logger.Info().Msg("msg3")

		assert.Len(t, logger.GetLast(10), 3)
		assert.Len(t, logger.GetLast(3), 3)
		assert.Empty(t, logger.GetLast(0))
		assert.Empty(t, logger.GetLast(-1))

		lastTwo := logger.GetLast(2)
		require.Len(t, lastTwo, 2)
		assert.Equal(t, "msg2", lastTwo[0].Message)
		assert.Equal(t, "msg3", lastTwo[1].Message)
	})

	t.Run("DeepCopyProtection", func(t *testing.T) {
		logger := NewLogger(10, DEBUG)
		logger.Info().Msg("original message")

		entries := logger.GetLast(1)
		entries[0].Message = "modified message"

		assert.Equal(t, "original message", logger.GetLast(1)[0].Message,
			"Modifying retrieved entries should not affect internal log storage")
	})

	t.Run("ComponentAndOutput", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(Config{Level: "debug", Output: &buf, Service: "test-svc", BufferSize: 5})

		sweepLog := logger.WithComponent("sweep")
		sweepLog.Info().Int("removed", 2).Msg("idle entries removed")

		entries := logger.GetLast(1)
		require.Len(t, entries, 1)
		assert.Equal(t, "sweep", entries[0].Component)
		assert.Equal(t, "idle entries removed", entries[0].Message)
		assert.False(t, entries[0].TimeStamp.IsZero())

		assert.Contains(t, buf.String(), `"service":"test-svc"`)
		assert.Contains(t, buf.String(), `"removed":2`)
	})

	t.Run("UnknownLevelFallsBackToInfo", func(t *testing.T) {
		logger := New(Config{Level: "chatty", Output: &bytes.Buffer{}})
		logger.Debug().Msg("hidden")
		logger.Info().Msg("shown")

		entries := logger.GetLast(10)
		require.Len(t, entries, 1)
		assert.Equal(t, "shown", entries[0].Message)
	})
}
