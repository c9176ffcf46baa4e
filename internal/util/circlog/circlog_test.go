package circlog_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfstools/zfstools/internal/util/circlog"
)

func TestCircularLog(t *testing.T) {

	t.Run("negative-size-error", func(t *testing.T) {
		_, err := circlog.NewCircularLog(-1)
		require.EqualError(t, err, "max must be positive")
	})

	t.Run("fits", func(t *testing.T) {
		log := circlog.MustNewCircularLog(16)
		_, err := log.Write([]byte("hello "))
		require.NoError(t, err)
		_, err = log.Write([]byte("world"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", log.String())
		assert.Equal(t, 11, log.Len())
	})

	t.Run("wraps-and-keeps-tail", func(t *testing.T) {
		log := circlog.MustNewCircularLog(10)
		for i := 0; i < 5; i++ {
			n, err := log.Write([]byte("abcdef"))
			require.NoError(t, err)
			require.Equal(t, 6, n)
		}
		// last 10 bytes of "abcdef"*5 are "efabcdef" preceded by "cd"
		assert.Equal(t, "(...)bcdef", log.String())
		assert.Equal(t, 10, log.Len())
		assert.Equal(t, 30, log.TotalWritten())
	})

	t.Run("single-oversized-write", func(t *testing.T) {
		log := circlog.MustNewCircularLog(8)
		_, err := log.Write([]byte(strings.Repeat("x", 20) + "12345678"))
		require.NoError(t, err)
		assert.Equal(t, "(...)678", log.String())
	})

	t.Run("reset", func(t *testing.T) {
		log := circlog.MustNewCircularLog(8)
		_, _ = log.Write([]byte("0123456789"))
		log.Reset()
		assert.Equal(t, 0, log.Len())
		assert.Equal(t, "", log.String())
	})
}
