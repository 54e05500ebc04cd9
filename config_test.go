package fetchextra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_BuildTransport(t *testing.T) {
	t.Run("given defaults, then the transport mirrors them", func(t *testing.T) {
		tr := DefaultConfig().buildTransport()
		require.NotNil(t, tr)

		assert.Equal(t, 100, tr.MaxIdleConns)
		assert.Equal(t, 20, tr.MaxIdleConnsPerHost)
		assert.Equal(t, 100, tr.MaxConnsPerHost)
		assert.Equal(t, 90*time.Second, tr.IdleConnTimeout)
		assert.True(t, tr.DisableCompression)
		assert.False(t, tr.DisableKeepAlives)
	})

	t.Run("given overrides, then they carry through", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DisableKeepAlives = true
		cfg.MaxConnsPerHost = 7

		tr := cfg.buildTransport()
		assert.True(t, tr.DisableKeepAlives)
		assert.Equal(t, 7, tr.MaxConnsPerHost)
	})
}
