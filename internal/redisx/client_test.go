package redisx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesTimeouts(t *testing.T) {
	c := New("localhost:6379")
	defer c.Close()

	opt := c.Options()
	require.Equal(t, 2*time.Second, opt.DialTimeout)
	require.Equal(t, 2*time.Second, opt.ReadTimeout)
	require.Equal(t, 2*time.Second, opt.WriteTimeout)
}
