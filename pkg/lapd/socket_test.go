package lapd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketConfigDefaults(t *testing.T) {
	cfg := SocketConfig{Device: "visdn0.0"}.withDefaults()
	assert.Equal(t, DefaultFamily, cfg.Family)
	assert.Equal(t, DefaultLevel, cfg.Level)
	assert.Equal(t, DynamicTEI, cfg.tei())
	assert.NotNil(t, cfg.Logger)

	tei := 0
	cfg = SocketConfig{Device: "visdn0.0", Family: 40, TEI: &tei}.withDefaults()
	assert.Equal(t, 40, cfg.Family)
	assert.Equal(t, 0, cfg.tei())
}

func TestOpenSocketErrors(t *testing.T) {
	_, err := OpenSocket(SocketConfig{})
	require.Error(t, err)

	// семейство за пределами AF_MAX ядро не поддерживает
	_, err = OpenSocket(SocketConfig{Device: "visdn0.0", Family: 4242})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lapd: socket")
}
