package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/q931/pkg/q931"
)

const sampleConfig = `
log_level: debug
metrics_addr: 127.0.0.1:9931
auto_answer:
  enabled: true
  alerting: true
  hangup_after: 30s
interfaces:
  - name: visdn0
    role: nt
    type: bra
    config: point-to-point
    tones: true
    dlc_autorelease: 10s
    timers:
      T303: 6s
      T308: 8s
    link:
      socket:
        device: visdn0.0
  - name: remote0
    role: te
    leased_channels: [1]
    link:
      backhaul:
        addr: pbx.example.net:4433
        insecure: true
bridges:
  - listen: 0.0.0.0:4433
    socket:
      device: visdn1.0
      tei: 0
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())
	assert.Equal(t, 30*time.Second, cfg.Answer.HangupAfter)

	require.Len(t, cfg.Interfaces, 2)
	nt := cfg.Interfaces[0]
	assert.Equal(t, "visdn0", nt.Name)
	assert.Equal(t, q931.RoleNT, nt.Role)
	assert.Equal(t, q931.PointToPoint, nt.Topology)
	assert.True(t, nt.Tones)
	assert.Equal(t, 10*time.Second, nt.DLCAutorelease)
	assert.Equal(t, 6*time.Second, nt.Timers[q931.T303])
	assert.Equal(t, "visdn0.0", nt.Link.Socket.Device)
	assert.Nil(t, nt.Link.Socket.TEI, "TEI assigned by the network")

	te := cfg.Interfaces[1]
	assert.Equal(t, []int{1}, te.LeasedChannels)
	require.NotNil(t, te.Link.Backhaul)
	assert.Equal(t, "pbx.example.net:4433", te.Link.Backhaul.Addr)
	assert.True(t, te.Link.Backhaul.Insecure)

	require.Len(t, cfg.Bridges, 1)
	require.NotNil(t, cfg.Bridges[0].Socket.TEI)
	assert.Equal(t, 0, *cfg.Bridges[0].Socket.TEI)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("interfaces: [{name: bri0, link: {socket: {device: visdn0.0}}}]"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9931", cfg.MetricsAddr)
	assert.False(t, cfg.Answer.Enabled)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]string{
		"empty":          "log_level: info",
		"bad level":      "log_level: loud\ninterfaces: [{name: a, link: {socket: {device: d}}}]",
		"no name":        "interfaces: [{link: {socket: {device: d}}}]",
		"duplicate":      "interfaces: [{name: a, link: {socket: {device: d}}}, {name: a, link: {socket: {device: e}}}]",
		"no link":        "interfaces: [{name: a}]",
		"two links":      "interfaces: [{name: a, link: {socket: {device: d}, backhaul: {addr: 'h:1'}}}]",
		"no addr":        "interfaces: [{name: a, link: {backhaul: {insecure: true}}}]",
		"no device":      "interfaces: [{name: a, link: {socket: {tei: 0}}}]",
		"bridge":         "bridges: [{listen: ':4433'}]",
		"bridge cert":    "bridges: [{listen: ':4433', cert: c.pem, socket: {device: d}}]",
		"negative delay": "auto_answer: {hangup_after: -1s}\ninterfaces: [{name: a, link: {socket: {device: d}}}]",
		"unknown timer":  "interfaces: [{name: a, timers: {T399: 1s}, link: {socket: {device: d}}}]",
		"timer for role": "interfaces: [{name: a, role: te, timers: {T312: 1s}, link: {socket: {device: d}}}]",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			assert.ErrorIs(t, err, errInvalidConfig)
		})
	}

	_, err := ParseConfig([]byte("interfaces: {"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q931d.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Interfaces, 2)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
