package lapd

import "log/slog"

// Значения по умолчанию для стека LAPD ядра (vISDN). В заголовках ядра
// они не экспортируются через x/sys, поэтому их можно переопределить в
// SocketConfig.
const (
	DefaultFamily  = 30
	DefaultLevel   = 300
	DefaultOptRole = 2
	DefaultOptTEI  = 4
	DefaultRoleNT  = 1
	DynamicTEI     = 255
)

// SocketConfig параметры сокета LAPD
type SocketConfig struct {
	// Device имя сетевого устройства D-канала
	Device string `yaml:"device"`
	// TEI статический TEI терминала; без него TEI назначает сеть
	TEI *int `yaml:"tei"`
	// Debug включает SO_DEBUG
	Debug bool `yaml:"debug"`

	Family  int `yaml:"family"`
	Level   int `yaml:"level"`
	OptRole int `yaml:"opt_role"`
	OptTEI  int `yaml:"opt_tei"`
	RoleNT  int `yaml:"role_nt"`

	Logger *slog.Logger `yaml:"-"`
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.Family == 0 {
		c.Family = DefaultFamily
	}
	if c.Level == 0 {
		c.Level = DefaultLevel
	}
	if c.OptRole == 0 {
		c.OptRole = DefaultOptRole
	}
	if c.OptTEI == 0 {
		c.OptTEI = DefaultOptTEI
	}
	if c.RoleNT == 0 {
		c.RoleNT = DefaultRoleNT
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// tei TEI сокета терминала или DynamicTEI
func (c SocketConfig) tei() int {
	if c.TEI == nil {
		return DynamicTEI
	}
	return *c.TEI
}
