package q931

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/q931/pkg/q931/ie"
	"github.com/arzzra/q931/pkg/q931/timer"
)

// Role роль интерфейса
type Role string

const (
	// RoleNT сторона сети
	RoleNT Role = "nt"
	// RoleTE сторона пользователя
	RoleTE Role = "te"
)

// InterfaceType тип доступа
type InterfaceType string

const (
	// BRA базовый доступ, 2 B-канала, ссылка вызова 1 октет
	BRA InterfaceType = "bra"
	// PRA первичный доступ E1, 30 B-каналов, ссылка вызова 2 октета
	PRA InterfaceType = "pra"
)

// Topology конфигурация звена данных
type Topology string

const (
	PointToPoint Topology = "point-to-point"
	Multipoint   Topology = "multipoint"
)

// RestartPolicy класс, с которым отправляется RESTART без явного списка каналов
type RestartPolicy string

const (
	RestartPolicyIndicated       RestartPolicy = "indicated"
	RestartPolicySingleInterface RestartPolicy = "single-interface"
)

// TimerID идентификатор таймера протокола
type TimerID string

const (
	// Таймеры согласно Q.931 / ETSI EN 300 403
	T301 TimerID = "T301" // ожидание ответа после ALERTING
	T302 TimerID = "T302" // прием цифр при перекрытом наборе (NT)
	T303 TimerID = "T303" // ответ на SETUP
	T304 TimerID = "T304" // ожидание после SETUP ACK
	T305 TimerID = "T305" // ответ на DISCONNECT
	T306 TimerID = "T306" // DISCONNECT с in-band информацией (NT)
	T307 TimerID = "T307" // хранение приостановленного вызова
	T308 TimerID = "T308" // ответ на RELEASE
	T309 TimerID = "T309" // восстановление звена данных
	T310 TimerID = "T310" // ожидание после CALL PROCEEDING
	T312 TimerID = "T312" // удержание ссылки после широковещательного SETUP (NT)
	T313 TimerID = "T313" // ответ на CONNECT (TE)
	T316 TimerID = "T316" // ответ на RESTART
	T317 TimerID = "T317" // освобождение каналов при рестарте
	T318 TimerID = "T318" // ответ на RESUME
	T319 TimerID = "T319" // ответ на SUSPEND
	T322 TimerID = "T322" // ответ на STATUS ENQUIRY
)

// Timers длительности таймеров интерфейса
type Timers map[TimerID]time.Duration

// DefaultTimers значения таймеров по умолчанию для роли
func DefaultTimers(role Role) Timers {
	if role == RoleNT {
		return Timers{
			T301: 180 * time.Second,
			T302: 12 * time.Second,
			T303: 4 * time.Second,
			T304: 20 * time.Second,
			T305: 30 * time.Second,
			T306: 30 * time.Second,
			T307: 180 * time.Second,
			T308: 4 * time.Second,
			T309: 90 * time.Second,
			T310: 35 * time.Second,
			T312: 6 * time.Second,
			T316: 120 * time.Second,
			T317: 60 * time.Second,
			T322: 4 * time.Second,
		}
	}

	return Timers{
		T301: 180 * time.Second,
		T302: 15 * time.Second,
		T303: 4 * time.Second,
		T304: 30 * time.Second,
		T305: 30 * time.Second,
		T307: 180 * time.Second,
		T308: 4 * time.Second,
		T309: 90 * time.Second,
		T310: 45 * time.Second,
		T313: 4 * time.Second,
		T316: 120 * time.Second,
		T317: 60 * time.Second,
		T318: 4 * time.Second,
		T319: 4 * time.Second,
		T322: 4 * time.Second,
	}
}

// Duration возвращает длительность таймера
func (t Timers) Duration(id TimerID) time.Duration {
	return t[id]
}

// InterfaceConfig конфигурация интерфейса, передаваемая при открытии
type InterfaceConfig struct {
	Name     string        `yaml:"name"`
	Role     Role          `yaml:"role"`
	Type     InterfaceType `yaml:"type"`
	Topology Topology      `yaml:"config"`

	// Timers переопределения таймеров; отсутствующие берутся из DefaultTimers
	Timers Timers `yaml:"timers"`

	// DLCAutorelease время до принудительного освобождения неиспользуемого
	// звена данных; 0 отключает автоосвобождение
	DLCAutorelease time.Duration `yaml:"dlc_autorelease"`

	RestartClass RestartPolicy `yaml:"restart_class"`

	// Tones включает управление тональными сигналами в полосе (NT)
	Tones bool `yaml:"tones"`

	// CallRefLen переопределяет длину ссылки вызова (1 или 2)
	CallRefLen int `yaml:"call_reference_len"`

	// TEI звена данных TE в конфигурации точка-точка
	TEI int `yaml:"tei"`

	// LeasedChannels каналы в аренде, не участвующие в вызовах и рестарте
	LeasedChannels []int `yaml:"leased_channels"`
}

// channelCount число B-каналов для типа интерфейса
func (t InterfaceType) channelCount() int {
	if t == PRA {
		return 30
	}
	return 2
}

func (t InterfaceType) ieType() ie.InterfaceType {
	if t == PRA {
		return ie.InterfacePrimary
	}
	return ie.InterfaceBasic
}

// normalize проверяет конфигурацию и заполняет значения по умолчанию
func (c InterfaceConfig) normalize() (InterfaceConfig, error) {
	if c.Name == "" {
		return c, fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}

	switch c.Role {
	case RoleNT, RoleTE:
	case "":
		c.Role = RoleTE
	default:
		return c, fmt.Errorf("%w: role %q", ErrInvalidConfig, c.Role)
	}

	switch c.Type {
	case BRA, PRA:
	case "":
		c.Type = BRA
	default:
		return c, fmt.Errorf("%w: type %q", ErrInvalidConfig, c.Type)
	}

	switch c.Topology {
	case PointToPoint, Multipoint:
	case "":
		if c.Type == PRA {
			c.Topology = PointToPoint
		} else {
			c.Topology = Multipoint
		}
	default:
		return c, fmt.Errorf("%w: config %q", ErrInvalidConfig, c.Topology)
	}
	if c.Type == PRA && c.Topology == Multipoint {
		return c, fmt.Errorf("%w: PRA is always point-to-point", ErrInvalidConfig)
	}

	switch c.RestartClass {
	case RestartPolicyIndicated, RestartPolicySingleInterface:
	case "":
		c.RestartClass = RestartPolicySingleInterface
	default:
		return c, fmt.Errorf("%w: restart_class %q", ErrInvalidConfig, c.RestartClass)
	}

	switch c.CallRefLen {
	case 0:
		if c.Type == PRA {
			c.CallRefLen = 2
		} else {
			c.CallRefLen = 1
		}
	case 1, 2:
	default:
		return c, fmt.Errorf("%w: call_reference_len %d", ErrInvalidConfig, c.CallRefLen)
	}

	if c.DLCAutorelease < 0 {
		return c, fmt.Errorf("%w: negative dlc_autorelease", ErrInvalidConfig)
	}

	timers := DefaultTimers(c.Role)
	for id, d := range c.Timers {
		if _, known := timers[id]; !known {
			return c, fmt.Errorf("%w: unknown timer %s for role %s", ErrInvalidConfig, id, c.Role)
		}
		if d <= 0 {
			return c, fmt.Errorf("%w: timer %s must be positive", ErrInvalidConfig, id)
		}
		timers[id] = d
	}
	c.Timers = timers

	for _, ch := range c.LeasedChannels {
		if ch < 0 || ch >= c.Type.channelCount() {
			return c, fmt.Errorf("%w: leased channel %d out of range", ErrInvalidConfig, ch)
		}
	}

	return c, nil
}

// Option функциональная опция движка
type Option func(*Engine)

// WithLogger задает логгер движка
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// WithClock задает часы таймеров (ManualClock в тестах)
func WithClock(clock timer.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRegisterer задает реестр метрик Prometheus
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}
