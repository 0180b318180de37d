package q931

import (
	"errors"
	"fmt"

	"github.com/arzzra/q931/pkg/q931/ie"
)

// Предопределенные ошибки
var (
	// Ошибки интерфейсов
	ErrUnknownInterface = errors.New("q931: unknown interface")
	ErrInterfaceExists  = errors.New("q931: interface already open")
	ErrInvalidConfig    = errors.New("q931: invalid interface configuration")
	ErrEngineClosed     = errors.New("q931: engine closed")
	ErrLinkDown         = errors.New("q931: data link down")

	// Ошибки вызовов
	ErrStaleCall              = errors.New("q931: call no longer exists")
	ErrCallReferenceExhausted = errors.New("q931: call reference space exhausted")
	ErrNoChannelAvailable     = errors.New("q931: no circuit/channel available")
	ErrInvalidState           = errors.New("q931: request not valid in current state")
	ErrRestartInProgress      = errors.New("q931: restart procedure already in progress")
)

// ProtocolError ошибка протокола с причиной Q.931
type ProtocolError struct {
	Cause ie.CauseValue
	Op    string
	Err   error
}

// NewProtocolError создает ошибку протокола
func NewProtocolError(op string, cause ie.CauseValue, err error) *ProtocolError {
	return &ProtocolError{Op: op, Cause: cause, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("q931 %s: cause #%d (%s): %v", e.Op, e.Cause, e.Cause, e.Err)
	}
	return fmt.Sprintf("q931 %s: cause #%d (%s)", e.Op, e.Cause, e.Cause)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// CauseOf извлекает причину Q.931 из цепочки ошибок
func CauseOf(err error) (ie.CauseValue, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Cause, true
	}
	var de *ie.DecodeError
	if errors.As(err, &de) {
		return de.Cause, true
	}
	switch {
	case errors.Is(err, ErrNoChannelAvailable):
		return ie.CauseNoCircuitChannelAvailable, true
	case errors.Is(err, ErrLinkDown):
		return ie.CauseTemporaryFailure, true
	case errors.Is(err, ErrCallReferenceExhausted):
		return ie.CauseResourcesUnavailable, true
	}
	return 0, false
}

// IsStale проверяет, относится ли ошибка к уже освобожденному вызову
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleCall)
}

// contract фиксирует нарушение внутреннего контракта движка
func contract(format string, args ...interface{}) {
	panic(fmt.Sprintf("q931: contract violation: "+format, args...))
}
