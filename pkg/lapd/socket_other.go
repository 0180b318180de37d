//go:build !linux

package lapd

import "errors"

var errNoSocket = errors.New("lapd: socket: LAPD sockets require Linux")

// Socket на других платформах не открывается
type Socket struct {
	Link
}

// OpenSocket всегда возвращает ошибку вне Linux
func OpenSocket(cfg SocketConfig) (*Socket, error) {
	return nil, errNoSocket
}

// Network сообщает, что интерфейс работает в роли NT
func (s *Socket) Network() bool { return false }
