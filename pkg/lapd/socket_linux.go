//go:build linux

package lapd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	socketPollTimeout = 200 * time.Millisecond
	maxFrameSize      = 512
)

// Socket звено поверх сокета LAPD ядра Linux.
//
// В роли NT главный сокет слушает входящие звенья терминалов, каждое
// принятое звено получает свой сокет, а широковещательные кадры
// передаются через главный сокет. В роли TE главный сокет и есть
// единственное звено.
type Socket struct {
	cfg     SocketConfig
	log     *slog.Logger
	network bool
	master  int

	mu          sync.Mutex
	dlcs        map[int]int
	established map[int]bool
	connecting  map[int]bool
	handler     Handler
	closed      bool

	stop chan struct{}
	done chan struct{}
}

// OpenSocket открывает главный сокет, привязывает его к устройству и
// определяет роль интерфейса
func OpenSocket(cfg SocketConfig) (*Socket, error) {
	if cfg.Device == "" {
		return nil, errors.New("lapd: device name required")
	}
	cfg = cfg.withDefaults()

	fd, err := unix.Socket(cfg.Family, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("lapd: socket: %w", err)
	}

	s := &Socket{
		cfg:         cfg,
		log:         cfg.Logger.With(slog.String("component", "lapd"), slog.String("device", cfg.Device)),
		master:      fd,
		dlcs:        make(map[int]int),
		established: make(map[int]bool),
		connecting:  make(map[int]bool),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if err := s.setup(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

func (s *Socket) setup() error {
	if s.cfg.Debug {
		if err := unix.SetsockoptInt(s.master, unix.SOL_SOCKET, unix.SO_DEBUG, 1); err != nil {
			s.log.Warn("SO_DEBUG not available", "error", err)
		}
	}

	// ядро ожидает имя вместе с завершающим нулем
	if err := unix.SetsockoptString(s.master, s.cfg.Level, unix.SO_BINDTODEVICE, s.cfg.Device+"\x00"); err != nil {
		return fmt.Errorf("lapd: bind to %s: %w", s.cfg.Device, err)
	}

	role, err := unix.GetsockoptInt(s.master, s.cfg.Level, s.cfg.OptRole)
	if err != nil {
		return fmt.Errorf("lapd: get role: %w", err)
	}
	s.network = role == s.cfg.RoleNT

	if err := unix.SetNonblock(s.master, true); err != nil {
		return fmt.Errorf("lapd: set nonblock: %w", err)
	}

	if s.network {
		if err := unix.Listen(s.master, 10); err != nil {
			return fmt.Errorf("lapd: listen: %w", err)
		}
		return nil
	}

	if s.cfg.tei() != DynamicTEI {
		if err := s.bindTEI(s.cfg.tei()); err != nil {
			return err
		}
	}
	s.dlcs[s.cfg.tei()] = s.master
	return nil
}

// bindTEI закрепляет за сокетом терминала статический TEI
func (s *Socket) bindTEI(tei int) error {
	// struct sockaddr_lapd { sa_family_t sal_family; u8 sal_tei; }
	var sa [16]byte
	binary.NativeEndian.PutUint16(sa[:], uint16(s.cfg.Family))
	sa[2] = byte(tei)

	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(s.master), uintptr(unsafe.Pointer(&sa[0])), uintptr(len(sa)))
	if errno != 0 {
		return fmt.Errorf("lapd: bind TEI %d: %w", tei, errno)
	}
	return nil
}

// Network сообщает, что интерфейс работает в роли NT
func (s *Socket) Network() bool { return s.network }

func (s *Socket) Start(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.handler != nil {
		return errors.New("lapd: socket already started")
	}
	s.handler = h
	go s.loop()
	return nil
}

func (s *Socket) Establish(tei int) error {
	fd, key, err := s.fd(tei)
	if err != nil {
		return err
	}

	// connect(fd, NULL, 0) запускает установление звена
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd), 0, 0)
	switch errno {
	case 0, unix.EISCONN:
		s.setEstablished(key, true)
		s.deliver(Event{Kind: EstablishConfirm, TEI: key})
		return nil
	case unix.EINPROGRESS, unix.EALREADY:
		// подтверждение придет как готовность сокета к записи
		s.mu.Lock()
		s.connecting[key] = true
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("lapd: connect TEI %d: %w", tei, errno)
}

func (s *Socket) Release(tei int) error {
	fd, key, err := s.fd(tei)
	if err != nil {
		return err
	}
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("lapd: shutdown TEI %d: %w", tei, err)
	}

	if s.network {
		s.forget(key)
		unix.Close(fd)
	} else {
		s.setEstablished(key, false)
	}
	s.deliver(Event{Kind: ReleaseConfirm, TEI: key})
	return nil
}

func (s *Socket) Send(tei int, frame []byte) error {
	fd, _, err := s.fd(tei)
	if err != nil {
		return err
	}
	if _, err := unix.Write(fd, frame); err != nil {
		return fmt.Errorf("lapd: send TEI %d: %w", tei, err)
	}
	return nil
}

func (s *Socket) SendBroadcast(frame []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.network {
		return fmt.Errorf("lapd: broadcast from TE: %w", ErrUnknownTEI)
	}
	if _, err := unix.Write(s.master, frame); err != nil {
		return fmt.Errorf("lapd: broadcast: %w", err)
	}
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.handler != nil
	s.handler = nil
	s.mu.Unlock()

	if started {
		close(s.stop)
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for tei, fd := range s.dlcs {
		if fd != s.master {
			unix.Shutdown(fd, unix.SHUT_RDWR)
			unix.Close(fd)
		}
		delete(s.dlcs, tei)
	}
	return unix.Close(s.master)
}

// fd сокет звена TEI. Терминал имеет единственное звено, поэтому для
// него TEI заменяется собственным.
func (s *Socket) fd(tei int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1, tei, ErrClosed
	}
	if !s.network {
		return s.master, s.cfg.tei(), nil
	}
	fd, ok := s.dlcs[tei]
	if !ok {
		return -1, tei, ErrUnknownTEI
	}
	return fd, tei, nil
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Socket) setEstablished(tei int, up bool) {
	s.mu.Lock()
	s.established[tei] = up
	s.mu.Unlock()
}

func (s *Socket) forget(tei int) {
	s.mu.Lock()
	delete(s.dlcs, tei)
	delete(s.established, tei)
	delete(s.connecting, tei)
	s.mu.Unlock()
}

func (s *Socket) deliver(ev Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// loop ждет готовности всех сокетов интерфейса и превращает ее в события
func (s *Socket) loop() {
	defer close(s.done)

	buf := make([]byte, maxFrameSize)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		fds, teis := s.pollSet()
		n, err := unix.Poll(fds, int(socketPollTimeout/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.log.Error("poll failed", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		for k, p := range fds {
			if p.Revents == 0 {
				continue
			}
			if s.network && p.Fd == int32(s.master) {
				s.readMaster()
				continue
			}
			s.readDLC(teis[k], int(p.Fd), p.Revents, buf)
		}
	}
}

func (s *Socket) pollSet() ([]unix.PollFd, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fds := make([]unix.PollFd, 0, len(s.dlcs)+1)
	teis := make([]int, 0, len(s.dlcs)+1)
	if s.network {
		fds = append(fds, unix.PollFd{Fd: int32(s.master), Events: unix.POLLIN})
		teis = append(teis, BroadcastTEI)
	}
	for tei, fd := range s.dlcs {
		events := int16(unix.POLLIN)
		if s.connecting[tei] {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		teis = append(teis, tei)
	}
	return fds, teis
}

// readMaster принимает новое звено терминала
func (s *Socket) readMaster() {
	r, _, errno := unix.Syscall6(unix.SYS_ACCEPT4, uintptr(s.master), 0, 0, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0, 0)
	if errno != 0 {
		if errno != unix.EAGAIN {
			s.log.Warn("accept failed", "error", errno)
		}
		return
	}
	fd := int(r)

	tei, err := unix.GetsockoptInt(fd, s.cfg.Level, s.cfg.OptTEI)
	if err != nil {
		s.log.Warn("failed to read TEI of accepted link", "error", err)
		unix.Close(fd)
		return
	}

	s.mu.Lock()
	if old, ok := s.dlcs[tei]; ok {
		unix.Close(old)
	}
	s.dlcs[tei] = fd
	s.established[tei] = true
	s.mu.Unlock()

	s.log.Debug("accepted data link", "tei", tei)
	s.deliver(Event{Kind: EstablishIndication, TEI: tei})
}

func (s *Socket) readDLC(tei, fd int, revents int16, buf []byte) {
	s.mu.Lock()
	up := s.established[tei]
	connecting := s.connecting[tei]
	if revents&unix.POLLOUT != 0 {
		delete(s.connecting, tei)
	}
	s.mu.Unlock()

	if revents&unix.POLLOUT != 0 && connecting {
		soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err == nil && soerr == 0 {
			s.setEstablished(tei, true)
			s.deliver(Event{Kind: EstablishConfirm, TEI: tei})
			up = true
		} else {
			if err == nil {
				err = unix.Errno(soerr)
			}
			s.deliver(Event{Kind: ReleaseIndication, TEI: tei, Err: err})
			return
		}
	}
	if revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
		return
	}

	n, err := unix.Read(fd, buf)
	switch {
	case err == nil && n > 0:
		kind := DataIndication
		if !up {
			kind = UnitDataIndication
		}
		s.deliver(Event{Kind: kind, TEI: tei, Frame: append([]byte(nil), buf[:n]...)})

	case errors.Is(err, unix.EAGAIN):

	default:
		if !up && !s.network {
			// сокет терминала без звена постоянно сообщает HUP
			time.Sleep(socketPollTimeout)
			return
		}
		if err == nil {
			err = unix.ECONNRESET
		}
		s.log.Debug("data link released by peer", "tei", tei, "error", err)
		if s.network {
			s.forget(tei)
			unix.Close(fd)
		} else {
			s.setEstablished(tei, false)
		}
		s.deliver(Event{Kind: ReleaseIndication, TEI: tei, Err: err})
	}
}
