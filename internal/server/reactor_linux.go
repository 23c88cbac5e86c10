//go:build linux

package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/patrykstefanski/async-bench/internal/hello"
)

const maxEvents = 64

// reactor owns one worker per configured proc. Every worker has its own
// SO_REUSEPORT listening socket and its own epoll instance, so workers never
// share state.
type reactor struct {
	addr    *net.TCPAddr
	workers []*reactorWorker
}

type reactorConn struct {
	fd int

	// reading is true while the connection waits for a request and false
	// while a response is pending.
	reading bool
}

type reactorWorker struct {
	id    int
	epfd  int
	lfd   int
	conns map[int]*reactorConn
	buf   []byte
	log   logrus.FieldLogger
	obs   Observer

	// wakeMu guards wakefd, which is written from the shutdown goroutine.
	wakeMu sync.Mutex
	wakefd int
}

func newReactor(cfg Config, log logrus.FieldLogger, obs Observer) (eventLoop, error) {
	n := cfg.Procs
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	var ip [4]byte
	copy(ip[:], net.ParseIP(cfg.Host).To4())

	r := &reactor{}
	port := cfg.Port
	for i := 0; i < n; i++ {
		lfd, bound, err := openListeningSocket(ip, port)
		if err != nil {
			r.closeAll()
			return nil, err
		}
		port = bound

		w, err := newReactorWorker(i, lfd, log, obs)
		if err != nil {
			unix.Close(lfd)
			r.closeAll()
			return nil, err
		}
		r.workers = append(r.workers, w)
	}

	r.addr = &net.TCPAddr{IP: net.IP(ip[:]), Port: port}
	return r, nil
}

func (r *reactor) Addr() net.Addr {
	return r.addr
}

// Run drives all workers until ctx is cancelled or one of them fails.
func (r *reactor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		w := w
		g.Go(func() error {
			return w.run()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, w := range r.workers {
			w.wake()
		}
		return nil
	})
	return g.Wait()
}

func (r *reactor) closeAll() {
	for _, w := range r.workers {
		w.close()
	}
}

// openListeningSocket creates a non-blocking IPv4 listening socket bound with
// SO_REUSEADDR and SO_REUSEPORT. It returns the fd and the bound port.
func openListeningSocket(ip [4]byte, port int) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("opening server socket failed: %w", err)
	}

	fail := func(what string, err error) (int, int, error) {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("%s: %w", what, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setting SO_REUSEADDR failed", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fail("setting SO_REUSEPORT failed", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: ip}); err != nil {
		return fail("binding server socket failed", err)
	}
	if err := unix.Listen(fd, hello.ListenBacklog); err != nil {
		return fail("listening failed", err)
	}

	if port == 0 {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			return fail("getsockname failed", err)
		}
		in4, ok := sa.(*unix.SockaddrInet4)
		if !ok {
			return fail("getsockname failed", errors.New("not an IPv4 socket"))
		}
		port = in4.Port
	}

	return fd, port, nil
}

func newReactorWorker(id, lfd int, log logrus.FieldLogger, obs Observer) (*reactorWorker, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating epoll instance failed: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("creating eventfd failed: %w", err)
	}

	w := &reactorWorker{
		id:     id,
		epfd:   epfd,
		lfd:    lfd,
		wakefd: wakefd,
		conns:  make(map[int]*reactorConn),
		buf:    make([]byte, hello.ReadBufferSize),
		log:    log.WithField("worker", id),
		obs:    obs,
	}

	if err := w.add(lfd, unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLET); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("adding server fd to epoll failed: %w", err)
	}
	if err := w.add(wakefd, unix.EPOLLIN); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("adding eventfd to epoll failed: %w", err)
	}

	return w, nil
}

func (w *reactorWorker) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// wake interrupts a blocked EpollWait so run can observe shutdown.
func (w *reactorWorker) wake() {
	w.wakeMu.Lock()
	defer w.wakeMu.Unlock()

	if w.wakefd < 0 {
		return
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	unix.Write(w.wakefd, one[:])
}

func (w *reactorWorker) run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.close()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(w.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait() failed: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			fd := int(ev.Fd)

			switch fd {
			case w.wakefd:
				return nil
			case w.lfd:
				if err := w.accept(); err != nil {
					return err
				}
			default:
				c, ok := w.conns[fd]
				if !ok {
					continue
				}
				if ev.Events&(unix.EPOLLRDHUP|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
					w.drop(c)
					continue
				}
				w.handle(c)
			}
		}
	}
}

// accept drains the accept queue; the listener is edge-triggered.
func (w *reactorWorker) accept() error {
	for {
		nfd, _, err := unix.Accept4(w.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return nil
			case unix.EINTR, unix.ECONNABORTED:
				continue
			case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
				w.log.WithError(err).Warn("Accepting connection failed")
				return nil
			}
			return fmt.Errorf("accepting connection failed: %w", err)
		}

		if err := w.add(nfd, unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLRDHUP|unix.EPOLLET); err != nil {
			unix.Close(nfd)
			return fmt.Errorf("adding client fd to epoll failed: %w", err)
		}

		w.conns[nfd] = &reactorConn{fd: nfd, reading: true}
		w.obs.ConnOpened()
	}
}

// handle advances the connection state machine until the socket would block.
func (w *reactorWorker) handle(c *reactorConn) {
	for {
		if c.reading {
			n, err := unix.Read(c.fd, w.buf)
			if err != nil {
				if err == unix.EAGAIN {
					return
				}
				if err == unix.EINTR {
					continue
				}
				w.obs.IOError("read", err)
				w.log.WithError(err).Warn("Reading failed")
				w.drop(c)
				return
			}
			if n == 0 {
				w.drop(c)
				return
			}
			c.reading = false
		}

		n, err := unix.Write(c.fd, hello.Response)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			w.obs.IOError("write", err)
			w.log.WithError(err).Warn("Writing failed")
			w.drop(c)
			return
		}
		if n != len(hello.Response) {
			w.obs.IOError("write", hello.ErrShortWrite)
			w.log.WithField("written", n).Warn("Writing failed: short write")
			w.drop(c)
			return
		}

		w.obs.RequestServed()
		c.reading = true
	}
}

func (w *reactorWorker) drop(c *reactorConn) {
	delete(w.conns, c.fd)
	unix.Close(c.fd)
	w.obs.ConnClosed()
}

func (w *reactorWorker) close() {
	for _, c := range w.conns {
		w.drop(c)
	}
	if w.lfd >= 0 {
		unix.Close(w.lfd)
		w.lfd = -1
	}
	w.wakeMu.Lock()
	if w.wakefd >= 0 {
		unix.Close(w.wakefd)
		w.wakefd = -1
	}
	w.wakeMu.Unlock()
	if w.epfd >= 0 {
		unix.Close(w.epfd)
		w.epfd = -1
	}
}
