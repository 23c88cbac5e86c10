package server

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/patrykstefanski/async-bench/internal/hello"
)

// serveConn runs the read/respond loop of one connection until the peer
// closes it or an operation fails.
func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)

	s.obs.ConnOpened()
	defer s.obs.ConnClosed()

	buf := make([]byte, hello.ReadBufferSize)
	timeout := s.cfg.Timeout

	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				s.connFailed(conn, "read", err)
				return
			}
		}

		if _, err := conn.Read(buf); err != nil {
			s.connFailed(conn, "read", err)
			return
		}

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				s.connFailed(conn, "write", err)
				return
			}
		}

		n, err := conn.Write(hello.Response)
		if err == nil && n != len(hello.Response) {
			err = hello.ErrShortWrite
		}
		if err != nil {
			s.connFailed(conn, "write", err)
			return
		}

		s.obs.RequestServed()
	}
}

// connFailed classifies and reports the error that ends a connection.
func (s *Server) connFailed(conn net.Conn, op string, err error) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())

	switch {
	case errors.Is(err, io.EOF):
		log.Debug("Connection closed by peer")
	case errors.Is(err, net.ErrClosed):
		log.Debug("Connection closed on shutdown")
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.obs.Timeout(op)
		if op == "read" {
			log.Warn("Read timeout")
		} else {
			log.Warn("Write timeout")
		}
	default:
		s.obs.IOError(op, err)
		if op == "read" {
			log.WithError(err).Warn("Reading failed")
		} else {
			log.WithError(err).Warn("Writing failed")
		}
	}
}
