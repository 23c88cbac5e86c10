// Package hello holds the wire constants shared by the hello servers and the
// load generators.
package hello

import (
	"bytes"
	"errors"
	"time"
)

// Response is the static reply written for every read. The body is 12 bytes
// and the header block uses bare LF line endings.
var Response = []byte("HTTP/1.1 200 OK\nContent-Length: 12\n\nHello world!")

// Request is the payload the load generators send.
var Request = []byte("Hello!!!")

const (
	// ReadBufferSize is the per-connection read buffer of the servers.
	ReadBufferSize = 1024

	// DefaultTimeout bounds every read and write in the timeout variants.
	DefaultTimeout = 5 * time.Second

	// ListenBacklog is the accept queue length of raw listening sockets.
	ListenBacklog = 1024
)

// ErrShortWrite is returned when fewer bytes than len(Response) were written.
var ErrShortWrite = errors.New("short write")

// IsResponse reports whether b is exactly the hello response.
func IsResponse(b []byte) bool {
	return bytes.Equal(b, Response)
}
