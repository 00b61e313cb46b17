package socket

import "errors"

var (
	// ErrNoRoute is returned by SendDirect when the target identity has no
	// registered pipe.
	ErrNoRoute = errors.New("nitro: no route to identity")
	// ErrBadAddress is returned by Bind/Connect for an unrecognized scheme.
	ErrBadAddress = errors.New("nitro: bad address")
	// ErrClosed is returned when a pipe tries to register on a closed
	// socket, which aborts that pipe.
	ErrClosed = errors.New("nitro: socket closed")
	// ErrNoPipes is returned by SendFair when no pipe is registered.
	ErrNoPipes = errors.New("nitro: no registered pipes")
)
