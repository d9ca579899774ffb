package listeners

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/containerd/log"
	"github.com/coreos/go-systemd/v22/activation"
	"github.com/docker/go-connections/sockets"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

// FDPrefix marks an address naming listeners passed in by systemd socket
// activation: "fd://" for all of them, "fd://3" for a single one.
const FDPrefix = "fd://"

// BindError is returned when the server cannot listen on its address.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return "failed to bind " + e.Addr + ": " + e.Err.Error()
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Init creates the listeners for addr, which is either a TCP host:port or a
// socket activation address. When maxConns is positive, each listener
// accepts at most maxConns simultaneous connections.
func Init(ctx context.Context, addr string, maxConns int) ([]net.Listener, error) {
	var ls []net.Listener
	if fd, ok := strings.CutPrefix(addr, FDPrefix); ok {
		fds, err := listenFD(fd)
		if err != nil {
			return nil, &BindError{Addr: addr, Err: err}
		}
		ls = append(ls, fds...)
	} else {
		l, err := sockets.NewTCPSocket(addr, nil)
		if err != nil {
			return nil, &BindError{Addr: addr, Err: err}
		}
		ls = append(ls, l)
	}

	if maxConns > 0 {
		for i, l := range ls {
			ls[i] = netutil.LimitListener(l, maxConns)
		}
	}
	for _, l := range ls {
		log.G(ctx).WithField("addr", l.Addr().String()).Debug("listener created")
	}
	return ls, nil
}

// listenFD returns the specified socket activated files as a slice of
// net.Listeners or all of the activated files if "*" is given.
func listenFD(addr string) ([]net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, err
	}

	if len(listeners) == 0 {
		return nil, errors.New("no sockets found via socket activation: make sure the service was started by systemd")
	}

	// default to all fds just like tcp://
	if addr == "" || addr == "*" {
		var ls []net.Listener
		for _, l := range listeners {
			if l != nil {
				ls = append(ls, l)
			}
		}
		if len(ls) == 0 {
			return nil, errors.New("no listening sockets found via socket activation")
		}
		return ls, nil
	}

	fdNum, err := strconv.Atoi(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse systemd fd address: should be a number: %v", addr)
	}
	fdOffset := fdNum - 3
	if fdOffset < 0 || len(listeners) < fdOffset+1 {
		return nil, errors.New("too few socket activated files passed in by systemd")
	}
	if listeners[fdOffset] == nil {
		return nil, fmt.Errorf("failed to listen on systemd activated file: fd %d", fdOffset+3)
	}
	for i, ls := range listeners {
		if i == fdOffset || ls == nil {
			continue
		}
		if err := ls.Close(); err != nil {
			return nil, fmt.Errorf("failed to close systemd activated file: fd %d: %v", fdOffset+3, err)
		}
	}
	return []net.Listener{listeners[fdOffset]}, nil
}
