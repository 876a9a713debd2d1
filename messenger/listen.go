package messenger

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig sets SO_REUSEADDR on the socket before bind, so a v4 and a v6
// listener can share a port and a restarted process can rebind immediately
// without waiting out TIME_WAIT. Mirrors the intent of teacher's reuseport
// submodule, reimplemented directly against golang.org/x/sys/unix since that
// submodule ships no portable helper of its own.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// listenUDPReuse binds network/address with SO_REUSEADDR applied.
func listenUDPReuse(network, address string) (*net.UDPConn, error) {
	pc, err := listenConfig.ListenPacket(context.Background(), network, address)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
