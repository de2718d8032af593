package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// listenBacklog is the accept queue depth for listening sockets.
const listenBacklog = 128

// splitEndpoint parses a "host:port" endpoint key.
func splitEndpoint(key string) (host string, port int, err error) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("invalid endpoint %q", key)
	}
	port, err = strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint port in %q", key)
	}
	return key[:i], port, nil
}

// setupListener opens a non-blocking listening socket for an endpoint and
// returns its fd.
func setupListener(endpoint string) (int, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return -1, err
	}

	var addr [4]byte
	if host != "" && host != "0.0.0.0" && host != "*" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return -1, fmt.Errorf("invalid listen address %q", host)
		}
		copy(addr[:], ip.To4())
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket for %s: %w", endpoint, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt for %s: %w", endpoint, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", endpoint, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", endpoint, err)
	}
	return fd, nil
}

// sockaddrString renders an accepted peer address for logging.
func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3], sa.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%v]:%d", net.IP(sa.Addr[:]), sa.Port)
	}
	return "unknown"
}
