/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package sockops wraps the non-blocking TCP socket syscalls the reactor
// runtime needs, on top of golang.org/x/sys/unix. It is POSIX-only, the same
// constraint ioutils/fileDescriptor carries.
package sockops

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// CreateNonblocking returns a non-blocking TCP socket for the given address family.
func CreateNonblocking(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, ErrorSocketCreate.Error(err)
	}
	return fd, nil
}

// SetReuseAddr sets SO_REUSEADDR.
func SetReuseAddr(fd int, on bool) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on)); err != nil {
		return ErrorSocketOption.Error(err)
	}
	return nil
}

// SetReusePort sets SO_REUSEPORT.
func SetReusePort(fd int, on bool) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on)); err != nil {
		return ErrorSocketOption.Error(err)
	}
	return nil
}

// SetTCPNoDelay sets or clears Nagle's algorithm.
func SetTCPNoDelay(fd int, on bool) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on)); err != nil {
		return ErrorSocketOption.Error(err)
	}
	return nil
}

// SetKeepAlive enables SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on)); err != nil {
		return ErrorSocketOption.Error(err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ResolveTCPAddr parses a host:port string into a sockaddr usable with Bind/Connect.
func ResolveTCPAddr(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, ErrorInvalidAddress.Error(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, ErrorInvalidAddress.Error(err)
	}

	if host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, 0, ErrorInvalidAddress.Error(fmt.Errorf("cannot resolve host %q", host))
		}
		ip = ips[0]
	}

	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET, nil
	}

	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], ip.To16())
	return &sa, unix.AF_INET6, nil
}

// BindAndListen binds fd to addr and starts listening with the given backlog.
func BindAndListen(fd int, sa unix.Sockaddr, backlog int) error {
	if err := unix.Bind(fd, sa); err != nil {
		return ErrorSocketBind.Error(err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return ErrorSocketListen.Error(err)
	}
	return nil
}

// Accept accepts one pending connection, returning the new non-blocking fd
// and the peer's address in "ip:port" form.
func Accept(listenFd int) (int, string, error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	return nfd, sockaddrToString(sa), nil
}

func sockaddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))
	default:
		return ""
	}
}

// LocalAddr returns the local address bound to fd.
func LocalAddr(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", err
	}
	return sockaddrToString(sa), nil
}

// PeerAddr returns the remote address connected to fd.
func PeerAddr(fd int) (string, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", err
	}
	return sockaddrToString(sa), nil
}

// Write writes p to fd, returning the number of bytes actually written. A
// non-blocking fd with a full send buffer returns (-1, unix.EAGAIN).
func Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

// ShutdownWrite half-closes the write side of fd.
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// Close closes fd and returns the error from close(2) unchanged, EINTR and
// EBADF included.
func Close(fd int) error {
	return unix.Close(fd)
}

// SocketError returns and clears the pending SO_ERROR on fd.
func SocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}
