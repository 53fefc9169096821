/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const dialRecheckInterval = time.Millisecond * 10

// GetLocalFreeTCPPort returns a TCP port on 127.0.0.1 that nobody is listening on.
func GetLocalFreeTCPPort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		panic(err)
	}
	return port
}

// GetLocalAddrWithFreeTCPPort returns a 127.0.0.1:<free-tcp-port> address.
func GetLocalAddrWithFreeTCPPort() string {
	return fmt.Sprintf("127.0.0.1:%d", GetLocalFreeTCPPort())
}

// WaitListeningServer waits until a server accepts TCP connections on the passed address.
func WaitListeningServer(addr string, timeout time.Duration) error {
	return waitListeningServer("tcp", addr, timeout)
}

// WaitPortAndListeningServer waits until getPort reports the listening port
// (it may be chosen dynamically) and the server accepts TCP connections on it.
func WaitPortAndListeningServer(host string, getPort func() int, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if port := getPort(); port > 0 {
			return port, waitListeningServer("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
		}
		select {
		case <-timer.C:
			return 0, errors.New("waiting for listening port timed out")
		default:
			time.Sleep(dialRecheckInterval)
		}
	}
}

func waitListeningServer(network string, addr string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if conn, err := net.DialTimeout(network, addr, time.Second); err == nil {
			return conn.Close()
		}
		select {
		case <-timer.C:
			return errors.New("waiting listening server timed out")
		default:
			time.Sleep(dialRecheckInterval)
		}
	}
}
