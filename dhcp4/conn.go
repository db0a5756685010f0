// Copyright 2016 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dhcp4

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// tosCS6 is the DSCP class replies are sent with (network control).
const tosCS6 = 0xc0

// maxDatagram is large enough for any DHCP message on an Ethernet
// link.
const maxDatagram = 1500

// Conn is a UDP socket that speaks to DHCP relay agents. Relays
// always address the server by unicast, so unlike a server facing
// clients directly, no raw sockets or broadcast tricks are needed.
//
// Conn is not safe for concurrent reads, but Close may be called
// from any goroutine to unblock a pending Recv.
type Conn struct {
	conn *ipv4.PacketConn
	buf  [maxDatagram]byte
}

// NewConn creates a Conn bound to the given UDP ip:port.
func NewConn(addr string) (*Conn, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	c, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, err
	}
	ret, err := NewConnFrom(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	return ret, nil
}

// NewConnFrom wraps an already bound packet socket.
func NewConnFrom(c net.PacketConn) (*Conn, error) {
	l := ipv4.NewPacketConn(c)
	// Not every platform lets an unprivileged socket set the TOS
	// byte. Replies still work without it.
	_ = l.SetTOS(tosCS6)
	return &Conn{conn: l}, nil
}

// Close closes the socket. A blocked Recv returns an error.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the address the socket is bound to.
func (c *Conn) LocalAddr() *net.UDPAddr {
	a, _ := c.conn.LocalAddr().(*net.UDPAddr)
	return a
}

// Recv reads one datagram. The returned slice aliases an internal
// buffer and is only valid until the next call to Recv.
func (c *Conn) Recv() ([]byte, *net.UDPAddr, error) {
	n, _, a, err := c.conn.ReadFrom(c.buf[:])
	if err != nil {
		return nil, nil, err
	}
	udp, ok := a.(*net.UDPAddr)
	if !ok {
		return nil, nil, fmt.Errorf("datagram from non-UDP peer %s", a)
	}
	return c.buf[:n], udp, nil
}

// Send writes b to addr.
func (c *Conn) Send(b []byte, addr *net.UDPAddr) error {
	_, err := c.conn.WriteTo(b, nil, addr)
	return err
}

// SetReadDeadline sets the deadline for future Recv calls. If the
// deadline is reached, Recv fails with a timeout (see net.Error)
// instead of blocking. A zero value for t means Recv will not time
// out.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
