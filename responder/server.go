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

// Package responder implements a DHCP server that only talks to
// relay agents. It keeps no leases: the client address is computed
// from the address of the relay that forwarded the request.
package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
	"github.com/metal-stack/relay-dhcpd/hooks"
	"github.com/metal-stack/relay-dhcpd/macfilter"
	"github.com/metal-stack/relay-dhcpd/pcap"
	"github.com/metal-stack/relay-dhcpd/policy"
)

const (
	portDHCP            = 67
	defaultPollInterval = 10 * time.Second
)

// LeaseOptions are the option values handed to every client.
type LeaseOptions struct {
	DNS         []dhcp4.Addr
	NTP         []dhcp4.Addr
	LeaseTime   time.Duration
	RebindTime  time.Duration
	RenewalTime time.Duration
}

// Credentials are the user and group the server runs as once its
// socket is bound. A negative ID is left unchanged.
type Credentials struct {
	UID int
	GID int
}

// A Server answers DHCP requests forwarded by relay agents.
type Server struct {
	// Address to listen on and to announce as server identifier,
	// or AutoAddress (or empty) to detect it.
	Address string
	// Port defaults to 67. Relays always send to 67, so only tests
	// should change it.
	Port int

	// Log receives logs on the server's operation. Must not be nil.
	Log *zap.SugaredLogger

	// Filter lists clients that never get a reply.
	Filter macfilter.List
	Policy policy.Policy
	Hooks  *hooks.Registry
	Lease  LeaseOptions

	// PollInterval bounds how long the loop waits for a datagram
	// before running the periodic hooks. Defaults to 10s.
	PollInterval time.Duration

	// Metrics, Capture and Credentials are optional.
	Metrics     *Metrics
	Capture     *pcap.Capture
	Credentials *Credentials
}

// Serve binds the socket, drops privileges and answers requests
// until ctx is cancelled. Errors during setup are returned before
// any request is served.
func (s *Server) Serve(ctx context.Context) error {
	if s.Port == 0 {
		s.Port = portDHCP
	}
	if s.Address == "" || s.Address == AutoAddress {
		a, err := DetectAddress()
		if err != nil {
			return fmt.Errorf("detecting listen address: %w", err)
		}
		s.Address = a.String()
	}

	s.Log.Infow("starting DHCP responder", "address", s.Address, "port", s.Port)
	conn, err := dhcp4.NewConn(fmt.Sprintf("%s:%d", s.Address, s.Port))
	if err != nil {
		return fmt.Errorf("binding %s:%d: %w", s.Address, s.Port, err)
	}

	if err := s.Credentials.Drop(); err != nil {
		conn.Close()
		return fmt.Errorf("dropping privileges: %w", err)
	}
	if s.Credentials != nil {
		s.Log.Infow("dropped privileges", "uid", s.Credentials.UID, "gid", s.Credentials.GID)
	}

	return s.ServeConn(ctx, conn)
}

// ServeConn runs the request loop on conn until ctx is cancelled or
// conn fails. It closes conn when it returns.
func (s *Server) ServeConn(ctx context.Context, conn *dhcp4.Conn) error {
	if s.Address == "" || s.Address == AutoAddress {
		s.Address = conn.LocalAddr().IP.String()
	}
	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(interval)); err != nil {
			return stopped(ctx, err)
		}
		b, peer, err := conn.Recv()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				s.Hooks.Tick()
				continue
			}
			return stopped(ctx, err)
		}
		s.record(peer, conn.LocalAddr(), b)

		reply := s.handle(b)
		if reply != nil {
			s.send(conn, reply, peer)
		}
		s.Hooks.Tick()
	}
}

// stopped maps errors caused by shutting down to nil.
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("receiving DHCP packet: %w", err)
}

func (s *Server) send(conn *dhcp4.Conn, reply *dhcp4.Packet, peer *net.UDPAddr) {
	b, err := reply.Marshal()
	if err != nil {
		s.Log.Errorw("failed to marshal reply", "mac", reply.MAC(), "error", err)
		s.Metrics.failure("marshal")
		return
	}
	if err := conn.Send(b, peer); err != nil {
		s.Log.Errorw("failed to send reply", "mac", reply.MAC(), "peer", peer, "error", err)
		s.Metrics.failure("send")
		return
	}
	s.record(conn.LocalAddr(), peer, b)
	s.Metrics.reply(reply.MessageType().String())
}

func (s *Server) record(src, dst *net.UDPAddr, b []byte) {
	if s.Capture == nil {
		return
	}
	err := s.Capture.Record(pcap.Datagram{Timestamp: time.Now(), Src: src, Dst: dst, Payload: b})
	if err != nil {
		s.Log.Warnw("failed to capture datagram", "error", err)
		s.Metrics.failure("capture")
	}
}
