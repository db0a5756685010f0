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

package responder

import (
	"errors"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
	"github.com/metal-stack/relay-dhcpd/hooks"
	"github.com/metal-stack/relay-dhcpd/macfilter"
	"github.com/metal-stack/relay-dhcpd/policy"
)

var addr = dhcp4.MustParseAddr

func testServer(t *testing.T) *Server {
	t.Helper()
	filter, err := macfilter.ParseList([]string{"b0:0b:00:00:00:00/24"})
	require.NoError(t, err)
	return &Server{
		Address: "192.0.2.1",
		Log:     zaptest.NewLogger(t).Sugar(),
		Filter:  filter,
		Policy:  policy.Policy{PointToPoint: true},
		Hooks:   hooks.NewRegistry(),
		Lease: LeaseOptions{
			DNS:         []dhcp4.Addr{addr("192.0.2.53"), addr("192.0.2.54")},
			NTP:         []dhcp4.Addr{addr("192.0.2.123")},
			LeaseTime:   24 * time.Hour,
			RebindTime:  37800 * time.Second,
			RenewalTime: 8 * time.Hour,
		},
		Metrics: NewMetrics(prometheus.NewRegistry()),
	}
}

func request(typ dhcp4.MessageType, opts ...dhcp4.Option) *dhcp4.Packet {
	return &dhcp4.Packet{
		Op:           dhcp4.OpRequest,
		HType:        1,
		HLen:         6,
		Hops:         1,
		XID:          0x1234,
		Flags:        0,
		GIAddr:       addr("10.0.0.5"),
		HardwareAddr: [6]byte{0xaa, 0xbb, 0xcc, 0, 0, 1},
		Cookie:       dhcp4.MagicCookie,
		Options:      append(dhcp4.Options{dhcp4.MessageTypeOf(typ)}, opts...),
	}
}

func handle(t *testing.T, s *Server, pkt *dhcp4.Packet) *dhcp4.Packet {
	t.Helper()
	b, err := pkt.Marshal()
	require.NoError(t, err)
	reply, err := s.Handle(b)
	require.NoError(t, err)
	return reply
}

func sortedTags(opts dhcp4.Options) []dhcp4.Tag {
	tags := opts.Tags()
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func TestDiscoverWithParameterRequestList(t *testing.T) {
	s := testServer(t)
	reply := handle(t, s, request(dhcp4.MsgDiscover,
		dhcp4.ParameterRequestList(dhcp4.OptSubnetMask, dhcp4.OptRouter),
		dhcp4.RequestedIP(addr("10.9.9.9")),
		dhcp4.Hostname("node"),
		dhcp4.ClassIdentifier("PXEClient"),
		dhcp4.ClientIdentifier([]byte{1, 0xaa, 0xbb, 0xcc, 0, 0, 1}),
		dhcp4.RelayAgentInformation([]byte{1, 3, 'p', '0', '1'}),
	))
	require.NotNil(t, reply)

	assert.Equal(t, dhcp4.MsgOffer, reply.MessageType())
	assert.Equal(t, dhcp4.OpReply, reply.Op)
	assert.Equal(t, dhcp4.FlagBroadcast, reply.Flags)
	assert.Equal(t, uint32(0x1234), reply.XID)
	assert.Equal(t, addr("10.0.0.6"), reply.YIAddr)
	assert.Equal(t, addr("10.0.0.5"), reply.GIAddr)
	assert.True(t, reply.Valid())

	assert.Equal(t, []dhcp4.Tag{1, 3, 51, 53, 54, 60, 61, 82}, sortedTags(reply.Options))
	assert.Equal(t, "Subnet Mask = 255.255.255.252", reply.Options.Get(dhcp4.OptSubnetMask).String())
	assert.Equal(t, "Router = 10.0.0.5", reply.Options.Get(dhcp4.OptRouter).String())
	assert.Equal(t, "DHCP Server Identifier = 192.0.2.1", reply.Options.Get(dhcp4.OptServerIdentifier).String())
	assert.Equal(t, "IP Address Lease Time = 86400 seconds", reply.Options.Get(dhcp4.OptLeaseTime).String())
}

func TestRequestWithoutParameterRequestList(t *testing.T) {
	s := testServer(t)
	req := request(dhcp4.MsgRequest, dhcp4.RequestedIP(addr("10.0.0.7")))
	req.Flags = 0x1
	req.GIAddr = addr("10.0.0.4")
	reply := handle(t, s, req)
	require.NotNil(t, reply)

	assert.Equal(t, dhcp4.MsgAck, reply.MessageType())
	assert.Equal(t, uint16(0x1), reply.Flags)
	assert.Equal(t, addr("10.0.0.5"), reply.YIAddr)
	assert.Equal(t, "Subnet Mask = 255.255.255.254", reply.Options.Get(dhcp4.OptSubnetMask).String())
	assert.Equal(t, []dhcp4.Tag{1, 3, 6, 42, 51, 53, 54, 58, 59}, sortedTags(reply.Options))
	assert.Equal(t, "Domain Name Servers = 192.0.2.53, 192.0.2.54", reply.Options.Get(dhcp4.OptDomainNameServer).String())
	assert.Equal(t, "Rebinding Time Value = 37800 seconds", reply.Options.Get(dhcp4.OptRebindingTime).String())
	assert.Equal(t, "Renewal Time Value = 28800 seconds", reply.Options.Get(dhcp4.OptRenewalTime).String())
}

func TestGeneralPolicy(t *testing.T) {
	s := testServer(t)
	s.Policy = policy.Policy{SubnetMask: addr("255.255.255.0"), Offset: 10}
	reply := handle(t, s, request(dhcp4.MsgDiscover))
	require.NotNil(t, reply)
	assert.Equal(t, addr("10.0.0.15"), reply.YIAddr)
	assert.Equal(t, "Subnet Mask = 255.255.255.0", reply.Options.Get(dhcp4.OptSubnetMask).String())
}

func TestBadCookieIsRequest(t *testing.T) {
	s := testServer(t)
	req := request(dhcp4.MsgDiscover)
	req.Cookie = 0xdeadbeef
	req.Flags = 0x1
	reply := handle(t, s, req)
	require.NotNil(t, reply)

	assert.Equal(t, dhcp4.MsgAck, reply.MessageType())
	assert.Equal(t, uint16(0x1), reply.Flags)
	assert.Equal(t, dhcp4.MagicCookie, reply.Cookie)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.coerced))
}

func TestMissingMessageTypeIsRequest(t *testing.T) {
	s := testServer(t)
	req := request(dhcp4.MsgDiscover)
	req.Options = nil
	reply := handle(t, s, req)
	require.NotNil(t, reply)
	assert.Equal(t, dhcp4.MsgAck, reply.MessageType())
}

func TestBlacklisted(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := testServer(t)
	s.Log = zap.New(core).Sugar()

	req := request(dhcp4.MsgDiscover)
	req.HardwareAddr = [6]byte{0xb0, 0x0b, 0, 0x11, 0x22, 0x33}
	assert.Nil(t, handle(t, s, req))

	entries := logs.FilterMessage("ignoring DHCP packet due to blacklist").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "b0:0b:00:11:22:33", entries[0].ContextMap()["mac"])
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.dropped.WithLabelValues(dropBlacklisted)))

	req.HardwareAddr = [6]byte{0xb0, 0x0c, 0, 0, 0, 0}
	assert.NotNil(t, handle(t, s, req))
}

func TestGIAddrFromCIAddr(t *testing.T) {
	s := testServer(t)
	req := request(dhcp4.MsgRequest)
	req.GIAddr = 0
	req.CIAddr = addr("10.0.0.9")
	reply := handle(t, s, req)
	require.NotNil(t, reply)
	assert.Equal(t, addr("10.0.0.8"), reply.GIAddr)
	assert.Equal(t, addr("10.0.0.9"), reply.YIAddr)
	assert.Equal(t, "Router = 10.0.0.8", reply.Options.Get(dhcp4.OptRouter).String())

	req.CIAddr = 0
	assert.Nil(t, handle(t, s, req))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.dropped.WithLabelValues(dropNoGIAddr)))
}

func TestOtherMessageTypesDropped(t *testing.T) {
	s := testServer(t)
	for _, typ := range []dhcp4.MessageType{dhcp4.MsgRelease, dhcp4.MsgDecline, dhcp4.MsgInform, dhcp4.MsgOffer} {
		assert.Nil(t, handle(t, s, request(typ)), "%s", typ)
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(s.Metrics.dropped.WithLabelValues(dropMessageType)))
}

func TestHooks(t *testing.T) {
	s := testServer(t)

	var seen []string
	record := func(stage hooks.Stage, ok bool) hooks.Handler {
		return hooks.HandlerFunc(func(pkt *dhcp4.Packet) bool {
			seen = append(seen, string(stage)+":"+pkt.MessageType().String())
			return ok
		})
	}
	s.Hooks.Register(hooks.Discover, record(hooks.Discover, true))
	s.Hooks.Register(hooks.Offer, record(hooks.Offer, true))
	s.Hooks.Register(hooks.Request, record(hooks.Request, false))
	s.Hooks.Register(hooks.Acknowledge, record(hooks.Acknowledge, true))

	assert.NotNil(t, handle(t, s, request(dhcp4.MsgDiscover)))
	assert.Nil(t, handle(t, s, request(dhcp4.MsgRequest)))
	assert.Equal(t, []string{"discover:Discover", "offer:Offer", "request:Request"}, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.dropped.WithLabelValues("hook-request")))
}

func TestRequestNotModified(t *testing.T) {
	s := testServer(t)
	req := request(dhcp4.MsgDiscover, dhcp4.ParameterRequestList(dhcp4.OptSubnetMask))
	req.GIAddr = 0
	req.CIAddr = addr("10.0.0.9")
	var seen *dhcp4.Packet
	s.Hooks.Register(hooks.Offer, hooks.HandlerFunc(func(pkt *dhcp4.Packet) bool {
		seen = pkt
		return true
	}))

	reply := s.process(req)
	require.NotNil(t, reply)
	assert.Same(t, reply, seen)
	assert.Equal(t, dhcp4.Addr(0), req.GIAddr)
	assert.Equal(t, dhcp4.MsgDiscover, req.MessageType())
	assert.True(t, req.Options.Has(dhcp4.OptParameterRequestList))
}

func TestMalformed(t *testing.T) {
	s := testServer(t)
	_, err := s.Handle(make([]byte, 100))
	assert.True(t, errors.Is(err, dhcp4.ErrMalformedFrame))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.dropped.WithLabelValues(dropMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.received))
}

func TestInterop(t *testing.T) {
	s := testServer(t)
	hw := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 2}
	d, err := dhcpv4.NewDiscovery(hw, dhcpv4.WithGatewayIP(net.IPv4(10, 0, 0, 7)))
	require.NoError(t, err)

	reply, err := s.Handle(d.ToBytes())
	require.NoError(t, err)
	require.NotNil(t, reply)
	b, err := reply.Marshal()
	require.NoError(t, err)

	offer, err := dhcpv4.FromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, dhcpv4.MessageTypeOffer, offer.MessageType())
	assert.Equal(t, d.TransactionID, offer.TransactionID)
	assert.True(t, offer.YourIPAddr.Equal(net.IPv4(10, 0, 0, 8)))
	assert.Equal(t, net.IPMask{255, 255, 255, 252}, offer.SubnetMask())
	assert.True(t, offer.ServerIdentifier().Equal(net.IPv4(192, 0, 2, 1)))
	assert.Equal(t, hw, offer.ClientHWAddr)
}
