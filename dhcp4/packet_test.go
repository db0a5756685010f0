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
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPacket() *Packet {
	return &Packet{
		Op:           OpRequest,
		HType:        1,
		HLen:         6,
		Hops:         1,
		XID:          0xdeadbeef,
		Secs:         3,
		Flags:        FlagBroadcast,
		CIAddr:       0,
		GIAddr:       MustParseAddr("10.0.0.5"),
		HardwareAddr: [6]byte{0xb0, 0x0b, 0, 0x11, 0x22, 0x33},
		Cookie:       MagicCookie,
		Options: Options{
			MessageTypeOf(MsgDiscover),
			ParameterRequestList(OptSubnetMask, OptRouter),
			DecodeOption(Tag(43), []byte{1, 2, 3}),
			DecodeOption(OptDomainNameServer, []byte{1, 2, 3}),
			Hostname("a"),
			Hostname("b"),
		},
	}
}

func TestRoundTrip(t *testing.T) {
	pkt := testPacket()
	b, err := pkt.Marshal()
	require.NoError(t, err)
	assert.Len(t, b, 300)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	if diff := pretty.Diff(pkt, got); len(diff) > 0 {
		t.Fatalf("packet changed in round trip:\n%s", diff)
	}
	require.Len(t, got.Options, len(pkt.Options))
	for i := range pkt.Options {
		assert.Equal(t, pkt.Options[i].Tag(), got.Options[i].Tag())
		assert.Equal(t, pkt.Options[i].Bytes(), got.Options[i].Bytes())
	}
}

func TestMarshalLayout(t *testing.T) {
	b, err := testPacket().Marshal()
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 1, 6, 1, 0xde, 0xad, 0xbe, 0xef}, b[:8])
	assert.Equal(t, []byte{10, 0, 0, 5}, b[24:28])
	assert.Equal(t, make([]byte, 202), b[34:236])
	assert.Equal(t, []byte{0x63, 0x82, 0x53, 0x63}, b[236:240])
	assert.Equal(t, []byte{53, 1, 1}, b[240:243])
}

func TestMarshalLongPacketNotPadded(t *testing.T) {
	pkt := testPacket()
	pkt.Options = append(pkt.Options, Hostname(string(bytes.Repeat([]byte("x"), 200))))
	b, err := pkt.Marshal()
	require.NoError(t, err)
	assert.Greater(t, len(b), 300)
	assert.Equal(t, byte(255), b[len(b)-1])
}

func TestMarshalOversizedOption(t *testing.T) {
	pkt := testPacket()
	pkt.Options = append(pkt.Options, Hostname(string(bytes.Repeat([]byte("x"), 256))))
	_, err := pkt.Marshal()
	assert.Error(t, err)
}

func TestUnmarshalShort(t *testing.T) {
	for _, n := range []int{0, 1, 239} {
		_, err := Unmarshal(make([]byte, n))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("Unmarshal of %d bytes: got %v, want ErrMalformedFrame", n, err)
		}
	}
	pkt, err := Unmarshal(make([]byte, 240))
	require.NoError(t, err)
	assert.Empty(t, pkt.Options)
	assert.False(t, pkt.Valid())
}

func TestUnmarshalOptionStream(t *testing.T) {
	hdr, err := (&Packet{Op: OpRequest, Cookie: MagicCookie}).Marshal()
	require.NoError(t, err)
	hdr = hdr[:240]

	tests := []struct {
		name string
		opts []byte
		tags []Tag
	}{
		{"pad bytes skipped", []byte{0, 0, 53, 1, 3, 0, 255}, []Tag{OptMessageType}},
		{"no end marker", []byte{53, 1, 3, 12, 1, 'a'}, []Tag{OptMessageType, OptHostname}},
		{"missing length", []byte{53, 1, 3, 12}, []Tag{OptMessageType}},
		{"truncated value", []byte{53, 1, 3, 12, 5, 'a'}, []Tag{OptMessageType}},
		{"data after end", []byte{53, 1, 3, 255, 12, 1, 'a'}, []Tag{OptMessageType}},
		{"duplicates kept", []byte{12, 1, 'a', 12, 1, 'b', 255}, []Tag{OptHostname, OptHostname}},
	}

	for _, test := range tests {
		pkt, err := Unmarshal(append(append([]byte{}, hdr...), test.opts...))
		require.NoError(t, err, test.name)
		assert.Equal(t, test.tags, pkt.Options.Tags(), test.name)
	}
}

func TestValid(t *testing.T) {
	pkt := testPacket()
	assert.True(t, pkt.Valid())

	bad := pkt.Clone()
	bad.Cookie = 0
	assert.False(t, bad.Valid())

	bad = pkt.Clone()
	bad.Op = 3
	assert.False(t, bad.Valid())

	bad = pkt.Clone()
	bad.Options = bad.Options.With(MessageTypeOf(14))
	assert.False(t, bad.Valid())

	bad = pkt.Clone()
	bad.Options = bad.Options.Without(OptMessageType)
	assert.False(t, bad.Valid())

	// Clones don't leak changes back.
	assert.Equal(t, MsgDiscover, pkt.MessageType())
	assert.Equal(t, MagicCookie, pkt.Cookie)
}

func TestInteropFromLibrary(t *testing.T) {
	hw := net.HardwareAddr{0xb0, 0x0b, 0, 0x11, 0x22, 0x33}
	d, err := dhcpv4.NewDiscovery(hw,
		dhcpv4.WithGatewayIP(net.IPv4(10, 0, 0, 5)),
		dhcpv4.WithOption(dhcpv4.OptClassIdentifier("PXEClient")),
	)
	require.NoError(t, err)

	pkt, err := Unmarshal(d.ToBytes())
	require.NoError(t, err)
	assert.True(t, pkt.Valid())
	assert.Equal(t, MsgDiscover, pkt.MessageType())
	assert.Equal(t, MustParseAddr("10.0.0.5"), pkt.GIAddr)
	assert.Equal(t, hw, pkt.MAC())
	assert.Equal(t, "Class Identifier = PXEClient", pkt.Options.Get(OptClassIdentifier).String())
	_, ok := pkt.Options.RequestedTags()
	assert.True(t, ok)
}

func TestInteropToLibrary(t *testing.T) {
	pkt := testPacket()
	pkt.Op = OpReply
	pkt.YIAddr = MustParseAddr("10.0.0.6")
	pkt.Options = Options{
		MessageTypeOf(MsgOffer),
		SubnetMask(MustParseAddr("255.255.255.254")),
		Routers(MustParseAddr("10.0.0.5")),
		LeaseTime(86400),
		ServerIdentifier(MustParseAddr("192.0.2.1")),
	}
	b, err := pkt.Marshal()
	require.NoError(t, err)

	d, err := dhcpv4.FromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, dhcpv4.MessageTypeOffer, d.MessageType())
	assert.True(t, d.YourIPAddr.Equal(net.IPv4(10, 0, 0, 6)))
	assert.Equal(t, net.IPMask{255, 255, 255, 254}, d.SubnetMask())
	require.Len(t, d.Router(), 1)
	assert.True(t, d.Router()[0].Equal(net.IPv4(10, 0, 0, 5)))
	assert.Equal(t, 24*time.Hour, d.IPAddressLeaseTime(0))
	assert.True(t, d.ServerIdentifier().Equal(net.IPv4(192, 0, 2, 1)))
}
