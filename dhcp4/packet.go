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
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

// MagicCookie marks the start of the DHCP option area.
const MagicCookie uint32 = 0x63825363

// BOOTP op codes.
const (
	OpRequest uint8 = 1
	OpReply   uint8 = 2
)

// FlagBroadcast is the broadcast bit of the flags field.
const FlagBroadcast uint16 = 0x8000

const (
	// headerLen is the fixed BOOTP header including the cookie.
	headerLen = 240
	// minPacketLen is the size replies are padded to.
	minPacketLen = 300
	// sname (64) + file (128) + the 10 unused chaddr bytes.
	paddingLen = 202
)

// ErrMalformedFrame is returned by Unmarshal for datagrams too short
// to hold a BOOTP header.
var ErrMalformedFrame = errors.New("malformed DHCP frame")

// Packet is a decoded BOOTP/DHCP message.
type Packet struct {
	Op    uint8
	HType uint8
	HLen  uint8
	Hops  uint8
	XID   uint32
	Secs  uint16
	Flags uint16

	CIAddr Addr
	YIAddr Addr
	SIAddr Addr
	GIAddr Addr

	HardwareAddr [6]byte
	Cookie       uint32
	Options      Options
}

// Unmarshal parses a DHCP message and returns a Packet.
//
// Option values that don't make sense for their tag do not fail the
// decode, and neither does an option stream that ends without the
// end marker. Only a datagram shorter than the fixed header is an
// error.
func Unmarshal(bs []byte) (*Packet, error) {
	if len(bs) < headerLen {
		return nil, fmt.Errorf("%w: packet is %d bytes, need at least %d", ErrMalformedFrame, len(bs), headerLen)
	}

	ret := &Packet{
		Op:     bs[0],
		HType:  bs[1],
		HLen:   bs[2],
		Hops:   bs[3],
		XID:    binary.BigEndian.Uint32(bs[4:8]),
		Secs:   binary.BigEndian.Uint16(bs[8:10]),
		Flags:  binary.BigEndian.Uint16(bs[10:12]),
		CIAddr: Addr(binary.BigEndian.Uint32(bs[12:16])),
		YIAddr: Addr(binary.BigEndian.Uint32(bs[16:20])),
		SIAddr: Addr(binary.BigEndian.Uint32(bs[20:24])),
		GIAddr: Addr(binary.BigEndian.Uint32(bs[24:28])),
		Cookie: binary.BigEndian.Uint32(bs[236:240]),
	}
	copy(ret.HardwareAddr[:], bs[28:34])
	ret.Options = unmarshalOptions(bs[headerLen:])

	return ret, nil
}

func unmarshalOptions(bs []byte) Options {
	var ret Options
	for len(bs) > 0 {
		tag := Tag(bs[0])
		switch tag {
		case optPad:
			bs = bs[1:]
		case optEnd:
			return ret
		default:
			// A truncated TLV ends the stream, the same as running
			// out of bytes.
			if len(bs) < 2 {
				return ret
			}
			l := int(bs[1])
			if len(bs[2:]) < l {
				return ret
			}
			ret = append(ret, DecodeOption(tag, bs[2:2+l]))
			bs = bs[2+l:]
		}
	}
	return ret
}

// Marshal returns the wire encoding of p. The result is at least 300
// bytes long.
func (p *Packet) Marshal() ([]byte, error) {
	var ret bytes.Buffer
	ret.Grow(minPacketLen)

	ret.Write([]byte{p.Op, p.HType, p.HLen, p.Hops})
	binary.Write(&ret, binary.BigEndian, p.XID)
	binary.Write(&ret, binary.BigEndian, p.Secs)
	binary.Write(&ret, binary.BigEndian, p.Flags)
	for _, a := range []Addr{p.CIAddr, p.YIAddr, p.SIAddr, p.GIAddr} {
		binary.Write(&ret, binary.BigEndian, uint32(a))
	}
	ret.Write(p.HardwareAddr[:])
	ret.Write(make([]byte, paddingLen))
	binary.Write(&ret, binary.BigEndian, p.Cookie)

	if err := p.Options.marshalTo(&ret); err != nil {
		return nil, err
	}
	ret.WriteByte(byte(optEnd))

	if ret.Len() < minPacketLen {
		ret.Write(make([]byte, minPacketLen-ret.Len()))
	}
	return ret.Bytes(), nil
}

// Valid reports whether p carries the magic cookie, a BOOTP op code
// and a known DHCP message type.
func (p *Packet) Valid() bool {
	if p.Cookie != MagicCookie || (p.Op != OpRequest && p.Op != OpReply) {
		return false
	}
	t, ok := p.Options.MessageType()
	return ok && t.Known()
}

// MessageType returns the DHCP message type, or 0 if there is none.
func (p *Packet) MessageType() MessageType {
	t, _ := p.Options.MessageType()
	return t
}

// MAC returns the client hardware address.
func (p *Packet) MAC() net.HardwareAddr {
	return net.HardwareAddr(append([]byte{}, p.HardwareAddr[:]...))
}

// Clone returns a copy of p that shares no mutable state with it.
// Option values are immutable, so only the slice is copied.
func (p *Packet) Clone() *Packet {
	ret := *p
	ret.Options = append(Options(nil), p.Options...)
	return &ret
}

func (p *Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "op=%d htype=%d hlen=%d hops=%d xid=0x%08x secs=%d flags=0x%04x\n", p.Op, p.HType, p.HLen, p.Hops, p.XID, p.Secs, p.Flags)
	fmt.Fprintf(&b, "ciaddr=%s yiaddr=%s siaddr=%s giaddr=%s chaddr=%s\n", p.CIAddr, p.YIAddr, p.SIAddr, p.GIAddr, p.MAC())
	fmt.Fprintf(&b, "cookie=0x%08x\n", p.Cookie)
	for _, opt := range p.Options {
		fmt.Fprintf(&b, "  %s\n", opt)
	}
	return b.String()
}
