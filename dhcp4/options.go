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
	"fmt"
	"strconv"
	"strings"
)

// Tag is a DHCP option code.
type Tag uint8

// Option tags with a typed interpretation. Anything else decodes to
// Opaque.
const (
	OptSubnetMask           Tag = 1
	OptRouter               Tag = 3
	OptDomainNameServer     Tag = 6
	OptHostname             Tag = 12
	OptNTPServers           Tag = 42
	OptRequestedIP          Tag = 50
	OptLeaseTime            Tag = 51
	OptMessageType          Tag = 53
	OptServerIdentifier     Tag = 54
	OptParameterRequestList Tag = 55
	OptMaxMessageSize       Tag = 57
	OptRenewalTime          Tag = 58
	OptRebindingTime        Tag = 59
	OptClassIdentifier      Tag = 60
	OptClientIdentifier     Tag = 61
	OptRelayAgentInfo       Tag = 82

	optPad Tag = 0
	optEnd Tag = 255
)

var optionNames = map[Tag]string{
	OptSubnetMask:           "Subnet Mask",
	OptRouter:               "Router",
	OptDomainNameServer:     "Domain Name Servers",
	OptHostname:             "Hostname",
	OptNTPServers:           "Network Time Protocol Servers",
	OptRequestedIP:          "Requested IP Address",
	OptLeaseTime:            "IP Address Lease Time",
	OptMessageType:          "DHCP Message Type",
	OptServerIdentifier:     "DHCP Server Identifier",
	OptParameterRequestList: "Parameter Request List",
	OptMaxMessageSize:       "Maximum DHCP Packet Size",
	OptRenewalTime:          "Renewal Time Value",
	OptRebindingTime:        "Rebinding Time Value",
	OptClassIdentifier:      "Class Identifier",
	OptClientIdentifier:     "DHCP Client Identifier",
	OptRelayAgentInfo:       "Relay Agent Information",
}

func (t Tag) String() string {
	if n, ok := optionNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Option %d", uint8(t))
}

// MessageType is the value of option 53.
type MessageType uint8

// DHCP message types.
const (
	MsgDiscover MessageType = iota + 1
	MsgOffer
	MsgRequest
	MsgDecline
	MsgAck
	MsgNak
	MsgRelease
	MsgInform
	MsgForceRenew
	MsgLeaseQuery
	MsgLeaseUnassigned
	MsgLeaseUnknown
	MsgLeaseActive
)

var messageTypeNames = [...]string{
	MsgDiscover:        "Discover",
	MsgOffer:           "Offer",
	MsgRequest:         "Request",
	MsgDecline:         "Decline",
	MsgAck:             "ACK",
	MsgNak:             "NAK",
	MsgRelease:         "Release",
	MsgInform:          "Inform",
	MsgForceRenew:      "ForceRenew",
	MsgLeaseQuery:      "LeaseQuery",
	MsgLeaseUnassigned: "LeaseUnassigned",
	MsgLeaseUnknown:    "LeaseUnknown",
	MsgLeaseActive:     "LeaseActive",
}

// Known reports whether t is one of the 13 defined message types.
func (t MessageType) Known() bool {
	return t >= MsgDiscover && t <= MsgLeaseActive
}

func (t MessageType) String() string {
	if t.Known() {
		return messageTypeNames[t]
	}
	return "Unknown"
}

// Option is a single DHCP option. Every implementation keeps the
// tag and the raw value bytes exactly as they were decoded or
// constructed, so re-encoding is lossless regardless of whether the
// value made sense.
//
// The set of implementations is closed: IP, IPList, Text, Seconds,
// Uint16, MessageTypeOption, TagList, RelayAgentInfo and Opaque.
type Option interface {
	Tag() Tag
	// Bytes returns the raw value, without tag and length.
	Bytes() []byte
	// String renders the option for humans.
	String() string

	option()
}

type rawOption struct {
	tag Tag
	b   []byte
}

func (o rawOption) Tag() Tag      { return o.tag }
func (o rawOption) Bytes() []byte { return o.b }
func (rawOption) option()         {}

func (o rawOption) label() string { return o.tag.String() + " = " }

// Opaque is an option whose value is not interpreted. Unknown tags
// and the client identifier decode to Opaque.
type Opaque struct{ rawOption }

func (o Opaque) String() string {
	if _, known := optionNames[o.tag]; known {
		return o.label() + hexBytes(o.b)
	}
	return fmt.Sprintf("Option %d with %d bytes of data: %s", uint8(o.tag), len(o.b), hexBytes(o.b))
}

// IP is an option holding exactly one IPv4 address.
type IP struct{ rawOption }

// Addr returns the address, or false if the value is not 4 bytes.
func (o IP) Addr() (Addr, bool) {
	if len(o.b) != 4 {
		return 0, false
	}
	return Addr(binary.BigEndian.Uint32(o.b)), true
}

func (o IP) String() string {
	a, ok := o.Addr()
	if !ok {
		return o.label() + "invalid value (data not 4 bytes)"
	}
	return o.label() + a.String()
}

// IPList is an option holding a list of IPv4 addresses.
type IPList struct{ rawOption }

// Addrs returns the addresses, or false if the value length is not a
// multiple of 4.
func (o IPList) Addrs() ([]Addr, bool) {
	if len(o.b)%4 != 0 {
		return nil, false
	}
	ret := make([]Addr, 0, len(o.b)/4)
	for i := 0; i < len(o.b); i += 4 {
		ret = append(ret, Addr(binary.BigEndian.Uint32(o.b[i:])))
	}
	return ret, true
}

func (o IPList) String() string {
	addrs, ok := o.Addrs()
	if !ok {
		return o.label() + "invalid value (data not congruent to 4)"
	}
	s := make([]string, len(addrs))
	for i, a := range addrs {
		s[i] = a.String()
	}
	return o.label() + strings.Join(s, ", ")
}

// Text is an option holding ASCII text.
type Text struct{ rawOption }

func (o Text) Text() string   { return string(o.b) }
func (o Text) String() string { return o.label() + string(o.b) }

// Seconds is a 32-bit big-endian duration in seconds.
type Seconds struct{ rawOption }

// Seconds returns the value, or false if the option is not 4 bytes.
func (o Seconds) Seconds() (uint32, bool) {
	if len(o.b) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(o.b), true
}

func (o Seconds) String() string {
	v, ok := o.Seconds()
	if !ok {
		return o.label() + "invalid value (data not 4 bytes)"
	}
	return fmt.Sprintf("%s%d seconds", o.label(), v)
}

// Uint16 is a 16-bit big-endian integer option.
type Uint16 struct{ rawOption }

// Value returns the integer, or false if the option is not 2 bytes.
func (o Uint16) Value() (uint16, bool) {
	if len(o.b) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(o.b), true
}

func (o Uint16) String() string {
	v, ok := o.Value()
	if !ok {
		return o.label() + "invalid value (data not 2 bytes)"
	}
	return fmt.Sprintf("%s%d bytes", o.label(), v)
}

// MessageTypeOption is option 53.
type MessageTypeOption struct{ rawOption }

// Type returns the message type, or 0 if the option is not exactly
// one byte long.
func (o MessageTypeOption) Type() MessageType {
	if len(o.b) != 1 {
		return 0
	}
	return MessageType(o.b[0])
}

func (o MessageTypeOption) String() string { return o.label() + o.Type().String() }

// TagList is a list of option tags, i.e. the parameter request list.
type TagList struct{ rawOption }

func (o TagList) Tags() []Tag {
	ret := make([]Tag, len(o.b))
	for i, b := range o.b {
		ret[i] = Tag(b)
	}
	return ret
}

func (o TagList) String() string {
	s := make([]string, len(o.b))
	for i, b := range o.b {
		s[i] = strconv.Itoa(int(b))
	}
	return o.label() + strings.Join(s, ",")
}

// RelayAgentInfo is option 82 (RFC 3046). The value is a sequence of
// sub-option TLVs which the responder never interprets, it only
// echoes it back to the relay.
type RelayAgentInfo struct{ rawOption }

// SubOption is one sub-TLV of the relay agent information option.
type SubOption struct {
	Code  uint8
	Value []byte
}

var subOptionNames = map[uint8]string{
	1: "circuit-id",
	2: "remote-id",
	5: "link-selection",
	6: "subscriber-id",
}

// SubOptions splits the value into its sub-TLVs.
func (o RelayAgentInfo) SubOptions() ([]SubOption, error) {
	var ret []SubOption
	bs := o.b
	for len(bs) > 0 {
		if len(bs) < 2 || len(bs)-2 < int(bs[1]) {
			return nil, fmt.Errorf("truncated relay agent sub-option %d", bs[0])
		}
		ret = append(ret, SubOption{Code: bs[0], Value: bs[2 : 2+int(bs[1])]})
		bs = bs[2+int(bs[1]):]
	}
	return ret, nil
}

func (o RelayAgentInfo) String() string {
	subs, err := o.SubOptions()
	if err != nil {
		return o.label() + hexBytes(o.b)
	}
	s := make([]string, len(subs))
	for i, sub := range subs {
		name, ok := subOptionNames[sub.Code]
		if !ok {
			name = strconv.Itoa(int(sub.Code))
		}
		s[i] = name + "=" + printable(sub.Value)
	}
	return o.label() + strings.Join(s, " ")
}

// decoders maps tags to their typed interpretation.
var decoders = map[Tag]func(rawOption) Option{
	OptSubnetMask:           func(r rawOption) Option { return IP{r} },
	OptRouter:               func(r rawOption) Option { return IPList{r} },
	OptDomainNameServer:     func(r rawOption) Option { return IPList{r} },
	OptHostname:             func(r rawOption) Option { return Text{r} },
	OptNTPServers:           func(r rawOption) Option { return IPList{r} },
	OptRequestedIP:          func(r rawOption) Option { return IP{r} },
	OptLeaseTime:            func(r rawOption) Option { return Seconds{r} },
	OptMessageType:          func(r rawOption) Option { return MessageTypeOption{r} },
	OptServerIdentifier:     func(r rawOption) Option { return IP{r} },
	OptParameterRequestList: func(r rawOption) Option { return TagList{r} },
	OptMaxMessageSize:       func(r rawOption) Option { return Uint16{r} },
	OptRenewalTime:          func(r rawOption) Option { return Seconds{r} },
	OptRebindingTime:        func(r rawOption) Option { return Seconds{r} },
	OptClassIdentifier:      func(r rawOption) Option { return Text{r} },
	OptClientIdentifier:     func(r rawOption) Option { return Opaque{r} },
	OptRelayAgentInfo:       func(r rawOption) Option { return RelayAgentInfo{r} },
}

// DecodeOption interprets raw as the value of option tag. It never
// fails: values that don't fit the tag's type are kept as they are
// and flagged by the variant's accessors and String method. The
// returned option owns a copy of raw.
func DecodeOption(tag Tag, raw []byte) Option {
	r := rawOption{tag: tag, b: append([]byte{}, raw...)}
	if dec, ok := decoders[tag]; ok {
		return dec(r)
	}
	return Opaque{r}
}

func addrOption(tag Tag, addrs ...Addr) Option {
	b := make([]byte, 4*len(addrs))
	for i, a := range addrs {
		binary.BigEndian.PutUint32(b[4*i:], uint32(a))
	}
	return DecodeOption(tag, b)
}

func secondsOption(tag Tag, v uint32) Option {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return DecodeOption(tag, b[:])
}

// SubnetMask builds option 1.
func SubnetMask(mask Addr) Option { return addrOption(OptSubnetMask, mask) }

// Routers builds option 3.
func Routers(addrs ...Addr) Option { return addrOption(OptRouter, addrs...) }

// DomainNameServers builds option 6.
func DomainNameServers(addrs ...Addr) Option { return addrOption(OptDomainNameServer, addrs...) }

// Hostname builds option 12.
func Hostname(name string) Option { return DecodeOption(OptHostname, []byte(name)) }

// NTPServers builds option 42.
func NTPServers(addrs ...Addr) Option { return addrOption(OptNTPServers, addrs...) }

// RequestedIP builds option 50.
func RequestedIP(a Addr) Option { return addrOption(OptRequestedIP, a) }

// LeaseTime builds option 51.
func LeaseTime(seconds uint32) Option { return secondsOption(OptLeaseTime, seconds) }

// MessageTypeOf builds option 53.
func MessageTypeOf(t MessageType) Option { return DecodeOption(OptMessageType, []byte{byte(t)}) }

// ServerIdentifier builds option 54.
func ServerIdentifier(a Addr) Option { return addrOption(OptServerIdentifier, a) }

// ParameterRequestList builds option 55.
func ParameterRequestList(tags ...Tag) Option {
	b := make([]byte, len(tags))
	for i, t := range tags {
		b[i] = byte(t)
	}
	return DecodeOption(OptParameterRequestList, b)
}

// MaxMessageSize builds option 57.
func MaxMessageSize(n uint16) Option {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], n)
	return DecodeOption(OptMaxMessageSize, b[:])
}

// RenewalTime builds option 58.
func RenewalTime(seconds uint32) Option { return secondsOption(OptRenewalTime, seconds) }

// RebindingTime builds option 59.
func RebindingTime(seconds uint32) Option { return secondsOption(OptRebindingTime, seconds) }

// ClassIdentifier builds option 60.
func ClassIdentifier(id string) Option { return DecodeOption(OptClassIdentifier, []byte(id)) }

// ClientIdentifier builds option 61.
func ClientIdentifier(id []byte) Option { return DecodeOption(OptClientIdentifier, id) }

// RelayAgentInformation builds option 82 from its raw sub-option bytes.
func RelayAgentInformation(raw []byte) Option { return DecodeOption(OptRelayAgentInfo, raw) }

// Options is an ordered list of options. Order is kept on the wire,
// and the same tag may appear more than once.
//
// Methods that change the set return a new slice and leave the
// receiver untouched.
type Options []Option

// Get returns the first option with tag t, or nil.
func (o Options) Get(t Tag) Option {
	for _, opt := range o {
		if opt.Tag() == t {
			return opt
		}
	}
	return nil
}

// Has reports whether an option with tag t is present.
func (o Options) Has(t Tag) bool {
	return o.Get(t) != nil
}

// Tags returns the tag of every option, in order.
func (o Options) Tags() []Tag {
	ret := make([]Tag, len(o))
	for i, opt := range o {
		ret[i] = opt.Tag()
	}
	return ret
}

// Filter returns the options for which keep returns true.
func (o Options) Filter(keep func(Option) bool) Options {
	ret := make(Options, 0, len(o))
	for _, opt := range o {
		if keep(opt) {
			ret = append(ret, opt)
		}
	}
	return ret
}

// Without returns o minus every option carrying one of tags.
func (o Options) Without(tags ...Tag) Options {
	return o.Filter(func(opt Option) bool {
		for _, t := range tags {
			if opt.Tag() == t {
				return false
			}
		}
		return true
	})
}

// With returns o with opt set: the first option with the same tag is
// replaced in place and later duplicates are dropped. If the tag is
// absent, opt is appended.
func (o Options) With(opt Option) Options {
	ret := make(Options, 0, len(o)+1)
	replaced := false
	for _, cur := range o {
		if cur.Tag() != opt.Tag() {
			ret = append(ret, cur)
			continue
		}
		if !replaced {
			ret = append(ret, opt)
			replaced = true
		}
	}
	if !replaced {
		ret = append(ret, opt)
	}
	return ret
}

// MessageType returns the value of option 53, if present.
func (o Options) MessageType() (MessageType, bool) {
	opt, ok := o.Get(OptMessageType).(MessageTypeOption)
	if !ok {
		return 0, false
	}
	return opt.Type(), true
}

// RequestedTags returns the parameter request list, if present.
func (o Options) RequestedTags() ([]Tag, bool) {
	opt, ok := o.Get(OptParameterRequestList).(TagList)
	if !ok {
		return nil, false
	}
	return opt.Tags(), true
}

// marshalTo writes the TLV encoding of o, without the end marker.
func (o Options) marshalTo(b *bytes.Buffer) error {
	for _, opt := range o {
		v := opt.Bytes()
		if len(v) > 255 {
			return fmt.Errorf("DHCP option %d has value >255 bytes", opt.Tag())
		}
		if opt.Tag() == optPad || opt.Tag() == optEnd {
			return fmt.Errorf("invalid DHCP option number %d", opt.Tag())
		}
		b.WriteByte(byte(opt.Tag()))
		b.WriteByte(byte(len(v)))
		b.Write(v)
	}
	return nil
}

func hexBytes(b []byte) string {
	return fmt.Sprintf("% x", b)
}

func printable(b []byte) string {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return "0x" + fmt.Sprintf("%x", b)
		}
	}
	return string(b)
}
