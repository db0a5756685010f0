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
	"encoding/binary"
	"fmt"
	"net"
)

// Addr is an IPv4 address in host integer form. The BOOTP header
// stores addresses as big-endian 32-bit words, and the responder does
// arithmetic on them (giaddr+1 and friends), so keeping them as
// integers avoids converting back and forth.
type Addr uint32

// AddrFromIP converts ip to an Addr. It returns false if ip is not an
// IPv4 address.
func AddrFromIP(ip net.IP) (Addr, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	return Addr(binary.BigEndian.Uint32(ip4)), true
}

// ParseAddr parses a dotted-quad IPv4 address.
func ParseAddr(s string) (Addr, error) {
	a, ok := AddrFromIP(net.ParseIP(s))
	if !ok {
		return 0, fmt.Errorf("%q is not an IPv4 address", s)
	}
	return a, nil
}

// MustParseAddr is like ParseAddr but panics on error. Meant for
// tests and static tables.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IP returns a as a 4-byte net.IP.
func (a Addr) IP() net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, uint32(a))
	return ip
}

func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Odd reports whether the lowest bit of a is set.
func (a Addr) Odd() bool {
	return a&1 == 1
}
