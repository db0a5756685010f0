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

// Package policy derives a client's address from the address of the
// relay that forwarded its request.
//
// Every client sits alone on a tiny routed subnet (/30 or /31) whose
// other end is the relay, so the relay address determines the client
// address without any lease bookkeeping.
package policy

import (
	"math/bits"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
)

var (
	mask30 = dhcp4.MustParseAddr("255.255.255.252")
	mask31 = dhcp4.MustParseAddr("255.255.255.254")
)

// Policy computes yiaddr and the advertised subnet mask.
type Policy struct {
	// PointToPoint picks the mask from the parity of giaddr: odd
	// relays sit on a /30, even ones on a /31. The client is always
	// giaddr+1.
	PointToPoint bool
	// SubnetMask is advertised as-is when PointToPoint is false.
	SubnetMask dhcp4.Addr
	// Offset is added to giaddr when SubnetMask is neither a /30
	// nor a /31.
	Offset int32
}

// Assign returns the address to offer a client behind giaddr and
// the subnet mask to advertise with it.
func (p Policy) Assign(giaddr dhcp4.Addr) (yiaddr, mask dhcp4.Addr) {
	if p.PointToPoint {
		if giaddr.Odd() {
			return giaddr + 1, mask30
		}
		return giaddr + 1, mask31
	}

	mask = p.SubnetMask
	switch prefix := PrefixLen(mask); {
	case prefix == 30 && giaddr.Odd():
		return giaddr + 1, mask
	case prefix == 31 && !giaddr.Odd():
		return giaddr + 1, mask
	case prefix == 30 || prefix == 31:
		return giaddr - 1, mask
	default:
		return giaddr + dhcp4.Addr(p.Offset), mask
	}
}

// PrefixLen returns the number of set bits in mask. Non-contiguous
// masks are not rejected, their bits are simply counted.
func PrefixLen(mask dhcp4.Addr) int {
	return bits.OnesCount32(uint32(mask))
}
