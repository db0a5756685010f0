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
	"fmt"
	"net"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
)

// AutoAddress makes the server pick its own address.
const AutoAddress = "auto"

// probeTarget is where DetectAddress pretends to send traffic. No
// packet is sent, connecting a UDP socket only selects a route.
var probeTarget = "8.8.8.8:1"

// DetectAddress returns the local IPv4 address the kernel picks for
// outbound traffic. Without a default route, it falls back to the
// first usable address on any interface.
func DetectAddress() (dhcp4.Addr, error) {
	if c, err := net.Dial("udp4", probeTarget); err == nil {
		local := c.LocalAddr().(*net.UDPAddr).IP
		c.Close()
		if _, err := findIPNet(local); err == nil {
			if a, ok := dhcp4.AddrFromIP(local); ok {
				return a, nil
			}
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0, err
	}
	ip, err := pickIP(addrs)
	if err != nil {
		return 0, err
	}
	a, _ := dhcp4.AddrFromIP(ip)
	return a, nil
}

// pickIP finds an IPv4 address to use, in the following order:
// global unicast (includes rfc1918), link-local unicast, loopback.
func pickIP(addrs []net.Addr) (net.IP, error) {
	fs := [](func(net.IP) bool){
		net.IP.IsGlobalUnicast,
		net.IP.IsLinkLocalUnicast,
		net.IP.IsLoopback,
	}
	for _, f := range fs {
		for _, a := range addrs {
			ipaddr, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipaddr.IP.To4()
			if ip == nil {
				continue
			}
			if f(ip) {
				return ip, nil
			}
		}
	}

	return nil, errors.New("no usable unicast address configured on any interface")
}

// findIPNet returns the interface network holding wanted.
func findIPNet(wanted net.IP) (*net.IPNet, error) {
	if wanted.To4() == nil {
		return nil, fmt.Errorf("bad IPv4 address %q", wanted)
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		ipaddr, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if !ipaddr.IP.Equal(wanted) {
			continue
		}
		return ipaddr, nil
	}

	return nil, fmt.Errorf("IP address %q not found on any network interface", wanted)
}
