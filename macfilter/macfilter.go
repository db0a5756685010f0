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

// Package macfilter matches hardware addresses against CIDR-style
// ranges such as "b0:0b:00:00:00:00/24".
package macfilter

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	macBits = 48
	macMask = uint64(1)<<macBits - 1
)

// Rule matches every MAC whose top Prefix bits equal those of Base.
type Rule struct {
	Base   uint64
	Prefix int
}

// Parse parses "address[/prefix]". Any non-hex character in the
// address is ignored, so "b0:0b:00:00:00:00", "b00b.0000.0000" and
// "b0-0b-00-00-00-00" are the same address. The prefix defaults to
// 48.
func Parse(s string) (Rule, error) {
	addr, prefix, hasPrefix := strings.Cut(strings.TrimSpace(s), "/")

	var digits strings.Builder
	for _, c := range addr {
		if isHex(c) {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 || digits.Len() > 12 {
		return Rule{}, fmt.Errorf("invalid MAC address %q", addr)
	}
	base, err := strconv.ParseUint(digits.String(), 16, 64)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid MAC address %q: %w", addr, err)
	}

	ret := Rule{Base: base, Prefix: macBits}
	if hasPrefix {
		p, err := strconv.Atoi(prefix)
		if err != nil || p < 0 || p > macBits {
			return Rule{}, fmt.Errorf("invalid prefix length %q in %q, must be 0-48", prefix, s)
		}
		ret.Prefix = p
	}
	return ret, nil
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Mask returns the top Prefix bits of a 48-bit value.
func (r Rule) Mask() uint64 {
	return macMask ^ (macMask >> uint(r.Prefix))
}

// Match reports whether mac falls in the range. mac must hold at
// least 6 bytes; only the first 6 are considered.
func (r Rule) Match(mac []byte) bool {
	if len(mac) < 6 {
		return false
	}
	return Uint48(mac)&r.Mask() == r.Base&r.Mask()
}

func (r Rule) String() string {
	b := make([]string, 6)
	for i := range b {
		b[i] = fmt.Sprintf("%02x", byte(r.Base>>(40-8*uint(i))))
	}
	return fmt.Sprintf("%s/%d", strings.Join(b, ":"), r.Prefix)
}

// Uint48 reads the first 6 bytes of mac as a big-endian integer.
func Uint48(mac []byte) uint64 {
	var ret uint64
	for _, b := range mac[:6] {
		ret = ret<<8 | uint64(b)
	}
	return ret
}

// List is a set of rules. A MAC is in the list if any rule matches.
type List []Rule

// ParseList parses every entry with Parse.
func ParseList(specs []string) (List, error) {
	ret := make(List, 0, len(specs))
	for _, s := range specs {
		r, err := Parse(s)
		if err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	return ret, nil
}

// Contains reports whether any rule matches mac.
func (l List) Contains(mac []byte) bool {
	_, ok := l.Lookup(mac)
	return ok
}

// Lookup returns the first rule matching mac.
func (l List) Lookup(mac []byte) (Rule, bool) {
	for _, r := range l {
		if r.Match(mac) {
			return r, true
		}
	}
	return Rule{}, false
}
