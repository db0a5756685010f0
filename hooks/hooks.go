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

// Package hooks provides the extension points of the responder: an
// ordered chain of handlers per processing stage, any of which may
// veto a packet, plus tickers that run on every loop iteration.
package hooks

import (
	"fmt"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
)

// Stage names a point in the processing of a packet.
type Stage string

// Processing stages. Discover and Request see the client's packet,
// Offer and Acknowledge see the reply about to be sent.
const (
	Discover    Stage = "discover"
	Offer       Stage = "offer"
	Request     Stage = "request"
	Acknowledge Stage = "acknowledge"
)

// Stages lists every stage in processing order.
var Stages = []Stage{Discover, Offer, Request, Acknowledge}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown hook stage %q", s)
}

// Handler inspects a packet and decides whether processing goes on.
// Handlers must not modify the packet.
type Handler interface {
	Process(pkt *dhcp4.Packet) bool
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(pkt *dhcp4.Packet) bool

// Process calls f(pkt).
func (f HandlerFunc) Process(pkt *dhcp4.Packet) bool { return f(pkt) }

// Ticker is run once per iteration of the server loop, whether or
// not a datagram arrived.
type Ticker interface {
	Tick()
}

// TickerFunc adapts a plain function to Ticker.
type TickerFunc func()

// Tick calls f().
func (f TickerFunc) Tick() { f() }

// Registry holds the handlers of every stage and the periodic
// tickers. It is built before the server starts and only read
// afterwards.
type Registry struct {
	handlers map[Stage][]Handler
	periodic []Ticker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[Stage][]Handler{}}
}

// Register appends h to the chain of stage. If h also implements
// Ticker, it is added to the periodic tickers as well.
func (r *Registry) Register(stage Stage, h Handler) {
	r.handlers[stage] = append(r.handlers[stage], h)
	if t, ok := h.(Ticker); ok {
		r.RegisterTicker(t)
	}
}

// RegisterTicker appends t to the periodic tickers.
func (r *Registry) RegisterTicker(t Ticker) {
	r.periodic = append(r.periodic, t)
}

// Run passes pkt through the handlers of stage in registration
// order. It returns false as soon as one of them does, without
// calling the rest. A nil Registry approves everything.
func (r *Registry) Run(stage Stage, pkt *dhcp4.Packet) bool {
	if r == nil {
		return true
	}
	for _, h := range r.handlers[stage] {
		if !h.Process(pkt) {
			return false
		}
	}
	return true
}

// Tick runs every periodic ticker once.
func (r *Registry) Tick() {
	if r == nil {
		return
	}
	for _, t := range r.periodic {
		t.Tick()
	}
}

// Len returns the number of handlers registered for stage.
func (r *Registry) Len(stage Stage) int {
	if r == nil {
		return 0
	}
	return len(r.handlers[stage])
}

// Tickers returns the number of periodic tickers.
func (r *Registry) Tickers() int {
	if r == nil {
		return 0
	}
	return len(r.periodic)
}
