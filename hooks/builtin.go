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

package hooks

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
)

// Log returns a handler that logs every packet it sees at debug
// level and approves it.
func Log(log *zap.SugaredLogger, stage Stage) Handler {
	return HandlerFunc(func(pkt *dhcp4.Packet) bool {
		log.Debugw("hook", "stage", string(stage), "mac", pkt.MAC(), "type", pkt.MessageType(), "giaddr", pkt.GIAddr, "yiaddr", pkt.YIAddr)
		return true
	})
}

// RequireRelayInfo rejects packets without a relay agent information
// option.
var RequireRelayInfo = HandlerFunc(func(pkt *dhcp4.Packet) bool {
	return pkt.Options.Has(dhcp4.OptRelayAgentInfo)
})

// MaxHops rejects packets that crossed more than n relays.
func MaxHops(n uint8) Handler {
	return HandlerFunc(func(pkt *dhcp4.Packet) bool {
		return pkt.Hops <= n
	})
}

// RateLimit approves at most Limit packets per client MAC within
// one Window. It is both a Handler and a Ticker, so registering it
// on a stage also makes the registry age it out.
type RateLimit struct {
	Limit  int
	Window time.Duration

	mu    sync.Mutex
	seen  map[[6]byte]int
	start time.Time
}

// NewRateLimit returns a RateLimit allowing limit packets per MAC
// and window.
func NewRateLimit(limit int, window time.Duration) *RateLimit {
	return &RateLimit{Limit: limit, Window: window, seen: map[[6]byte]int{}, start: time.Now()}
}

// Process implements Handler.
func (r *RateLimit) Process(pkt *dhcp4.Packet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[pkt.HardwareAddr]++
	return r.seen[pkt.HardwareAddr] <= r.Limit
}

// Tick implements Ticker by forgetting every client once the
// current window has passed. Ticks within a window are no-ops.
func (r *RateLimit) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.start) < r.Window {
		return
	}
	r.start = now
	r.seen = map[[6]byte]int{}
}

const defaultRateWindow = time.Minute

// Factory builds a handler for stage from the argument following
// the colon in its configured name ("" if there is none).
type Factory func(stage Stage, arg string) (Handler, error)

// Catalog maps configuration names to handlers and tickers, so that
// the hook chains can be assembled from configuration.
type Catalog struct {
	Handlers map[string]Factory
	Tickers  map[string]Ticker
}

// NewCatalog returns a catalog with the built-in handlers:
//
//	log                 debug-log the packet
//	require-relay-info  reject packets without option 82
//	max-hops:N          reject packets relayed more than N times
//	rate-limit:N[/D]    allow N packets per MAC and window D (default 1m)
func NewCatalog(log *zap.SugaredLogger) *Catalog {
	return &Catalog{
		Handlers: map[string]Factory{
			"log": func(stage Stage, _ string) (Handler, error) {
				return Log(log, stage), nil
			},
			"require-relay-info": func(Stage, string) (Handler, error) {
				return RequireRelayInfo, nil
			},
			"max-hops": func(_ Stage, arg string) (Handler, error) {
				n, err := strconv.ParseUint(arg, 10, 8)
				if err != nil {
					return nil, fmt.Errorf("max-hops needs a hop count 0-255: %w", err)
				}
				return MaxHops(uint8(n)), nil
			},
			"rate-limit": func(_ Stage, arg string) (Handler, error) {
				count, window, found := strings.Cut(arg, "/")
				n, err := strconv.Atoi(count)
				if err != nil || n < 1 {
					return nil, fmt.Errorf("rate-limit needs a positive packet count, got %q", count)
				}
				d := defaultRateWindow
				if found {
					d, err = time.ParseDuration(window)
					if err != nil || d <= 0 {
						return nil, fmt.Errorf("rate-limit needs a positive window, got %q", window)
					}
				}
				return NewRateLimit(n, d), nil
			},
		},
		Tickers: map[string]Ticker{},
	}
}

// Handler builds the handler named by def, "name" or "name:arg".
func (c *Catalog) Handler(stage Stage, def string) (Handler, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(def), ":")
	f, ok := c.Handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown hook %q, known hooks are %s", name, strings.Join(keys(c.Handlers), ", "))
	}
	h, err := f(stage, arg)
	if err != nil {
		return nil, fmt.Errorf("hook %q: %w", def, err)
	}
	return h, nil
}

// Registry assembles a Registry from per-stage handler names and
// the names of periodic tickers.
func (c *Catalog) Registry(stages map[Stage][]string, periodic []string) (*Registry, error) {
	ret := NewRegistry()
	for _, stage := range Stages {
		for _, def := range stages[stage] {
			h, err := c.Handler(stage, def)
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", stage, err)
			}
			ret.Register(stage, h)
		}
	}
	for _, name := range periodic {
		t, ok := c.Tickers[name]
		if !ok {
			return nil, fmt.Errorf("unknown periodic hook %q, known ones are %s", name, strings.Join(keys(c.Tickers), ", "))
		}
		ret.RegisterTicker(t)
	}
	return ret, nil
}

func keys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
