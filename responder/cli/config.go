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

package cli

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
	"github.com/metal-stack/relay-dhcpd/hooks"
	"github.com/metal-stack/relay-dhcpd/macfilter"
	"github.com/metal-stack/relay-dhcpd/pcap"
	"github.com/metal-stack/relay-dhcpd/policy"
	"github.com/metal-stack/relay-dhcpd/responder"
)

// statsHook is the periodic hook that logs the server's counters.
const statsHook = "stats"

// Config is the validated configuration of a server.
type Config struct {
	ListenAddress string
	Port          int

	DNS         []dhcp4.Addr
	NTP         []dhcp4.Addr
	LeaseTime   time.Duration
	RebindTime  time.Duration
	RenewalTime time.Duration

	Policy    policy.Policy
	Blacklist macfilter.List

	Hooks         map[hooks.Stage][]string
	PeriodicHooks []string

	PollInterval  time.Duration
	StatsInterval time.Duration

	UID int
	GID int

	Capture string

	LogLevel  zapcore.Level
	LogFormat string
}

// serverConfigFlags adds the flags shared by every command that
// builds a server.
func serverConfigFlags(flags *pflag.FlagSet) {
	flags.String("listen-address", responder.AutoAddress, "IPv4 address to bind and announce, or auto")
	flags.Int("port", 67, "UDP port to listen on")
	flags.StringSlice("dns-servers", nil, "DNS servers handed to clients")
	flags.StringSlice("ntp-servers", nil, "NTP servers handed to clients")
	flags.Int("lease-time", 86400, "lease time in seconds")
	flags.Int("rebind-time", 37800, "rebinding time in seconds")
	flags.Int("renewal-time", 28800, "renewal time in seconds")
	flags.String("subnet-mask", "255.255.255.254", "subnet mask when point-to-point is off")
	flags.Bool("point-to-point", true, "pick a /30 or /31 from the parity of the relay address")
	flags.Int32("yiaddr-offset", 1, "offset from the relay address for masks other than /30 and /31")
	flags.StringSlice("blacklist-macs", nil, "MAC rules (aa:bb:cc:00:00:00/24) of clients to ignore")
	flags.StringSlice("periodic-hooks", nil, "periodic hooks to run, known: "+statsHook)
	flags.Duration("poll-interval", 10*time.Second, "longest wait for a datagram before periodic hooks run")
	flags.Duration("stats-interval", time.Minute, "interval of the stats periodic hook")
	flags.Int("uid", 99, "user to switch to after binding, -1 to keep")
	flags.Int("gid", 99, "group to switch to after binding, -1 to keep")
	flags.String("capture", "", "write received and sent datagrams to this pcap file")
}

// LoadConfig reads and validates the configuration in v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	var err error
	c := &Config{
		ListenAddress: v.GetString("listen-address"),
		Port:          v.GetInt("port"),
		LeaseTime:     time.Duration(v.GetInt("lease-time")) * time.Second,
		RebindTime:    time.Duration(v.GetInt("rebind-time")) * time.Second,
		RenewalTime:   time.Duration(v.GetInt("renewal-time")) * time.Second,
		PeriodicHooks: v.GetStringSlice("periodic-hooks"),
		PollInterval:  v.GetDuration("poll-interval"),
		StatsInterval: v.GetDuration("stats-interval"),
		UID:           v.GetInt("uid"),
		GID:           v.GetInt("gid"),
		Capture:       v.GetString("capture"),
		LogFormat:     v.GetString("log-format"),
		Hooks:         map[hooks.Stage][]string{},
	}

	if c.ListenAddress == "" {
		c.ListenAddress = responder.AutoAddress
	}
	if c.ListenAddress != responder.AutoAddress {
		a, err := dhcp4.ParseAddr(c.ListenAddress)
		if err != nil {
			return nil, fmt.Errorf("listen-address: %w", err)
		}
		// The bound address doubles as server identifier.
		if a == 0 {
			return nil, fmt.Errorf("listen-address %s is unspecified, use %q to detect it", c.ListenAddress, responder.AutoAddress)
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DNS, err = parseAddrs(v.GetStringSlice("dns-servers")); err != nil {
		return nil, fmt.Errorf("dns-servers: %w", err)
	}
	if c.NTP, err = parseAddrs(v.GetStringSlice("ntp-servers")); err != nil {
		return nil, fmt.Errorf("ntp-servers: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"lease-time":   c.LeaseTime,
		"rebind-time":  c.RebindTime,
		"renewal-time": c.RenewalTime,
	} {
		if d < 0 || d/time.Second > 1<<32-1 {
			return nil, fmt.Errorf("%s %d out of range", name, d/time.Second)
		}
	}

	c.Policy.PointToPoint = v.GetBool("point-to-point")
	c.Policy.Offset = v.GetInt32("yiaddr-offset")
	if c.Policy.SubnetMask, err = dhcp4.ParseAddr(v.GetString("subnet-mask")); err != nil {
		return nil, fmt.Errorf("subnet-mask: %w", err)
	}

	if c.Blacklist, err = macfilter.ParseList(v.GetStringSlice("blacklist-macs")); err != nil {
		return nil, fmt.Errorf("blacklist-macs: %w", err)
	}

	for name := range v.GetStringMap("hooks") {
		stage, err := hooks.ParseStage(name)
		if err != nil {
			return nil, err
		}
		c.Hooks[stage] = v.GetStringSlice("hooks." + name)
	}
	// Environment variables are only seen for keys asked for by name.
	for _, stage := range hooks.Stages {
		if _, ok := c.Hooks[stage]; !ok && v.IsSet("hooks."+string(stage)) {
			c.Hooks[stage] = v.GetStringSlice("hooks." + string(stage))
		}
	}
	if _, err := c.registry(zap.NewNop().Sugar(), prometheus.NewRegistry()); err != nil {
		return nil, err
	}

	if c.PollInterval <= 0 {
		return nil, fmt.Errorf("poll-interval must be positive, got %s", c.PollInterval)
	}
	if c.LogLevel, err = zapcore.ParseLevel(v.GetString("log-level")); err != nil {
		return nil, fmt.Errorf("log-level: %w", err)
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return nil, fmt.Errorf("unknown log format %q, must be json or console", c.LogFormat)
	}
	return c, nil
}

func parseAddrs(ss []string) ([]dhcp4.Addr, error) {
	ret := make([]dhcp4.Addr, 0, len(ss))
	for _, s := range ss {
		a, err := dhcp4.ParseAddr(s)
		if err != nil {
			return nil, err
		}
		ret = append(ret, a)
	}
	return ret, nil
}

func (c *Config) registry(log *zap.SugaredLogger, g prometheus.Gatherer) (*hooks.Registry, error) {
	catalog := hooks.NewCatalog(log)
	catalog.Tickers[statsHook] = responder.StatsTicker(log, g, c.StatsInterval)
	return catalog.Registry(c.Hooks, c.PeriodicHooks)
}

// Server builds the server described by c. The caller owns the
// returned server's Capture, if any.
func (c *Config) Server(log *zap.SugaredLogger) (*responder.Server, error) {
	reg := prometheus.NewRegistry()
	registry, err := c.registry(log, reg)
	if err != nil {
		return nil, err
	}

	s := &responder.Server{
		Address: c.ListenAddress,
		Port:    c.Port,
		Log:     log,
		Filter:  c.Blacklist,
		Policy:  c.Policy,
		Hooks:   registry,
		Lease: responder.LeaseOptions{
			DNS:         c.DNS,
			NTP:         c.NTP,
			LeaseTime:   c.LeaseTime,
			RebindTime:  c.RebindTime,
			RenewalTime: c.RenewalTime,
		},
		PollInterval: c.PollInterval,
		Metrics:      responder.NewMetrics(reg),
	}
	if c.UID >= 0 || c.GID >= 0 {
		s.Credentials = &responder.Credentials{UID: c.UID, GID: c.GID}
	}
	if c.Capture != "" {
		s.Capture, err = pcap.Create(c.Capture)
		if err != nil {
			return nil, fmt.Errorf("opening capture file: %w", err)
		}
	}
	return s, nil
}
