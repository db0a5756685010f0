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
	"fmt"
	"time"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
	"github.com/metal-stack/relay-dhcpd/hooks"
)

// alwaysKept are the options a reply carries even when the client's
// parameter request list doesn't ask for them.
var alwaysKept = []dhcp4.Tag{
	dhcp4.OptLeaseTime,
	dhcp4.OptMessageType,
	dhcp4.OptServerIdentifier,
	dhcp4.OptClassIdentifier,
	dhcp4.OptClientIdentifier,
	dhcp4.OptRelayAgentInfo,
}

// Handle decodes one datagram and returns the reply to send back to
// its source, or nil if it gets no reply. The error is only set for
// datagrams that can't be decoded at all.
func (s *Server) Handle(b []byte) (*dhcp4.Packet, error) {
	s.Metrics.datagram()
	req, err := dhcp4.Unmarshal(b)
	if err != nil {
		s.Metrics.drop(dropMalformed)
		return nil, err
	}
	return s.process(req), nil
}

// handle is Handle plus the logging the serve loop wants for
// undecodable datagrams.
func (s *Server) handle(b []byte) *dhcp4.Packet {
	reply, err := s.Handle(b)
	if err != nil {
		s.Log.Errorw("processing error", "error", err)
		s.Log.Debugf("dumping message packet for debug: % x", b)
		return nil
	}
	return reply
}

func (s *Server) process(pkt *dhcp4.Packet) *dhcp4.Packet {
	req := pkt.Clone()
	if !req.Valid() {
		// Anything we can't classify is answered like a request.
		req.Options = req.Options.With(dhcp4.MessageTypeOf(dhcp4.MsgRequest))
		s.Metrics.coerce()
	}

	if rule, ok := s.Filter.Lookup(req.HardwareAddr[:]); ok {
		s.Log.Infow("ignoring DHCP packet due to blacklist", "mac", req.MAC(), "rule", rule)
		s.Metrics.drop(dropBlacklisted)
		return nil
	}

	s.Log.Infow("received", "type", req.MessageType(), "ciaddr", req.CIAddr, "mac", req.MAC(), "giaddr", req.GIAddr)
	s.Log.Debug(req)

	// BOOTP relays that only fill in ciaddr.
	if req.GIAddr == 0 && req.CIAddr != 0 {
		req.GIAddr = req.CIAddr - 1
	}
	if req.GIAddr == 0 {
		s.Log.Infow("cannot handle packet with no giaddr", "mac", req.MAC())
		s.Metrics.drop(dropNoGIAddr)
		return nil
	}

	var (
		reqStage, replyStage hooks.Stage
		reply                *dhcp4.Packet
	)
	switch req.MessageType() {
	case dhcp4.MsgDiscover:
		reqStage, replyStage = hooks.Discover, hooks.Offer
		if !s.runHooks(reqStage, req) {
			return nil
		}
		reply = s.request2reply(req, dhcp4.MsgOffer, dhcp4.FlagBroadcast)
	case dhcp4.MsgRequest:
		reqStage, replyStage = hooks.Request, hooks.Acknowledge
		if !s.runHooks(reqStage, req) {
			return nil
		}
		reply = s.request2reply(req, dhcp4.MsgAck, req.Flags)
	default:
		s.Metrics.drop(dropMessageType)
		return nil
	}

	if !s.runHooks(replyStage, reply) {
		return nil
	}

	s.Log.Infow("sending", "type", reply.MessageType(), "yiaddr", reply.YIAddr, "mac", reply.MAC(), "giaddr", reply.GIAddr)
	s.Log.Debug(reply)
	return reply
}

func (s *Server) runHooks(stage hooks.Stage, pkt *dhcp4.Packet) bool {
	if s.Hooks.Run(stage, pkt) {
		return true
	}
	s.Log.Debugw("packet rejected by hook", "stage", string(stage), "mac", pkt.MAC())
	s.Metrics.drop(fmt.Sprintf("%s-%s", dropHook, stage))
	return false
}

// request2reply derives the reply to req. req itself is left alone.
func (s *Server) request2reply(req *dhcp4.Packet, typ dhcp4.MessageType, flags uint16) *dhcp4.Packet {
	yiaddr, mask := s.Policy.Assign(req.GIAddr)

	reply := req.Clone()
	reply.Op = dhcp4.OpReply
	reply.Flags = flags
	reply.Cookie = dhcp4.MagicCookie
	reply.YIAddr = yiaddr
	reply.Options = s.curate(req, mask).With(dhcp4.MessageTypeOf(typ))
	return reply
}

// curate builds the option set of a reply from the options of req.
func (s *Server) curate(req *dhcp4.Packet, mask dhcp4.Addr) dhcp4.Options {
	opts := req.Options.Without(dhcp4.OptParameterRequestList, dhcp4.OptRequestedIP)

	for _, opt := range []dhcp4.Option{
		dhcp4.SubnetMask(mask),
		dhcp4.Routers(req.GIAddr),
		dhcp4.DomainNameServers(s.Lease.DNS...),
		dhcp4.LeaseTime(seconds(s.Lease.LeaseTime)),
		dhcp4.NTPServers(s.Lease.NTP...),
		dhcp4.RebindingTime(seconds(s.Lease.RebindTime)),
		dhcp4.RenewalTime(seconds(s.Lease.RenewalTime)),
		dhcp4.ServerIdentifier(s.identifier()),
	} {
		opts = opts.With(opt)
	}

	requested, ok := req.Options.RequestedTags()
	if !ok {
		return opts
	}
	keep := map[dhcp4.Tag]bool{}
	for _, t := range append(requested, alwaysKept...) {
		keep[t] = true
	}
	return opts.Filter(func(o dhcp4.Option) bool {
		if !keep[o.Tag()] {
			s.Log.Debugw("dropping option, not requested", "option", o.Tag().String())
			return false
		}
		return true
	})
}

// identifier is the server identifier announced to clients.
func (s *Server) identifier() dhcp4.Addr {
	a, err := dhcp4.ParseAddr(s.Address)
	if err != nil {
		return 0
	}
	return a
}

func seconds(d time.Duration) uint32 {
	return uint32(d / time.Second)
}
