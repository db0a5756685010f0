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
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metal-stack/relay-dhcpd/dhcp4"
	"github.com/metal-stack/relay-dhcpd/pcap"
	"github.com/metal-stack/relay-dhcpd/responder"
)

var replayCmd = &cobra.Command{
	Use:   "replay capture.pcap",
	Short: "Run captured requests through the responder and print the replies",
	Long: `Replay reads a pcap file, for example one written with --capture or
by tcpdump, and feeds every DHCP request sent to the server port
through the same code path serve uses. Nothing is sent on the
network.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	Run: func(cmd *cobra.Command, args []string) {
		c, err := LoadConfig(viper.GetViper())
		if err != nil {
			fatalf("Error in configuration: %s", err)
		}
		c.Capture = ""
		log, err := newLogger(c.LogLevel, c.LogFormat)
		if err != nil {
			fatalf("Error creating logger: %s", err)
		}
		s, err := c.Server(log)
		if err != nil {
			fatalf("Error creating server: %s", err)
		}

		f, err := os.Open(args[0])
		if err != nil {
			fatalf("Error opening capture: %s", err)
		}
		defer f.Close()
		if err := replay(cmd.OutOrStdout(), s, f); err != nil {
			fatalf("Error replaying %s: %s", args[0], err)
		}
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	serverConfigFlags(replayCmd.Flags())
}

// replay handles every request in the pcap stream r with s and
// prints the outcome to w.
func replay(w io.Writer, s *responder.Server, r io.Reader) error {
	ds, err := pcap.ReadDatagrams(r)
	if err != nil {
		return err
	}
	auto := s.Address == "" || s.Address == responder.AutoAddress

	for _, d := range ds {
		if d.Dst.Port != s.Port || len(d.Payload) == 0 || d.Payload[0] == dhcp4.OpReply {
			continue
		}
		if auto {
			s.Address = d.Dst.IP.String()
		}
		fmt.Fprintf(w, "%s %s -> %s\n", d.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"), d.Src, d.Dst)

		reply, err := s.Handle(d.Payload)
		switch {
		case err != nil:
			fmt.Fprintf(w, "  undecodable: %s\n", err)
		case reply == nil:
			fmt.Fprintln(w, "  no reply")
		default:
			fmt.Fprint(w, reply)
		}
	}
	return nil
}
