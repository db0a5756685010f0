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
	"net"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metal-stack/relay-dhcpd/macfilter"
)

var checkMACCmd = &cobra.Command{
	Use:   "check-mac mac",
	Short: "Tell whether the configured blacklist ignores a MAC address",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	Run: func(cmd *cobra.Command, args []string) {
		c, err := LoadConfig(viper.GetViper())
		if err != nil {
			fatalf("Error in configuration: %s", err)
		}
		blacklisted, err := checkMAC(cmd.OutOrStdout(), c.Blacklist, args[0])
		if err != nil {
			fatalf("Error: %s", err)
		}
		if blacklisted {
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkMACCmd)
	serverConfigFlags(checkMACCmd.Flags())
}

func checkMAC(w io.Writer, l macfilter.List, mac string) (bool, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return false, err
	}
	if len(hw) != 6 {
		return false, fmt.Errorf("%s is not an ethernet address", hw)
	}
	if rule, ok := l.Lookup(hw); ok {
		fmt.Fprintf(w, "%s is blacklisted by %s\n", hw, rule)
		return true, nil
	}
	fmt.Fprintf(w, "%s is not blacklisted\n", hw)
	return false, nil
}
