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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/metal-stack/v"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer DHCP requests forwarded by relay agents",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	Run: func(cmd *cobra.Command, args []string) {
		c, err := LoadConfig(viper.GetViper())
		if err != nil {
			fatalf("Error in configuration: %s", err)
		}
		log, err := newLogger(c.LogLevel, c.LogFormat)
		if err != nil {
			fatalf("Error creating logger: %s", err)
		}
		defer func() { _ = log.Sync() }()

		s, err := c.Server(log)
		if err != nil {
			fatalf("Error creating server: %s", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Infow("relay-dhcpd", "version", v.V.String(), "config", viper.ConfigFileUsed())
		err = s.Serve(ctx)
		if s.Capture != nil {
			if cerr := s.Capture.Close(); cerr != nil {
				log.Warnw("closing capture file failed", "error", cerr)
			}
		}
		if err != nil {
			log.Errorw("server failed", "error", err)
			fatalf("Error serving: %s", err)
		}
		log.Info("shut down")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serverConfigFlags(serveCmd.Flags())
}
