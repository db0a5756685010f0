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

//go:build linux || freebsd || openbsd

package responder

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Drop switches the process to the group and user of c. The group
// goes first, since changing it needs the privileges given up by
// changing the user. A negative ID leaves that ID alone.
func (c *Credentials) Drop() error {
	if c == nil {
		return nil
	}
	if c.GID >= 0 {
		if err := unix.Setresgid(c.GID, c.GID, c.GID); err != nil {
			return fmt.Errorf("setting group ID to %d: %w", c.GID, err)
		}
	}
	if c.UID >= 0 {
		if err := unix.Setresuid(c.UID, c.UID, c.UID); err != nil {
			return fmt.Errorf("setting user ID to %d: %w", c.UID, err)
		}
	}
	return nil
}
