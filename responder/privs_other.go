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

//go:build !(linux || freebsd || openbsd)

package responder

import "errors"

// Drop is only supported where setresuid(2) exists.
func (c *Credentials) Drop() error {
	if c == nil || (c.UID < 0 && c.GID < 0) {
		return nil
	}
	return errors.New("dropping privileges is not supported on this platform")
}
