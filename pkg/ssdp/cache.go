/*
 * Copyright 2025 James Orson.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ssdp

import (
	"time"

	"github.com/JamesOrson/defold/pkg/models"
)

// discoveredDevice is a remote device learned from an alive notification or
// a search response, kept until its lease expires.
type discoveredDevice struct {
	usn      string
	location string
	expires  time.Time
}

// upsertDiscovered inserts a remote device or, on renewal, pushes its expiry
// forward and replaces its location when the renewal carries one.
func (e *Engine) upsertDiscovered(usn, location string, maxAge int, now time.Time) {
	key := hash64(usn)
	expires := now.Add(time.Duration(maxAge) * time.Second)

	if dev, ok := e.discovered[key]; ok {
		dev.expires = expires

		if location != "" {
			dev.location = location
		}

		e.log.Debug().Str("usn", usn).Msg("renewed discovered device")

		return
	}

	if len(e.discovered) >= maxDiscoveredDevices {
		e.log.Warn().Str("usn", usn).Msg("discovery cache full; ignoring announcement")
		return
	}

	e.discovered[key] = &discoveredDevice{
		usn:      usn,
		location: location,
		expires:  expires,
	}

	e.log.Debug().Str("usn", usn).Str("location", location).Msg("new discovered device")
}

// removeDiscovered drops a remote device, typically on ssdp:byebye.
func (e *Engine) removeDiscovered(usn string) {
	key := hash64(usn)

	if _, ok := e.discovered[key]; ok {
		e.log.Debug().Str("usn", usn).Msg("removing discovered device")
		delete(e.discovered, key)
	}
}

// expireDiscovered removes every device whose lease has run out. Victims are
// collected first and erased after the scan, keeping iteration semantics
// simple.
func (e *Engine) expireDiscovered(now time.Time) {
	var victims []uint64

	for key, dev := range e.discovered {
		if !dev.expires.After(now) {
			victims = append(victims, key)
		}
	}

	for _, key := range victims {
		e.log.Debug().Str("usn", e.discovered[key].usn).Msg("discovered device expired")
		delete(e.discovered, key)
	}
}

// ClearDiscovered empties the discovery cache.
func (e *Engine) ClearDiscovered() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.discovered = make(map[uint64]*discoveredDevice)
}

// Discovered calls fn for every currently known remote device. Returning
// false stops the iteration.
func (e *Engine) Discovered(fn func(models.DiscoveredDevice) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, dev := range e.discovered {
		if !fn(models.DiscoveredDevice{USN: dev.usn, Location: dev.location, Expires: dev.expires}) {
			return
		}
	}
}
