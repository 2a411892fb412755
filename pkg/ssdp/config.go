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

// Config holds the engine's lifecycle configuration.
type Config struct {
	// MaxAge is the advertised lease time in seconds for our own
	// announcements, and the CACHE-CONTROL value peers will see.
	MaxAge int `json:"max_age"`

	// Announce enables periodic ssdp:alive notifications for registered
	// devices.
	Announce bool `json:"announce"`

	// AnnounceInterval is the time in seconds between alive notifications
	// per device and interface. Must not exceed MaxAge; typically MaxAge/2.
	AnnounceInterval int `json:"announce_interval"`

	// ServerHeader is the SERVER header value sent on every outbound
	// message. Defaults to "Defold SSDP 1.0".
	ServerHeader string `json:"server_header,omitempty"`

	// HTTPAddr is the listen address for the device description server.
	// Defaults to an ephemeral port on all interfaces.
	HTTPAddr string `json:"http_addr,omitempty"`
}

const defaultServerHeader = "Defold SSDP 1.0"

// Validate applies defaults and checks the announce interval invariant.
func (c *Config) Validate() error {
	if c.MaxAge == 0 {
		c.MaxAge = defaultMaxAge
	}

	if c.MaxAge < 0 {
		return errNegativeMaxAge
	}

	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = c.MaxAge / 2
	}

	if c.AnnounceInterval > c.MaxAge {
		return errAnnounceInterval
	}

	if c.ServerHeader == "" {
		c.ServerHeader = defaultServerHeader
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = ":0"
	}

	return nil
}
