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

// Package models holds the caller-facing value types of the SSDP engine.
package models

import "time"

// DeviceDescriptor describes a locally-owned device to be advertised over
// SSDP. The engine holds a reference to the descriptor for the duration of
// the registration; callers must keep it alive and unchanged until the
// device is deregistered.
type DeviceDescriptor struct {
	// ID is a short ASCII identifier, unique among registered devices. It is
	// the last path segment of the device's description URL.
	ID string `json:"id"`

	// UDN is the globally-unique device name, typically "uuid:...".
	UDN string `json:"udn"`

	// DeviceType is the URI-like device type advertised as NT and matched
	// against incoming search targets.
	DeviceType string `json:"device_type"`

	// DescriptionTemplate is the device description document served over
	// HTTP. ${HTTP-HOST} tokens are replaced with the requesting client's
	// Host header.
	DescriptionTemplate string `json:"description"`
}

// DiscoveredDevice is a remote device learned from the wire, valid until
// Expires unless renewed by a further announcement.
type DiscoveredDevice struct {
	// USN is the unique service name, typically "<UDN>::<device type>".
	USN string `json:"usn"`

	// Location is the description URL from the LOCATION header, when the
	// announcement carried one.
	Location string `json:"location,omitempty"`

	// Expires is when the lease runs out.
	Expires time.Time `json:"expires"`
}
