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

import "errors"

var (
	// ErrAlreadyRegistered is returned when a device id is registered twice.
	ErrAlreadyRegistered = errors.New("device already registered")

	// ErrNotRegistered is returned when deregistering an unknown device id.
	ErrNotRegistered = errors.New("device not registered")

	// ErrOutOfResources is returned when the device registry is full.
	ErrOutOfResources = errors.New("out of resources")

	// ErrNetwork wraps creation-time socket, HTTP server, and configuration
	// failures.
	ErrNetwork = errors.New("network error")

	// ErrMalformed is returned by the header parser for input that is not a
	// well-formed HTTP-over-UDP message.
	ErrMalformed = errors.New("malformed message")

	// ErrTemplateVar is returned when a ${KEY} token cannot be resolved by
	// any frame of the variable chain.
	ErrTemplateVar = errors.New("unresolved template variable")

	errAnnounceInterval = errors.New("announce interval must not exceed max age")
	errNegativeMaxAge   = errors.New("max age must be positive")
)
