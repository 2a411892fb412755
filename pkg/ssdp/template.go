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
	"fmt"
	"strings"

	"github.com/JamesOrson/defold/pkg/models"
)

// The wire messages. Every line ends with CRLF and a trailing blank line
// terminates the message; ${KEY} tokens are substituted before transmission.
const (
	aliveTemplate = "NOTIFY * HTTP/1.1\r\n" +
		"SERVER: ${SERVER}\r\n" +
		"CACHE-CONTROL: max-age=${MAX_AGE}\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"LOCATION: http://${HOSTNAME}:${HTTPPORT}/${ID}\r\n" +
		"NTS: ssdp:alive\r\n" +
		"NT: ${NT}\r\n" +
		"USN: ${UDN}::${DEVICE_TYPE}\r\n\r\n"

	byebyeTemplate = "NOTIFY * HTTP/1.1\r\n" +
		"SERVER: ${SERVER}\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NTS: ssdp:byebye\r\n" +
		"NT: ${NT}\r\n" +
		"USN: ${UDN}::${DEVICE_TYPE}\r\n\r\n"

	// No DATE header; the engine has no use for wall-clock formatting on
	// the wire.
	searchResponseTemplate = "HTTP/1.1 200 OK\r\n" +
		"SERVER: ${SERVER}\r\n" +
		"CACHE-CONTROL: max-age=${MAX_AGE}\r\n" +
		"LOCATION: http://${HOSTNAME}:${HTTPPORT}/${ID}\r\n" +
		"ST: ${ST}\r\n" +
		"EXT:\r\n" +
		"USN: ${UDN}::${DEVICE_TYPE}\r\n" +
		"Content-Length: 0\r\n\r\n"

	searchTemplate = "M-SEARCH * HTTP/1.1\r\n" +
		"SERVER: ${SERVER}\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: upnp:rootdevice\r\n\r\n"
)

// vars is one frame of the variable-lookup chain. A key missing in a frame
// falls through to its parent; a key missing in every frame is a template
// error.
type vars struct {
	parent  *vars
	resolve func(key string) (string, bool)
}

func (v *vars) lookup(key string) (string, bool) {
	for f := v; f != nil; f = f.parent {
		if f.resolve == nil {
			continue
		}

		if value, ok := f.resolve(key); ok {
			return value, true
		}
	}

	return "", false
}

// expand replaces every ${KEY} token in tmpl using the variable chain.
func expand(tmpl string, v *vars) (string, error) {
	var b strings.Builder

	b.Grow(len(tmpl) + 64)

	for i := 0; i < len(tmpl); {
		j := strings.Index(tmpl[i:], "${")
		if j < 0 {
			b.WriteString(tmpl[i:])
			break
		}

		b.WriteString(tmpl[i : i+j])

		rest := tmpl[i+j+2:]

		k := strings.IndexByte(rest, '}')
		if k < 0 {
			return "", fmt.Errorf("%w: unterminated token", ErrTemplateVar)
		}

		key := rest[:k]

		value, ok := v.lookup(key)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrTemplateVar, key)
		}

		b.WriteString(value)

		i += j + 2 + k + 1
	}

	return b.String(), nil
}

// hostnameVars exposes HOSTNAME as the dotted-quad form of addr.
func hostnameVars(parent *vars, addr uint32) *vars {
	return &vars{parent: parent, resolve: func(key string) (string, bool) {
		if key == "HOSTNAME" {
			return u32ToIP(addr).String(), true
		}

		return "", false
	}}
}

// globalVars exposes the engine-wide HTTPPORT, MAX_AGE and SERVER values.
func (e *Engine) globalVars(parent *vars) *vars {
	return &vars{parent: parent, resolve: func(key string) (string, bool) {
		switch key {
		case "HTTPPORT":
			return e.httpPort, true
		case "MAX_AGE":
			return e.maxAgeText, true
		case "SERVER":
			return e.cfg.ServerHeader, true
		}

		return "", false
	}}
}

// deviceVars exposes the descriptor fields of a registered device.
func deviceVars(parent *vars, desc *models.DeviceDescriptor) *vars {
	return &vars{parent: parent, resolve: func(key string) (string, bool) {
		switch key {
		case "UDN":
			return desc.UDN, true
		case "NT", "DEVICE_TYPE":
			return desc.DeviceType, true
		case "ID":
			return desc.ID, true
		}

		return "", false
	}}
}

// searchVars exposes ST from the inbound search being answered.
func searchVars(parent *vars, st string) *vars {
	return &vars{parent: parent, resolve: func(key string) (string, bool) {
		if key == "ST" {
			return st, true
		}

		return "", false
	}}
}

// httpHostVars exposes HTTP-HOST, the Host header of the current HTTP
// request.
func httpHostVars(parent *vars, host string) *vars {
	return &vars{parent: parent, resolve: func(key string) (string, bool) {
		if key == "HTTP-HOST" {
			return host, true
		}

		return "", false
	}}
}
