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
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

type requestType int

const (
	requestUnknown requestType = iota
	requestNotify
	requestMSearch
)

const (
	ntsAlive  = "ssdp:alive"
	ntsByebye = "ssdp:byebye"
)

// parseState accumulates one datagram's parse results. Header keys are
// uppercased on the way in; the wire is case-insensitive but peers are not
// consistent about it.
type parseState struct {
	requestType requestType
	status      int
	maxAge      int
	headers     map[string]string
}

func newParseState() *parseState {
	return &parseState{
		maxAge:  defaultMaxAge,
		headers: make(map[string]string, 16),
	}
}

func (s *parseState) requestLine(method, _ string, _, _ int) {
	switch method {
	case "NOTIFY":
		s.requestType = requestNotify
	case "M-SEARCH":
		s.requestType = requestMSearch
	default:
		s.requestType = requestUnknown
	}
}

func (s *parseState) statusLine(_, _, status int) {
	s.status = status
}

func (s *parseState) header(key, value string) {
	key = strings.ToUpper(key)

	if key == "CACHE-CONTROL" {
		if p := strings.Index(value, "max-age="); p >= 0 {
			if age, ok := leadingInt(value[p+len("max-age="):]); ok {
				s.maxAge = age
			}
		}
	}

	s.headers[key] = value
}

// leadingInt parses the decimal digits at the start of s.
func leadingInt(s string) (int, bool) {
	n := 0
	i := 0

	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}

	return n, i > 0
}

// dispatchConn polls one socket for a datagram and applies it to the engine
// state. It reports whether a datagram was consumed, and whether the socket
// failed permanently.
func (e *Engine) dispatchConn(conn udpConn, response bool) (handled, permanent bool) {
	_ = conn.SetReadDeadline(e.now().Add(pollTimeout))

	n, addr, err := conn.ReadFrom(e.buf[:])
	if err != nil {
		if isTimeout(err) {
			return false, false
		}

		// Sockets end up in ECONNABORTED after e.g. returning from sleep
		// mode; only a rebuild helps then.
		if errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ENOTCONN) {
			e.log.Debug().Err(err).Msg("permanent dispatch error")
			return false, true
		}

		e.log.Warn().Err(err).Msg("transient dispatch error")

		return false, false
	}

	from, ok := addr.(*net.UDPAddr)
	if !ok {
		return true, false
	}

	e.log.Debug().Stringer("from", from).Int("bytes", n).Msg("received datagram")

	e.handleDatagram(e.buf[:n], from, response)

	return true, false
}

func isTimeout(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// handleDatagram classifies one datagram and applies it: NOTIFY alive/byebye
// and search responses feed the discovery cache, M-SEARCH may emit search
// responses. The multicast socket carries requests; per-interface sockets
// carry responses to our own searches — a stray request there parses as a
// response and is dropped.
func (e *Engine) handleDatagram(data []byte, from *net.UDPAddr, response bool) {
	state := newParseState()

	var err error
	if response {
		err = parseResponse(data, state.statusLine, state.header)
	} else {
		err = parseRequest(data, state.requestLine, state.header)
	}

	if err != nil {
		e.log.Warn().Stringer("from", from).Err(err).Msg("malformed message")
		return
	}

	now := e.now()
	usn, hasUSN := state.headers["USN"]
	location := state.headers["LOCATION"]

	if response {
		if state.status != http.StatusOK {
			return
		}

		if !hasUSN {
			e.log.Warn().Stringer("from", from).Msg("malformed message: missing USN header")
			return
		}

		e.upsertDiscovered(usn, location, state.maxAge, now)

		return
	}

	switch state.requestType {
	case requestNotify:
		if !hasUSN {
			e.log.Warn().Stringer("from", from).Msg("malformed message: missing USN header")
			return
		}

		switch state.headers["NTS"] {
		case ntsAlive:
			e.upsertDiscovered(usn, location, state.maxAge, now)
		case ntsByebye:
			e.removeDiscovered(usn)
		}
	case requestMSearch:
		st, ok := state.headers["ST"]
		if !ok {
			e.log.Warn().Stringer("from", from).Msg("malformed search: missing ST header")
			return
		}

		e.handleSearch(st, from)
	case requestUnknown:
	}
}

// handleSearch answers an M-SEARCH: every registered device whose type
// matches the search target gets a unicast response through the local
// interface closest to the requester.
func (e *Engine) handleSearch(st string, from *net.UDPAddr) {
	fromAddr := ipToU32(from.IP)

	for _, dev := range e.registered {
		if dev.desc.DeviceType != st {
			continue
		}

		iface := e.bestInterface(fromAddr)
		if iface < 0 {
			e.log.Error().Stringer("from", from).Msg("no output socket available for search response")
			continue
		}

		e.log.Debug().Str("udn", dev.desc.UDN).Stringer("to", from).Msg("sending search response")

		v := deviceVars(nil, dev.desc)
		v = searchVars(v, st)
		v = e.globalVars(v)
		v = hostnameVars(v, e.ifaces[iface].addr)

		msg, err := expand(searchResponseTemplate, v)
		if err != nil {
			e.log.Error().Err(err).Msg("failed to format search response")
			continue
		}

		if len(msg) > datagramSize {
			e.log.Error().Int("size", len(msg)).Msg("search response exceeds datagram size")
			continue
		}

		if _, err := e.ifaces[iface].conn.WriteTo([]byte(msg), from); err != nil {
			e.log.Warn().Err(err).Msg("failed to send search response")
		}
	}
}

// bestInterface picks the bound interface whose address XOR-ed with the
// requester's yields the smallest value — the nearest thing to a same-subnet
// check without access to netmasks. Ties go to the earlier slot; -1 means no
// bound interface exists.
func (e *Engine) bestInterface(from uint32) int {
	best := -1

	var bestDistance uint32

	for i := range e.ifaces {
		if e.ifaces[i].conn == nil {
			continue
		}

		distance := e.ifaces[i].addr ^ from
		if best < 0 || distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}

	return best
}
