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
	"strconv"
	"strings"
)

// parseRequest parses a request-shaped datagram: a request line of the form
// "METHOD TARGET HTTP/MAJOR.MINOR" followed by header lines. The request
// line and every header are emitted through the callbacks. Header keys and
// values are passed through unmodified apart from surrounding whitespace on
// values; matching against keys is the caller's concern.
func parseRequest(data []byte, onRequest func(method, target string, major, minor int), onHeader func(key, value string)) error {
	lines := splitMessage(data)
	if len(lines) == 0 {
		return fmt.Errorf("%w: empty datagram", ErrMalformed)
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return fmt.Errorf("%w: bad request line %q", ErrMalformed, lines[0])
	}

	major, minor, err := parseVersion(parts[2])
	if err != nil {
		return err
	}

	onRequest(parts[0], parts[1], major, minor)

	return parseHeaders(lines[1:], onHeader)
}

// parseResponse parses a response-shaped datagram: a status line of the form
// "HTTP/MAJOR.MINOR STATUS REASON" followed by header lines.
func parseResponse(data []byte, onStatus func(major, minor, status int), onHeader func(key, value string)) error {
	lines := splitMessage(data)
	if len(lines) == 0 {
		return fmt.Errorf("%w: empty datagram", ErrMalformed)
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("%w: bad status line %q", ErrMalformed, lines[0])
	}

	major, minor, err := parseVersion(parts[0])
	if err != nil {
		return err
	}

	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("%w: bad status code %q", ErrMalformed, parts[1])
	}

	onStatus(major, minor, status)

	return parseHeaders(lines[1:], onHeader)
}

func parseVersion(s string) (major, minor int, err error) {
	rest, ok := strings.CutPrefix(s, "HTTP/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: bad version %q", ErrMalformed, s)
	}

	majorStr, minorStr, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, 0, fmt.Errorf("%w: bad version %q", ErrMalformed, s)
	}

	major, err = strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad version %q", ErrMalformed, s)
	}

	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad version %q", ErrMalformed, s)
	}

	return major, minor, nil
}

func parseHeaders(lines []string, onHeader func(key, value string)) error {
	for _, line := range lines {
		if line == "" {
			// Blank line ends the header block; anything after it is not
			// ours to interpret.
			return nil
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
		}

		onHeader(key, strings.TrimSpace(value))
	}

	return nil
}

// splitMessage breaks the datagram into lines. CRLF is the wire form, but a
// bare LF is tolerated.
func splitMessage(data []byte) []string {
	s := string(data)

	// Datagrams read into a fixed buffer may carry a trailing NUL region.
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}

	if s == "" {
		return nil
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	return lines
}
