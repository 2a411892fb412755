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
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// maxHTTPHostLen bounds the captured Host header value.
const maxHTTPHostLen = 63

// startHTTP brings up the device description server. Announcements point
// peers at http://<interface>:<port>/<id>; the port is recorded in ASCII for
// templating.
func (e *Engine) startHTTP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		_ = ln.Close()
		return err
	}

	e.httpPort = port
	e.httpServer = &http.Server{
		Handler:           http.HandlerFunc(e.serveDescription),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := e.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error().Err(err).Msg("description server stopped")
		}
	}()

	e.log.Info().Str("port", port).Msg("description server listening")

	return nil
}

// serveDescription answers GET /<anything>/<id> with the device's
// description document. The ${HTTP-HOST} tokens in the document are replaced
// with the Host the client used to reach us, so the document points back at
// an address the client can actually resolve.
func (e *Engine) serveDescription(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if len(host) > maxHTTPHostLen {
		host = host[:maxHTTPHostLen]
	}

	e.mu.Lock()
	e.httpHost = host

	slash := strings.LastIndexByte(r.URL.Path, '/')
	if slash < 0 {
		e.mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Bad URL")

		return
	}

	id := r.URL.Path[slash+1:]

	dev, ok := e.registered[hash64(id)]
	if !ok {
		e.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "Device not found")

		return
	}

	body, err := expand(dev.desc.DescriptionTemplate, httpHostVars(nil, e.httpHost))
	e.mu.Unlock()

	if err != nil {
		e.log.Error().Err(err).Str("device", id).Msg("failed to format device description")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "Internal error")

		return
	}

	_, _ = io.WriteString(w, body)
}
