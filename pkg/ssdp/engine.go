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
	"hash/fnv"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/JamesOrson/defold/pkg/logger"
)

const (
	multicastListenAddr = "0.0.0.0:1900"
	multicastTTL        = 4

	maxLocalInterfaces   = 32
	maxRegisteredDevices = 32
	maxDiscoveredDevices = 1024

	// One Ethernet MTU; every datagram must fit.
	datagramSize = 1500

	defaultMaxAge = 1800

	interfaceRefreshPeriod = 4 * time.Second

	// How long a poll waits on a socket that has nothing for us.
	pollTimeout = time.Millisecond
)

var (
	multicastIP      = net.IPv4(239, 255, 255, 250)
	multicastUDPAddr = &net.UDPAddr{IP: multicastIP, Port: 1900}
)

// Engine is an SSDP endpoint. It owns the multicast receive socket, one
// send socket per local interface, the registry of local devices, the cache
// of discovered remote devices, and the HTTP description server.
//
// All discovery work happens inside Update; the caller drives the engine
// from a single goroutine. The mutex exists for the HTTP description
// handler, which net/http runs on its own goroutines.
type Engine struct {
	cfg Config
	log logger.Logger

	mu sync.Mutex

	mcast  udpConn
	ifaces []localInterface

	registered map[uint64]*registeredDevice
	discovered map[uint64]*discoveredDevice

	// Scratch buffer, reused for one datagram at a time.
	buf [datagramSize]byte

	maxAgeText string

	refreshAt time.Time
	reconnect bool

	httpHost   string
	httpPort   string
	httpServer *http.Server

	// Seams for tests.
	now              func() time.Time
	listInterfaces   func() ([]localInterface, error)
	newIfaceConn     func(ip net.IP, name string) (udpConn, error)
	newMulticastConn func() (udpConn, error)
}

// New creates an engine: the multicast receive socket is bound and joined to
// the SSDP group, and the description server starts on cfg.HTTPAddr. Failure
// of either wraps ErrNetwork.
func New(cfg Config, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	e := &Engine{
		cfg:        cfg,
		log:        log.WithComponent("ssdp"),
		registered: make(map[uint64]*registeredDevice),
		discovered: make(map[uint64]*discoveredDevice),
		maxAgeText: strconv.Itoa(cfg.MaxAge),
		now:        time.Now,
	}

	e.listInterfaces = systemInterfaces
	e.newIfaceConn = e.dialInterfaceConn
	e.newMulticastConn = e.dialMulticastConn

	if err := e.connect(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	if err := e.startHTTP(cfg.HTTPAddr); err != nil {
		_ = e.mcast.Close()
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return e, nil
}

// connect (re)creates the multicast receive socket.
func (e *Engine) connect() error {
	if e.mcast != nil {
		_ = e.mcast.Close()
		e.mcast = nil
	}

	conn, err := e.newMulticastConn()
	if err != nil {
		return err
	}

	e.mcast = conn

	return nil
}

// Update runs one engine tick: rebuild the multicast socket if flagged,
// reconcile interfaces when the refresh deadline has elapsed, expire stale
// discovered devices, announce due registered devices, then drain readable
// datagrams until a full pass over all sockets yields nothing. When search
// is set, one M-SEARCH probe goes out per bound interface afterwards.
func (e *Engine) Update(search bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if e.reconnect {
		e.log.Warn().Msg("reconnecting multicast socket")

		if err := e.connect(); err != nil {
			e.log.Error().Err(err).Msg("failed to reconnect multicast socket")
		}

		e.reconnect = false
	}

	if now.After(e.refreshAt) {
		e.refreshAt = now.Add(interfaceRefreshPeriod)
		e.refreshInterfaces()
	}

	e.expireDiscovered(now)

	if e.cfg.Announce {
		e.announceRegistered(now)
	}

	e.drain()

	if search {
		e.sendSearch()
	}
}

// drain processes readable datagrams: the multicast socket first, then the
// per-interface sockets in address order, repeating until a full pass stays
// silent.
func (e *Engine) drain() {
	for {
		got := false

		if e.mcast != nil {
			handled, permanent := e.dispatchConn(e.mcast, false)
			if permanent {
				e.reconnect = true
			} else if handled {
				got = true
			}
		}

		for i := range e.ifaces {
			if e.ifaces[i].conn == nil {
				continue
			}

			if handled, _ := e.dispatchConn(e.ifaces[i].conn, true); handled {
				got = true
			}
		}

		if !got {
			return
		}
	}
}

// sendSearch emits one M-SEARCH probe through every bound interface socket.
func (e *Engine) sendSearch() {
	v := e.globalVars(nil)

	for i := range e.ifaces {
		if e.ifaces[i].conn == nil {
			continue
		}

		e.log.Debug().Str("interface", e.ifaces[i].name).Msg("sending M-SEARCH")

		e.sendMulticast(e.ifaces[i].conn, searchTemplate, v, "search")
	}
}

// HTTPPort returns the description server's listen port.
func (e *Engine) HTTPPort() string {
	return e.httpPort
}

// Close shuts the engine down: all sockets and the description server are
// released. Registered devices are not byebye'd; deregister them first if
// peers should forget them promptly.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.ifaces {
		e.closeInterface(i)
	}

	e.ifaces = nil

	if e.mcast != nil {
		_ = e.mcast.Close()
		e.mcast = nil
	}

	var err error
	if e.httpServer != nil {
		err = e.httpServer.Close()
		e.httpServer = nil
	}

	e.log.Info().Msg("engine stopped")

	return err
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))

	return h.Sum64()
}
