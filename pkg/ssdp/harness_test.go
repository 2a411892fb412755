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
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JamesOrson/defold/pkg/logger"
	"github.com/JamesOrson/defold/pkg/models"
)

type fakePacket struct {
	data []byte
	addr *net.UDPAddr
}

// fakeConn is an in-memory udpConn: queued inbound datagrams are handed out
// one per read, outbound datagrams are recorded.
type fakeConn struct {
	name     string
	inbox    []fakePacket
	sent     []fakePacket
	readErrs []error
	closed   bool
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if len(c.readErrs) > 0 {
		err := c.readErrs[0]
		c.readErrs = c.readErrs[1:]

		return 0, nil, err
	}

	if len(c.inbox) == 0 {
		return 0, nil, os.ErrDeadlineExceeded
	}

	pkt := c.inbox[0]
	c.inbox = c.inbox[1:]

	return copy(p, pkt.data), pkt.addr, nil
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)

	ua, _ := addr.(*net.UDPAddr)
	c.sent = append(c.sent, fakePacket{data: data, addr: ua})

	return len(p), nil
}

func (*fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) push(msg string, from *net.UDPAddr) {
	c.inbox = append(c.inbox, fakePacket{data: []byte(msg), addr: from})
}

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// harness wires an Engine to fake sockets and a fake clock. The interface
// list the engine observes is whatever setAddrs installed last; per-address
// bind errors can be staged through bindErrs.
type harness struct {
	t      *testing.T
	engine *Engine
	clock  *fakeClock
	mcast  *fakeConn

	ifaceList  []localInterface
	ifaceConns map[string]*fakeConn
	bindErrs   map[string]error
	bindCalls  map[string]int
}

func newHarness(t *testing.T, cfg Config, addrs ...string) *harness {
	t.Helper()

	require.NoError(t, cfg.Validate())

	h := &harness{
		t:          t,
		clock:      newFakeClock(),
		mcast:      &fakeConn{name: "mcast"},
		ifaceConns: make(map[string]*fakeConn),
		bindErrs:   make(map[string]error),
		bindCalls:  make(map[string]int),
	}

	e := &Engine{
		cfg:        cfg,
		log:        logger.NewTestLogger(),
		mcast:      h.mcast,
		registered: make(map[uint64]*registeredDevice),
		discovered: make(map[uint64]*discoveredDevice),
		maxAgeText: strconv.Itoa(cfg.MaxAge),
		httpPort:   "8080",
	}

	e.now = h.clock.Now
	e.listInterfaces = func() ([]localInterface, error) { return h.interfaces(), nil }
	e.newIfaceConn = func(ip net.IP, _ string) (udpConn, error) {
		h.bindCalls[ip.String()]++

		if err := h.bindErrs[ip.String()]; err != nil {
			return nil, err
		}

		conn := &fakeConn{name: ip.String()}
		h.ifaceConns[ip.String()] = conn

		return conn, nil
	}
	e.newMulticastConn = func() (udpConn, error) {
		h.mcast = &fakeConn{name: "mcast"}
		return h.mcast, nil
	}

	h.engine = e
	h.setAddrs(addrs...)

	return h
}

// setAddrs replaces the interface list the engine will observe on its next
// reconciliation.
func (h *harness) setAddrs(addrs ...string) {
	out := make([]localInterface, 0, len(addrs))

	for i, a := range addrs {
		ip := net.ParseIP(a).To4()
		require.NotNil(h.t, ip, "bad test address %q", a)

		out = append(out, localInterface{
			addr: ipToU32(ip),
			ip:   ip,
			name: fmt.Sprintf("eth%d", i),
		})
	}

	sort.Slice(out, func(a, b int) bool { return out[a].addr < out[b].addr })

	h.ifaceList = out
}

func (h *harness) interfaces() []localInterface {
	out := make([]localInterface, len(h.ifaceList))
	copy(out, h.ifaceList)

	return out
}

// conn returns the fake socket bound to the given address, nil when binding
// never happened or failed.
func (h *harness) conn(addr string) *fakeConn {
	return h.ifaceConns[addr]
}

func testDescriptor2(id, udn, deviceType string) *models.DeviceDescriptor {
	return &models.DeviceDescriptor{ID: id, UDN: udn, DeviceType: deviceType}
}

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()

	addr, err := net.ResolveUDPAddr("udp4", s)
	require.NoError(t, err)

	return addr
}

// countMessages counts sent datagrams whose first line matches firstLine and
// that carry every given header line.
func countMessages(c *fakeConn, firstLine string, headerLines ...string) int {
	n := 0

outer:
	for _, pkt := range c.sent {
		msg := string(pkt.data)
		if !strings.HasPrefix(msg, firstLine+"\r\n") {
			continue
		}

		for _, h := range headerLines {
			if !strings.Contains(msg, "\r\n"+h+"\r\n") {
				continue outer
			}
		}

		n++
	}

	return n
}

func discoveredSnapshot(e *Engine) map[string]time.Time {
	out := make(map[string]time.Time)

	e.Discovered(func(d models.DiscoveredDevice) bool {
		out[d.USN] = d.Expires
		return true
	})

	return out
}
