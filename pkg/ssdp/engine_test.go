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
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aliveNotification = "NOTIFY * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"CACHE-CONTROL: max-age=100\r\n" +
	"NT: upnp:rootdevice\r\n" +
	"NTS: ssdp:alive\r\n" +
	"USN: uuid:abc::upnp:rootdevice\r\n\r\n"

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultMaxAge, cfg.MaxAge)
	assert.Equal(t, defaultMaxAge/2, cfg.AnnounceInterval)
	assert.Equal(t, defaultServerHeader, cfg.ServerHeader)

	bad := Config{MaxAge: 60, AnnounceInterval: 120}
	require.ErrorIs(t, bad.Validate(), errAnnounceInterval)

	negative := Config{MaxAge: -1}
	require.ErrorIs(t, negative.Validate(), errNegativeMaxAge)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{MaxAge: 60, AnnounceInterval: 120}, nil)
	require.ErrorIs(t, err, ErrNetwork)
}

func TestAliveThenRenew(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")
	start := h.clock.Now()

	h.mcast.push(aliveNotification, udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)

	devices := discoveredSnapshot(h.engine)
	require.Len(t, devices, 1)
	assert.Equal(t, start.Add(100*time.Second), devices["uuid:abc::upnp:rootdevice"])

	// The same USN announced again with a longer lease: one entry whose
	// expiry reflects the second max-age.
	h.clock.Advance(50 * time.Second)

	renewal := "NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"CACHE-CONTROL: max-age=200\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:alive\r\n" +
		"USN: uuid:abc::upnp:rootdevice\r\n\r\n"
	h.mcast.push(renewal, udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)

	devices = discoveredSnapshot(h.engine)
	require.Len(t, devices, 1)
	assert.Equal(t, start.Add(250*time.Second), devices["uuid:abc::upnp:rootdevice"])
}

func TestByebyeRemovesDevice(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")

	h.mcast.push(aliveNotification, udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)
	require.Len(t, discoveredSnapshot(h.engine), 1)

	byebye := "NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:byebye\r\n" +
		"USN: uuid:abc::upnp:rootdevice\r\n\r\n"
	h.mcast.push(byebye, udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)

	assert.Empty(t, discoveredSnapshot(h.engine))
}

func TestDiscoveredExpiresAfterTick(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")

	h.mcast.push(aliveNotification, udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)

	h.clock.Advance(100 * time.Second)
	h.engine.Update(false)

	assert.Empty(t, discoveredSnapshot(h.engine))
}

func TestSearchMatch(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1", "192.168.1.10")
	h.engine.Update(false)

	require.NoError(t, h.engine.RegisterDevice(testDescriptor2("dev1", "uuid:xyz", "urn:foo:bar")))

	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST:239.255.255.250:1900\r\n" +
		"MAN:\"ssdp:discover\"\r\n" +
		"MX:3\r\n" +
		"ST: urn:foo:bar\r\n\r\n"
	h.mcast.push(search, udpAddr(t, "192.168.1.50:5000"))
	h.engine.Update(false)

	// The response leaves through the interface closest to the requester,
	// as unicast back to its source.
	far := h.conn("10.0.0.1")
	near := h.conn("192.168.1.10")

	assert.Empty(t, far.sent)
	require.Len(t, near.sent, 1)
	assert.Equal(t, "192.168.1.50:5000", near.sent[0].addr.String())
	assert.LessOrEqual(t, len(near.sent[0].data), datagramSize)

	headers := make(map[string]string)

	var status int

	err := parseResponse(near.sent[0].data,
		func(_, _, st int) { status = st },
		func(key, value string) { headers[key] = value })
	require.NoError(t, err)

	assert.Equal(t, 200, status)
	assert.Equal(t, "urn:foo:bar", headers["ST"])
	assert.Equal(t, "uuid:xyz::urn:foo:bar", headers["USN"])
	assert.Equal(t, "http://192.168.1.10:8080/dev1", headers["LOCATION"])
	assert.Equal(t, "", headers["EXT"])
}

func TestSearchMiss(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1", "192.168.1.10")
	h.engine.Update(false)

	require.NoError(t, h.engine.RegisterDevice(testDescriptor2("dev1", "uuid:xyz", "urn:foo:bar")))

	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"ST: urn:other:baz\r\n\r\n"
	h.mcast.push(search, udpAddr(t, "192.168.1.50:5000"))
	h.engine.Update(false)

	assert.Empty(t, h.conn("10.0.0.1").sent)
	assert.Empty(t, h.conn("192.168.1.10").sent)
}

func TestSearchMissingST(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")
	h.engine.Update(false)

	require.NoError(t, h.engine.RegisterDevice(testDescriptor2("dev1", "uuid:xyz", "urn:foo:bar")))

	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n\r\n"
	h.mcast.push(search, udpAddr(t, "10.0.0.5:5000"))
	h.engine.Update(false)

	assert.Empty(t, h.conn("10.0.0.1").sent)
}

func TestSearchNoValidInterface(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")
	h.bindErrs["10.0.0.1"] = errors.New("address in use")
	h.engine.Update(false)

	require.NoError(t, h.engine.RegisterDevice(testDescriptor2("dev1", "uuid:xyz", "urn:foo:bar")))

	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"ST: urn:foo:bar\r\n\r\n"
	h.mcast.push(search, udpAddr(t, "10.0.0.5:5000"))

	// Must not panic; the response is dropped.
	h.engine.Update(false)
}

func TestSearchRoutesAroundInvalidSlot(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1", "192.168.1.10")
	h.bindErrs["192.168.1.10"] = errors.New("address in use")
	h.engine.Update(false)

	require.NoError(t, h.engine.RegisterDevice(testDescriptor2("dev1", "uuid:xyz", "urn:foo:bar")))

	// The nominally closest interface failed to bind; the response must use
	// the remaining bound one.
	search := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"ST: urn:foo:bar\r\n\r\n"
	h.mcast.push(search, udpAddr(t, "192.168.1.50:5000"))
	h.engine.Update(false)

	conn := h.conn("10.0.0.1")
	require.Len(t, conn.sent, 1)
	assert.Contains(t, string(conn.sent[0].data), "LOCATION: http://10.0.0.1:8080/dev1\r\n")
}

func TestResponseInsertsIntoCache(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")
	h.engine.Update(false)

	response := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=300\r\n" +
		"LOCATION: http://192.168.1.20:8000/dev\r\n" +
		"ST: upnp:rootdevice\r\n" +
		"USN: uuid:peer::upnp:rootdevice\r\n\r\n"
	h.conn("10.0.0.1").push(response, udpAddr(t, "192.168.1.20:1900"))

	start := h.clock.Now()

	h.engine.Update(false)

	devices := discoveredSnapshot(h.engine)
	require.Len(t, devices, 1)
	assert.Equal(t, start.Add(300*time.Second), devices["uuid:peer::upnp:rootdevice"])
}

func TestResponseWithoutUSNDropped(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")
	h.engine.Update(false)

	response := "HTTP/1.1 200 OK\r\n" +
		"ST: upnp:rootdevice\r\n\r\n"
	h.conn("10.0.0.1").push(response, udpAddr(t, "192.168.1.20:1900"))
	h.engine.Update(false)

	assert.Empty(t, discoveredSnapshot(h.engine))
}

func TestNotifyWithoutUSNDropped(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")

	notify := "NOTIFY * HTTP/1.1\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:alive\r\n\r\n"
	h.mcast.push(notify, udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)

	assert.Empty(t, discoveredSnapshot(h.engine))
}

func TestMalformedDatagramDropped(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")

	h.mcast.push("complete garbage", udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)

	assert.Empty(t, discoveredSnapshot(h.engine))
}

func TestDefaultMaxAgeWithoutCacheControl(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")
	start := h.clock.Now()

	notify := "NOTIFY * HTTP/1.1\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:alive\r\n" +
		"USN: uuid:abc::upnp:rootdevice\r\n\r\n"
	h.mcast.push(notify, udpAddr(t, "10.0.0.9:1900"))
	h.engine.Update(false)

	devices := discoveredSnapshot(h.engine)
	require.Len(t, devices, 1)
	assert.Equal(t, start.Add(defaultMaxAge*time.Second), devices["uuid:abc::upnp:rootdevice"])
}

func TestDrainProcessesBacklog(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")

	for i := 0; i < 5; i++ {
		h.mcast.push(aliveNotification, udpAddr(t, "10.0.0.9:1900"))
	}

	// One tick drains the whole backlog, not one datagram per tick.
	h.engine.Update(false)

	assert.Empty(t, h.mcast.inbox)
	assert.Len(t, discoveredSnapshot(h.engine), 1)
}

func TestPermanentErrorTriggersReconnect(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")

	old := h.mcast
	old.readErrs = []error{syscall.ECONNABORTED}

	h.engine.Update(false)
	assert.True(t, h.engine.reconnect)

	h.engine.Update(false)
	assert.False(t, h.engine.reconnect)
	assert.True(t, old.closed)
	assert.NotSame(t, old, h.engine.mcast.(*fakeConn))
}

func TestTransientErrorKeepsSocket(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")

	old := h.mcast
	old.readErrs = []error{errors.New("short read")}

	h.engine.Update(false)
	assert.False(t, h.engine.reconnect)

	h.engine.Update(false)
	assert.Same(t, old, h.engine.mcast.(*fakeConn))
}

func TestSearchProbeSentPerInterface(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1", "192.168.1.10")

	h.engine.Update(true)

	for _, addr := range []string{"10.0.0.1", "192.168.1.10"} {
		conn := h.conn(addr)
		require.NotNil(t, conn)

		n := countMessages(conn, "M-SEARCH * HTTP/1.1", "ST: upnp:rootdevice", `MAN: "ssdp:discover"`)
		assert.Equal(t, 1, n, "probe on %s", addr)

		require.Len(t, conn.sent, 1)
		assert.Equal(t, multicastUDPAddr.String(), conn.sent[0].addr.String())
	}
}

func TestCloseReleasesSockets(t *testing.T) {
	h := newHarness(t, Config{}, "10.0.0.1")
	h.engine.Update(false)

	conn := h.conn("10.0.0.1")
	mcast := h.mcast

	require.NoError(t, h.engine.Close())

	assert.True(t, conn.closed)
	assert.True(t, mcast.closed)
	assert.Empty(t, h.engine.ifaces)
}
