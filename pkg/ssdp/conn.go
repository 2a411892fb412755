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
	"context"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// udpConn is the slice of net.UDPConn the engine relies on. Tests substitute
// in-memory fakes.
type udpConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// dialInterfaceConn binds a UDP socket to (ip, ephemeral) with SO_REUSEADDR
// and directs its outgoing multicast through that interface.
func (*Engine) dialInterfaceConn(ip net.IP, name string) (udpConn, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}

	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(ip.String(), "0"))
	if err != nil {
		return nil, err
	}

	conn := pc.(*net.UDPConn)
	p := ipv4.NewPacketConn(conn)

	ifi, err := net.InterfaceByName(name)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := p.SetMulticastInterface(ifi); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// dialMulticastConn binds the shared receive socket to *:1900 and joins the
// SSDP group on the system's default multicast interface. A failed join is
// logged but not fatal; the socket still receives unicast traffic and the
// join succeeds once a usable network appears and the engine reconnects.
func (e *Engine) dialMulticastConn() (udpConn, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}

	pc, err := lc.ListenPacket(context.Background(), "udp4", multicastListenAddr)
	if err != nil {
		return nil, err
	}

	conn := pc.(*net.UDPConn)
	p := ipv4.NewPacketConn(conn)

	if err := p.JoinGroup(nil, &net.UDPAddr{IP: multicastIP}); err != nil {
		e.log.Warn().Err(err).Msg("unable to join multicast group; no network connection?")
	}

	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		e.log.Warn().Err(err).Msg("failed to set multicast TTL")
	}

	return conn, nil
}
