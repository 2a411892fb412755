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
	"encoding/binary"
	"net"
	"sort"
)

// localInterface is one non-wildcard IPv4 address of the host, with the UDP
// socket bound to it. conn is nil when the bind failed; the slot is retained
// so the sequence stays aligned with the host's address list until the next
// reconciliation.
type localInterface struct {
	addr uint32
	ip   net.IP
	name string
	conn udpConn
}

func ipToU32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}

	return binary.BigEndian.Uint32(ip4)
}

func u32ToIP(addr uint32) net.IP {
	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

// systemInterfaces samples the host's IPv4 addresses: wildcard entries are
// discarded, the rest sorted ascending by address and capped at
// maxLocalInterfaces.
func systemInterfaces() ([]localInterface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []localInterface

	for i := range ifs {
		addrs, err := ifs[i].Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsUnspecified() {
				continue
			}

			out = append(out, localInterface{
				addr: ipToU32(ip4),
				ip:   ip4,
				name: ifs[i].Name,
			})
		}
	}

	sort.Slice(out, func(a, b int) bool { return out[a].addr < out[b].addr })

	if len(out) > maxLocalInterfaces {
		out = out[:maxLocalInterfaces]
	}

	return out, nil
}

// refreshInterfaces samples the host addresses and reconciles the engine's
// socket set against them.
func (e *Engine) refreshInterfaces() {
	next, err := e.listInterfaces()
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to enumerate interfaces")
		return
	}

	e.reconcile(next)
}

// reconcile walks the old and new address sequences side by side, both
// sorted ascending: addresses gone from the new list have their sockets
// closed, surviving addresses keep their socket (a nil conn slot stays nil,
// bind is not retried), and new addresses get a fresh socket or a nil slot
// when binding fails.
func (e *Engine) reconcile(next []localInterface) {
	j := 0

	for i := range next {
		for j < len(e.ifaces) && e.ifaces[j].addr < next[i].addr {
			e.closeInterface(j)
			j++
		}

		if j < len(e.ifaces) && e.ifaces[j].addr == next[i].addr {
			next[i].conn = e.ifaces[j].conn
			j++

			continue
		}

		conn, err := e.newIfaceConn(next[i].ip, next[i].name)
		if err != nil {
			e.log.Warn().Err(err).Str("address", next[i].ip.String()).Msg("failed to bind interface socket")
			continue
		}

		e.log.Info().Str("address", next[i].ip.String()).Msg("started on address")
		next[i].conn = conn
	}

	for ; j < len(e.ifaces); j++ {
		e.closeInterface(j)
	}

	e.ifaces = next
}

func (e *Engine) closeInterface(i int) {
	if e.ifaces[i].conn == nil {
		return
	}

	e.log.Info().Str("address", e.ifaces[i].ip.String()).Msg("done on address")

	if err := e.ifaces[i].conn.Close(); err != nil {
		e.log.Warn().Err(err).Str("address", e.ifaces[i].ip.String()).Msg("failed to close interface socket")
	}

	e.ifaces[i].conn = nil
}
