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
	"time"

	"github.com/JamesOrson/defold/pkg/models"
)

// interfaceLease tracks when the next alive notification is due on one local
// interface. A device's leases stay sorted by address, mirroring the
// engine's interface sequence.
type interfaceLease struct {
	addr         uint32
	nextAnnounce time.Time
}

type registeredDevice struct {
	desc   *models.DeviceDescriptor
	leases []interfaceLease
}

// RegisterDevice adds a locally-owned device to the registry. The descriptor
// must stay alive and unchanged until the device is deregistered. The first
// alive notifications go out on the next announcing tick.
func (e *Engine) RegisterDevice(desc *models.DeviceDescriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := hash64(desc.ID)
	if _, ok := e.registered[key]; ok {
		return ErrAlreadyRegistered
	}

	if len(e.registered) >= maxRegisteredDevices {
		return ErrOutOfResources
	}

	e.registered[key] = &registeredDevice{desc: desc}

	e.log.Debug().Str("device", desc.ID).Msg("device registered")

	return nil
}

// DeregisterDevice sends an ssdp:byebye on every bound interface and removes
// the device from the registry.
func (e *Engine) DeregisterDevice(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := hash64(id)

	dev, ok := e.registered[key]
	if !ok {
		return ErrNotRegistered
	}

	for i := range e.ifaces {
		if e.ifaces[i].conn != nil {
			e.sendByebye(dev, i)
		}
	}

	delete(e.registered, key)

	e.log.Debug().Str("device", id).Msg("device deregistered")

	return nil
}

// announceRegistered re-announces every registered device on every interface
// whose per-interface deadline has elapsed. Each device's lease list is
// first merged side by side against the current interface sequence: leases
// for vanished addresses drop out, surviving addresses carry their deadline,
// and new addresses become due immediately.
func (e *Engine) announceRegistered(now time.Time) {
	next := now.Add(time.Duration(e.cfg.AnnounceInterval) * time.Second)

	for _, dev := range e.registered {
		due := make([]time.Time, len(e.ifaces))
		j := 0

		for i := range e.ifaces {
			for j < len(dev.leases) && dev.leases[j].addr < e.ifaces[i].addr {
				j++
			}

			if j < len(dev.leases) && dev.leases[j].addr == e.ifaces[i].addr {
				due[i] = dev.leases[j].nextAnnounce
				j++
			} else {
				due[i] = now
			}
		}

		leases := make([]interfaceLease, len(e.ifaces))

		for i := range e.ifaces {
			leases[i].addr = e.ifaces[i].addr

			if due[i].After(now) {
				leases[i].nextAnnounce = due[i]
				continue
			}

			e.sendAlive(dev, i)
			leases[i].nextAnnounce = next
		}

		dev.leases = leases
	}
}

func (e *Engine) sendAlive(dev *registeredDevice, iface int) {
	e.log.Debug().Str("device", dev.desc.ID).Str("interface", e.ifaces[iface].name).Msg("announcing device")

	v := deviceVars(nil, dev.desc)
	v = e.globalVars(v)
	v = hostnameVars(v, e.ifaces[iface].addr)

	e.sendMulticast(e.ifaces[iface].conn, aliveTemplate, v, "announce")
}

func (e *Engine) sendByebye(dev *registeredDevice, iface int) {
	v := deviceVars(nil, dev.desc)
	v = e.globalVars(v)

	e.sendMulticast(e.ifaces[iface].conn, byebyeTemplate, v, "unannounce")
}

// sendMulticast expands the template and sends the result to the SSDP group
// through the given interface socket.
func (e *Engine) sendMulticast(conn udpConn, tmpl string, v *vars, what string) {
	if conn == nil {
		return
	}

	msg, err := expand(tmpl, v)
	if err != nil {
		e.log.Error().Err(err).Str("message", what).Msg("failed to format message")
		return
	}

	if len(msg) > datagramSize {
		e.log.Error().Str("message", what).Int("size", len(msg)).Msg("message exceeds datagram size")
		return
	}

	if _, err := conn.WriteTo([]byte(msg), multicastUDPAddr); err != nil {
		e.log.Warn().Err(err).Str("message", what).Msg("failed to send message")
	}
}
