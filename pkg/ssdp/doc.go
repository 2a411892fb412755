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

// Package ssdp implements a Simple Service Discovery Protocol engine: it
// advertises locally-registered devices over UDP multicast, answers directed
// M-SEARCH queries, learns about remote devices from their announcements,
// and serves each local device's description document over HTTP.
//
// The engine is driven cooperatively: all discovery work happens inside
// Update, which the caller invokes periodically from a single goroutine.
// Socket reads are non-blocking, so a tick returns quickly when the network
// is quiet.
package ssdp
