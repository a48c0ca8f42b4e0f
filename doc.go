// Copyright 2019, 2020 Rohde & Schwarz GmbH & Co KG
//      philipp.stanner@rohde-schwarz.com
//      hagen.pfeifer@rohde-schwarz.com

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tracy lets an application publish named byte-string events
// ("tracepoints") to exactly one remote observer over the network.
//
// An Agent advertises itself by periodic UDP multicast, accepts a single
// TCP client, lets that client enumerate and selectively enable
// tracepoints, and streams enabled events to the client in batches.
// Tracepoints are registered once at startup with Register; host code
// calls Submit on the hot path, which is a cheap no-op whenever no client
// has enabled that tracepoint.
//
// Tracy is not a general logging framework: there is no fan-out to
// multiple observers, no persistence, no authentication or encryption,
// and no guaranteed delivery across a disconnect. Data buffered during an
// enabled interval is attempted once and discarded if the client goes
// away before it can be sent.
package tracy
