// Copyright 2019, 2020 Rohde & Schwarz GmbH & Co KG
//      philipp.stanner@rohde-schwarz.com
//      hagen.pfeifer@rohde-schwarz.com

// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package wire implements tracy's framed wire codec: the fixed 12-byte
// header used by every TCP session frame, the tracepoint-list and push
// payload encodings carried inside those frames, and the JSON-bearing UDP
// announce datagram.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Command identifies the payload carried by a session frame.
type Command uint16

const (
	ListRequest    Command = 0x01
	ListReply      Command = 0x02
	EnableRequest  Command = 0x03
	DisableRequest Command = 0x04
	Push           Command = 0x05
)

func (c Command) String() string {
	switch c {
	case ListRequest:
		return "LIST-REQUEST"
	case ListReply:
		return "LIST-REPLY"
	case EnableRequest:
		return "ENABLE-REQUEST"
	case DisableRequest:
		return "DISABLE-REQUEST"
	case Push:
		return "PUSH"
	default:
		return fmt.Sprintf("Command(0x%04x)", uint16(c))
	}
}

const (
	// HeaderLen is the size in bytes of the fixed session-frame header.
	HeaderLen = 12

	// MaxNameLen is the maximum length, in bytes, of a canonical
	// tracepoint name.
	MaxNameLen = 32

	// MaxPayloadLen is the maximum length, in bytes, of a single submit
	// event's data payload.
	MaxPayloadLen = 2048

	// MaxFrameLen bounds the total size of a single encoded frame
	// (header plus payload). PUSH batches that would exceed it are
	// split across multiple frames by the session worker.
	MaxFrameLen = 16 * 1024
)

// Magic is the big-endian constant that opens every TCP session frame.
// Spelled out as the ASCII bytes "TRCY".
var Magic = [4]byte{0x54, 0x52, 0x43, 0x59}

// AnnounceMagic is the big-endian constant that opens every UDP announce
// datagram. It differs from Magic so a packet dissector can tell the two
// wire formats apart on sight.
var AnnounceMagic = [4]byte{0x54, 0x52, 0x41, 0x44}

// ProtocolError reports a malformed frame or datagram. Session code treats
// it as fatal for the connection that produced it.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "tracy: protocol error: " + e.Reason }

func protoErrf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// EncodeHeader appends a frame header for cmd and a payload of the given
// length to dst, returning the extended slice.
func EncodeHeader(dst []byte, cmd Command, payloadLen int) []byte {
	var hdr [HeaderLen]byte
	copy(hdr[0:4], Magic[:])
	binary.BigEndian.PutUint16(hdr[4:6], 0) // flags, reserved
	binary.BigEndian.PutUint16(hdr[6:8], uint16(cmd))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(payloadLen))
	return append(dst, hdr[:]...)
}

// EncodeFrame returns a complete frame (header plus payload) for cmd.
func EncodeFrame(cmd Command, payload []byte) []byte {
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = EncodeHeader(buf, cmd, len(payload))
	return append(buf, payload...)
}

// DecodeHeader parses a HeaderLen-byte header. It validates the magic
// number and the reserved flags field but does not know how to validate
// the payload length against the command, since that depends on which
// commands the caller accepts.
func DecodeHeader(hdr []byte) (cmd Command, payloadLen uint32, err error) {
	if len(hdr) != HeaderLen {
		return 0, 0, protoErrf("short header: %d bytes", len(hdr))
	}
	if hdr[0] != Magic[0] || hdr[1] != Magic[1] || hdr[2] != Magic[2] || hdr[3] != Magic[3] {
		return 0, 0, protoErrf("bad magic: % x", hdr[0:4])
	}
	flags := binary.BigEndian.Uint16(hdr[4:6])
	if flags != 0 {
		return 0, 0, protoErrf("reserved flags set: 0x%04x", flags)
	}
	cmd = Command(binary.BigEndian.Uint16(hdr[6:8]))
	payloadLen = binary.BigEndian.Uint32(hdr[8:12])
	return cmd, payloadLen, nil
}

// EncodeNameList encodes the tracepoint-list payload used by LIST-REPLY,
// ENABLE-REQUEST, and DISABLE-REQUEST frames: a sequence of 2-byte
// big-endian name lengths followed by that many name bytes.
func EncodeNameList(names []string) []byte {
	size := 0
	for _, n := range names {
		size += 2 + len(n)
	}
	buf := make([]byte, 0, size)
	for _, n := range names {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(n)))
		buf = append(buf, l[:]...)
		buf = append(buf, n...)
	}
	return buf
}

// DecodeNameList decodes a tracepoint-list payload. It rejects name
// lengths outside 1..=MaxNameLen and any inner length that would overrun
// the payload.
func DecodeNameList(payload []byte) ([]string, error) {
	var names []string
	i := 0
	for i < len(payload) {
		if i+2 > len(payload) {
			return nil, protoErrf("truncated name length at offset %d", i)
		}
		nameLen := int(binary.BigEndian.Uint16(payload[i : i+2]))
		i += 2
		if nameLen < 1 || nameLen > MaxNameLen {
			return nil, protoErrf("invalid name length %d at offset %d", nameLen, i-2)
		}
		if i+nameLen > len(payload) {
			return nil, protoErrf("name overruns payload at offset %d", i)
		}
		names = append(names, string(payload[i:i+nameLen]))
		i += nameLen
	}
	return names, nil
}

// PushRecord is one event as carried inside a PUSH frame's payload.
type PushRecord struct {
	Name      string
	TimestampNS int64
	Data      []byte
}

// EncodePush encodes a sequence of push records: for each, a 2-byte name
// length, the name, an 8-byte big-endian timestamp, a 2-byte big-endian
// data length, and the data bytes.
func EncodePush(records []PushRecord) []byte {
	size := 0
	for _, r := range records {
		size += 2 + len(r.Name) + 8 + 2 + len(r.Data)
	}
	buf := make([]byte, 0, size)
	for _, r := range records {
		var nl [2]byte
		binary.BigEndian.PutUint16(nl[:], uint16(len(r.Name)))
		buf = append(buf, nl[:]...)
		buf = append(buf, r.Name...)

		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(r.TimestampNS))
		buf = append(buf, ts[:]...)

		var dl [2]byte
		binary.BigEndian.PutUint16(dl[:], uint16(len(r.Data)))
		buf = append(buf, dl[:]...)
		buf = append(buf, r.Data...)
	}
	return buf
}

// DecodePush decodes a PUSH frame payload, validating name lengths
// (1..=MaxNameLen) and data lengths (1..=MaxPayloadLen).
func DecodePush(payload []byte) ([]PushRecord, error) {
	var records []PushRecord
	i := 0
	for i < len(payload) {
		if i+2 > len(payload) {
			return nil, protoErrf("truncated push name length at offset %d", i)
		}
		nameLen := int(binary.BigEndian.Uint16(payload[i : i+2]))
		i += 2
		if nameLen < 1 || nameLen > MaxNameLen {
			return nil, protoErrf("invalid push name length %d at offset %d", nameLen, i-2)
		}
		if i+nameLen > len(payload) {
			return nil, protoErrf("push name overruns payload at offset %d", i)
		}
		name := string(payload[i : i+nameLen])
		i += nameLen

		if i+8 > len(payload) {
			return nil, protoErrf("truncated push timestamp at offset %d", i)
		}
		ts := int64(binary.BigEndian.Uint64(payload[i : i+8]))
		i += 8

		if i+2 > len(payload) {
			return nil, protoErrf("truncated push data length at offset %d", i)
		}
		dataLen := int(binary.BigEndian.Uint16(payload[i : i+2]))
		i += 2
		if dataLen < 1 || dataLen > MaxPayloadLen {
			return nil, protoErrf("invalid push data length %d at offset %d", dataLen, i-2)
		}
		if i+dataLen > len(payload) {
			return nil, protoErrf("push data overruns payload at offset %d", i)
		}
		data := make([]byte, dataLen)
		copy(data, payload[i:i+dataLen])
		i += dataLen

		records = append(records, PushRecord{Name: name, TimestampNS: ts, Data: data})
	}
	return records, nil
}

// Announce is the JSON body of a UDP announce datagram.
type Announce struct {
	Hostname string `json:"hostname"`
	Process  string `json:"process"`
	TCPPort  int    `json:"tcp_port"`
	Seq      uint64 `json:"seq"`
}

// EncodeAnnounce returns the AnnounceMagic prefix followed by a's JSON
// encoding, with no trailing newline.
func EncodeAnnounce(a Announce) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("tracy: marshal announce: %w", err)
	}
	buf := make([]byte, 0, len(AnnounceMagic)+len(body))
	buf = append(buf, AnnounceMagic[:]...)
	buf = append(buf, body...)
	return buf, nil
}

// DecodeAnnounce parses a datagram produced by EncodeAnnounce.
func DecodeAnnounce(datagram []byte) (Announce, error) {
	var a Announce
	if len(datagram) < 4 {
		return a, protoErrf("announce datagram too short: %d bytes", len(datagram))
	}
	if datagram[0] != AnnounceMagic[0] || datagram[1] != AnnounceMagic[1] ||
		datagram[2] != AnnounceMagic[2] || datagram[3] != AnnounceMagic[3] {
		return a, protoErrf("bad announce magic: % x", datagram[0:4])
	}
	if err := json.Unmarshal(datagram[4:], &a); err != nil {
		return a, protoErrf("bad announce json: %v", err)
	}
	return a, nil
}
