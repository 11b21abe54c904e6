/*
 * Copyright 2026 The Quince Authors. All rights reserved.
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

package sessions

import (
	"encoding/binary"
	"fmt"

	"github.com/quince-team/quince/pkg/errors"
)

// ErrMalformedFrame is returned when frame bytes cannot be decoded.
var ErrMalformedFrame = errors.InvalidArgument("malformed frame").WithCode("ErrMalformedFrame")

// maxOriginLen bounds the origin field. Origins are session IDs.
const maxOriginLen = 64

// FrameType is the kind of a frame.
type FrameType byte

const (
	// FrameSync carries the whole document state as one update. It is the
	// first frame a session receives.
	FrameSync FrameType = iota

	// FrameUpdate carries one update.
	FrameUpdate

	// FrameAwareness carries the ephemeral state of one session.
	FrameAwareness

	// FrameAwarenessRemoved tells that a session's ephemeral state is gone.
	FrameAwarenessRemoved
)

// String returns the name of the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameSync:
		return "sync"
	case FrameUpdate:
		return "update"
	case FrameAwareness:
		return "awareness"
	case FrameAwarenessRemoved:
		return "awareness-removed"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Frame is a message exchanged with a session. Origin is the ID of the
// session the frame comes from; it is empty for frames made by the server and
// ignored for frames sent by clients.
type Frame struct {
	Type    FrameType
	Origin  string
	Payload []byte
}

// Encode returns the wire form of the frame:
//
//	type byte | uvarint origin length | origin | payload
func (f Frame) Encode() []byte {
	buf := make([]byte, 1+binary.MaxVarintLen64+len(f.Origin)+len(f.Payload))
	buf[0] = byte(f.Type)
	n := 1 + binary.PutUvarint(buf[1:], uint64(len(f.Origin)))
	n += copy(buf[n:], f.Origin)
	n += copy(buf[n:], f.Payload)
	return buf[:n]
}

// DecodeFrame decodes the wire form of a frame.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < 2 {
		return Frame{}, fmt.Errorf("%d bytes: %w", len(data), ErrMalformedFrame)
	}

	t := FrameType(data[0])
	if t > FrameAwarenessRemoved {
		return Frame{}, fmt.Errorf("type %d: %w", data[0], ErrMalformedFrame)
	}

	originLen, n := binary.Uvarint(data[1:])
	if n <= 0 || originLen > maxOriginLen || uint64(len(data)-1-n) < originLen {
		return Frame{}, fmt.Errorf("origin length: %w", ErrMalformedFrame)
	}

	rest := data[1+n:]
	return Frame{
		Type:    t,
		Origin:  string(rest[:originLen]),
		Payload: rest[originLen:],
	}, nil
}
