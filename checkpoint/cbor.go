// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package checkpoint

import "github.com/fxamacker/cbor/v2"

// wireCheckpoint mirrors Checkpoint with exported fields, since Checkpoint
// itself keeps its fields private to guarantee every value in existence
// went through a simplifying smart constructor. Only this file needs to
// know about it.
type wireCheckpoint struct {
	Kind  Kind            `cbor:"k"`
	Bytes []byte          `cbor:"b,omitempty"`
	Inner *wireCheckpoint `cbor:"i,omitempty"`
	Left  *wireCheckpoint `cbor:"l,omitempty"`
	Right *wireCheckpoint `cbor:"r,omitempty"`
}

func toWire(c Checkpoint) *wireCheckpoint {
	w := &wireCheckpoint{Kind: c.kind}
	switch c.kind {
	case CachePointKind:
		w.Bytes = c.bytes
		w.Inner = toWire(*c.inner)
	case ChoicePointKind:
		w.Left = toWire(*c.left)
		w.Right = toWire(*c.right)
	}
	return w
}

func fromWire(w *wireCheckpoint) Checkpoint {
	if w == nil {
		return NewUnexplored()
	}
	switch w.Kind {
	case Explored:
		return NewExplored()
	case CachePointKind:
		return NewCachePoint(w.Bytes, fromWire(w.Inner))
	case ChoicePointKind:
		return NewChoicePoint(fromWire(w.Left), fromWire(w.Right))
	default:
		return NewUnexplored()
	}
}

// MarshalCBOR implements cbor.Marshaler, routing through a mirror struct
// since Checkpoint's own fields are private. It is what lets a
// Checkpoint nested anywhere inside a codec.Marshal call (a wire
// message, a checkpoint-file record) encode correctly instead of
// silently losing its private fields to the default struct encoder.
func (c Checkpoint) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(toWire(c))
}

// UnmarshalCBOR implements cbor.Unmarshaler, the inverse of MarshalCBOR.
func (c *Checkpoint) UnmarshalCBOR(data []byte) error {
	var w wireCheckpoint
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = fromWire(&w)
	return nil
}
