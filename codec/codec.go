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

// Package codec provides the one concrete, deterministic binary encoding
// the core ships (spec.md §6.2 leaves the wire codec opaque, but requires
// that user Cache byte strings round-trip bit-exactly). It wraps
// canonical CBOR, which is self-describing enough to encode the
// heterogeneous interface{} values that flow through cache nodes and wire
// messages alike.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes and decodes Go values using canonical CBOR.
type Codec struct {
	encoder cbor.EncMode
	decoder cbor.DecMode
}

// New creates a new Codec.
func New() *Codec {
	encOptions := cbor.CanonicalEncOptions()
	encoder, err := encOptions.EncMode()
	if err != nil {
		// Only reachable if CanonicalEncOptions() itself became invalid,
		// which would be a bug in this package, not a runtime condition.
		panic(fmt.Sprintf("codec: invalid encoder options: %v", err))
	}

	decOptions := cbor.DecOptions{}
	decoder, err := decOptions.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: invalid decoder options: %v", err))
	}

	c := Codec{
		encoder: encoder,
		decoder: decoder,
	}

	return &c
}

// Marshal encodes v into its canonical CBOR representation.
func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	data, err := c.encoder.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not marshal value: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data into v, which must be a pointer.
func (c *Codec) Unmarshal(data []byte, v interface{}) error {
	err := c.decoder.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("could not unmarshal value: %w", err)
	}
	return nil
}

// Default is a package-level Codec suitable for stateless call sites; it
// holds no mutable state of its own (cbor's EncMode/DecMode are
// immutable, concurrency-safe configurations), so sharing it does not
// reintroduce the global mutable store spec.md §9 warns against.
var Default = New()
