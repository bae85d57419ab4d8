// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package reverse holds the transport-facing codecs a solved Turnstile
// payload is wrapped in before it's sent back: a charset-bound compressor
// and the request/response XOR scramble keyed off the challenge's c_ray.
package reverse

import (
	"encoding/base64"

	"github.com/golang/snappy"

	"github.com/probechain/turnstile-probe/internal/turnstileerr"
)

// Compressor snappy-compresses a solved payload and base64-encodes it
// against a caller-supplied charset-safe alphabet before handing it back to
// the orchestrator script's expected wire shape.
type Compressor struct {
	charset string
	enc     *base64.Encoding
}

// NewCompressor builds a Compressor against charset, a custom base64
// alphabet the orchestrator script expects its payload framed in (Turnstile
// scripts routinely swap the standard alphabet for an obfuscated one).
func NewCompressor(charset string) *Compressor {
	return &Compressor{charset: charset, enc: base64.NewEncoding(charset).WithPadding(base64.NoPadding)}
}

// Compress snappy-compresses input and returns it framed in the
// Compressor's charset-specific base64 alphabet.
func (c *Compressor) Compress(input string) string {
	compressed := snappy.Encode(nil, []byte(input))
	return c.enc.EncodeToString(compressed)
}

// Decompress reverses Compress, for tests and for re-reading a payload the
// solver itself produced.
func (c *Compressor) Decompress(input string) (string, error) {
	raw, err := c.enc.DecodeString(input)
	if err != nil {
		return "", turnstileerr.Wrap(turnstileerr.Parse, err, "decode compressor base64")
	}
	out, err := snappy.Decode(nil, raw)
	if err != nil {
		return "", turnstileerr.Wrap(turnstileerr.Parse, err, "snappy decompress")
	}
	return string(out), nil
}
