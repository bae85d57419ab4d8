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

package reverse

import (
	"encoding/base64"
	"encoding/json"

	"github.com/probechain/turnstile-probe/internal/turnstileerr"
)

// XorCodec repeats a cray-derived key across a JSON payload byte-by-byte.
// The key is built once, from the xor key embedded in the script and the
// challenge's c_ray split after its first two characters:
// c_ray[0:2] + xorKey + c_ray[2:].
type XorCodec struct {
	key []byte
}

// NewXorCodec builds the per-challenge XorCodec.
func NewXorCodec(xorKey, cRay string) *XorCodec {
	first, second := cRay, ""
	if len(cRay) >= 2 {
		first, second = cRay[:2], cRay[2:]
	}
	return &XorCodec{key: []byte(first + xorKey + second)}
}

// Encrypt marshals v to JSON and returns the XOR-scrambled, base64-encoded
// wire form.
func (c *XorCodec) Encrypt(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", turnstileerr.Wrap(turnstileerr.Parse, err, "marshal xor payload")
	}
	return c.EncryptRaw(string(raw)), nil
}

// EncryptRaw XOR-scrambles raw against the rolling key and base64-encodes
// the result.
func (c *XorCodec) EncryptRaw(raw string) string {
	out := c.xor([]byte(raw))
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt reverses Encrypt and unmarshals the recovered JSON into v.
func (c *XorCodec) Decrypt(encrypted string, v interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return turnstileerr.Wrap(turnstileerr.Parse, err, "decode xor base64")
	}
	decrypted := c.xor(raw)
	if err := json.Unmarshal(decrypted, v); err != nil {
		return turnstileerr.Wrap(turnstileerr.Parse, err, "unmarshal xor payload")
	}
	return nil
}

func (c *XorCodec) xor(data []byte) []byte {
	if len(c.key) == 0 {
		return data
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}

// DecryptCloudflareResponse reverses the separate, simpler scramble
// Cloudflare's own edge applies to the challenge response body: a
// single-byte running key derived from "<ray>_0", subtracted (mod 255,
// never producing a byte outside 0..254) from each byte along with its
// position modulo 65535.
func DecryptCloudflareResponse(ray, data string) (string, error) {
	key := ray + "_0"
	var h byte = 32
	for i := 0; i < len(key); i++ {
		h ^= key[i]
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", turnstileerr.Wrap(turnstileerr.Parse, err, "decode cloudflare response base64")
	}

	out := make([]byte, len(raw))
	for i, b := range raw {
		temp := int(b) - int(h) - (i % 65535)
		dec := ((temp % 255) + 255) % 255
		out[i] = byte(dec)
	}
	return string(out), nil
}
