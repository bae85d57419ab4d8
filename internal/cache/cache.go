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

// Package cache memoizes the values internal/extract recovers (opcode table,
// key expression, offset, initial key, window register and createFunction
// identifier) per distinct orchestrator script, so that a second challenge
// served the same script skips that recovery. Deobfuscation and
// disassembly still run on every invocation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/turnstile-probe/internal/bytecode"
	"github.com/probechain/turnstile-probe/internal/keyexpr"
)

// Recovered is everything about an orchestrator script expensive enough to
// be worth caching across challenges.
type Recovered struct {
	Opcodes             bytecode.Table
	KeyExpr             *keyexpr.Expr
	Offset              uint16
	InitialKey          uint16
	WindowRegister      uint16
	CreateFunctionIdent string
}

// Cache is a fixed-size LRU of script-hash to Recovered metadata.
type Cache struct {
	lru *lru.Cache
}

// New builds a Cache holding at most size scripts' worth of recovered
// metadata.
func New(size int) (*Cache, error) {
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Hash returns the cache key for a raw script body.
func Hash(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// Get returns the Recovered metadata for hash, if present.
func (c *Cache) Get(hash string) (*Recovered, bool) {
	v, ok := c.lru.Get(hash)
	if !ok {
		return nil, false
	}
	return v.(*Recovered), true
}

// Put stores rec under hash, evicting the least-recently-used entry if the
// cache is full.
func (c *Cache) Put(hash string, rec *Recovered) {
	c.lru.Add(hash, rec)
}

// Len reports how many scripts are currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
