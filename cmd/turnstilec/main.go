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

// Command turnstilec runs the full script-reverse-engineering pipeline
// against a single orchestrator script read from disk or stdin: deobfuscate
// its AST, recover the opcode table and rolling-key expression, disassemble
// both VM payload blobs, recover the dispatcher chain, and print the
// recovered fingerprint entry order as a table.
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/turnstile-probe/internal/cache"
	"github.com/probechain/turnstile-probe/internal/deobfuscate"
	"github.com/probechain/turnstile-probe/internal/disasm"
	"github.com/probechain/turnstile-probe/internal/extract"
	"github.com/probechain/turnstile-probe/internal/vmparser"
)

func main() {
	app := cli.NewApp()
	app.Name = "turnstilec"
	app.Usage = "recover a Turnstile orchestrator script's fingerprint dispatcher chain"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "script, s", Usage: "path to the orchestrator script; reads stdin if omitted"},
		cli.IntFlag{Name: "cache-size, c", Value: 64, Usage: "number of recovered scripts to memoize"},
	}
	app.Action = runAction

	if err := app.Run(os.Args); err != nil {
		color.Red("turnstilec: %v", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	script, err := readScript(c.String("script"))
	if err != nil {
		return err
	}

	store, err := cache.New(c.Int("cache-size"))
	if err != nil {
		return err
	}

	hash := cache.Hash(script)
	recovered, hit := store.Get(hash)
	if !hit {
		recovered, err = recoverScript(script)
		if err != nil {
			return err
		}
		store.Put(hash, recovered)
	}

	program, err := deobfuscate.Run(script)
	if err != nil {
		return err
	}
	blobs := extract.FindBase64Blobs(program)

	d, err := disasm.New(recovered.Opcodes, recovered.KeyExpr, recovered.InitialKey, recovered.Offset, blobs.Init)
	if err != nil {
		return err
	}
	mainBody, functions, err := d.ReadEncodedVM(blobs.Main)
	if err != nil {
		return err
	}

	parsed, err := vmparser.ParseVM(mainBody, functions)
	if err != nil {
		return err
	}

	printChain(hit, parsed)
	return nil
}

// recoverScript runs the deobfuscate/extract stages once for a script not
// already in the cache, producing the metadata internal/disasm and
// internal/vmparser need but never touching the per-challenge VM payload
// itself (that's re-read fresh every invocation).
func recoverScript(script string) (*cache.Recovered, error) {
	program, err := deobfuscate.Run(script)
	if err != nil {
		return nil, err
	}

	functions := extract.FindFunctions(program)
	offset := extract.FindOffset(program)
	keyExpr := extract.ConvertKeyExpr(offset.KeyExpr)

	builder := extract.NewOpcodeBuilder(functions.Constants, functions.Functions)
	builder.Build(program)

	return &cache.Recovered{
		Opcodes:             builder.Opcodes,
		KeyExpr:             keyExpr,
		Offset:              uint16(offset.Offset),
		InitialKey:          functions.Key,
		WindowRegister:      builder.WindowRegister,
		CreateFunctionIdent: builder.CreateFunctionIdent,
	}, nil
}

func readScript(path string) (string, error) {
	if path == "" {
		raw, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func printChain(cacheHit bool, parsed *vmparser.ParsedVM) {
	if cacheHit {
		color.Cyan("recovered metadata served from cache")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "dispatch key", "entry kind"})
	for i, c := range parsed.Cases {
		table.Append([]string{fmt.Sprint(i), c.Key, c.Kind.String()})
	}
	table.Render()
}
