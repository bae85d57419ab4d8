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

package extract

import (
	"github.com/dop251/goja/ast"
)

// PayloadKeys is what PayloadKeyExtractor recovers about the challenge
// payload object the orchestrator script assembles before POSTing it back.
type PayloadKeys struct {
	// BrowserKeysKey is the property name, relative to window._cf_chl_opt,
	// holding the browser-signal key/value table.
	BrowserKeysKey string
	// InitialKeys is every key name in that table, in declaration order.
	InitialKeys []string
	// InitialKeysValues holds, for each key whose initializer is a plain
	// string literal, that literal value.
	InitialKeysValues map[string]string
	// InitialObjKeys holds every key whose initializer is the numeric
	// literal 0 (a placeholder the VM fills in later).
	InitialObjKeys []string
}

// FindPayloadKeys walks program for the setTimeout(fn, 100, ..., {...})
// bootstrap call, locates the object literal argument, and classifies each
// of its properties by whether its initializer is a string, the literal 0,
// or something else (ignored).
func FindPayloadKeys(program *ast.Program) *PayloadKeys {
	found := &PayloadKeys{InitialKeysValues: make(map[string]string)}

	Walk(program, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpression)
		if !ok {
			return true
		}
		if id, ok := call.Callee.(*ast.Identifier); !ok || string(id.Name) != "setTimeout" {
			return true
		}
		if len(call.ArgumentList) < 3 {
			return true
		}
		obj, ok := call.ArgumentList[len(call.ArgumentList)-1].(*ast.ObjectLiteral)
		if !ok {
			return true
		}

		for _, prop := range obj.Value {
			keyed, ok := prop.(*ast.PropertyKeyed)
			if !ok {
				continue
			}
			name := propertyKeyName(keyed.Key)
			if name == "" {
				continue
			}
			found.InitialKeys = append(found.InitialKeys, name)
			switch v := keyed.Value.(type) {
			case *ast.StringLiteral:
				found.InitialKeysValues[name] = string(v.Value)
			case *ast.NumberLiteral:
				if numberLiteralToUint16(v) == 0 {
					found.InitialObjKeys = append(found.InitialObjKeys, name)
				}
			}
		}
		return false
	})

	Walk(program, func(node ast.Node) bool {
		if name, ok := nextDotParent(node); ok {
			found.BrowserKeysKey = name
		}
		return true
	})

	return found
}

func propertyKeyName(key ast.Expression) string {
	switch k := key.(type) {
	case *ast.Identifier:
		return string(k.Name)
	case *ast.StringLiteral:
		return string(k.Value)
	default:
		return ""
	}
}

// nextDotParent is a narrow helper: the relative property the browser-keys
// table hangs off of sits one level up from the _cf_chl_opt reference in its
// enclosing member chain. Since Walk doesn't track parent pointers, it is
// matched from that enclosing DotExpression: node must have the shape
// `<anything>._cf_chl_opt.<name>`, and <name> is returned.
func nextDotParent(node ast.Node) (string, bool) {
	dot, ok := node.(*ast.DotExpression)
	if !ok {
		return "", false
	}
	if inner, ok := dot.Left.(*ast.DotExpression); ok && string(inner.Identifier.Name) == "_cf_chl_opt" {
		return string(dot.Identifier.Name), true
	}
	return "", false
}

// InitQueryArgument recognizes the init-query-argument string: a
// slash-delimited three-part shape (`/x:y:z/`), at least 20 characters, that
// never contains the literal substring "/b/" (a smaller, unrelated
// slash-delimited literal the script also carries).
func InitQueryArgument(program *ast.Program) string {
	var found string
	Walk(program, func(node ast.Node) bool {
		if found != "" {
			return false
		}
		lit, ok := node.(*ast.StringLiteral)
		if !ok {
			return true
		}
		s := string(lit.Value)
		if len(s) >= 20 && !containsSlashB(s) && countColons(s) >= 2 {
			found = s
		}
		return true
	})
	return found
}

func containsSlashB(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == '/' && s[i+1] == 'b' && s[i+2] == '/' {
			return true
		}
	}
	return false
}

func countColons(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			n++
		}
	}
	return n
}

// CompressorCharset recognizes the 65-character payload-compressor
// alphabet: a string literal of length 65 containing '$', '-', and '+'.
func CompressorCharset(program *ast.Program) string {
	var found string
	Walk(program, func(node ast.Node) bool {
		if found != "" {
			return false
		}
		lit, ok := node.(*ast.StringLiteral)
		if !ok {
			return true
		}
		s := string(lit.Value)
		if len(s) != 65 {
			return true
		}
		hasDollar, hasDash, hasPlus := false, false, false
		for i := 0; i < len(s); i++ {
			switch s[i] {
			case '$':
				hasDollar = true
			case '-':
				hasDash = true
			case '+':
				hasPlus = true
			}
		}
		if hasDollar && hasDash && hasPlus {
			found = s
		}
		return true
	})
	return found
}

// Base64Blobs is what ScriptVisitor recovers: the two long base64-encoded
// bytecode blobs the orchestrator script hands to the VM bootstrap.
type Base64Blobs struct {
	Init string
	Main string
}

// FindBase64Blobs walks program for `atob(<long-base64-literal>)` (the init
// blob) and a second long single-string-argument call (the main blob).
func FindBase64Blobs(program *ast.Program) *Base64Blobs {
	found := &Base64Blobs{}
	Walk(program, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpression)
		if !ok || len(call.ArgumentList) != 1 {
			return true
		}
		lit, ok := call.ArgumentList[0].(*ast.StringLiteral)
		if !ok || len(lit.Value) < 64 {
			return true
		}

		if id, ok := call.Callee.(*ast.Identifier); ok && string(id.Name) == "atob" {
			found.Init = string(lit.Value)
			return true
		}
		if found.Main == "" {
			found.Main = string(lit.Value)
		}
		return true
	})
	return found
}
