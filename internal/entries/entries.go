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

// Package entries classifies and materializes the fingerprint entries a
// Turnstile orchestrator script's dispatcher chain walks at runtime: each
// entry is parsed once from the strings/values a VM sub-function captures
// and later written into the output payload against a live solve context.
package entries

import (
	"fmt"
	"time"

	"github.com/probechain/turnstile-probe/internal/reverse"
	"github.com/probechain/turnstile-probe/internal/turnstileerr"
)

// Kind names one of the fingerprint entry shapes a SignalPattern can match.
// Order has no significance here (SignalPatterns carries the match order);
// this is purely an identity tag for logging and for GenericEntry.
type Kind int

const (
	KindBrowserKeys Kind = iota
	KindBrowserData
	KindUserAgentData
	KindUserPreferencesAndBattery
	KindTamperingAndPlugins
	KindAudio
	KindWebGL
	KindDivRenderTime
	KindComputedStyle
	KindHTMLRender
	KindImage
	KindDocumentObjectChecks
	KindCSS
	KindElementParentChecks
	KindDocument
	KindEmojiOsCheck
	KindTimezone
	KindLanguage
	KindPerformance
	KindPerformanceMemory
	KindWorkerPerformanceTiming
	KindPOWClick
	KindPOW
	KindPrivateAccessToken
	KindSeleniumUnknown
	KindWebGLNativeFunctionChecks
	KindMath
	KindEngineBehavior
	KindEvalError
	KindUnknownHashes
	KindStack
	KindStaticValue
)

func (k Kind) String() string {
	names := [...]string{
		"BrowserKeys", "BrowserData", "UserAgentData", "UserPreferencesAndBattery",
		"TamperingAndPlugins", "Audio", "WebGL", "DivRenderTime", "ComputedStyle",
		"HTMLRender", "Image", "DocumentObjectChecks", "CSS", "ElementParentChecks",
		"Document", "EmojiOsCheck", "Timezone", "Language", "Performance",
		"PerformanceMemory", "WorkerPerformanceTiming", "POWClick", "POW",
		"PrivateAccessToken", "SeleniumUnknown", "WebGLNativeFunctionChecks",
		"Math", "EngineBehavior", "EvalError", "UnknownHashes", "Stack", "StaticValue",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

// Value is one literal captured while a VM sub-function was decoded: either
// a string or an integer. internal/vmparser converts each bytecode.Value
// into one; bytecode.Value's undefined case arrives here as a non-string
// with Integer 0.
type Value struct {
	IsString bool
	String   string
	Integer  int64
}

// LanguageInfo bundles the locale-derived strings several entries (Language,
// BrowserKeys) write verbatim into the payload.
type LanguageInfo struct {
	Language          string
	Languages         []string
	FormattedTimezone string
	FormattedLanguage string
	FormattedList     string
	FormattedNotation string
}

// Fingerprint is the host-environment snapshot entries read from to fill in
// their payload values; it is gathered once per solve and handed to every
// entry's WriteEntry call unchanged.
type Fingerprint struct {
	Platform          string
	UserAgent         string
	MathFingerprint   string
	ComputedStyleHash string
	LanguageInfo      LanguageInfo
}

// Context bundles everything an entry's WriteEntry needs beyond its own
// parsed fields: the transport codec, the solve's browser/locale context,
// and the metadata the opcode-table builder and classifier recovered
// earlier in the pipeline (the create-function/function-with-opcodes
// identifiers, the opcode-kind-to-function-name map).
type Context struct {
	Compressor  *reverse.Compressor
	XorCodec    *reverse.XorCodec
	SolveURL    string
	SolveLang   string
	Referrer    string
	Timezone    string
	CRay        string
	SolveStart  time.Time
	BrowserKeys []string

	Fingerprint Fingerprint

	OpcodeToFunctionName map[string]string
	CreateFunctionIdent  string
	FunctionWithOpcodes  string

	QuerySelectorCalls []string
}

// Entry is implemented by every concrete fingerprint-entry type. Parse
// extracts an entry's payload-key strings (and, for a few kinds, numeric
// constants) from the strings/values a VM sub-function captured; WriteEntry
// later fills in their live values against the output map and reports how
// many milliseconds that entry's real browser-side work would have taken,
// which the solve loop uses to pace requests realistically.
type Entry interface {
	WriteEntry(ctx *Context, out map[string]interface{}) (timingMillis int, err error)
}

// ParseFunc builds an Entry from the strings/values captured inside the VM
// sub-function a SignalPattern matched against.
type ParseFunc func(idx QuickIndex, strings []string, values []Value) (Entry, error)

// QuickIndex maps a string to its first occurrence in a strings slice,
// disambiguating repeats with a "<string>##<n>" suffix for the 2nd, 3rd, ...
// occurrence - mirroring the source's build_quick_idx_map exactly, since
// several entries key their offsets off a string's Nth occurrence rather
// than its first.
type QuickIndex map[string]int

// BuildQuickIndex constructs a QuickIndex over strings.
func BuildQuickIndex(strings []string) QuickIndex {
	idx := make(QuickIndex, len(strings))
	for i, s := range strings {
		if _, exists := idx[s]; !exists {
			idx[s] = i
			continue
		}
		for n := 1; ; n++ {
			key := fmt.Sprintf("%s##%d", s, n)
			if _, exists := idx[key]; !exists {
				idx[key] = i
				break
			}
		}
	}
	return idx
}

// GetStringAtOffset returns strings[idx[base]+offset], the pattern every
// entry's Parse uses to recover its payload keys from a small number of
// fixed anchor strings the orchestrator always emits around them.
func GetStringAtOffset(idx QuickIndex, strings []string, base string, offset int) (string, error) {
	base_idx, ok := idx[base]
	if !ok {
		return "", turnstileerr.ExtractorErrorf("could not find base string %q", base)
	}
	pos := base_idx + offset
	if pos < 0 || pos >= len(strings) {
		return "", turnstileerr.ExtractorErrorf("could not find string from %s+%d (offset %d)", base, base_idx, offset)
	}
	return strings[pos], nil
}

// stringAt returns strings[pos], erroring with the pipeline's Extractor
// kind if pos falls outside strings — the bounds-checked primitive
// GetStringAtOffset and any caller holding a raw quick-index position build
// on.
func stringAt(strings []string, pos int) (string, error) {
	if pos < 0 || pos >= len(strings) {
		return "", turnstileerr.ExtractorErrorf("string index %d out of range (len %d)", pos, len(strings))
	}
	return strings[pos], nil
}

// ExtractorErrorFor reports that base could not be found in a QuickIndex.
func ExtractorErrorFor(base string) error {
	return turnstileerr.ExtractorErrorf("could not find base string %q", base)
}

// FindIntegerAfter returns the integer value immediately following the
// first occurrence of key among values treated as a string, the shape POW
// and POWClick use to recover their difficulty constant.
func FindIntegerAfter(values []Value, key string) (int64, error) {
	for i, v := range values {
		if v.IsString && v.String == key {
			if i+1 >= len(values) {
				return 0, turnstileerr.ExtractorErrorf("expected a value after %q", key)
			}
			next := values[i+1]
			if next.IsString {
				return 0, turnstileerr.ExtractorErrorf("expected integer value after %q, got string", key)
			}
			return next.Integer, nil
		}
	}
	return 0, turnstileerr.ExtractorErrorf("could not find value for key %q", key)
}
