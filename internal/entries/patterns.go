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

package entries

import "github.com/probechain/turnstile-probe/internal/turnstileerr"

// SignalPattern pairs a string-set matcher against one sub-function's
// captured strings with the Kind/ParseFunc to try when it matches. Order is
// load-bearing: the dispatcher tries patterns top to bottom and commits to
// the first match, so a more specific pattern whose signal strings are a
// superset of a later pattern's must come first (POWClick's two required
// strings are a superset of POW's single required string, so POWClick is
// checked first) and the broadest catch-all pattern must come last
// (StaticValue additionally requires a small captured-string set, since a
// large one is almost always something more specific misclassified).
type SignalPattern struct {
	Kind    Kind
	Matches func(set map[string]bool) bool
	Parse   ParseFunc
}

func has(set map[string]bool, s string) bool { return set[s] }

func hasAll(set map[string]bool, ss ...string) bool {
	for _, s := range ss {
		if !set[s] {
			return false
		}
	}
	return true
}

// SignalPatterns is the ordered dispatch table map_fingerprinting_cases
// walks against each VM sub-function's captured string set, in exact
// first-match-wins order.
var SignalPatterns = []SignalPattern{
	{Kind: KindBrowserKeys, Matches: func(s map[string]bool) bool { return has(s, "contentDocument") }, Parse: parseBrowserKeys},
	{Kind: KindBrowserData, Matches: func(s map[string]bool) bool { return has(s, "hardwareConcurrency") }, Parse: genericParse(KindBrowserData)},
	{Kind: KindUserAgentData, Matches: func(s map[string]bool) bool { return has(s, "getHighEntropyValues") }, Parse: genericParse(KindUserAgentData)},
	{Kind: KindUserPreferencesAndBattery, Matches: func(s map[string]bool) bool { return has(s, "prefers-color-scheme") }, Parse: genericParse(KindUserPreferencesAndBattery)},
	{Kind: KindTamperingAndPlugins, Matches: func(s map[string]bool) bool { return has(s, "__playwright") }, Parse: genericParse(KindTamperingAndPlugins)},
	{Kind: KindAudio, Matches: func(s map[string]bool) bool { return has(s, "createOscillator") }, Parse: genericParse(KindAudio)},
	{Kind: KindWebGL, Matches: func(s map[string]bool) bool { return has(s, "UNMASKED_RENDERER_WEBGL") }, Parse: genericParse(KindWebGL)},
	{Kind: KindDivRenderTime, Matches: func(s map[string]bool) bool { return has(s, "getBoundingClientRect") }, Parse: genericParse(KindDivRenderTime)},
	{Kind: KindComputedStyle, Matches: func(s map[string]bool) bool { return has(s, "getComputedStyle") }, Parse: genericParse(KindComputedStyle)},
	{Kind: KindHTMLRender, Matches: func(s map[string]bool) bool { return has(s, "outerHTML") }, Parse: genericParse(KindHTMLRender)},
	{Kind: KindImage, Matches: func(s map[string]bool) bool { return has(s, "toDataURL") }, Parse: genericParse(KindImage)},
	{Kind: KindDocumentObjectChecks, Matches: func(s map[string]bool) bool { return has(s, "characterSet") }, Parse: genericParse(KindDocumentObjectChecks)},
	{Kind: KindCSS, Matches: func(s map[string]bool) bool { return has(s, "CSS") && has(s, "supports") }, Parse: genericParse(KindCSS)},
	{Kind: KindElementParentChecks, Matches: func(s map[string]bool) bool { return has(s, "parentElement") }, Parse: genericParse(KindElementParentChecks)},
	{Kind: KindDocument, Matches: func(s map[string]bool) bool { return has(s, "visibilityState") }, Parse: genericParse(KindDocument)},
	{Kind: KindEmojiOsCheck, Matches: func(s map[string]bool) bool { return has(s, "\U0001F600") }, Parse: genericParse(KindEmojiOsCheck)},
	{Kind: KindTimezone, Matches: func(s map[string]bool) bool { return has(s, "getTimezoneOffset") }, Parse: parseTimezone},
	{Kind: KindLanguage, Matches: func(s map[string]bool) bool { return hasAll(s, "language", "languages", "NumberFormat") }, Parse: parseLanguage},
	{Kind: KindPerformance, Matches: func(s map[string]bool) bool { return has(s, "getEntriesByType") }, Parse: genericParse(KindPerformance)},
	{Kind: KindPerformanceMemory, Matches: func(s map[string]bool) bool { return has(s, "jsHeapSizeLimit") }, Parse: genericParse(KindPerformanceMemory)},
	{Kind: KindWorkerPerformanceTiming, Matches: func(s map[string]bool) bool { return has(s, "postMessage") && has(s, "Worker") }, Parse: genericParse(KindWorkerPerformanceTiming)},
	{Kind: KindPOWClick, Matches: func(s map[string]bool) bool {
		return hasAll(s, "the force is not strong with this one", "tangentialPressure")
	}, Parse: parsePOWClick},
	{Kind: KindPOW, Matches: func(s map[string]bool) bool { return has(s, "the force is not strong with this one") }, Parse: parsePOW},
	{Kind: KindPrivateAccessToken, Matches: func(s map[string]bool) bool { return has(s, "/cdn-cgi/challenge-platform") }, Parse: parsePrivateAccessToken},
	{Kind: KindSeleniumUnknown, Matches: func(s map[string]bool) bool { return has(s, "__selenium_unwrapped") || has(s, "webdriver") }, Parse: parseSelenium},
	{Kind: KindWebGLNativeFunctionChecks, Matches: func(s map[string]bool) bool { return has(s, "getParameter") && has(s, "toString") }, Parse: genericParse(KindWebGLNativeFunctionChecks)},
	{Kind: KindMath, Matches: func(s map[string]bool) bool { return has(s, "err") && has(s, "acosh") }, Parse: parseMath},
	{Kind: KindEngineBehavior, Matches: func(s map[string]bool) bool { return has(s, "toString##4") }, Parse: parseEngineBehavior},
	{Kind: KindEvalError, Matches: func(s map[string]bool) bool { return has(s, "EvalError") }, Parse: genericParse(KindEvalError)},
	{Kind: KindUnknownHashes, Matches: func(s map[string]bool) bool { return has(s, "getComputedTextLength") }, Parse: parseUnknownHashes},
	{Kind: KindStack, Matches: func(s map[string]bool) bool { return has(s, " ") && has(s, "stack") }, Parse: parseStack},
	{Kind: KindStaticValue, Matches: func(s map[string]bool) bool { return has(s, "length") && len(s) < 20 }, Parse: parseStaticValue},
}

// genericParse returns a ParseFunc producing a GenericEntry tagged with
// kind, used for signal kinds this port recognizes (so the dispatcher's
// ordering and entry count stays faithful) but hasn't been given a
// dedicated field-level implementation for.
func genericParse(kind Kind) ParseFunc {
	return func(idx QuickIndex, strings []string, values []Value) (Entry, error) {
		return &GenericEntry{kind: kind}, nil
	}
}

// Classify finds the first SignalPattern whose Matches predicate accepts
// capturedStrings, and runs its Parse against the same sub-function's
// strings/values. Returns a StructureError if nothing matches — the VM
// contains a sub-function shape map_fingerprinting_cases was never taught.
func Classify(capturedStrings []string, allStrings []string, values []Value) (Kind, Entry, error) {
	set := make(map[string]bool, len(capturedStrings))
	for _, s := range capturedStrings {
		set[s] = true
	}
	idx := BuildQuickIndex(allStrings)
	for _, p := range SignalPatterns {
		if !p.Matches(set) {
			continue
		}
		entry, err := p.Parse(idx, allStrings, values)
		if err != nil {
			return p.Kind, nil, err
		}
		return p.Kind, entry, nil
	}
	return 0, nil, turnstileerr.StructureError("no signal pattern matched this sub-function's captured strings")
}
