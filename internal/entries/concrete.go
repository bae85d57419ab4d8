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

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	mathrand "math/rand"
	"time"
)

// GenericEntry is the fallback for any Kind this port hasn't given a
// dedicated struct yet: it writes nothing and reports zero timing, keeping
// the dispatcher chain's ordering and entry count intact without
// fabricating payload values this port has no ground truth for.
type GenericEntry struct {
	kind Kind
}

func (e *GenericEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	return 0, nil
}

// StaticValueEntry writes a single literal key/value pair the orchestrator
// precomputed and embedded directly in the VM's constant pool.
type StaticValueEntry struct {
	Key   string
	Value string
}

func parseStaticValue(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	key, err := GetStringAtOffset(idx, strings, "length", 1)
	if err != nil {
		return nil, err
	}
	value, err := GetStringAtOffset(idx, strings, "length", 2)
	if err != nil {
		return nil, err
	}
	return &StaticValueEntry{Key: key, Value: value}, nil
}

func (e *StaticValueEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	out[e.Key] = e.Value
	return 1, nil
}

// StackEntry reports the (always-empty, in this port) JS call stack an
// error-capture probe would have observed.
type StackEntry struct {
	ArrayKey string
}

func parseStack(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	arrayKey, err := GetStringAtOffset(idx, strings, " ", 2)
	if err != nil {
		return nil, err
	}
	return &StackEntry{ArrayKey: arrayKey}, nil
}

func (e *StackEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	out[e.ArrayKey] = []interface{}{}
	return 0, nil
}

// MathEntry reports the host's transcendental-math rounding fingerprint.
type MathEntry struct {
	HashKey string
}

func parseMath(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	hashKey, err := GetStringAtOffset(idx, strings, "err", -1)
	if err != nil {
		return nil, err
	}
	return &MathEntry{HashKey: hashKey}, nil
}

func (e *MathEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	out[e.HashKey] = ctx.Fingerprint.MathFingerprint
	return 0, nil
}

// SeleniumEntry reports webdriver-automation tells: plugin count, attached
// attributes, HTML comments.
type SeleniumEntry struct {
	PluginsKey    string
	HtAttrsKey    string
	AttributesKey string
	CommentsKey   string
}

func parseSelenium(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	pluginsKey, err := GetStringAtOffset(idx, strings, "plugins", 3)
	if err != nil {
		return nil, err
	}
	htAttrsKey, err := GetStringAtOffset(idx, strings, "body##1", -2)
	if err != nil {
		return nil, err
	}
	attributesKey, err := GetStringAtOffset(idx, strings, "body##1", -1)
	if err != nil {
		return nil, err
	}
	commentsKey, err := GetStringAtOffset(idx, strings, "body##1", 1)
	if err != nil {
		return nil, err
	}
	return &SeleniumEntry{PluginsKey: pluginsKey, HtAttrsKey: htAttrsKey, AttributesKey: attributesKey, CommentsKey: commentsKey}, nil
}

func (e *SeleniumEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	out[e.PluginsKey] = "2"
	out[e.HtAttrsKey] = []interface{}{}
	out[e.AttributesKey] = []interface{}{}
	out[e.CommentsKey] = false
	return 0, nil
}

// PrivateAccessTokenEntry reports whether the browser's Private Access
// Token handshake with the challenge platform CDN succeeded.
type PrivateAccessTokenEntry struct {
	StatusKey string
	QueryKey  string
}

func parsePrivateAccessToken(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	statusKey, err := GetStringAtOffset(idx, strings, "substring", -1)
	if err != nil {
		return nil, err
	}
	queryKey, err := GetStringAtOffset(idx, strings, "/cdn-cgi/challenge-platform", 1)
	if err != nil {
		return nil, err
	}
	return &PrivateAccessTokenEntry{StatusKey: statusKey, QueryKey: queryKey}, nil
}

func (e *PrivateAccessTokenEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	if len(ctx.Referrer) >= len("https") && ctx.Referrer[:5] == "https" {
		out[e.StatusKey] = "S"
		return 0, nil
	}
	out[e.StatusKey] = "I"
	return 0, nil
}

// UnknownHashesEntry reports a handful of content hashes this port has no
// ground truth for the real algorithm of; the original script computes
// these from live canvas/audio/font render output, so like the source's own
// fallback this writes freshly generated random hex in their place.
type UnknownHashesEntry struct {
	KeyOne   string
	KeyTwo   string
	KeyThree string
	KeyFour  string
}

func parseUnknownHashes(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	keyOne, err := GetStringAtOffset(idx, strings, "String", 2)
	if err != nil {
		return nil, err
	}
	keyTwo, err := GetStringAtOffset(idx, strings, "getComputedTextLength", -3)
	if err != nil {
		return nil, err
	}
	keyThree, err := GetStringAtOffset(idx, strings, "getComputedTextLength", 2)
	if err != nil {
		return nil, err
	}
	keyFour, err := GetStringAtOffset(idx, strings, "getComputedTextLength", 6)
	if err != nil {
		return nil, err
	}
	return &UnknownHashesEntry{KeyOne: keyOne, KeyTwo: keyTwo, KeyThree: keyThree, KeyFour: keyFour}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}

func (e *UnknownHashesEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	for _, key := range []string{e.KeyOne, e.KeyTwo, e.KeyThree, e.KeyFour} {
		h, err := randomHex(64)
		if err != nil {
			return 0, err
		}
		out[key] = h
	}
	return 0, nil
}

// LanguageEntry reports the browser's locale: raw language tag, the
// negotiated languages list, and Intl-formatted renderings of each.
type LanguageEntry struct {
	LanguageKey          string
	LanguagesKey         string
	FormattedLanguageKey string
	FormattedListKey     string
	FormatKey            string
	NotationKey          string
	TimezoneKey          string
}

func parseLanguage(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	languageKey, err := GetStringAtOffset(idx, strings, "language", -2)
	if err != nil {
		return nil, err
	}
	languagesKey, err := GetStringAtOffset(idx, strings, "languages", -2)
	if err != nil {
		return nil, err
	}
	formattedLanguageKey, err := GetStringAtOffset(idx, strings, "languages", 1)
	if err != nil {
		return nil, err
	}
	formattedListKey, err := GetStringAtOffset(idx, strings, "languages", 2)
	if err != nil {
		return nil, err
	}
	formatKey, err := GetStringAtOffset(idx, strings, "format", 1)
	if err != nil {
		return nil, err
	}
	timezoneKey, err := GetStringAtOffset(idx, strings, "eo-UA", 1)
	if err != nil {
		return nil, err
	}
	notationKey, err := GetStringAtOffset(idx, strings, "notation", -3)
	if err != nil {
		return nil, err
	}
	return &LanguageEntry{
		LanguageKey: languageKey, LanguagesKey: languagesKey,
		FormattedLanguageKey: formattedLanguageKey, FormattedListKey: formattedListKey,
		FormatKey: formatKey, TimezoneKey: timezoneKey, NotationKey: notationKey,
	}, nil
}

func (e *LanguageEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	li := ctx.Fingerprint.LanguageInfo
	languages := make([]interface{}, len(li.Languages))
	for i, l := range li.Languages {
		languages[i] = l
	}
	out[e.LanguageKey] = li.Language
	out[e.LanguagesKey] = languages
	out[e.FormattedLanguageKey] = li.FormattedLanguage
	out[e.FormattedListKey] = li.FormattedList
	out[e.FormatKey] = li.FormattedTimezone
	out[e.TimezoneKey] = li.FormattedTimezone
	out[e.NotationKey] = li.FormattedNotation
	return 0, nil
}

// EngineBehaviorEntry reports a block of ~86 encrypted JS engine quirk
// probe results. The real orchestrator derives these from live engine
// behavior this port cannot observe, so WriteEntry ships the same
// hardcoded shape the source falls back to, with AppendKey spliced in.
type EngineBehaviorEntry struct {
	EncryptedContentKey string
	AppendKey           string
}

func parseEngineBehavior(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	encryptedContentKey, err := GetStringAtOffset(idx, strings, "toString##4", 2)
	if err != nil {
		return nil, err
	}
	appendKey, err := GetStringAtOffset(idx, strings, "toString##4", -2)
	if err != nil {
		return nil, err
	}
	return &EngineBehaviorEntry{EncryptedContentKey: encryptedContentKey, AppendKey: appendKey}, nil
}

func engineBehaviorPayload(appendKey string) []interface{} {
	payload := make([]interface{}, 0, 86)
	for i := 0; i < 66; i++ {
		payload = append(payload, true)
	}
	payload = append(payload, 117, "undefined", "undefined", "object", "object", "undefined", false,
		"undefined", true, 13, 0, 1, true, false, -1, -1, "[object Undefined]", 18,
		fmt.Sprintf("function %s() { [native code] }", appendKey),
		fmt.Sprintf("%s() { [native code] }", appendKey))
	return payload
}

func (e *EngineBehaviorEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	encrypted, err := ctx.XorCodec.Encrypt(engineBehaviorPayload(e.AppendKey))
	if err != nil {
		return 0, err
	}
	out[e.EncryptedContentKey] = encrypted
	return 0, nil
}

// TimezoneEntry reports UTC-offset deltas across a handful of historical
// years, used to fingerprint DST-rule table differences between engines.
type TimezoneEntry struct {
	Key1999    string
	Key1060    string
	Key1937    string
	Key1945    string
	Key1989    string
	Key1989Alt string
	OffsetKey  string
}

func parseTimezone(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	k999, err := GetStringAtOffset(idx, strings, "999", -1)
	if err != nil {
		return nil, err
	}
	k1060, err := GetStringAtOffset(idx, strings, "1060", -1)
	if err != nil {
		return nil, err
	}
	k1937, err := GetStringAtOffset(idx, strings, "1937", -1)
	if err != nil {
		return nil, err
	}
	k1945, err := GetStringAtOffset(idx, strings, "1945", -1)
	if err != nil {
		return nil, err
	}
	k1989, err := GetStringAtOffset(idx, strings, "1989", -1)
	if err != nil {
		return nil, err
	}
	k1989alt, err := GetStringAtOffset(idx, strings, "1989", 1)
	if err != nil {
		return nil, err
	}
	offsetKey, err := GetStringAtOffset(idx, strings, "getTimezoneOffset", -1)
	if err != nil {
		return nil, err
	}
	return &TimezoneEntry{
		Key1999: k999, Key1060: k1060, Key1937: k1937, Key1945: k1945,
		Key1989: k1989, Key1989Alt: k1989alt, OffsetKey: offsetKey,
	}, nil
}

// utcOffsetForYear returns the UTC offset (in minutes, JS getTimezoneOffset
// sign convention) the named IANA zone had on December 1st of year.
func utcOffsetForYear(tz string, year int) (int, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, err
	}
	t := time.Date(year, time.December, 1, 0, 0, 0, 0, loc)
	_, offsetSeconds := t.Zone()
	return -offsetSeconds / 60, nil
}

func (e *TimezoneEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	years := map[string]int{
		e.Key1999: 1999, e.Key1060: 1060, e.Key1937: 1937,
		e.Key1945: 1945, e.Key1989: 1989,
	}
	for key, year := range years {
		offset, err := utcOffsetForYear(ctx.Timezone, year)
		if err != nil {
			return 0, err
		}
		out[key] = offset
	}
	offset, err := utcOffsetForYear(ctx.Timezone, time.Now().Year())
	if err != nil {
		return 0, err
	}
	out[e.OffsetKey] = offset
	out[e.Key1989Alt] = out[e.Key1989]
	return 0, nil
}

// POWEntry reports a client-side proof-of-work challenge result: a SHA-256
// brute-force search for a hash with difficulty leading zero bits.
type POWEntry struct {
	Difficulty    int64
	HashKey       string
	ResultKey     string
	IterationsKey string
	TimeSpentKey  string
	FoundHashKey  string
	extraKeys     [5]string
}

func parsePOW(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	difficulty, err := FindIntegerAfter(values, "the force is not strong with this one")
	if err != nil {
		return nil, err
	}
	hashKey, err := GetStringAtOffset(idx, strings, "performance##1", -5)
	if err != nil {
		return nil, err
	}
	resultKey, err := GetStringAtOffset(idx, strings, "performance##1", -4)
	if err != nil {
		return nil, err
	}
	iterationsKey, err := GetStringAtOffset(idx, strings, "performance##1", -3)
	if err != nil {
		return nil, err
	}
	timeSpentKey, err := GetStringAtOffset(idx, strings, "performance##1", -2)
	if err != nil {
		return nil, err
	}
	extra1, err := GetStringAtOffset(idx, strings, "performance##1", -1)
	if err != nil {
		return nil, err
	}
	foundHashKey, err := GetStringAtOffset(idx, strings, "now##1", 1)
	if err != nil {
		return nil, err
	}
	return &POWEntry{
		Difficulty: difficulty, HashKey: hashKey, ResultKey: resultKey,
		IterationsKey: iterationsKey, TimeSpentKey: timeSpentKey,
		FoundHashKey: foundHashKey, extraKeys: [5]string{extra1},
	}, nil
}

// runPOW brute-forces a nonce whose SHA-256 digest has at least difficulty
// leading zero bits, mirroring the orchestrator's client-side PoW loop.
// Gives up after 20 seconds, the same ceiling the source enforces.
func runPOW(seed string, difficulty int64) (result string, hash string, iterations int64, elapsed time.Duration) {
	start := time.Now()
	deadline := start.Add(20 * time.Second)
	requiredBytes := int(difficulty / 8)
	requiredBits := uint(difficulty % 8)

	var n int64
	for {
		n++
		candidate := fmt.Sprintf("%s%d", seed, n)
		sum := sha256.Sum256([]byte(candidate))
		if hasLeadingZeroBits(sum[:], requiredBytes, requiredBits) {
			return candidate, hex.EncodeToString(sum[:]), n, time.Since(start)
		}
		if time.Now().After(deadline) {
			return candidate, hex.EncodeToString(sum[:]), n, time.Since(start)
		}
	}
}

func hasLeadingZeroBits(digest []byte, fullBytes int, extraBits uint) bool {
	for i := 0; i < fullBytes; i++ {
		if i >= len(digest) || digest[i] != 0 {
			return false
		}
	}
	if extraBits == 0 {
		return true
	}
	if fullBytes >= len(digest) {
		return false
	}
	mask := byte(0xFF << (8 - extraBits))
	return digest[fullBytes]&mask == 0
}

func (e *POWEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	seed := fmt.Sprintf("%s-%d", ctx.CRay, ctx.SolveStart.UnixNano())
	result, hash, iterations, elapsed := runPOW(seed, e.Difficulty)
	out[e.ResultKey] = result
	out[e.HashKey] = hash
	out[e.IterationsKey] = iterations
	out[e.TimeSpentKey] = elapsed.Milliseconds()
	out[e.FoundHashKey] = hash
	sleepMillis := 50 + mathrand.Intn(150)
	return sleepMillis, nil
}

// POWClickEntry is POWEntry plus the simulated pointer-click event the
// orchestrator's click-gated PoW variant expects to see in the fake stack
// trace it asks the browser to compute timing from.
type POWClickEntry struct {
	POWEntry
	StaticFalseKey    string
	ClickDataKey      string
	TimeUntilClickKey string
	UnknownStringKey  string
}

func parsePOWClick(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	difficulty, err := FindIntegerAfter(values, "the force is not strong with this one")
	if err != nil {
		return nil, err
	}
	hashKey, err := GetStringAtOffset(idx, strings, "performance", -6)
	if err != nil {
		return nil, err
	}
	resultKey, err := GetStringAtOffset(idx, strings, "performance", -5)
	if err != nil {
		return nil, err
	}
	iterationsKey, err := GetStringAtOffset(idx, strings, "performance", -4)
	if err != nil {
		return nil, err
	}
	timeSpentKey, err := GetStringAtOffset(idx, strings, "performance", -3)
	if err != nil {
		return nil, err
	}
	staticFalseKey, err := GetStringAtOffset(idx, strings, "performance", -2)
	if err != nil {
		return nil, err
	}
	clickDataKey, err := GetStringAtOffset(idx, strings, "performance", -1)
	if err != nil {
		return nil, err
	}
	foundHashKey, err := GetStringAtOffset(idx, strings, "Error##1", -2)
	if err != nil {
		return nil, err
	}
	timeUntilClickKey, err := GetStringAtOffset(idx, strings, "now##3", 1)
	if err != nil {
		return nil, err
	}
	_, err = GetStringAtOffset(idx, strings, "now##2", 2)
	if err != nil {
		return nil, err
	}
	unknownStringKey, err := GetStringAtOffset(idx, strings, "Error", -1)
	if err != nil {
		return nil, err
	}
	return &POWClickEntry{
		POWEntry: POWEntry{
			Difficulty: difficulty, HashKey: hashKey, ResultKey: resultKey,
			IterationsKey: iterationsKey, TimeSpentKey: timeSpentKey, FoundHashKey: foundHashKey,
		},
		StaticFalseKey: staticFalseKey, ClickDataKey: clickDataKey,
		TimeUntilClickKey: timeUntilClickKey, UnknownStringKey: unknownStringKey,
	}, nil
}

func (e *POWClickEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	timeUntilClick := 3000 + mathrand.Intn(2000)

	seed := fmt.Sprintf("%s-%d", ctx.CRay, ctx.SolveStart.UnixNano())
	result, hash, iterations, elapsed := runPOW(seed, e.Difficulty)
	out[e.ResultKey] = result
	out[e.HashKey] = hash
	out[e.IterationsKey] = iterations
	out[e.TimeSpentKey] = elapsed.Milliseconds() + int64(timeUntilClick)
	out[e.FoundHashKey] = hash
	out[e.StaticFalseKey] = false

	clickData := map[string]interface{}{
		"x":           10 + mathrand.Intn(200),
		"y":           10 + mathrand.Intn(200),
		"pointerType": "mouse",
		"pressure":    0,
	}
	out[e.ClickDataKey] = clickData

	fnName := ctx.OpcodeToFunctionName["CallFuncNoContext"]
	fakeStack := fmt.Sprintf("Error\n    at %s (%s:1:1)\n    at %s (%s:1:1)",
		ctx.CreateFunctionIdent, ctx.FunctionWithOpcodes, fnName, ctx.FunctionWithOpcodes)
	out[e.UnknownStringKey] = ctx.XorCodec.EncryptRaw(fakeStack)

	return timeUntilClick, nil
}
