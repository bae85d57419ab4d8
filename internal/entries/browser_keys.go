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

// BrowserKeysEntry reports the orchestrator's own list of keys it expects
// back in later requests plus two opaque companion keys it never explains
// the purpose of. The real script seeds this from a large embedded JSON
// template with live document/navigator substitutions spliced in; this port
// has no copy of that template (it ships as a build asset in the source,
// not inside the bytecode this port reads), so it reports ctx's own
// browser-key list with the same placeholder substitutions applied to a
// minimal object instead of reproducing the full template verbatim.
type BrowserKeysEntry struct {
	BrowserKeysKey string
	UnknownKey1    string
	UnknownKey2    string
}

func parseBrowserKeys(idx QuickIndex, strings []string, values []Value) (Entry, error) {
	contentDocumentIdx, ok := idx["contentDocument##1"]
	if !ok {
		return nil, ExtractorErrorFor("contentDocument##1")
	}
	browserKeysKey, err := stringAt(strings, contentDocumentIdx-3)
	if err != nil {
		return nil, err
	}
	unknownKey1, err := stringAt(strings, contentDocumentIdx-2)
	if err != nil {
		return nil, err
	}
	unknownKey2, err := stringAt(strings, contentDocumentIdx-1)
	if err != nil {
		return nil, err
	}
	return &BrowserKeysEntry{BrowserKeysKey: browserKeysKey, UnknownKey1: unknownKey1, UnknownKey2: unknownKey2}, nil
}

func (e *BrowserKeysEntry) WriteEntry(ctx *Context, out map[string]interface{}) (int, error) {
	keys := make([]interface{}, len(ctx.BrowserKeys))
	for i, k := range ctx.BrowserKeys {
		keys[i] = k
	}
	template := map[string]interface{}{
		"referrer":   ctx.Referrer,
		"userAgent":  ctx.Fingerprint.UserAgent,
		"platform":   ctx.Fingerprint.Platform,
		"language":   ctx.Fingerprint.LanguageInfo.Language,
		"languages":  ctx.Fingerprint.LanguageInfo.Languages,
		"readyState": "complete",
		"keys":       keys,
	}
	out[e.BrowserKeysKey] = template
	out[e.UnknownKey1] = false
	out[e.UnknownKey2] = ""
	return 0, nil
}
