// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "regexp"

// redactionPattern pairs a compiled regex with a labeled replacement so the
// log reader knows what was removed without seeing the secret value.
type redactionPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactionPatterns is ordered: more specific patterns first.
var redactionPatterns = []redactionPattern{
	// Gemini/Google API key: AIza<base62, 30+ chars>
	{regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`), "[REDACTED:gemini_key]"},
	// Bearer token in Authorization header values
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`), "[REDACTED:bearer_token]"},
	// API key in URL query parameter: key=<value>
	{regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`), "key=[REDACTED]"},
}

// safeLogMaxLen bounds error bodies copied into logs and error messages.
const safeLogMaxLen = 500

// SafeLogString redacts known secret formats from s and truncates it to a
// log-friendly length. Used on provider error bodies before they reach
// error messages or logs.
func SafeLogString(s string) string {
	for _, rp := range redactionPatterns {
		s = rp.pattern.ReplaceAllString(s, rp.replacement)
	}
	if len(s) > safeLogMaxLen {
		s = s[:safeLogMaxLen] + "..."
	}
	return s
}
