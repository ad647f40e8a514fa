// Package tireapi implements C2: a narrow client for the third-party
// tire-telemetry vendor API used to enrich incoming messages (spec.md
// §4.2), grounded on the original's app/services/sign_util.py and
// app/services/smarttyre_api.py.
package tireapi

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign reproduces the vendor's request-signing algorithm: sorted
// headers, then the raw body, then sorted params (each value list
// itself sorted and comma-joined), then sorted path segments, then the
// shared sign key — concatenated with trailing "&" separators and
// hashed with MD5. Any component that is empty/nil is skipped
// entirely, not appended as an empty segment.
func Sign(headers map[string]string, body string, params map[string][]string, paths []string, signKey string) string {
	var b strings.Builder

	if len(headers) > 0 {
		keys := make([]string, 0, len(headers))
		for k := range headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(headers[k])
			b.WriteByte('&')
		}
	}

	if body != "" {
		b.WriteString(body)
		b.WriteByte('&')
	}

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values := append([]string(nil), params[k]...)
			sort.Strings(values)
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strings.Join(values, ","))
			b.WriteByte('&')
		}
	}

	if len(paths) > 0 {
		sortedPaths := append([]string(nil), paths...)
		sort.Strings(sortedPaths)
		b.WriteString(strings.Join(sortedPaths, ","))
		b.WriteByte('&')
	}

	b.WriteString(signKey)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
