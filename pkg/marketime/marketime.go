// Package marketime handles NEM market timestamps. Market settlement times
// are always AEST (UTC+10) and never shift for daylight saving, so every
// conversion here uses a fixed offset rather than a location database zone.
package marketime

import (
	"regexp"
	"time"
)

// AEST is the fixed UTC+10 market offset.
var AEST = time.FixedZone("AEST", 10*60*60)

// FileIDLayout is the minute-resolution timestamp embedded in report
// filenames (e.g. PUBLIC_DISPATCH_202511191405_...).
const FileIDLayout = "200601021504"

var fileIDRe = regexp.MustCompile(`(\d{12})`)

// settlementLayouts are tried in order when decoding row timestamps.
// NEMweb mostly emits DD/MM/YYYY but some report families use ISO-ish forms.
var settlementLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02 15:04",
}

// ParseSettlement decodes a settlement timestamp string into the fixed AEST
// offset. Returns false if no known layout matches.
func ParseSettlement(s string) (time.Time, bool) {
	for _, layout := range settlementLayouts {
		if t, err := time.ParseInLocation(layout, s, AEST); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseFileID decodes a YYYYMMDDHHMM file identifier into AEST.
// Returns false for malformed identifiers.
func ParseFileID(id string) (time.Time, bool) {
	t, err := time.ParseInLocation(FileIDLayout, id, AEST)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FileIDFromName extracts the first 12-digit timestamp from a report
// filename, which is the settlement/publication clock for that file.
func FileIDFromName(name string) (string, bool) {
	m := fileIDRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatFileID renders t as a file identifier in AEST.
func FormatFileID(t time.Time) string {
	return t.In(AEST).Format(FileIDLayout)
}

// Now returns the current instant in the fixed market offset.
func Now() time.Time {
	return time.Now().In(AEST)
}

// Age reports how long ago the file identifier's instant was. Malformed
// identifiers report zero age so callers do not treat them as stale.
func Age(id string, now time.Time) time.Duration {
	t, ok := ParseFileID(id)
	if !ok {
		return 0
	}
	return now.Sub(t)
}
