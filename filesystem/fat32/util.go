package fat32

import (
	"fmt"
	"strings"
	"time"
)

const (
	shortNameLength      = 8
	shortExtensionLength = 3
)

// characters other than A-Z and 0-9 permitted in a short name
const shortNameSpecials = "!#$%&'()-@^_`{}~"

// convertSfn splits a name into the uppercase 8.3 base and extension stored on
// disk. Names that cannot be stored as a short name are rejected; there is no
// long name support.
func convertSfn(name string) (base, ext string, err error) {
	if name == "." || name == ".." {
		return name, "", nil
	}
	upper := strings.ToUpper(name)
	base, ext = upper, ""
	if i := strings.LastIndexByte(upper, '.'); i >= 0 {
		base, ext = upper[:i], upper[i+1:]
		if ext == "" {
			return "", "", fmt.Errorf("invalid short name %q: empty extension", name)
		}
	}
	switch {
	case base == "":
		return "", "", fmt.Errorf("invalid short name %q: empty base name", name)
	case len(base) > shortNameLength:
		return "", "", fmt.Errorf("invalid short name %q: base longer than %d characters", name, shortNameLength)
	case len(ext) > shortExtensionLength:
		return "", "", fmt.Errorf("invalid short name %q: extension longer than %d characters", name, shortExtensionLength)
	}
	for _, r := range base + ext {
		if !validShortNameChar(r) {
			return "", "", fmt.Errorf("invalid short name %q: character %q not allowed", name, r)
		}
	}
	return base, ext, nil
}

func validShortNameChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r > 0x7f:
		return false
	default:
		return strings.ContainsRune(shortNameSpecials, r)
	}
}

// normalizeLabel uppercases a volume label and checks it fits the 11-byte field
func normalizeLabel(label string) (string, error) {
	label = strings.ToUpper(strings.TrimRight(label, " "))
	if len(label) > shortNameLength+shortExtensionLength {
		return "", fmt.Errorf("volume label %q longer than %d characters", label, shortNameLength+shortExtensionLength)
	}
	for _, r := range label {
		if r != ' ' && !validShortNameChar(r) {
			return "", fmt.Errorf("volume label %q: character %q not allowed", label, r)
		}
	}
	return label, nil
}

// padRight pads s with spaces to n bytes
func padRight(s string, n int) []byte {
	b := []byte(strings.Repeat(" ", n))
	copy(b, s)
	return b
}

var (
	minFatTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxFatTime = time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC)
)

// timeToBytes converts a time into the FAT date and time words plus the
// creation-time fine resolution byte in 10 ms units
func timeToBytes(t time.Time) (fatTime, fatDate uint16, tenths uint8) {
	t = t.UTC()
	if t.Before(minFatTime) {
		t = minFatTime
	}
	if t.After(maxFatTime) {
		t = maxFatTime
	}
	fatTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	fatDate = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tenths = uint8((t.Second()%2)*100 + t.Nanosecond()/10_000_000)
	return fatTime, fatDate, tenths
}

// timeFromBytes is the inverse of timeToBytes; times are taken to be UTC
func timeFromBytes(fatTime, fatDate uint16, tenths uint8) time.Time {
	year := int(fatDate>>9) + 1980
	month := time.Month((fatDate >> 5) & 0x0f)
	day := int(fatDate & 0x1f)
	if month == 0 || day == 0 {
		return time.Time{}
	}
	hour := int(fatTime >> 11)
	minute := int((fatTime >> 5) & 0x3f)
	second := int(fatTime&0x1f) * 2
	extra := time.Duration(tenths) * 10 * time.Millisecond
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC).Add(extra)
}

// nextPow2 returns the smallest power of two >= n
func nextPow2(n int64) int64 {
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}
