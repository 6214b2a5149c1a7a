package geotime

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	// Zone resolution must not depend on host zoneinfo
	_ "time/tzdata"

	"github.com/teranos/qntx-migrate/errors"
)

var timezoneByAbbreviation = map[string]string{
	"pst":   "America/Los_Angeles",
	"pdt":   "America/Los_Angeles",
	"est":   "America/New_York",
	"edt":   "America/New_York",
	"cst":   "America/Chicago",
	"cdt":   "America/Chicago",
	"mst":   "America/Denver",
	"mdt":   "America/Denver",
	"bst":   "Europe/London",
	"gmt":   "UTC",
	"z":     "UTC",
	"cet":   "Europe/Berlin",
	"cest":  "Europe/Berlin",
	"ist":   "Asia/Kolkata",
	"sgt":   "Asia/Singapore",
	"hkt":   "Asia/Hong_Kong",
	"jst":   "Asia/Tokyo",
	"aest":  "Australia/Sydney",
	"aedst": "Australia/Sydney",
}

// NormalizeTimezone attempts to resolve user input into a valid IANA timezone.
// Accepts canonical names, names with wrong capitalization and common abbreviations.
func NormalizeTimezone(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("timezone cannot be empty")
	}

	if isValidTimezone(trimmed) {
		// "america/new_york" may resolve on case-insensitive filesystems but is not canonical
		if canonical := canonicalizeValidTimezone(trimmed); canonical != "" {
			return canonical, nil
		}
		return trimmed, nil
	}

	candidate := sanitizeTimezone(trimmed)
	if isValidTimezone(candidate) {
		return candidate, nil
	}

	if tz, ok := timezoneByAbbreviation[strings.ToLower(trimmed)]; ok {
		return tz, nil
	}

	return "", errors.Newf("unknown timezone: %s", input)
}

// LoadLocation resolves a configured timezone. Empty input and "UTC" yield time.UTC,
// "local" resolves to the host timezone.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	if strings.EqualFold(strings.TrimSpace(name), "local") {
		detected, err := DetectLocalTimezone()
		if err != nil {
			return nil, err
		}
		name = detected
	}
	tz, err := NormalizeTimezone(name)
	if err != nil {
		return nil, err
	}
	if tz == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %s", tz)
	}
	return loc, nil
}

// DetectLocalTimezone attempts to determine the host operating system timezone.
func DetectLocalTimezone() (string, error) {
	if tz := os.Getenv("TZ"); tz != "" {
		if isValidTimezone(tz) {
			return tz, nil
		}
	}

	if name := time.Now().Location().String(); name != "" && name != "Local" {
		if isValidTimezone(name) {
			return name, nil
		}
	}

	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		tz := sanitizeTimezone(string(data))
		if isValidTimezone(tz) {
			return tz, nil
		}
	}

	if tz, err := readZoneinfoSymlink("/etc/localtime"); err == nil && tz != "" {
		return tz, nil
	}

	return "", errors.New("could not detect local timezone: tried TZ env var, time.Now().Location(), /etc/timezone, /etc/localtime")
}

func readZoneinfoSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	idx := strings.Index(resolved, "zoneinfo")
	if idx == -1 {
		return "", errors.New("zoneinfo segment not found")
	}
	candidate := strings.TrimPrefix(resolved[idx+len("zoneinfo"):], string(filepath.Separator))
	candidate = strings.ReplaceAll(candidate, string(os.PathSeparator), "/")
	if isValidTimezone(candidate) {
		return candidate, nil
	}
	return "", errors.Newf("invalid timezone: %q (from %s)", candidate, path)
}

func sanitizeTimezone(tz string) string {
	trimmed := strings.TrimSpace(tz)
	trimmed = strings.Trim(trimmed, "\"'")
	trimmed = strings.ReplaceAll(trimmed, " ", "_")
	if strings.Contains(trimmed, "/") {
		parts := strings.Split(trimmed, "/")
		for i, part := range parts {
			parts[i] = titleSegment(part)
		}
		return strings.Join(parts, "/")
	}
	if len(trimmed) <= 4 {
		// UTC, GMT and similar stay upper case
		return strings.ToUpper(trimmed)
	}
	return titleSegment(trimmed)
}

// titleSegment capitalizes each underscore-separated word: new_york -> New_York
func titleSegment(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		lower := strings.ToLower(w)
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, "_")
}

func isValidTimezone(tz string) bool {
	if tz == "" || tz == "Local" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// canonicalizeValidTimezone returns the canonical IANA name when tz has wrong capitalization,
// or "" when tz is already properly formatted (e.g. "America/Port_of_Spain").
func canonicalizeValidTimezone(tz string) string {
	if strings.ToLower(tz) == tz || hasIncorrectCapitalization(tz) {
		candidate := sanitizeTimezone(tz)
		if isValidTimezone(candidate) && candidate != tz {
			return candidate
		}
	}
	return ""
}

// hasIncorrectCapitalization detects a segment starting with a lowercase letter
func hasIncorrectCapitalization(tz string) bool {
	if strings.ToLower(tz) == tz {
		return true
	}
	for _, part := range strings.Split(tz, "/") {
		if len(part) > 0 && part[0] >= 'a' && part[0] <= 'z' {
			return true
		}
	}
	return false
}
