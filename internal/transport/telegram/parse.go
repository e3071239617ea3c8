package telegram

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errBadWhen = errors.New("bad time, use 02.01 19:00, 2026-01-02 19:00 or 19:00")

// splitFields splits a "a | b | c" payload and requires at least min parts.
func splitFields(payload string, min int) ([]string, error) {
	parts := strings.Split(payload, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) < min {
		return nil, errors.New("not enough fields")
	}
	return out, nil
}

// parseWhen accepts "DD.MM HH:MM" (next occurrence), "YYYY-MM-DD HH:MM"
// or a bare "HH:MM" (today, or tomorrow when already past).
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := now.Location()

	if t, err := time.ParseInLocation("2006-01-02 15:04", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("02.01 15:04", s, loc); err == nil {
		t = t.AddDate(now.Year(), 0, 0)
		if !t.After(now) {
			t = t.AddDate(1, 0, 0)
		}
		return t, nil
	}
	if t, err := time.ParseInLocation("15:04", s, loc); err == nil {
		t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, errBadWhen
}

// parseRoles reads "tank:2,heal:2,dps:6" into capacities.
func parseRoles(s string) (map[string]int, error) {
	roles := map[string]int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, count, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.New("bad role " + part + ", use name:count")
		}
		name = strings.ToLower(strings.TrimSpace(name))
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n < 0 || name == "" {
			return nil, errors.New("bad role " + part + ", use name:count")
		}
		roles[name] = n
	}
	if len(roles) == 0 {
		return nil, errors.New("no roles given")
	}
	return roles, nil
}

func parseRaidID(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	return strconv.ParseInt(s, 10, 64)
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, errors.New("bad count")
	}
	return n, nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
