package telegram

import (
	"testing"
	"time"
)

func TestSplitFields(t *testing.T) {
	got, err := splitFields("weekly | 02.01 19:00 | tank:2 ", 3)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(got) != 3 || got[0] != "weekly" || got[2] != "tank:2" {
		t.Fatalf("got = %v", got)
	}
	if _, err := splitFields("just one", 2); err == nil {
		t.Fatal("want error for missing fields")
	}
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC)

	got, err := parseWhen("2026-09-02 19:00", now)
	if err != nil {
		t.Fatalf("absolute: %v", err)
	}
	if got.Day() != 2 || got.Hour() != 19 {
		t.Fatalf("absolute = %v", got)
	}

	got, err = parseWhen("02.09 19:00", now)
	if err != nil {
		t.Fatalf("day.month: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.September || got.Day() != 2 {
		t.Fatalf("day.month = %v", got)
	}

	// A date already behind us rolls into next year.
	got, err = parseWhen("02.01 19:00", now)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if got.Year() != 2027 {
		t.Fatalf("rollover = %v", got)
	}

	// Bare time today, or tomorrow when already past.
	got, err = parseWhen("20:30", now)
	if err != nil {
		t.Fatalf("bare: %v", err)
	}
	if got.Day() != 31 || got.Hour() != 20 || got.Minute() != 30 {
		t.Fatalf("bare = %v", got)
	}
	got, err = parseWhen("17:00", now)
	if err != nil {
		t.Fatalf("bare past: %v", err)
	}
	if got.Day() != 1 || got.Month() != time.September {
		t.Fatalf("bare past = %v", got)
	}

	if _, err := parseWhen("whenever", now); err == nil {
		t.Fatal("want error for garbage")
	}
}

func TestParseRoles(t *testing.T) {
	roles, err := parseRoles("Tank:2, heal:2 ,dps:6")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(roles) != 3 || roles["tank"] != 2 || roles["dps"] != 6 {
		t.Fatalf("roles = %v", roles)
	}

	for _, bad := range []string{"", "tank", "tank:x", ":2", "tank:-1"} {
		if _, err := parseRoles(bad); err == nil {
			t.Fatalf("parseRoles(%q) should fail", bad)
		}
	}
}

func TestParseRaidID(t *testing.T) {
	id, err := parseRaidID(" #42 ")
	if err != nil || id != 42 {
		t.Fatalf("id=%d err=%v", id, err)
	}
	if _, err := parseRaidID("forty-two"); err == nil {
		t.Fatal("want error")
	}
}
