package retention

import (
	"reflect"
	"sort"
	"testing"
	"time"
)

func mustParseTime(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		t.Fatalf("failed to parse %s: %s", value, err)
	}
	return tm
}

func TestParseSnapshotNameRoundTrip(t *testing.T) {
	cases := []string{
		"2024-03-15T08:30:00",
		"2024-03-15T08:30:00.123456",
	}
	for _, name := range cases {
		got, ok := ParseSnapshotName(name, time.UTC)
		if !ok {
			t.Fatalf("expected %s to parse", name)
		}
		if got.Format("2006-01-02T15:04:05.999999") != name {
			t.Fatalf("round trip mismatch: got %s want %s", got.Format("2006-01-02T15:04:05.999999"), name)
		}
	}
}

func TestParseSnapshotNameEpoch(t *testing.T) {
	got, ok := ParseSnapshotName("1700000000", time.UTC)
	if !ok {
		t.Fatal("expected epoch float to parse")
	}
	want := time.Unix(1700000000, 0).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestParseSnapshotNameReservedNames(t *testing.T) {
	for _, n := range []string{"working", "2024-01-01-presave", "save-me", "garbage"} {
		if _, ok := ParseSnapshotName(n, time.UTC); ok {
			t.Fatalf("expected %q to fail to parse", n)
		}
	}
}

func TestSnapshotsToDeleteScenarioS1(t *testing.T) {
	names := []string{
		"2024-01-01T00:00:00",
		"2024-01-05T00:00:00",
		"2024-01-06T00:00:00",
		"2024-01-07T00:00:00",
		"2024-01-08T00:00:00",
	}
	now := mustParseTime(t, "2006-01-02T15:04:05", "2024-01-08T12:00:00")

	got := SnapshotsToDelete("last 3 snapshot, earliest of 1 week", names, now, time.UTC)
	sort.Strings(got)
	want := []string{"2024-01-01T00:00:00", "2024-01-05T00:00:00"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSnapshotsToDeleteScenarioS2EmptyKeepSetIsSafe(t *testing.T) {
	names := []string{
		"2020-01-01T00:00:00",
		"2020-01-02T00:00:00",
	}
	now := mustParseTime(t, "2006-01-02T15:04:05", "2024-01-08T12:00:00")

	got := SnapshotsToDelete("earliest of 1 day", names, now, time.UTC)
	if len(got) != 0 {
		t.Fatalf("expected no deletions when keep-set is empty, got %v", got)
	}
}

func TestSnapshotsToDeleteIgnoresUnparseableNames(t *testing.T) {
	names := []string{
		"2024-01-08T00:00:00",
		"working",
		"2024-01-08-save",
	}
	now := mustParseTime(t, "2006-01-02T15:04:05", "2024-01-08T12:00:00")

	got := SnapshotsToDelete("last 1 snapshot", names, now, time.UTC)
	for _, n := range got {
		if n == "working" || n == "2024-01-08-save" {
			t.Fatalf("unparseable name %q must never appear in the delete set", n)
		}
	}
}

func TestSnapshotsToDeleteLastNDay(t *testing.T) {
	names := []string{
		"2024-01-01T00:00:00",
		"2024-01-07T00:00:00",
		"2024-01-08T00:00:00",
	}
	now := mustParseTime(t, "2006-01-02T15:04:05", "2024-01-08T12:00:00")

	got := SnapshotsToDelete("last 3 day", names, now, time.UTC)
	sort.Strings(got)
	want := []string{"2024-01-01T00:00:00"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGetLatestSnapshot(t *testing.T) {
	names := []string{"2024-01-01T00:00:00", "2024-01-08T00:00:00", "working"}
	latest, ok := GetLatestSnapshot(names, time.UTC)
	if !ok || latest != "2024-01-08T00:00:00" {
		t.Fatalf("got %q ok=%v", latest, ok)
	}
}
