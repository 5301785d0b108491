package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"teamcal/internal/dates"
	"teamcal/internal/model"
)

const schoolFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//school holidays//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:winter@school\r\n" +
	"DTSTART;VALUE=DATE:20241223\r\n" +
	"DTEND;VALUE=DATE:20250104\r\n" +
	"SUMMARY:Winter holidays\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:autumn@school\r\n" +
	"DTSTART;VALUE=DATE:20241028\r\n" +
	"DTEND;VALUE=DATE:20241101\r\n" +
	"SUMMARY:Autumn holidays\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:allsaints@school\r\n" +
	"DTSTART;VALUE=DATE:20241101\r\n" +
	"SUMMARY:All Saints\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gym@school\r\n" +
	"DTSTART;VALUE=DATE:20250303\r\n" +
	"DTEND;VALUE=DATE:20250304\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=3\r\n" +
	"EXDATE;VALUE=DATE:20250310\r\n" +
	"SUMMARY:Gym closed\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:summer@school\r\n" +
	"DTSTART;VALUE=DATE:20250620\r\n" +
	"DTEND;VALUE=DATE:20250815\r\n" +
	"SUMMARY:Summer holidays\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No uid\r\n" +
	"DTSTART;VALUE=DATE:20250101\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	hs, err := Parse(Source{ID: "school"}, []byte(schoolFeed), time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(hs) != 5 {
		t.Fatalf("parsed %d holidays, want 5 (event without UID skipped)", len(hs))
	}
	w := hs[0]
	if w.UID != "winter@school" || !w.AllDay || w.SourceID != "school" {
		t.Errorf("first holiday = %+v", w)
	}
	if !w.Start.Equal(day(2024, time.December, 23)) || !w.End.Equal(day(2025, time.January, 4)) {
		t.Errorf("winter span = %s .. %s", w.Start, w.End)
	}
	// A DATE event without DTEND lasts one day.
	if saints := hs[2]; !saints.End.Equal(day(2024, time.November, 2)) {
		t.Errorf("single-day end = %s", saints.End)
	}
	if gym := hs[3]; gym.RawRRule == "" || len(gym.ExDates) != 1 {
		t.Errorf("gym recurrence = %+v", gym)
	}

	if _, err := Parse(Source{ID: "empty"}, nil, time.UTC); err == nil {
		t.Error("empty body should fail")
	}
}

func TestToBreaks(t *testing.T) {
	hs, err := Parse(Source{ID: "school"}, []byte(schoolFeed), time.UTC)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := ToBreaks(hs, ExpandConfig{
		Window:   model.DateRange{Start: day(2024, time.September, 1), End: day(2025, time.June, 30)},
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("ToBreaks: %v", err)
	}

	want := []string{
		"2024-10-28 – 2024-11-01", // autumn plus the adjacent single day
		"2024-12-23 – 2025-01-03",
		"2025-03-03",
		"2025-03-17",              // 2025-03-10 is excluded
		"2025-06-20 – 2025-06-30", // clipped to the season
	}
	if len(res.Breaks) != len(want) {
		t.Fatalf("breaks = %v", format(res.Breaks))
	}
	for i, b := range res.Breaks {
		if got := dates.FormatRange(model.DateRange{Start: b.From, End: b.To}); got != want[i] {
			t.Errorf("break %d = %s, want %s", i, got, want[i])
		}
	}
	if len(res.Truncated) != 0 {
		t.Errorf("unexpected truncation: %v", res.Truncated)
	}
}

func TestToBreaksTimedEventAndCap(t *testing.T) {
	hs := []Holiday{
		{UID: "evening", Start: time.Date(2024, time.October, 5, 18, 0, 0, 0, time.UTC), End: time.Date(2024, time.October, 6, 0, 0, 0, 0, time.UTC)},
		{UID: "daily", Start: day(2024, time.September, 1), End: day(2024, time.September, 2), AllDay: true, RawRRule: "FREQ=DAILY"},
	}
	res, err := ToBreaks(hs, ExpandConfig{
		Window:         model.DateRange{Start: day(2024, time.September, 1), End: day(2024, time.December, 31)},
		MaxOccurrences: 3,
	})
	if err != nil {
		t.Fatalf("ToBreaks: %v", err)
	}
	if len(res.Truncated) != 1 || res.Truncated[0] != "daily" {
		t.Errorf("truncated = %v", res.Truncated)
	}
	got := format(res.Breaks)
	if len(got) != 2 || got[0] != "2024-09-01 – 2024-09-03" || got[1] != "2024-10-05" {
		t.Errorf("breaks = %v", got)
	}

	if _, err := ToBreaks(nil, ExpandConfig{Window: model.DateRange{Start: day(2025, 1, 2), End: day(2025, 1, 1)}}); err == nil {
		t.Error("inverted window should fail")
	}
}

func format(bs []model.SeasonBreak) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, dates.FormatRange(model.DateRange{Start: b.From, End: b.To}))
	}
	return out
}

func TestMergeBreaks(t *testing.T) {
	in := []model.SeasonBreak{
		{From: day(2025, time.April, 14), To: day(2025, time.April, 18)},
		{From: day(2025, time.April, 1), To: day(2025, time.April, 3)},
		{From: day(2025, time.April, 4), To: day(2025, time.April, 5)},
		{From: day(2025, time.April, 15), To: day(2025, time.April, 16)},
	}
	got := format(MergeBreaks(in))
	if len(got) != 2 || got[0] != "2025-04-01 – 2025-04-05" || got[1] != "2025-04-14 – 2025-04-18" {
		t.Fatalf("MergeBreaks = %v", got)
	}
	if !in[0].From.Equal(day(2025, time.April, 14)) {
		t.Fatal("input reordered")
	}
}

func TestExport(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*3600)
	events := []model.Event{{
		ID:    "session-42",
		Title: "U12 Girls Tigers",
		Start: time.Date(2024, time.September, 2, 18, 0, 0, 0, berlin),
		End:   time.Date(2024, time.September, 2, 19, 30, 0, 0, berlin),
		Data:  model.SessionData{GroupName: "U12 Girls Tigers", LocationName: "North Gym", Duration: 90},
		Metadata: model.EventMetadata{
			Color:       "#FF8800",
			Category:    "training",
			Description: "North Gym",
		},
	}}
	out := Export(events, ExportOptions{Name: "Tigers", Stamp: day(2024, time.August, 1)})

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"UID:session-42@teamcal",
		"SUMMARY:U12 Girls Tigers",
		"DTSTART:20240902T160000Z",
		"DTEND:20240902T173000Z",
		"LOCATION:North Gym",
		"COLOR:#FF8800",
		"X-WR-CALNAME:Tigers",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}

	// The export must parse back.
	hs, err := Parse(Source{ID: "export"}, []byte(out), time.UTC)
	if err != nil || len(hs) != 1 || hs[0].Summary != "U12 Girls Tigers" {
		t.Fatalf("round trip = %+v, %v", hs, err)
	}
}

func TestFetchConditionalAndFallback(t *testing.T) {
	var fail atomic.Bool
	var conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(schoolFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "school", URL: srv.URL + "/feed.ics?token=secret"}
	ctx := context.Background()

	first, err := f.Fetch(ctx, src)
	if err != nil || first.FromCache || len(first.Body) == 0 {
		t.Fatalf("first fetch = %+v, %v", first.FromCache, err)
	}

	second, err := f.Fetch(ctx, src)
	if err != nil || !second.FromCache || conditional.Load() != 1 {
		t.Fatalf("second fetch fromCache=%v conditional=%d err=%v", second.FromCache, conditional.Load(), err)
	}

	fail.Store(true)
	third, err := f.Fetch(ctx, src)
	if err != nil || !third.FromCache || string(third.Body) != schoolFeed {
		t.Fatalf("fallback fetch = %v, %v", third.FromCache, err)
	}

	cold := NewFetcher(t.TempDir(), srv.Client())
	if _, err := cold.Fetch(ctx, src); err == nil {
		t.Fatal("failing server with empty cache should error")
	}
}

func TestFetchWithoutCachedBodySkipsValidators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(schoolFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "school", URL: srv.URL + "/feed.ics"}
	ctx := context.Background()

	if _, err := f.Fetch(ctx, src); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if err := os.Remove(filepath.Join(f.cachePath(src.URL), "body.ics")); err != nil {
		t.Fatal(err)
	}

	res, err := f.Fetch(ctx, src)
	if err != nil {
		t.Fatalf("fetch with lost body: %v", err)
	}
	if res.FromCache || string(res.Body) != schoolFeed {
		t.Fatalf("fetch with lost body = fromCache %v, %d bytes", res.FromCache, len(res.Body))
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.org/private/abc.ics?token=xyz"); got != "https://cal.example.org/...(redacted)" {
		t.Errorf("redactURL = %s", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Errorf("redactURL = %s", got)
	}
}
