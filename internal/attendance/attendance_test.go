package attendance

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"teamcal/internal/model"
)

func status(s model.AttendanceStatus) *model.AttendanceStatus { return &s }

func performer(id, member int64, first string) model.RosterEntry {
	return model.RosterEntry{
		ID:       id,
		MemberID: member,
		TenantID: 1,
		Role:     model.RolePerformer,
		Member:   model.Member{FirstName: first, LastName: "Doe"},
	}
}

func fixture() ([]model.RosterEntry, []model.AttendanceRecord) {
	roster := []model.RosterEntry{
		performer(1, 101, "Ada"),
		performer(2, 102, "Bea"),
		{ID: 9, MemberID: 900, TenantID: 1, Role: "coach"},
		performer(3, 103, "Cy"),
		performer(4, 104, "Dee"),
		performer(5, 105, "Eve"),
	}
	at := time.Date(2024, time.September, 2, 17, 55, 0, 0, time.UTC)
	kiosk := "kiosk"
	records := []model.AttendanceRecord{
		{ID: 11, SessionID: 42, MemberID: 101, CheckInTime: &at, Status: status(model.StatusPresent), CheckInType: &kiosk, TenantID: 1},
		{ID: 12, SessionID: 42, MemberID: 102, Status: status(model.StatusLate), TenantID: 1},
		{ID: 13, SessionID: 42, MemberID: 103, Status: status(model.StatusAbsent), TenantID: 1},
	}
	return roster, records
}

func TestToRows(t *testing.T) {
	roster, records := fixture()
	rows := ToRows(roster, records)

	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5 performers", len(rows))
	}
	first := rows[0]
	if first.PerformerID != 101 || first.AttendanceRecordID == nil || *first.AttendanceRecordID != 11 {
		t.Errorf("first row = %+v", first)
	}
	if first.CheckInType == nil || *first.CheckInType != "kiosk" || first.Performer.FirstName != "Ada" {
		t.Errorf("first row lost record fields: %+v", first)
	}
	for _, r := range rows[3:] {
		if r.Status != nil || r.CheckInTime != nil || r.CheckInType != nil || r.AttendanceRecordID != nil {
			t.Errorf("unmatched row should be empty: %+v", r)
		}
	}
}

func TestStatsScenario(t *testing.T) {
	roster, records := fixture()
	got := Stats(ToRows(roster, records))
	want := model.AttendanceStats{
		Total: 5, Present: 1, Late: 1, Absent: 1,
		NotCheckedIn: 2, CheckedIn: 2, AttendanceRate: 40, OnTimeRate: 20,
	}
	if got != want {
		t.Fatalf("Stats = %+v, want %+v", got, want)
	}
}

func TestStatsEmptyAndRounding(t *testing.T) {
	if got := Stats(nil); got != (model.AttendanceStats{}) {
		t.Fatalf("Stats(nil) = %+v", got)
	}

	rows := []model.AttendanceRow{
		{Status: status(model.StatusPresent)},
		{Status: status(model.StatusPresent)},
		{},
	}
	st := Stats(rows)
	// 2/3 rounds to 67.
	if st.AttendanceRate != 67 || st.OnTimeRate != 67 {
		t.Fatalf("rates = %d/%d", st.AttendanceRate, st.OnTimeRate)
	}
}

func TestNotCheckedIn(t *testing.T) {
	roster, records := fixture()
	got := NotCheckedIn(ToRows(roster, records))
	if !reflect.DeepEqual(got, []int64{104, 105}) {
		t.Fatalf("NotCheckedIn = %v", got)
	}
	if got := NotCheckedIn(nil); got == nil || len(got) != 0 {
		t.Fatalf("NotCheckedIn(nil) = %#v, want empty slice", got)
	}
}

func TestFinalize(t *testing.T) {
	roster, records := fixture()
	rows := ToRows(roster, records)
	final := Finalize(rows, model.StatusAbsent)

	if rows[3].Status != nil {
		t.Fatal("Finalize modified its input")
	}
	st := Stats(final)
	if st.NotCheckedIn != 0 || st.Absent != 3 {
		t.Fatalf("finalized stats = %+v", st)
	}
	if *final[0].Status != model.StatusPresent {
		t.Error("resolved rows keep their status")
	}
}

func TestNewClosePayload(t *testing.T) {
	roster, records := fixture()
	rows := ToRows(roster, records)
	a := NewClosePayload(42, rows)
	b := NewClosePayload(42, rows)

	if a.SessionID != 42 || !reflect.DeepEqual(a.NotCheckedInMemberIDs, []int64{104, 105}) {
		t.Fatalf("payload = %+v", a)
	}
	if a.IdempotencyKey == "" || a.IdempotencyKey == b.IdempotencyKey {
		t.Fatalf("keys %q and %q should be distinct and non-empty", a.IdempotencyKey, b.IdempotencyKey)
	}
}

func TestTransition(t *testing.T) {
	ok := []struct{ from, to model.SessionState }{
		{model.SessionActive, model.SessionClosing},
		{model.SessionClosing, model.SessionClosed},
		{model.SessionActive, model.SessionDeleted},
	}
	for _, tc := range ok {
		got, err := Transition(tc.from, tc.to)
		if err != nil || got != tc.to {
			t.Errorf("%s -> %s: %v", tc.from, tc.to, err)
		}
	}

	bad := []struct{ from, to model.SessionState }{
		{model.SessionActive, model.SessionClosed},
		{model.SessionClosed, model.SessionActive},
		{model.SessionDeleted, model.SessionClosing},
		{model.SessionClosing, model.SessionDeleted},
	}
	for _, tc := range bad {
		got, err := Transition(tc.from, tc.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: err = %v", tc.from, tc.to, err)
		}
		if got != tc.from {
			t.Errorf("%s -> %s: state changed to %s", tc.from, tc.to, got)
		}
	}
}
