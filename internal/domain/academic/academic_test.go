package academic

import "testing"

func TestSummarize(t *testing.T) {
	records := []AttendanceRecord{
		{Status: AttendancePresent},
		{Status: AttendanceLate},
		{Status: AttendanceAbsent},
		{Status: AttendancePresent},
	}

	s := Summarize(records)

	if s.Total != 4 || s.Present != 2 || s.Late != 1 || s.Absent != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Percent != 75 {
		t.Fatalf("expected 75 percent, got %v", s.Percent)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	if s.Total != 0 || s.Percent != 0 {
		t.Fatalf("expected zero summary, got %+v", s)
	}
}
