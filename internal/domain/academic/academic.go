package academic

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

type Department struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type Section struct {
	ID           string `json:"id"`
	DepartmentID string `json:"departmentId"`
	Year         int    `json:"year"`
	Name         string `json:"name"`
}

type Subject struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	DepartmentID string `json:"departmentId"`
}

// TimetableEntry is one weekly class slot. SubjectName and SectionName are
// filled in by joins on read.
type TimetableEntry struct {
	ID          string `json:"id"`
	SectionID   string `json:"sectionId"`
	SubjectID   string `json:"subjectId"`
	FacultyID   string `json:"facultyId"`
	Weekday     int    `json:"weekday"` // 1 = Monday .. 7 = Sunday
	StartsAt    string `json:"startsAt"`
	EndsAt      string `json:"endsAt"`
	Room        string `json:"room,omitempty"`
	SubjectName string `json:"subjectName,omitempty"`
	SectionName string `json:"sectionName,omitempty"`
}

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
)

type AttendanceRecord struct {
	TimetableID string           `json:"timetableId"`
	StudentID   string           `json:"studentId"`
	Date        time.Time        `json:"date"`
	Status      AttendanceStatus `json:"status"`
	MarkedBy    string           `json:"markedBy"`
	SubjectName string           `json:"subjectName,omitempty"`
}

type AttendanceSummary struct {
	Total   int     `json:"total"`
	Present int     `json:"present"`
	Late    int     `json:"late"`
	Absent  int     `json:"absent"`
	Percent float64 `json:"percent"`
}

// Summarize counts late as attended.
func Summarize(records []AttendanceRecord) AttendanceSummary {
	var s AttendanceSummary
	for _, r := range records {
		s.Total++
		switch r.Status {
		case AttendancePresent:
			s.Present++
		case AttendanceLate:
			s.Late++
		default:
			s.Absent++
		}
	}
	if s.Total > 0 {
		s.Percent = float64(s.Present+s.Late) * 100 / float64(s.Total)
	}
	return s
}

type Mark struct {
	SubjectID   string    `json:"subjectId"`
	StudentID   string    `json:"studentId"`
	Exam        string    `json:"exam"`
	Score       float64   `json:"score"`
	MaxScore    float64   `json:"maxScore"`
	EnteredBy   string    `json:"enteredBy"`
	SubjectName string    `json:"subjectName,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// request payloads

type CreateDepartmentRequest struct {
	Code string `json:"code" binding:"required,min=2,max=16"`
	Name string `json:"name" binding:"required,min=2,max=120"`
}

type CreateSectionRequest struct {
	DepartmentID string `json:"departmentId" binding:"required,uuid"`
	Year         int    `json:"year" binding:"required,min=1,max=6"`
	Name         string `json:"name" binding:"required,min=1,max=40"`
}

type AttendanceEntry struct {
	StudentID string           `json:"studentId" binding:"required,uuid"`
	Status    AttendanceStatus `json:"status" binding:"required,oneof=present absent late"`
}

type MarkAttendanceRequest struct {
	TimetableID string            `json:"timetableId" binding:"required,uuid"`
	Date        time.Time         `json:"date" binding:"required"`
	Entries     []AttendanceEntry `json:"entries" binding:"required,min=1,dive"`
}

type MarkEntry struct {
	StudentID string  `json:"studentId" binding:"required,uuid"`
	Score     float64 `json:"score" binding:"min=0"`
}

type EnterMarksRequest struct {
	SubjectID string      `json:"subjectId" binding:"required,uuid"`
	Exam      string      `json:"exam" binding:"required,oneof=internal1 internal2 final assignment"`
	MaxScore  float64     `json:"maxScore" binding:"required,gt=0"`
	Entries   []MarkEntry `json:"entries" binding:"required,min=1,dive"`
}
