package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

const (
	profileStatusOK          = "ok"
	profileStatusNotAssigned = "not_assigned"
	profileNotAssignedMsg    = "Profile not set up yet. Please contact the administrator."
)

type StudentRecords interface {
	TimetableForSection(ctx context.Context, sectionID string, weekday int) ([]academic.TimetableEntry, error)
	AttendanceForStudent(ctx context.Context, studentID string) ([]academic.AttendanceRecord, error)
	MarksForStudent(ctx context.Context, studentID string) ([]academic.Mark, error)
}

type StudentHandler struct {
	records StudentRecords
	now     func() time.Time
}

func NewStudentHandler(records StudentRecords) *StudentHandler {
	return &StudentHandler{records: records, now: time.Now}
}

// GET /student/dashboard

func (h *StudentHandler) Dashboard(ctx *gin.Context) {
	u, p, ok := h.student(ctx)
	if !ok {
		state, _ := middlewares.StateFrom(ctx)
		ctx.JSON(http.StatusOK, gin.H{
			"user":          state.User,
			"profileStatus": profileStatusNotAssigned,
			"message":       profileNotAssignedMsg,
		})
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	today := []academic.TimetableEntry{}
	if p.SectionID != nil {
		items, err := h.records.TimetableForSection(cctx, *p.SectionID, isoWeekday(h.now()))
		if err != nil {
			RespondInternal(ctx, "Could not load timetable")
			return
		}
		today = items
	}

	attendance, err := h.records.AttendanceForStudent(cctx, p.UserID)
	if err != nil {
		RespondInternal(ctx, "Could not load attendance")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"user":          u,
		"profileStatus": profileStatusOK,
		"todayClasses":  today,
		"attendance":    academic.Summarize(attendance),
	})
}

// GET /student/attendance

func (h *StudentHandler) Attendance(ctx *gin.Context) {
	_, p, ok := h.student(ctx)
	if !ok {
		RespondConflict(ctx, "profile_not_assigned", profileNotAssignedMsg)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, err := h.records.AttendanceForStudent(cctx, p.UserID)
	if err != nil {
		RespondInternal(ctx, "Could not load attendance")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items":   items,
		"count":   len(items),
		"summary": academic.Summarize(items),
	})
}

// GET /student/marks

func (h *StudentHandler) Marks(ctx *gin.Context) {
	_, p, ok := h.student(ctx)
	if !ok {
		RespondConflict(ctx, "profile_not_assigned", profileNotAssignedMsg)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, err := h.records.MarksForStudent(cctx, p.UserID)
	if err != nil {
		RespondInternal(ctx, "Could not load marks")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

func (h *StudentHandler) student(ctx *gin.Context) (account.ResolvedUser, account.StudentProfile, bool) {
	state, ok := middlewares.StateFrom(ctx)
	if !ok || state.User == nil {
		return account.ResolvedUser{}, account.StudentProfile{}, false
	}
	p, ok := state.User.Student()
	return *state.User, p, ok
}

// isoWeekday maps time.Weekday onto 1 = Monday .. 7 = Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
