package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type FacultyRecords interface {
	TimetableForFaculty(ctx context.Context, facultyID string) ([]academic.TimetableEntry, error)
	TimetableByID(ctx context.Context, id string) (academic.TimetableEntry, error)
	StudentsInSection(ctx context.Context, sectionID string) ([]account.StudentProfile, error)
	SubjectTaughtBy(ctx context.Context, subjectID, facultyID string) (bool, error)
	MarkAttendance(ctx context.Context, req academic.MarkAttendanceRequest, markedBy string) error
	EnterMarks(ctx context.Context, req academic.EnterMarksRequest, enteredBy string) error
}

type FacultyHandler struct {
	records FacultyRecords
}

func NewFacultyHandler(records FacultyRecords) *FacultyHandler {
	return &FacultyHandler{records: records}
}

// GET /faculty/timetable

func (h *FacultyHandler) Timetable(ctx *gin.Context) {
	f, ok := faculty(ctx)
	if !ok {
		RespondConflict(ctx, "profile_not_assigned", profileNotAssignedMsg)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, err := h.records.TimetableForFaculty(cctx, f.UserID)
	if err != nil {
		RespondInternal(ctx, "Could not load timetable")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// GET /faculty/timetable/:id/students

func (h *FacultyHandler) SlotStudents(ctx *gin.Context) {
	f, ok := faculty(ctx)
	if !ok {
		RespondConflict(ctx, "profile_not_assigned", profileNotAssignedMsg)
		return
	}

	id := ctx.Param("id")
	if uuid.Validate(id) != nil {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	slot, ok := h.ownSlot(ctx, cctx, id, f.UserID)
	if !ok {
		return
	}

	students, err := h.records.StudentsInSection(cctx, slot.SectionID)
	if err != nil {
		RespondInternal(ctx, "Could not load students")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"slot":  slot,
		"items": students,
		"count": len(students),
	})
}

// POST /faculty/attendance

func (h *FacultyHandler) MarkAttendance(ctx *gin.Context) {
	f, ok := faculty(ctx)
	if !ok {
		RespondConflict(ctx, "profile_not_assigned", profileNotAssignedMsg)
		return
	}

	var req academic.MarkAttendanceRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if _, ok := h.ownSlot(ctx, cctx, req.TimetableID, f.UserID); !ok {
		return
	}

	if err := h.records.MarkAttendance(cctx, req, f.UserID); err != nil {
		RespondInternal(ctx, "Could not save attendance")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"timetableId": req.TimetableID,
		"saved":       len(req.Entries),
	})
}

// POST /faculty/marks

func (h *FacultyHandler) EnterMarks(ctx *gin.Context) {
	f, ok := faculty(ctx)
	if !ok {
		RespondConflict(ctx, "profile_not_assigned", profileNotAssignedMsg)
		return
	}

	var req academic.EnterMarksRequest
	if !BindJSON(ctx, &req) {
		return
	}

	for i, e := range req.Entries {
		if e.Score > req.MaxScore {
			RespondBadRequest(ctx, "Invalid request body", gin.H{"fields": []FieldError{{
				Field:   fmt.Sprintf("entries[%d].score", i),
				Rule:    "lte",
				Param:   "maxScore",
				Message: "must not exceed maxScore",
			}}})
			return
		}
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	teaches, err := h.records.SubjectTaughtBy(cctx, req.SubjectID, f.UserID)
	if err != nil {
		RespondInternal(ctx, "Could not check subject")
		return
	}
	if !teaches {
		RespondForbidden(ctx, "You do not teach this subject")
		return
	}

	if err := h.records.EnterMarks(cctx, req, f.UserID); err != nil {
		RespondInternal(ctx, "Could not save marks")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"subjectId": req.SubjectID,
		"exam":      req.Exam,
		"saved":     len(req.Entries),
	})
}

// ownSlot loads a timetable slot and checks it belongs to facultyID. It
// writes the error response itself.
func (h *FacultyHandler) ownSlot(ctx *gin.Context, cctx context.Context, id, facultyID string) (academic.TimetableEntry, bool) {
	slot, err := h.records.TimetableByID(cctx, id)
	if err != nil {
		if errors.Is(err, academic.ErrNotFound) {
			RespondNotFound(ctx, "Timetable slot not found")
			return academic.TimetableEntry{}, false
		}
		RespondInternal(ctx, "Could not load timetable slot")
		return academic.TimetableEntry{}, false
	}

	if slot.FacultyID != facultyID {
		RespondForbidden(ctx, "This class is not assigned to you")
		return academic.TimetableEntry{}, false
	}
	return slot, true
}

func faculty(ctx *gin.Context) (account.FacultyProfile, bool) {
	state, ok := middlewares.StateFrom(ctx)
	if !ok || state.User == nil {
		return account.FacultyProfile{}, false
	}
	return state.User.Faculty()
}
