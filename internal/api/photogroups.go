package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"

	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/models"
	"github.com/menta2k/paddy-monitor/internal/queue"
	"github.com/menta2k/paddy-monitor/internal/store"
	"github.com/menta2k/paddy-monitor/internal/utils"
)

// Multipart form field names of the four photos
const (
	FormDrone      = "drone"
	FormCloseup    = "side_05m"
	FormHorizontal = "side_3m_horizontal"
	FormVertical   = "side_3m_vertical"
)

type dispatchResponse struct {
	PhotoGroupID uint                  `json:"photo_group_id"`
	JobID        string                `json:"job_id"`
	JobStatus    models.JobStatus      `json:"job_status"`
	Status       models.AnalysisStatus `json:"status"`
}

func (s *Server) uploadPhotoGroup(c echo.Context) error {
	field, ok, err := s.loadField(c)
	if !ok {
		return err
	}
	ctx := c.Request().Context()

	captured, err := time.Parse(dateLayout, c.FormValue("capture_date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("capture_date must be YYYY-MM-DD"))
	}

	group := &models.PhotoGroup{
		FieldID:     field.ID,
		CaptureDate: datatypes.Date(captured),
	}
	if v := strings.TrimSpace(c.FormValue("rice_variety")); v != "" {
		group.RiceVariety = &v
	}

	var saved []string
	cleanup := func() {
		for _, p := range saved {
			os.Remove(p)
		}
	}
	targets := []struct {
		form string
		dst  *string
	}{
		{FormDrone, &group.DroneImagePath},
		{FormCloseup, &group.Closeup05mPath},
		{FormHorizontal, &group.Horizontal3mPath},
		{FormVertical, &group.Vertical3mPath},
	}
	maxBytes := int64(s.storage.MaxUploadMB) << 20
	for _, t := range targets {
		path, err := s.saveFormFile(c, field.ID, t.form, maxBytes)
		if err != nil {
			cleanup()
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		saved = append(saved, path)
		*t.dst = path
	}

	if err := s.store.CreatePhotoGroup(ctx, group); err != nil {
		cleanup()
		return err
	}

	job, err := s.queue.Enqueue(ctx, group.ID)
	if err != nil {
		// a group nobody will analyze is dropped along with its files
		if derr := s.store.DeletePhotoGroup(context.WithoutCancel(ctx), group.ID); derr != nil {
			s.log.Error("cannot remove photo group after enqueue failure", logging.Fields{
				"photo_group_id": group.ID,
				"error":          derr,
			})
		} else {
			cleanup()
		}
		return fmt.Errorf("enqueue photo group %d: %w", group.ID, err)
	}

	s.log.Info("photo group uploaded", logging.Fields{
		"field_id":       field.ID,
		"photo_group_id": group.ID,
		"job_id":         job.ID,
	})
	return c.JSON(http.StatusAccepted, dispatchResponse{
		PhotoGroupID: group.ID,
		JobID:        job.ID,
		JobStatus:    job.Status,
		Status:       models.AnalysisPending,
	})
}

func (s *Server) saveFormFile(c echo.Context, fieldID uint, form string, maxBytes int64) (string, error) {
	fh, err := c.FormFile(form)
	if err != nil {
		return "", fmt.Errorf("missing %s image", form)
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("read %s image: %w", form, err)
	}
	defer src.Close()

	path, _, err := utils.SaveUpload(s.storage.UploadDir, fieldID, form, fh.Filename, src, maxBytes)
	return path, err
}

func (s *Server) analyzePhotoGroup(c echo.Context) error {
	group, ok, err := s.loadPhotoGroup(c)
	if !ok {
		return err
	}

	job, err := s.queue.Enqueue(c.Request().Context(), group.ID)
	switch {
	case errors.Is(err, queue.ErrJobInFlight):
		return c.JSON(http.StatusConflict, errorBody(err.Error()))
	case err != nil:
		return err
	}
	return c.JSON(http.StatusAccepted, dispatchResponse{
		PhotoGroupID: group.ID,
		JobID:        job.ID,
		JobStatus:    job.Status,
		Status:       models.AnalysisPending,
	})
}

type resultResponse struct {
	PhotoGroupID   uint                   `json:"photo_group_id"`
	Status         models.AnalysisStatus  `json:"status"`
	Result         *models.AnalysisResult `json:"result"`
	PreviousResult *models.AnalysisResult `json:"previous_result,omitempty"`
	Job            *models.Job            `json:"job,omitempty"`
}

// photoGroupResult returns the result of the group's current job. Until that
// job succeeds the answer is 404 with the job, so a client can tell "still
// running" from "failed"; an older run's result is only offered as
// previous_result.
func (s *Server) photoGroupResult(c echo.Context) error {
	group, ok, err := s.loadPhotoGroup(c)
	if !ok {
		return err
	}
	ctx := c.Request().Context()

	resp := resultResponse{PhotoGroupID: group.ID, Status: group.Status}
	result, err := s.store.GetAnalysisResult(ctx, group.ID)
	switch {
	case err == nil && result.FromJob(group.JobID):
		resp.Result = result
		return c.JSON(http.StatusOK, resp)
	case err == nil:
		resp.PreviousResult = result
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	if job, jerr := s.queue.LatestForPhotoGroup(ctx, group.ID); jerr == nil {
		resp.Job = job
	}
	return c.JSON(http.StatusNotFound, resp)
}

type jobResponse struct {
	*models.Job
	PhotoGroupStatus models.AnalysisStatus  `json:"photo_group_status"`
	Result           *models.AnalysisResult `json:"result,omitempty"`
}

func (s *Server) getJob(c echo.Context) error {
	ctx := c.Request().Context()
	job, err := s.queue.GetStatus(ctx, c.Param("id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("job not found"))
	}
	if err != nil {
		return err
	}

	group, err := s.store.GetPhotoGroup(ctx, job.PhotoGroupID)
	if err != nil || group.Field == nil || group.Field.OwnerID != owner(c) {
		return c.JSON(http.StatusNotFound, errorBody("job not found"))
	}

	resp := jobResponse{Job: job, PhotoGroupStatus: group.Status}
	if job.Status == models.JobSucceeded {
		if result, err := s.store.GetAnalysisResult(ctx, group.ID); err == nil && result.FromJob(&job.ID) {
			resp.Result = result
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// loadPhotoGroup resolves :id to a photo group on one of the caller's fields
func (s *Server) loadPhotoGroup(c echo.Context) (*models.PhotoGroup, bool, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, false, c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	group, err := s.store.GetPhotoGroup(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (group.Field == nil || group.Field.OwnerID != owner(c))) {
		return nil, false, c.JSON(http.StatusNotFound, errorBody("photo group not found"))
	}
	if err != nil {
		return nil, false, err
	}
	return group, true, nil
}
