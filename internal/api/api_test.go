package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/paddy-monitor/internal/config"
	"github.com/menta2k/paddy-monitor/internal/metrics"
	"github.com/menta2k/paddy-monitor/internal/models"
	"github.com/menta2k/paddy-monitor/internal/orchestrator"
	"github.com/menta2k/paddy-monitor/internal/queue"
	"github.com/menta2k/paddy-monitor/internal/store"
	"github.com/menta2k/paddy-monitor/pkg/analyzer"
	"github.com/menta2k/paddy-monitor/pkg/assessment"
)

type testEnv struct {
	srv   *Server
	store *store.Store
	queue *queue.Queue
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.Open(config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "api.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := metrics.New()
	q := queue.New(s.DB(), queue.DefaultOptions(), nil, m)
	srv := NewServer(s, q, config.StorageConfig{UploadDir: t.TempDir(), MaxUploadMB: 4}, m, nil)
	return &testEnv{srv: srv, store: s, queue: q}
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createField(t *testing.T, owner, location string) uint {
	t.Helper()
	body := bytes.NewBufferString(`{"name":"paddy A","location":"` + location + `","area_mu":3.5,"planting_date":"2024-05-20"}`)
	rec := e.do(t, http.MethodPost, "/api/v1/fields", owner, body, "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var field models.Field
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &field))
	return field.ID
}

func pngBytes(t *testing.T, w, h int, fill func(x, y int) color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadForm(t *testing.T, captureDate string) (*bytes.Buffer, string) {
	t.Helper()
	green := func(int, int) color.RGBA { return color.RGBA{40, 200, 40, 255} }
	rows := func(x, _ int) color.RGBA {
		if x%50 >= 20 && x%50 < 30 {
			return color.RGBA{20, 160, 20, 255}
		}
		return color.RGBA{255, 255, 255, 255}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("capture_date", captureDate))
	require.NoError(t, mw.WriteField("rice_variety", "Nanjing 9108"))
	for _, part := range []struct {
		form string
		data []byte
	}{
		{FormDrone, pngBytes(t, 100, 100, green)},
		{FormCloseup, pngBytes(t, 80, 80, green)},
		{FormHorizontal, pngBytes(t, 400, 200, rows)},
		{FormVertical, pngBytes(t, 400, 200, rows)},
	} {
		fw, err := mw.CreateFormFile(part.form, part.form+".png")
		require.NoError(t, err)
		_, err = fw.Write(part.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type lowRisk struct{}

func (lowRisk) Assess(context.Context, assessment.PhotoSet) assessment.Assessment {
	risk := "Low"
	return assessment.Assessment{
		Status:      assessment.StatusOK,
		Description: "ok",
		Suggestions: "ok",
		Metrics:     assessment.Metrics{PestRisk: &risk},
	}
}

func TestRequiresOwner(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/fields", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paddy_http_requests_total")
}

func TestFieldOwnership(t *testing.T) {
	env := newEnv(t)
	id := env.createField(t, "alice", "Jiangxi")

	rec := env.do(t, http.MethodGet, "/api/v1/fields/"+itoa(id), "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/fields/"+itoa(id), "alice", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"photo_groups":[]`)

	rec = env.do(t, http.MethodGet, "/api/v1/fields/abc", "alice", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/fields/"+itoa(id), "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/v1/fields/"+itoa(id), "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUpdateField(t *testing.T) {
	env := newEnv(t)
	id := env.createField(t, "alice", "Jiangxi")
	path := "/api/v1/fields/" + itoa(id)

	rec := env.do(t, http.MethodPut, path, "bob", bytes.NewBufferString(`{"name":"stolen"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, path, "alice", bytes.NewBufferString(`{"name":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, path, "alice", bytes.NewBufferString(`{"planting_date":"May 20"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, path, "alice", bytes.NewBufferString(`{"name":"paddy B","area_mu":4.25,"planting_date":""}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.store.GetField(context.Background(), "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "paddy B", got.Name)
	assert.Equal(t, 4.25, got.AreaMu)
	assert.Equal(t, "Jiangxi", got.Location, "absent keys are left unchanged")
	assert.Nil(t, got.PlantingDate)
}

func TestUploadRequiresAllFourImages(t *testing.T) {
	env := newEnv(t)
	id := env.createField(t, "alice", "Jiangxi")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("capture_date", "2024-07-01"))
	fw, err := mw.CreateFormFile(FormDrone, "drone.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := env.do(t, http.MethodPost, "/api/v1/fields/"+itoa(id)+"/photo-groups", "alice", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), FormCloseup)
}

func TestUploadRollsBackWhenEnqueueFails(t *testing.T) {
	env := newEnv(t)
	fieldID := env.createField(t, "alice", "Jiangxi")

	closed, err := store.Open(config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "closed.db")}, nil)
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	env.srv.queue = queue.New(closed.DB(), queue.DefaultOptions(), nil, nil)

	body, ct := uploadForm(t, "2024-07-10")
	rec := env.do(t, http.MethodPost, "/api/v1/fields/"+itoa(fieldID)+"/photo-groups", "alice", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var groups int64
	require.NoError(t, env.store.DB().Model(&models.PhotoGroup{}).Count(&groups).Error)
	assert.Zero(t, groups)

	files, err := filepath.Glob(filepath.Join(env.srv.storage.UploadDir, "*", "*"))
	require.NoError(t, err)
	assert.Empty(t, files, "uploaded photos are removed with the group")
}

func TestUploadDispatchAndResult(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	fieldID := env.createField(t, "alice", "Jiangxi")

	body, ct := uploadForm(t, "2024-07-10")
	rec := env.do(t, http.MethodPost, "/api/v1/fields/"+itoa(fieldID)+"/photo-groups", "alice", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var dispatched dispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dispatched))
	require.NotEmpty(t, dispatched.JobID)
	assert.Equal(t, models.JobPending, dispatched.JobStatus)

	// re-dispatch while queued
	rec = env.do(t, http.MethodPost, "/api/v1/photo-groups/"+itoa(dispatched.PhotoGroupID)+"/analyze", "alice", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/photo-groups/"+itoa(dispatched.PhotoGroupID)+"/result", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var pending resultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.NotNil(t, pending.Job, "a missing result reports the queued job")
	assert.Equal(t, dispatched.JobID, pending.Job.ID)
	assert.Equal(t, models.JobPending, pending.Job.Status)

	// run the job the way a worker process would
	orch := orchestrator.New(env.store, analyzer.New(), lowRisk{}, orchestrator.Options{StaleAfter: time.Hour})
	w := queue.NewWorker(env.queue, queue.HandlerFunc(orch.Handle), queue.WorkerConfig{ID: "test"})
	ran, err := w.RunOnce(ctx, "test/0")
	require.NoError(t, err)
	require.True(t, ran)

	rec = env.do(t, http.MethodGet, "/api/v1/jobs/"+dispatched.JobID, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job struct {
		Status           models.JobStatus       `json:"status"`
		PhotoGroupStatus models.AnalysisStatus  `json:"photo_group_status"`
		Result           *models.AnalysisResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobSucceeded, job.Status)
	assert.Equal(t, models.AnalysisCompleted, job.PhotoGroupStatus)
	require.NotNil(t, job.Result)
	require.NotNil(t, job.Result.Coverage)
	assert.Greater(t, *job.Result.Coverage, 90.0)
	require.NotNil(t, job.Result.PestRisk)
	assert.Equal(t, "Low", *job.Result.PestRisk)
	assert.Nil(t, job.Result.LeafColorHealth)

	rec = env.do(t, http.MethodGet, "/api/v1/jobs/"+dispatched.JobID, "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "jobs are private to the field owner")

	rec = env.do(t, http.MethodGet, "/api/v1/fields/"+itoa(fieldID)+"/results", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"capture_date":"2024-07-10"`)

	rec = env.do(t, http.MethodGet, "/api/v1/analysis/inter-field-comparison?period_date=2024-07-12", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var comparison struct {
		From    string       `json:"from"`
		To      string       `json:"to"`
		Results []resultView `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comparison))
	assert.Equal(t, "2024-07-07", comparison.From)
	assert.Equal(t, "2024-07-16", comparison.To)
	assert.Len(t, comparison.Results, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/analysis/heatmap?indicator=coverage", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field_id":`+itoa(fieldID))

	rec = env.do(t, http.MethodGet, "/api/v1/analysis/regional-stats?indicator=coverage&from=2024-07-01", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"location":"Jiangxi"`)

	// finished job no longer blocks re-analysis
	rec = env.do(t, http.MethodPost, "/api/v1/photo-groups/"+itoa(dispatched.PhotoGroupID)+"/analyze", "alice", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var redispatched dispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &redispatched))

	// the new run fails; the earlier result must not be served as current
	failing := queue.HandlerFunc(func(context.Context, uint) error {
		return queue.Permanent(errors.New("drone image unreadable"))
	})
	w = queue.NewWorker(env.queue, failing, queue.WorkerConfig{ID: "test"})
	ran, err = w.RunOnce(ctx, "test/0")
	require.NoError(t, err)
	require.True(t, ran)

	rec = env.do(t, http.MethodGet, "/api/v1/photo-groups/"+itoa(dispatched.PhotoGroupID)+"/result", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var stale resultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stale))
	assert.Nil(t, stale.Result)
	require.NotNil(t, stale.PreviousResult)
	require.NotNil(t, stale.PreviousResult.JobID)
	assert.Equal(t, dispatched.JobID, *stale.PreviousResult.JobID)
	require.NotNil(t, stale.Job)
	assert.Equal(t, redispatched.JobID, stale.Job.ID)
	assert.Equal(t, models.JobFailed, stale.Job.Status)

	rec = env.do(t, http.MethodGet, "/api/v1/jobs/"+redispatched.JobID, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var failedJob jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failedJob))
	assert.Equal(t, models.JobFailed, failedJob.Status)
	assert.Nil(t, failedJob.Result)
}

func TestReportQueryValidation(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/analysis/heatmap?indicator=drone_image_path", "alice", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown indicator")

	rec = env.do(t, http.MethodGet, "/api/v1/analysis/regional-stats?indicator=coverage&from=July", "alice", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/analysis/inter-field-comparison", "alice", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/jobs/nope", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
