package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tryon-server/internal/domain"
	"tryon-server/internal/events"
	"tryon-server/internal/http/handlers"
	"tryon-server/internal/http/httpapi"
	"tryon-server/internal/quality"
)

type stubService struct {
	jobs       map[string]*domain.TryOnJob
	created    *domain.TryOnJob
	createErr  error
	report     *domain.QualityReport
	validate   error
	lastPerson *quality.PersonSignal
}

func (s *stubService) Create(ctx context.Context, userID, garmentID, userPhotoID string) (*domain.TryOnJob, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = &domain.TryOnJob{
		ID:          "job-new",
		UserID:      userID,
		GarmentID:   garmentID,
		UserPhotoID: userPhotoID,
		Status:      domain.TryOnStatusProcessing,
		Provider:    "replicate",
		CreatedAt:   time.Now().UTC(),
	}
	return s.created, nil
}

func (s *stubService) Get(ctx context.Context, id string) (*domain.TryOnJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubService) List(ctx context.Context, userID string, status domain.TryOnStatus) ([]domain.TryOnJob, error) {
	var out []domain.TryOnJob
	for _, job := range s.jobs {
		if job.UserID == userID && (status == "" || job.Status == status) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *stubService) Poll(ctx context.Context, id string) (*domain.TryOnJob, error) {
	return s.Get(ctx, id)
}

func (s *stubService) Validate(ctx context.Context, id string, person *quality.PersonSignal) (*domain.QualityReport, error) {
	s.lastPerson = person
	if s.validate != nil {
		return nil, s.validate
	}
	return s.report, nil
}

func (s *stubService) Delete(ctx context.Context, id string) error {
	if _, ok := s.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

type stubStore struct{}

func (stubStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	return key, nil
}

func (stubStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://signed.example.com/" + bucket + "/" + key, nil
}

func (stubStore) Delete(ctx context.Context, bucket string, keys ...string) error {
	return nil
}

func newTestServer(svc *stubService) (*httptest.Server, *events.Bus) {
	bus := events.NewBus()
	app := handlers.NewApp(svc, bus, stubStore{}, zerolog.Nop())
	return httptest.NewServer(httpapi.NewRouter(app, httpapi.Options{})), bus
}

func doJSON(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func completedJob(user string) *domain.TryOnJob {
	now := time.Now().UTC()
	return &domain.TryOnJob{
		ID:             "job-1",
		UserID:         user,
		GarmentID:      "garment-1",
		UserPhotoID:    "photo-1",
		Status:         domain.TryOnStatusCompleted,
		Provider:       "replicate",
		ProviderJobID:  "pred-1",
		ResultImageKey: user + "/job-1.jpg",
		CreatedAt:      now,
		CompletedAt:    &now,
	}
}

func TestTryOnCreateRequiresUser(t *testing.T) {
	srv, _ := newTestServer(&stubService{jobs: map[string]*domain.TryOnJob{}})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/tryon", "", map[string]string{
		"garment_id": "g", "user_photo_id": "p",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestTryOnCreateAccepted(t *testing.T) {
	svc := &stubService{jobs: map[string]*domain.TryOnJob{}}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/tryon", "user-1", map[string]string{
		"garment_id": "garment-1", "user_photo_id": "photo-1",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["id"] != "job-new" || body["status"] != "processing" {
		t.Fatalf("body = %v", body)
	}
	if svc.created.GarmentID != "garment-1" {
		t.Fatalf("garment id = %q", svc.created.GarmentID)
	}
}

func TestTryOnCreateMissingFields(t *testing.T) {
	srv, _ := newTestServer(&stubService{jobs: map[string]*domain.TryOnJob{}})
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/tryon", "user-1", map[string]string{"garment_id": "g"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTryOnGetHidesOtherUsersJobs(t *testing.T) {
	svc := &stubService{jobs: map[string]*domain.TryOnJob{"job-1": completedJob("user-1")}}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/tryon/job-1", "user-2", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTryOnGetSignsResultURL(t *testing.T) {
	svc := &stubService{jobs: map[string]*domain.TryOnJob{"job-1": completedJob("user-1")}}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/tryon/job-1", "user-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	url, _ := body["result_url"].(string)
	if !strings.HasPrefix(url, "https://signed.example.com/tryon-results/") {
		t.Fatalf("result_url = %q", url)
	}
}

func TestTryOnListRejectsUnknownStatus(t *testing.T) {
	srv, _ := newTestServer(&stubService{jobs: map[string]*domain.TryOnJob{}})
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/tryon?status=bogus", "user-1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTryOnListFiltersByUser(t *testing.T) {
	svc := &stubService{jobs: map[string]*domain.TryOnJob{
		"job-1": completedJob("user-1"),
		"job-2": completedJob("user-2"),
	}}
	svc.jobs["job-2"].ID = "job-2"
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/tryon", "user-1", nil)
	body := decodeBody(t, resp)
	jobs, _ := body["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %v", jobs)
	}
}

func TestTryOnValidateConflictWithoutResult(t *testing.T) {
	svc := &stubService{
		jobs:     map[string]*domain.TryOnJob{"job-1": completedJob("user-1")},
		validate: domain.ErrNoResult,
	}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/tryon/job-1/validate", "user-1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestTryOnValidateForwardsPersonSignal(t *testing.T) {
	svc := &stubService{
		jobs:   map[string]*domain.TryOnJob{"job-1": completedJob("user-1")},
		report: &domain.QualityReport{OverallScore: 92, Recommendation: domain.RecommendationAccept},
	}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/tryon/job-1/validate", "user-1", map[string]any{
		"person": map[string]any{
			"face_similarity":      0.8,
			"face_detected_source": true,
			"face_detected_result": true,
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["overall_score"] != float64(92) {
		t.Fatalf("body = %v", body)
	}
	if svc.lastPerson == nil || svc.lastPerson.FaceSimilarity != 0.8 {
		t.Fatalf("person signal = %+v", svc.lastPerson)
	}
}

func TestTryOnValidateOmittedPersonStaysNil(t *testing.T) {
	svc := &stubService{
		jobs:   map[string]*domain.TryOnJob{"job-1": completedJob("user-1")},
		report: &domain.QualityReport{OverallScore: 80},
	}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/tryon/job-1/validate", "user-1", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if svc.lastPerson != nil {
		t.Fatalf("person signal = %+v, want nil", svc.lastPerson)
	}
}

func TestTryOnDelete(t *testing.T) {
	svc := &stubService{jobs: map[string]*domain.TryOnJob{"job-1": completedJob("user-1")}}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	resp := doJSON(t, http.MethodDelete, srv.URL+"/v1/tryon/job-1", "user-1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if len(svc.jobs) != 0 {
		t.Fatalf("job not deleted: %v", svc.jobs)
	}
}

func TestTryOnEventsTerminalJobClosesStream(t *testing.T) {
	svc := &stubService{jobs: map[string]*domain.TryOnJob{"job-1": completedJob("user-1")}}
	srv, _ := newTestServer(svc)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/tryon/job-1/events", nil)
	req.Header.Set("X-User-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "data: ") {
		t.Fatalf("stream = %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"status":"completed"`) {
		t.Fatalf("stream missing snapshot: %q", buf.String())
	}
}
