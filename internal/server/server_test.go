package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"panostitch/internal/imageio"
	"panostitch/internal/pipeline"
	"panostitch/internal/stitch"
	"panostitch/internal/storage"

	"github.com/gorilla/websocket"
)

type stubQueue struct {
	submitted []pipeline.Job
	err       error
	results   chan pipeline.Result
	events    chan pipeline.EventMessage
}

func newStubQueue() *stubQueue {
	return &stubQueue{
		results: make(chan pipeline.Result, 8),
		events:  make(chan pipeline.EventMessage, 8),
	}
}

func (q *stubQueue) Submit(job pipeline.Job) error {
	if q.err != nil {
		return q.err
	}
	q.submitted = append(q.submitted, job)
	return nil
}

func (q *stubQueue) Subscribe() (<-chan pipeline.Result, func()) { return q.results, func() {} }

func (q *stubQueue) SubscribeEvents() (<-chan pipeline.EventMessage, func()) {
	return q.events, func() {}
}

func newTestServer(t *testing.T, q Queue) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	s := NewServer(":0", store, q, pipeline.Options{MaxSkip: 3, Engine: "opencv"}, slog.Default())
	return s, store
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, newStubQueue())
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestSubmitRunAppliesDefaults(t *testing.T) {
	q := newStubQueue()
	s, _ := newTestServer(t, q)

	body := `{"input_dir": "/photos/pano", "crop": true, "settle_seconds": 2}`
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/runs", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(q.submitted) != 1 {
		t.Fatalf("expected one submitted job, got %d", len(q.submitted))
	}
	job := q.submitted[0]
	if resp["id"] != job.ID || !strings.HasPrefix(job.ID, "pano-") {
		t.Fatalf("expected returned id to match job, got %q vs %q", resp["id"], job.ID)
	}
	if job.Options.MaxSkip != 3 || job.Options.Engine != "opencv" || !job.Options.Crop || job.Options.Settle != 2*time.Second {
		t.Fatalf("unexpected options %+v", job.Options)
	}
}

func TestSubmitRunOverridesMaxSkip(t *testing.T) {
	q := newStubQueue()
	s, _ := newTestServer(t, q)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/runs", strings.NewReader(`{"input_dir": "/in", "max_skip": 0}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if q.submitted[0].Options.MaxSkip != 0 {
		t.Fatalf("expected explicit max_skip 0, got %d", q.submitted[0].Options.MaxSkip)
	}
}

func TestSubmitRunValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing input", `{}`},
		{"negative skip", `{"input_dir": "/in", "max_skip": -1}`},
		{"unknown field", `{"input_dir": "/in", "projection": "x"}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, newStubQueue())
			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/runs", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSubmitRunUnavailable(t *testing.T) {
	for _, qerr := range []error{pipeline.ErrQueueFull, pipeline.ErrStopped} {
		q := newStubQueue()
		q.err = qerr
		s, _ := newTestServer(t, q)

		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/runs", bytes.NewBufferString(`{"input_dir": "/in"}`)))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%v: expected 503, got %d", qerr, rec.Code)
		}
	}
}

func TestRunsAndRunDetail(t *testing.T) {
	s, store := newTestServer(t, newStubQueue())
	if err := store.RecordRunQueued(storage.RunRecord{ID: "r1", InputDir: "/in", MaxSkip: 3}); err != nil {
		t.Fatal(err)
	}
	_ = store.RecordImageOutcome("r1", storage.ImageRecord{Position: 0, Path: "/in/a.jpg", Outcome: storage.OutcomeUsed})
	_ = store.RecordImageOutcome("r1", storage.ImageRecord{Position: 1, Path: "/in/b.jpg", Outcome: storage.OutcomeSkipped, Reason: "no_compatible"})

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/runs", nil))
	var runs []storage.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/runs/r1", nil))
	var detail runDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Run.ID != "r1" || len(detail.Images) != 2 || detail.Images[1].Reason != "no_compatible" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if detail.Meta != nil {
		t.Fatalf("expected no meta before the run finishes, got %v", detail.Meta)
	}

	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/runs?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestPreviewServesThumbnail(t *testing.T) {
	s, store := newTestServer(t, newStubQueue())
	out := filepath.Join(t.TempDir(), "panorama.png")
	pano := image.NewRGBA(image.Rect(0, 0, 200, 50))
	for i := range pano.Pix {
		pano.Pix[i] = 0xff
	}
	pano.Set(0, 0, color.Black)
	if err := imageio.Encode(out, pano, 0); err != nil {
		t.Fatal(err)
	}
	_ = store.RecordRunQueued(storage.RunRecord{ID: "done", InputDir: "/in"})
	_ = store.RecordRunResult("done", storage.RunOutcome{Status: storage.StatusCompleted, OutputPath: out, Used: 2}, map[string]any{"cropped": false})
	_ = store.RecordRunQueued(storage.RunRecord{ID: "pending", InputDir: "/in"})

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/runs/done/preview?width=40", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", ct)
	}
	thumb, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if thumb.Bounds().Dx() != 40 || thumb.Bounds().Dy() != 10 {
		t.Fatalf("expected 40x10 preview, got %v", thumb.Bounds())
	}

	for path, want := range map[string]int{
		"/runs/pending/preview":        http.StatusNotFound,
		"/runs/missing/preview":        http.StatusNotFound,
		"/runs/done/preview?width=abc": http.StatusBadRequest,
	} {
		rec = httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	q := newStubQueue()
	s, _ := newTestServer(t, q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.stream(ctx)

	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; keep publishing until the client sees one.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case q.events <- pipeline.EventMessage{RunID: "r1", Event: stitch.Event{Kind: stitch.EventMerged, Ref: "b.jpg", Index: 1}}:
				default:
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.RunID != "r1" || msg.Event.Event.Kind != stitch.EventMerged {
		t.Fatalf("unexpected message %+v", msg)
	}
}
