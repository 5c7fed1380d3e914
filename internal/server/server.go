package server

import (
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"panostitch/internal/imageio"
	"panostitch/internal/pipeline"
	"panostitch/internal/storage"

	"github.com/gorilla/mux"
)

// Queue is the part of the pipeline the server talks to.
type Queue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
	SubscribeEvents() (<-chan pipeline.EventMessage, func())
}

// Server exposes run history and submission over HTTP and streams
// controller events to websocket clients.
type Server struct {
	addr     string
	store    *storage.Store
	queue    Queue
	defaults pipeline.Options
	log      *slog.Logger
	hub      *hub
	server   *http.Server
}

// NewServer creates a server. defaults fill the options a request leaves out.
func NewServer(addr string, store *storage.Store, queue Queue, defaults pipeline.Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     addr,
		store:    store,
		queue:    queue,
		defaults: defaults,
		log:      log,
		hub:      newHub(log),
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.stream(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Routes returns the HTTP handler of the API.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/runs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/runs/{id}", s.handleRun).Methods("GET")
	r.HandleFunc("/runs/{id}/preview", s.handlePreview).Methods("GET")
	r.HandleFunc("/stream", s.handleResultStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return r
}

// stream starts the websocket hub and feeds it pipeline events and results.
func (s *Server) stream(ctx context.Context) {
	go s.hub.run(ctx)
	go s.feed(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type runDetail struct {
	Run    storage.RunRecord     `json:"run"`
	Images []storage.ImageRecord `json:"images"`
	Meta   map[string]any        `json:"meta,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Run(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	imgs, err := s.store.RunImages(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if imgs == nil {
		imgs = []storage.ImageRecord{}
	}
	meta, err := s.store.RunMeta(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runDetail{Run: rec, Images: imgs, Meta: meta})
}

const defaultPreviewWidth = 800

// handlePreview serves a JPEG thumbnail of a finished run's panorama.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	width := defaultPreviewWidth
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "width must be a positive integer", http.StatusBadRequest)
			return
		}
		width = n
	}

	rec, err := s.store.Run(mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec.OutputPath == "" || rec.Status != storage.StatusCompleted {
		http.Error(w, "run has no panorama", http.StatusNotFound)
		return
	}

	img, err := imageio.Decode(rec.OutputPath)
	if err != nil {
		s.log.Warn("failed to read panorama for preview", "run", rec.ID, "error", err)
		http.Error(w, "panorama unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	if err := jpeg.Encode(w, imageio.Thumbnail(img, width), &jpeg.Options{Quality: imageio.DefaultJPEGQuality}); err != nil {
		s.log.Warn("failed to write preview", "run", rec.ID, "error", err)
	}
}

// runRequest is the body of POST /runs. Pointer fields fall back to the
// server defaults when absent.
type runRequest struct {
	InputDir      string  `json:"input_dir"`
	Output        string  `json:"output"`
	MaxSkip       *int    `json:"max_skip"`
	Engine        *string `json:"engine"`
	Crop          *bool   `json:"crop"`
	Start         string  `json:"start"`
	Count         int     `json:"count"`
	SettleSeconds *int    `json:"settle_seconds"`
	Report        string  `json:"report"`
}

func (s *Server) jobFromRequest(req runRequest) pipeline.Job {
	opts := s.defaults
	if req.MaxSkip != nil {
		opts.MaxSkip = *req.MaxSkip
	}
	if req.Engine != nil {
		opts.Engine = *req.Engine
	}
	if req.Crop != nil {
		opts.Crop = *req.Crop
	}
	if req.SettleSeconds != nil {
		opts.Settle = time.Duration(*req.SettleSeconds) * time.Second
	}
	opts.Start = req.Start
	opts.Count = req.Count
	opts.Report = req.Report
	return pipeline.Job{
		ID:       pipeline.NewID("pano"),
		InputDir: req.InputDir,
		Output:   req.Output,
		Options:  opts,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.InputDir == "" {
		http.Error(w, "input_dir is required", http.StatusBadRequest)
		return
	}
	if req.MaxSkip != nil && *req.MaxSkip < 0 {
		http.Error(w, "max_skip must be >= 0", http.StatusBadRequest)
		return
	}

	job := s.jobFromRequest(req)
	if err := s.queue.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) || errors.Is(err, pipeline.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.log.Info("run queued", "id", job.ID, "input", job.InputDir)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": storage.StatusQueued})
}

// handleResultStream sends finished runs as server-sent events.
func (s *Server) handleResultStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(newResultMessage(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
