package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"imgsearch/internal/domain"
	"imgsearch/internal/usecase"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// Searcher is the query side the handler depends on.
type Searcher interface {
	Search(ctx context.Context, q usecase.Query, topK int) ([]domain.SearchResult, error)
	Len() int
}

// Options configures a Handler.
type Options struct {
	MaxBodyBytes  int64
	AllowedOrigin string
	TopK          int

	// AllowURLQueries accepts {"url": ...} bodies, which make the extractor
	// fetch a client-chosen URL.
	AllowURLQueries bool
}

// Handler serves the image search API.
type Handler struct {
	searcher Searcher
	opts     Options
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewHandler creates the HTTP handler.
func NewHandler(searcher Searcher, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	h := &Handler{
		searcher: searcher,
		opts:     opts,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/api/image-search", h.handleImageSearch)
	h.mux.HandleFunc("/healthz", h.handleHealth)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(requestIDHeader)
	if !validRequestID(id) {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	h.mux.ServeHTTP(rec, r)

	h.logger.Info("request",
		"request_id", id,
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start).Round(time.Microsecond),
	)
}

type searchRequest struct {
	Image string `json:"image"`
	URL   string `json:"url"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Products []string              `json:"products"`
	Results  []domain.SearchResult `json:"results"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) handleImageSearch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", h.opts.AllowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q, topK, err := h.parseQuery(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "image too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if topK <= 0 {
		topK = h.opts.TopK
	}

	results, err := h.searcher.Search(r.Context(), q, topK)
	if err != nil {
		h.logger.Error("image search failed", "request_id", w.Header().Get(requestIDHeader), "error", err)
		switch {
		case errors.Is(err, domain.ErrExtractionExhausted):
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "embedder error", Detail: err.Error()})
		case errors.Is(err, domain.ErrPermanentInput):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid image", Detail: err.Error()})
		case errors.Is(err, domain.ErrDimensionMismatch):
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "dimension mismatch", Detail: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "embedder error", Detail: err.Error()})
		}
		return
	}

	if results == nil {
		results = []domain.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Products: usecase.IDs(results),
		Results:  results,
	})
}

// parseQuery accepts a raw image/* body or JSON with a base64 image or a URL.
func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (usecase.Query, int, error) {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	defer body.Close()

	if strings.HasPrefix(r.Header.Get("Content-Type"), "image/") {
		data, err := io.ReadAll(body)
		if err != nil {
			return usecase.Query{}, 0, err
		}
		if len(data) == 0 {
			return usecase.Query{}, 0, errors.New("empty image body")
		}
		return usecase.Query{Bytes: data}, 0, nil
	}

	var req searchRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return usecase.Query{}, 0, err
		}
		return usecase.Query{}, 0, fmt.Errorf("invalid JSON body: %v", err)
	}

	switch {
	case req.Image != "":
		data, err := decodeImage(req.Image)
		if err != nil {
			return usecase.Query{}, 0, fmt.Errorf("invalid base64 in body.image: %v", err)
		}
		return usecase.Query{Bytes: data}, req.TopK, nil
	case req.URL != "":
		if !h.opts.AllowURLQueries {
			return usecase.Query{}, 0, errors.New("url queries are disabled: send body.image as base64")
		}
		return usecase.Query{URL: req.URL}, req.TopK, nil
	default:
		return usecase.Query{}, 0, errors.New("missing image: send body.image as base64")
	}
}

// validRequestID accepts client ids of bounded length made of
// letters, digits and . _ : -
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// decodeImage decodes base64, tolerating a data URL prefix.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"vectors": h.searcher.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
