package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"clipd/internal/embedder"
	"clipd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	EmbedImage(ctx context.Context, in embedder.ImageInput) ([]float32, error)
	EmbedImages(ctx context.Context, in []embedder.ImageInput) ([][]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Health() embedder.Health
	Ready() bool
	Status() types.StatusResponse
	ListModels() []types.Model
}

// NewMux builds the router with all routes and middleware.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsOpts != nil {
		r.Use(cors.Handler(*corsOpts))
	}
	r.Use(MetricsMiddleware)

	h := &handlers{svc: svc}
	r.Post("/get_image_embedding", h.imageEmbedding)
	r.Post("/get_image_embedding_upload", h.imageEmbeddingUpload)
	r.Post("/get_image_embeddings_batch", h.imageEmbeddingsBatch)
	r.Post("/get_text_embedding", h.textEmbedding)
	r.Post("/get_text_embeddings_batch", h.textEmbeddingsBatch)

	r.Get("/health", h.health)
	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// health godoc
// @Summary      Embedder readiness
// @Description  Always 200; the body tells whether the model is loaded and on which device.
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hl := h.svc.Health()
	status := "initializing"
	switch hl.State {
	case embedder.StateReady:
		status = "ok"
	case embedder.StateFailed:
		status = "error"
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:                   status,
		Ready:                    hl.Ready,
		EmbedderFullyInitialized: hl.Ready,
		EffectiveDevice:          hl.EffectiveDevice,
		Detail:                   hl.Detail,
	})
}

// imageEmbedding godoc
// @Summary      Embed an image file
// @Tags         embeddings
// @Accept       json
// @Produce      json
// @Param        request  body      types.ImageEmbeddingRequest  true  "Image path"
// @Success      200      {object}  types.EmbeddingResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /get_image_embedding [post]
func (h *handlers) imageEmbedding(w http.ResponseWriter, r *http.Request) {
	var req types.ImageEmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	h.serve(w, r, "image", func(ctx context.Context) (any, error) {
		v, err := h.svc.EmbedImage(ctx, embedder.ImageInput{Path: req.Path})
		return types.EmbeddingResponse{Embedding: v}, err
	})
}

// imageEmbeddingUpload godoc
// @Summary      Embed an uploaded image
// @Tags         embeddings
// @Accept       mpfd
// @Produce      json
// @Param        file  formData  file  true  "Image file"
// @Success      200   {object}  types.EmbeddingResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /get_image_embedding_upload [post]
func (h *handlers) imageEmbeddingUpload(w http.ResponseWriter, r *http.Request) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/form-data" {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be multipart/form-data")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	f, _, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		writeJSONError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}
	h.serve(w, r, "image", func(ctx context.Context) (any, error) {
		v, err := h.svc.EmbedImage(ctx, embedder.ImageInput{Data: data})
		return types.EmbeddingResponse{Embedding: v}, err
	})
}

// imageEmbeddingsBatch godoc
// @Summary      Embed several image files
// @Tags         embeddings
// @Accept       json
// @Produce      json
// @Param        request  body      types.ImageEmbeddingsBatchRequest  true  "Image paths"
// @Success      200      {object}  types.EmbeddingsResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /get_image_embeddings_batch [post]
func (h *handlers) imageEmbeddingsBatch(w http.ResponseWriter, r *http.Request) {
	var req types.ImageEmbeddingsBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	items := make([]embedder.ImageInput, len(req.Paths))
	for i, p := range req.Paths {
		if strings.TrimSpace(p) == "" {
			writeJSONError(w, http.StatusBadRequest, "paths must not contain empty entries")
			return
		}
		items[i] = embedder.ImageInput{Path: p}
	}
	h.serve(w, r, "image", func(ctx context.Context) (any, error) {
		vs, err := h.svc.EmbedImages(ctx, items)
		return types.EmbeddingsResponse{Embeddings: vs}, err
	})
}

// textEmbedding godoc
// @Summary      Embed a text
// @Tags         embeddings
// @Accept       json
// @Produce      json
// @Param        request  body      types.TextEmbeddingRequest  true  "Text"
// @Success      200      {object}  types.EmbeddingResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      501      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /get_text_embedding [post]
func (h *handlers) textEmbedding(w http.ResponseWriter, r *http.Request) {
	var req types.TextEmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.serve(w, r, "text", func(ctx context.Context) (any, error) {
		v, err := h.svc.EmbedText(ctx, req.Text)
		return types.EmbeddingResponse{Embedding: v}, err
	})
}

// textEmbeddingsBatch godoc
// @Summary      Embed several texts
// @Tags         embeddings
// @Accept       json
// @Produce      json
// @Param        request  body      types.TextEmbeddingsBatchRequest  true  "Texts"
// @Success      200      {object}  types.EmbeddingsResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      501      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /get_text_embeddings_batch [post]
func (h *handlers) textEmbeddingsBatch(w http.ResponseWriter, r *http.Request) {
	var req types.TextEmbeddingsBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.serve(w, r, "text", func(ctx context.Context) (any, error) {
		vs, err := h.svc.EmbedTexts(ctx, req.Texts)
		return types.EmbeddingsResponse{Embeddings: vs}, err
	})
}

// serve runs an embedding call with the request's context joined to the
// server base context, maps errors and logs according to the request level.
func (h *handlers) serve(w http.ResponseWriter, r *http.Request, modality string, call func(ctx context.Context) (any, error)) {
	start := time.Now()
	lvl := requestLogLevel(r)
	if logs(lvl, zerolog.InfoLevel) {
		logLine(r, "embed start", modality, 0, 0, nil)
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if d := embedTimeout(); d > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, d)
		defer tcancel()
	}
	resp, err := call(ctx)
	if err != nil {
		// Client went away: nothing to write.
		if r.Context().Err() != nil {
			return
		}
		status := statusFor(err)
		switch {
		case serverBaseCtx.Err() != nil:
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("embed")
		}
		writeJSONError(w, status, err.Error())
		if logs(lvl, zerolog.ErrorLevel) {
			logLine(r, "embed end", modality, status, time.Since(start), err)
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
	if logs(lvl, zerolog.InfoLevel) {
		logLine(r, "embed end", modality, http.StatusOK, time.Since(start), nil)
	}
}

func logLine(r *http.Request, msg, modality string, status int, dur time.Duration, err error) {
	ev := reqLog.Info()
	if err != nil {
		ev = reqLog.Error().Err(err)
	}
	ev = ev.Str("path", r.URL.Path).Str("modality", modality)
	if status != 0 {
		ev = ev.Int("status", status).Dur("dur", dur)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	ev.Msg(msg)
}

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
