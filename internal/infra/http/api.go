package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"

	"discord-digest/internal/domain"
	"discord-digest/internal/usecase/summary"
)

// Pipeline — операции конвейера, доступные через API.
type Pipeline interface {
	Sweep(ctx context.Context, cfg domain.PipelineConfig, now time.Time) ([]domain.ChannelOutcome, error)
	Status(ctx context.Context, cfg domain.PipelineConfig) (summary.Status, error)
	ChannelSummaries(ctx context.Context, channelID string, page int) (summary.Page, error)
}

// API описывает зависимости обработчиков. Queue необязательна: без неё run-now обходит каналы синхронно.
type API struct {
	Pipeline Pipeline
	Config   func() (domain.PipelineConfig, error)
	Queue    domain.SweepQueue
	Token    string
	Now      func() time.Time
}

// MountAPI регистрирует маршруты /api.
func (s *Server) MountAPI(api API) {
	if api.Now == nil {
		api.Now = time.Now
	}
	h := &handlers{api: api, srv: s}
	s.Router.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/channels/{id}/summaries", h.channelSummaries)
		r.With(TokenAuthMiddleware(api.Token)).Post("/run-now", h.runNow)
	})
}

type handlers struct {
	api API
	srv *Server
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.api.Config()
	if err != nil && !errors.Is(err, domain.ErrConfiguration) {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	status, err := h.api.Pipeline.Status(r.Context(), cfg)
	if err != nil {
		h.srv.log.Error().Err(err).Msg("http: статус недоступен")
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

type runNowResponse struct {
	Results []domain.ChannelOutcome `json:"results,omitempty"`
	Jobs    []domain.SweepJob       `json:"jobs,omitempty"`
}

func (h *handlers) runNow(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.api.Config()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	now := h.api.Now()
	if h.api.Queue != nil {
		jobs, err := summary.EnqueueSweep(r.Context(), h.api.Queue, cfg, domain.SweepCauseManual, now)
		if err != nil {
			h.srv.log.Error().Err(err).Int("enqueued", len(jobs)).Msg("http: не удалось поставить задачи")
			WriteError(w, http.StatusServiceUnavailable, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, runNowResponse{Jobs: jobs})
		return
	}

	outcomes, err := h.api.Pipeline.Sweep(r.Context(), cfg, now)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		WriteError(w, status, err)
		return
	}
	WriteJSON(w, http.StatusOK, runNowResponse{Results: outcomes})
}

type channelView struct {
	ChannelID        string `json:"channel_id"`
	ChannelName      string `json:"channel_name"`
	GroupName        string `json:"group_name,omitempty"`
	LastReadPosition string `json:"last_read_position,omitempty"`
}

type summaryView struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Kind         string    `json:"kind"`
	MessageCount int       `json:"message_count"`
	Text         string    `json:"text"`
}

type pageResponse struct {
	Channel   channelView   `json:"channel"`
	Summaries []summaryView `json:"summaries"`
	Page      int           `json:"page"`
	HasNext   bool          `json:"has_next"`
}

func (h *handlers) channelSummaries(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			WriteError(w, http.StatusBadRequest, errors.New("page must be a positive integer"))
			return
		}
		page = parsed
	}

	result, err := h.api.Pipeline.ChannelSummaries(r.Context(), channelID, page)
	if errors.Is(err, domain.ErrNotFound) {
		WriteError(w, http.StatusNotFound, errors.New("channel not found"))
		return
	}
	if err != nil {
		h.srv.log.Error().Err(err).Str("channel", channelID).Msg("http: история канала недоступна")
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	resp := pageResponse{
		Channel: channelView{
			ChannelID:        result.Channel.ChannelID,
			ChannelName:      result.Channel.DisplayName(),
			GroupName:        result.Channel.GroupName,
			LastReadPosition: result.Channel.LastReadPosition,
		},
		Summaries: make([]summaryView, 0, len(result.Summaries)),
		Page:      result.Page,
		HasNext:   result.HasNext,
	}
	for _, rec := range result.Summaries {
		resp.Summaries = append(resp.Summaries, summaryView{
			ID:           rec.ID,
			CreatedAt:    rec.CreatedAt,
			Kind:         string(rec.Kind),
			MessageCount: rec.MessageCount,
			Text:         rec.Text,
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}
