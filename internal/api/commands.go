package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/snarg/musicbot/internal/audio"
	"github.com/snarg/musicbot/internal/command"
	"github.com/snarg/musicbot/internal/pipeline"
	"github.com/snarg/musicbot/internal/storage"
)

// CommandHandler turns one chat message into ordered reply events.
type CommandHandler interface {
	Handle(ctx context.Context, msg command.Message) []command.Event
}

// Submitter is the conversion pool as seen by the HTTP layer.
type Submitter interface {
	Submit(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
	Stats() pipeline.QueueStats
}

type CommandsResponse struct {
	Events []command.Event `json:"events"`
}

type CommandsHandler struct {
	commands CommandHandler
}

func NewCommandsHandler(commands CommandHandler) *CommandsHandler {
	return &CommandsHandler{commands: commands}
}

// ServeHTTP handles POST /api/v1/commands. Non-command messages get an empty
// event list, not an error.
func (h *CommandsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg command.Message
	if err := DecodeJSON(r, &msg); err != nil {
		writeBadBody(w, err)
		return
	}
	if msg.SenderID == "" {
		WriteError(w, http.StatusBadRequest, "sender_id is required")
		return
	}

	events := h.commands.Handle(r.Context(), msg)
	if events == nil {
		events = []command.Event{}
	}
	WriteJSON(w, http.StatusOK, CommandsResponse{Events: events})
}

type ConvertRequest struct {
	URL         string `json:"url,omitempty"`
	MID         string `json:"mid,omitempty"`
	TargetBytes int64  `json:"target_bytes,omitempty"`
	KeepSource  *bool  `json:"keep_source,omitempty"`
}

type ConvertResponse struct {
	Key         string           `json:"key"`
	SizeBytes   int64            `json:"size_bytes"`
	Source      audio.Parameters `json:"source"`
	Plan        audio.Plan       `json:"plan"`
	DownloadURL string           `json:"download_url,omitempty"`
	AudioPath   string           `json:"audio_path"`
}

type ConvertHandler struct {
	pool       Submitter
	store      storage.ArtifactStore
	keepSource bool
}

func NewConvertHandler(pool Submitter, store storage.ArtifactStore, keepSource bool) *ConvertHandler {
	return &ConvertHandler{pool: pool, store: store, keepSource: keepSource}
}

// ServeHTTP handles POST /api/v1/convert: run one conversion for a direct
// source URL or a song mid and report the artifact.
func (h *ConvertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := DecodeJSON(r, &req); err != nil {
		writeBadBody(w, err)
		return
	}
	if req.URL == "" && req.MID == "" {
		WriteError(w, http.StatusBadRequest, "url or mid is required")
		return
	}
	if req.TargetBytes < 0 {
		WriteError(w, http.StatusBadRequest, "target_bytes must not be negative")
		return
	}
	keep := h.keepSource
	if req.KeepSource != nil {
		keep = *req.KeepSource
	}

	res, err := h.pool.Submit(r.Context(), pipeline.Job{
		MID:         req.MID,
		SourceURL:   req.URL,
		TargetBytes: req.TargetBytes,
		Options:     pipeline.Options{KeepSource: keep},
	})
	if err != nil {
		writeConvertError(w, err)
		return
	}

	resp := ConvertResponse{
		Key:       res.Key,
		SizeBytes: res.SizeBytes,
		Source:    res.Source,
		Plan:      res.Plan,
		AudioPath: "/api/v1/audio/" + res.Key,
	}
	if h.store != nil {
		log := hlog.FromRequest(r)
		if err := h.store.Publish(r.Context(), res.Key, res.OutputPath); err != nil {
			log.Warn().Err(err).Str("key", res.Key).Msg("publish failed")
		} else if u, err := h.store.URL(r.Context(), res.Key); err != nil {
			log.Warn().Err(err).Str("key", res.Key).Msg("download url unavailable")
		} else {
			resp.DownloadURL = u
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func writeConvertError(w http.ResponseWriter, err error) {
	var pe *pipeline.PipelineError
	switch {
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrPoolStopped):
		w.Header().Set("Retry-After", "5")
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "conversion timed out")
	case errors.As(err, &pe):
		status := http.StatusUnprocessableEntity
		if pe.Stage == pipeline.StageResolve || pe.Stage == pipeline.StageFetch {
			status = http.StatusBadGateway
		}
		WriteStageError(w, status, pe)
	default:
		WriteError(w, http.StatusInternalServerError, "conversion failed")
	}
}
