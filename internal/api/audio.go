package api

import (
	"io"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/musicbot/internal/storage"
)

type AudioHandler struct {
	store storage.ArtifactStore
}

func NewAudioHandler(store storage.ArtifactStore) *AudioHandler {
	return &AudioHandler{store: store}
}

// ServeHTTP handles GET /api/v1/audio/{key}. Local files are served with
// range support; anything else is streamed from the store.
// ?download=true sets an attachment disposition.
func (h *AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || h.store == nil {
		WriteError(w, http.StatusNotFound, "audio not found")
		return
	}

	if dl, _ := strconv.ParseBool(r.URL.Query().Get("download")); dl {
		w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	}

	if local := h.store.LocalPath(key); local != "" {
		f, err := os.Open(local)
		if err == nil {
			defer f.Close()
			info, err := f.Stat()
			if err == nil {
				w.Header().Set("Content-Type", storage.ContentType)
				http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
				return
			}
		}
	}

	if !h.store.Exists(r.Context(), key) {
		WriteError(w, http.StatusNotFound, "audio not found")
		return
	}
	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("open artifact failed")
		WriteError(w, http.StatusBadGateway, "audio unavailable")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentType)
	if _, err := io.Copy(w, rc); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("key", key).Msg("audio stream interrupted")
	}
}
