package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/snarg/musicbot/internal/pipeline"
)

// maxBodyBytes caps command and convert request bodies.
const maxBodyBytes = 64 << 10

var errEmptyBody = errors.New("missing request body")

// ErrorResponse is the body of every non-2xx reply. Stage is set only for
// conversion failures and names the pipeline step that failed.
type ErrorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteStageError reports a failed conversion. The cause is already
// redacted by the fetch and resolve stages.
func WriteStageError(w http.ResponseWriter, status int, pe *pipeline.PipelineError) {
	resp := ErrorResponse{Error: "conversion failed", Stage: string(pe.Stage)}
	if pe.Err != nil {
		resp.Detail = pe.Err.Error()
	}
	WriteJSON(w, status, resp)
}

func writeBadBody(w http.ResponseWriter, err error) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Detail: err.Error()})
}

// DecodeJSON reads exactly one JSON value of at most maxBodyBytes into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must hold a single JSON object")
	}
	return nil
}
