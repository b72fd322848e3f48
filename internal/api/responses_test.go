package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snarg/musicbot/internal/fetch"
	"github.com/snarg/musicbot/internal/pipeline"
)

func TestWriteStageError(t *testing.T) {
	t.Run("fetch_failure", func(t *testing.T) {
		pe := &pipeline.PipelineError{
			Stage: pipeline.StageFetch,
			Ref:   "003aAnWp",
			Err:   &fetch.FetchError{URL: "http://cdn.example/C400x.m4a", StatusCode: 403, Err: errors.New("unexpected status")},
		}
		rec := httptest.NewRecorder()
		WriteStageError(rec, http.StatusBadGateway, pe)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if body["error"] != "conversion failed" || body["stage"] != "fetch" {
			t.Errorf("body = %v", body)
		}
		if body["detail"] != pe.Err.Error() {
			t.Errorf("detail = %q, want %q", body["detail"], pe.Err.Error())
		}
	})

	t.Run("nil_cause", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteStageError(rec, http.StatusUnprocessableEntity, &pipeline.PipelineError{Stage: pipeline.StageWrite})

		if strings.Contains(rec.Body.String(), `"detail"`) {
			t.Errorf("empty detail should be omitted: %s", rec.Body.String())
		}
	})
}

func TestWriteError_OmitsStage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusServiceUnavailable, pipeline.ErrQueueFull.Error())

	got := strings.TrimSpace(rec.Body.String())
	want := `{"error":"` + pipeline.ErrQueueFull.Error() + `"}`
	if got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"convert_request", `{"mid":"003aAnWp","target_bytes":5242880}`, false},
		{"trailing_whitespace", "{\"url\":\"http://cdn/a.flac\"}\n", false},
		{"empty", "", true},
		{"malformed", `{"mid":`, true},
		{"two_objects", `{"mid":"a"}{"mid":"b"}`, true},
		{"oversized", `{"url":"` + strings.Repeat("a", maxBodyBytes) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/convert", strings.NewReader(tt.body))
			var dst ConvertRequest
			err := DecodeJSON(req, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/commands", nil)
		req.Body = nil
		var msg struct{}
		if err := DecodeJSON(req, &msg); !errors.Is(err, errEmptyBody) {
			t.Errorf("err = %v, want errEmptyBody", err)
		}
	})
}
