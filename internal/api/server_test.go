package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/musicbot/internal/audio"
	"github.com/snarg/musicbot/internal/command"
	"github.com/snarg/musicbot/internal/config"
	"github.com/snarg/musicbot/internal/pipeline"
	"github.com/snarg/musicbot/internal/storage"
)

type fakeCommands struct {
	got    []command.Message
	events []command.Event
}

func (f *fakeCommands) Handle(ctx context.Context, msg command.Message) []command.Event {
	f.got = append(f.got, msg)
	return f.events
}

type fakePool struct {
	jobs  []pipeline.Job
	res   *pipeline.Result
	err   error
	stats pipeline.QueueStats
}

func (f *fakePool) Submit(ctx context.Context, job pipeline.Job) (*pipeline.Result, error) {
	f.jobs = append(f.jobs, job)
	return f.res, f.err
}

func (f *fakePool) Stats() pipeline.QueueStats { return f.stats }

type testEnv struct {
	srv      *httptest.Server
	commands *fakeCommands
	pool     *fakePool
	dir      string
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	return newTestEnvConfig(t, &config.Config{AuthToken: token}, nil)
}

// newTestEnvConfig builds a router from cfg. commands replaces the recording
// fake when non-nil.
func newTestEnvConfig(t *testing.T, cfg *config.Config, commands CommandHandler) *testEnv {
	t.Helper()
	env := &testEnv{
		commands: &fakeCommands{},
		pool:     &fakePool{stats: pipeline.QueueStats{Workers: 2, Capacity: 16}},
		dir:      t.TempDir(),
	}
	if commands == nil {
		commands = env.commands
	}
	env.srv = httptest.NewServer(NewRouter(ServerOptions{
		Config:    cfg,
		Commands:  commands,
		Pool:      env.pool,
		Store:     storage.NewLocalStore(env.dir),
		Version:   "test",
		StartTime: time.Now(),
		Log:       zerolog.Nop(),
	}))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp := env.do(t, "GET", "/api/v1/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 without auth", resp.StatusCode)
	}
	var body HealthResponse
	decode(t, resp, &body)
	if body.Status != "healthy" || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
	if body.Checks["storage"] != "local" || body.Checks["queue"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
	if body.Queue == nil || body.Queue.Workers != 2 {
		t.Errorf("queue = %+v", body.Queue)
	}

	env.pool.stats.Pending = 16
	resp = env.do(t, "GET", "/api/v1/health", "", "")
	decode(t, resp, &body)
	if body.Status != "degraded" || body.Checks["queue"] != "full" {
		t.Errorf("full queue: status = %q, checks = %v", body.Status, body.Checks)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "secret")
	env.do(t, "GET", "/api/v1/health", "", "")

	resp := env.do(t, "GET", "/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "musicbot_http_requests_total") {
		t.Error("metrics output missing musicbot_http_requests_total")
	}
}

func TestCommandsEndpoint(t *testing.T) {
	env := newTestEnv(t, "secret")
	env.commands.events = []command.Event{
		{Type: command.EventText, Text: "🎵 正在播放: 稻香"},
		{Type: command.EventAudio, Key: "2026-10-19/x.wav", Title: "稻香"},
	}

	t.Run("requires_auth", func(t *testing.T) {
		resp := env.do(t, "POST", "/api/v1/commands", "", `{"sender_id":"u1","text":"/播放 1"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("returns_events_in_order", func(t *testing.T) {
		resp := env.do(t, "POST", "/api/v1/commands", "secret", `{"sender_id":"u1","group_id":"g1","text":"/播放 1"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var body CommandsResponse
		decode(t, resp, &body)
		if len(body.Events) != 2 || body.Events[0].Type != "text" || body.Events[1].Type != "audio" {
			t.Errorf("events = %+v", body.Events)
		}
		last := env.commands.got[len(env.commands.got)-1]
		if last.SenderID != "u1" || last.GroupID != "g1" || last.Text != "/播放 1" {
			t.Errorf("message = %+v", last)
		}
	})

	t.Run("non_command_gives_empty_list", func(t *testing.T) {
		env.commands.events = nil
		resp := env.do(t, "POST", "/api/v1/commands", "secret", `{"sender_id":"u1","text":"hi"}`)
		data, _ := io.ReadAll(resp.Body)
		if strings.TrimSpace(string(data)) != `{"events":[]}` {
			t.Errorf("body = %s", data)
		}
	})

	t.Run("validation", func(t *testing.T) {
		for _, body := range []string{`{bad`, `{"text":"/点歌 x"}`} {
			resp := env.do(t, "POST", "/api/v1/commands", "secret", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
			}
		}
	})
}

func TestConvertEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	key := "2026-10-19/song-01234567.wav"
	out := filepath.Join(env.dir, filepath.FromSlash(key))
	os.MkdirAll(filepath.Dir(out), 0o755)
	os.WriteFile(out, []byte("RIFF"), 0o644)

	env.pool.res = &pipeline.Result{
		OutputPath: out,
		Key:        key,
		SizeBytes:  4,
		Source:     audio.Parameters{SampleRate: 44100, BitDepth: 16, Channels: 2, Duration: 10},
		Plan:       audio.Plan{SampleRate: 22050, Channels: 1, BitDepth: 16},
	}

	resp := env.do(t, "POST", "/api/v1/convert", "", `{"url":"http://cdn/a.flac","target_bytes":1000,"keep_source":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body ConvertResponse
	decode(t, resp, &body)
	if body.Key != key || body.Plan.SampleRate != 22050 || body.Source.Channels != 2 {
		t.Errorf("body = %+v", body)
	}
	if body.AudioPath != "/api/v1/audio/"+key {
		t.Errorf("AudioPath = %q", body.AudioPath)
	}
	job := env.pool.jobs[0]
	if job.SourceURL != "http://cdn/a.flac" || job.TargetBytes != 1000 || !job.Options.KeepSource {
		t.Errorf("job = %+v", job)
	}
}

func TestConvertEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		err       error
		status    int
		wantStage string
	}{
		{"missing_source", `{}`, nil, http.StatusBadRequest, ""},
		{"negative_target", `{"url":"http://x","target_bytes":-1}`, nil, http.StatusBadRequest, ""},
		{"trailing_data", `{"url":"http://x"}{"mid":"m1"}`, nil, http.StatusBadRequest, ""},
		{"queue_full", `{"url":"http://x"}`, pipeline.ErrQueueFull, http.StatusServiceUnavailable, ""},
		{"timeout", `{"url":"http://x"}`, context.DeadlineExceeded, http.StatusGatewayTimeout, ""},
		{"resolve_stage", `{"mid":"m1"}`, &pipeline.PipelineError{Stage: pipeline.StageResolve, Err: errors.New("code 404")}, http.StatusBadGateway, "resolve"},
		{"fetch_stage", `{"url":"http://x"}`, &pipeline.PipelineError{Stage: pipeline.StageFetch, Err: errors.New("404")}, http.StatusBadGateway, "fetch"},
		{"decode_stage", `{"mid":"m1"}`, &pipeline.PipelineError{Stage: pipeline.StageDecode, Err: errors.New("bad header")}, http.StatusUnprocessableEntity, "decode"},
		{"write_stage", `{"url":"http://x"}`, &pipeline.PipelineError{Stage: pipeline.StageWrite, Err: errors.New("disk full")}, http.StatusUnprocessableEntity, "write"},
		{"other", `{"url":"http://x"}`, errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.pool.err = tt.err
			resp := env.do(t, "POST", "/api/v1/convert", "", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body ErrorResponse
			decode(t, resp, &body)
			if body.Stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", body.Stage, tt.wantStage)
			}
			if tt.wantStage != "" && (body.Error != "conversion failed" || body.Detail == "") {
				t.Errorf("body = %+v, want conversion failure with detail", body)
			}
		})
	}
}

func TestAudioEndpoint(t *testing.T) {
	env := newTestEnv(t, "secret")
	key := "2026-10-19/song-01234567.wav"
	path := filepath.Join(env.dir, filepath.FromSlash(key))
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("RIFF0000WAVE"), 0o644)

	t.Run("serves_local_file", func(t *testing.T) {
		resp := env.do(t, "GET", "/api/v1/audio/"+key+"?download=true", "secret", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Content-Type = %q", ct)
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "song-01234567.wav") {
			t.Errorf("Content-Disposition = %q", cd)
		}
		data, _ := io.ReadAll(resp.Body)
		if string(data) != "RIFF0000WAVE" {
			t.Errorf("body = %q", data)
		}
	})

	t.Run("range_request", func(t *testing.T) {
		req, _ := http.NewRequest("GET", env.srv.URL+"/api/v1/audio/"+key, nil)
		req.Header.Set("Authorization", "Bearer secret")
		req.Header.Set("Range", "bytes=0-3")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusPartialContent {
			t.Errorf("status = %d, want 206", resp.StatusCode)
		}
	})

	t.Run("requires_auth", func(t *testing.T) {
		resp := env.do(t, "GET", "/api/v1/audio/"+key, "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("missing", func(t *testing.T) {
		resp := env.do(t, "GET", "/api/v1/audio/2026-10-19/nope.wav", "secret", "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("escape_rejected", func(t *testing.T) {
		resp := env.do(t, "GET", "/api/v1/audio/..%2f..%2fetc%2fpasswd", "secret", "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}
