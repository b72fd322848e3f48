package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/snarg/musicbot/internal/metrics"
	"github.com/snarg/musicbot/internal/musicapi"
	"github.com/snarg/musicbot/internal/pipeline"
)

// User-facing replies. Failures never leak diagnostics; those go to the log.
const (
	msgSearchUsage   = "请输入搜索关键词，例如：/点歌 七里香"
	msgNoResults     = "没有找到相关歌曲"
	msgSearchFailed  = "歌曲搜索失败，请稍后再试"
	msgSearchFirst   = "请先使用 /点歌 搜索歌曲"
	msgInvalidIndex  = "请输入有效的歌曲序号"
	msgIndexRange    = "序号无效，请输入1~%d之间的数字"
	msgPlayFailed    = "歌曲播放失败，请稍后再试"
	msgResultsHeader = "找到以下歌曲："
	msgPlayHint      = "发送 /播放 + 序号 播放歌曲（例如：/播放 1）"
)

// Event types.
const (
	EventText  = "text"
	EventAudio = "audio"
)

// Message is one inbound chat message. GroupID is empty in a private chat.
type Message struct {
	SenderID string `json:"sender_id"`
	GroupID  string `json:"group_id,omitempty"`
	Text     string `json:"text"`
}

// Event is one outbound reply, rendered by the chat platform in order.
type Event struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Path  string `json:"path,omitempty"`
	Key   string `json:"key,omitempty"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

func textEvent(s string) Event { return Event{Type: EventText, Text: s} }

// Searcher finds songs by keyword.
type Searcher interface {
	Search(ctx context.Context, keyword string) ([]musicapi.Song, error)
}

// Submitter runs a conversion job, typically a *pipeline.Pool.
type Submitter interface {
	Submit(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

// Publisher exposes finished artifacts, typically a storage.ArtifactStore.
type Publisher interface {
	Publish(ctx context.Context, key, localPath string) error
	URL(ctx context.Context, key string) (string, error)
}

// Options configures a Handler.
type Options struct {
	Searcher    Searcher
	Submitter   Submitter
	Publisher   Publisher // optional
	Cache       ResultCache
	TargetBytes int64
	KeepSource  bool
	Log         zerolog.Logger
}

// Handler parses chat commands and drives search and playback.
type Handler struct {
	search  Searcher
	submit  Submitter
	publish Publisher
	cache   ResultCache
	target  int64
	keepSrc bool
	log     zerolog.Logger
}

// NewHandler creates a Handler. A nil Cache gets a fresh MemoryCache.
func NewHandler(opts Options) *Handler {
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Handler{
		search:  opts.Searcher,
		submit:  opts.Submitter,
		publish: opts.Publisher,
		cache:   cache,
		target:  opts.TargetBytes,
		keepSrc: opts.KeepSource,
		log:     opts.Log.With().Str("component", "command").Logger(),
	}
}

// Cache returns the handler's result cache.
func (h *Handler) Cache() ResultCache { return h.cache }

// Close clears cached search results.
func (h *Handler) Close() {
	h.cache.Clear()
}

// Handle processes one message and returns the replies in order. Messages
// that are not commands produce no events.
func (h *Handler) Handle(ctx context.Context, msg Message) []Event {
	cmd, arg, ok := parse(msg.Text)
	if !ok {
		return nil
	}
	metrics.CommandsTotal.WithLabelValues(cmd).Inc()

	key := Key(msg.SenderID, msg.GroupID)
	switch cmd {
	case cmdSearch:
		return h.handleSearch(ctx, key, msg.SenderID, arg)
	case cmdPlay:
		return h.handlePlay(ctx, key, arg)
	}
	return nil
}

func (h *Handler) handleSearch(ctx context.Context, key, sender, keyword string) []Event {
	h.log.Info().Str("sender", sender).Str("keyword", keyword).Msg("song search")
	if keyword == "" {
		return []Event{textEvent(msgSearchUsage)}
	}

	songs, err := h.search.Search(ctx, keyword)
	if err != nil {
		h.log.Error().Err(err).Str("keyword", keyword).Msg("search failed")
		return []Event{textEvent(msgSearchFailed)}
	}
	if len(songs) == 0 {
		return []Event{textEvent(msgNoResults)}
	}

	h.cache.Set(key, songs)

	var b strings.Builder
	b.WriteString(msgResultsHeader)
	for i, s := range songs {
		fmt.Fprintf(&b, "\n%d. %s - %s", i+1, s.Title, s.Artist)
	}
	b.WriteString("\n\n")
	b.WriteString(msgPlayHint)
	return []Event{textEvent(b.String())}
}

func (h *Handler) handlePlay(ctx context.Context, key, arg string) []Event {
	songs, ok := h.cache.Get(key)
	if !ok {
		return []Event{textEvent(msgSearchFirst)}
	}
	if !isDigits(arg) {
		return []Event{textEvent(msgInvalidIndex)}
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(songs) {
		return []Event{textEvent(fmt.Sprintf(msgIndexRange, len(songs)))}
	}
	song := songs[n-1]
	log := h.log.With().Str("mid", song.MID).Str("title", song.Title).Logger()

	res, err := h.submit.Submit(ctx, pipeline.Job{
		MID:         song.MID,
		TargetBytes: h.target,
		Options:     pipeline.Options{KeepSource: h.keepSrc},
	})
	if err != nil {
		log.Error().Err(err).Msg("playback failed")
		return []Event{textEvent(msgPlayFailed)}
	}

	var url string
	if h.publish != nil {
		if err := h.publish.Publish(ctx, res.Key, res.OutputPath); err != nil {
			log.Warn().Err(err).Str("key", res.Key).Msg("publish failed, serving local file only")
		} else if url, err = h.publish.URL(ctx, res.Key); err != nil {
			log.Warn().Err(err).Str("key", res.Key).Msg("download url unavailable")
			url = ""
		}
	}

	lines := []string{
		"🎵 正在播放: " + song.Title,
		"👤 歌手: " + song.Artist,
		"💽 专辑: " + song.Album,
		"⏱ 时长: " + song.DurationString(),
		"📦 大小: " + humanize.IBytes(uint64(res.SizeBytes)),
	}
	if url != "" {
		lines = append(lines, "🔗 下载链接: "+url)
	}

	return []Event{
		textEvent(strings.Join(lines, "\n")),
		{Type: EventAudio, Path: res.OutputPath, Key: res.Key, URL: url, Title: song.Title},
	}
}

const (
	cmdSearch = "search"
	cmdPlay   = "play"
)

// parse recognizes "点歌 <keyword>" and "播放 <n>" with an optional leading
// slash, plus the /song and /play aliases. A prefix only counts as a command
// when whitespace or the end of the text follows it, so "播放器坏了" is chat.
func parse(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	trimmed := strings.TrimPrefix(text, "/")

	for _, c := range []struct {
		prefix string
		cmd    string
		alias  bool
	}{
		{"点歌", cmdSearch, false},
		{"播放", cmdPlay, false},
		{"song", cmdSearch, true},
		{"play", cmdPlay, true},
	} {
		if c.alias && trimmed == text {
			continue // ASCII aliases need the slash
		}
		rest, found := strings.CutPrefix(trimmed, c.prefix)
		if !found {
			continue
		}
		if rest != "" && !startsWithSpace(rest) {
			continue
		}
		return c.cmd, strings.TrimSpace(rest), true
	}
	return "", "", false
}

// startsWithSpace also accepts U+3000, which CJK input methods emit.
func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
