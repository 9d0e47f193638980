package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/jamflow/internal/prompt"
	"github.com/sakif/jamflow/internal/service"
	"github.com/sakif/jamflow/internal/stream"
)

// Metadata headers sent before the streamed body. The CORS middleware exposes
// them to browser clients.
const (
	HeaderResponseType = "X-Response-Type"
	HeaderConfidence   = "X-Confidence"
	HeaderComplexity   = "X-Complexity"
	HeaderTempo        = "X-Tempo"
	HeaderInstruments  = "X-Instruments"
)

// streamSlack is added to the expected relay duration when the write deadline
// is moved for a streamed reply.
const streamSlack = 30 * time.Second

// ExposedHeaders lists every custom response header of the API.
var ExposedHeaders = []string{
	HeaderResponseType, HeaderConfidence, HeaderComplexity, HeaderTempo, HeaderInstruments,
}

// GenerateHandler answers a chat message with a streamed assistant reply.
type GenerateHandler struct {
	assistant *service.AssistantService
	relay     *stream.Relay
	logger    *slog.Logger
}

func NewGenerateHandler(assistant *service.AssistantService, relay *stream.Relay, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{assistant: assistant, relay: relay, logger: logger}
}

type generateRequest struct {
	Message string        `json:"message"`
	History []prompt.Turn `json:"history"`
}

// HandleGenerate runs the assistant and relays its answer.
//
// HTTP: POST /api/generate
// REQUEST BODY: {"message": "make a lofi beat", "history": [{"role": "user", "content": "..."}]}
//
// STREAMING:
// The model call completes first; the text is then written one character at a
// time as text/plain, flushed after each character. Metadata travels in
// X-Response-Type, X-Confidence, X-Complexity, X-Tempo and X-Instruments.
// ?stream=false returns the whole reply as JSON instead.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := h.assistant.Reply(r.Context(), req.Message, req.History)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hdr := w.Header()
	hdr.Set(HeaderResponseType, string(reply.Intent))
	hdr.Set(HeaderConfidence, strconv.FormatFloat(reply.Confidence, 'f', 2, 64))
	hdr.Set(HeaderComplexity, string(reply.Complexity))
	if reply.Tempo > 0 {
		hdr.Set(HeaderTempo, strconv.Itoa(reply.Tempo))
	}
	hdr.Set(HeaderInstruments, strings.Join(reply.Instruments, ","))

	if r.URL.Query().Get("stream") == "false" {
		writeJSON(w, http.StatusOK, reply)
		return
	}

	hdr.Set("Content-Type", "text/plain; charset=utf-8")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no") // keep nginx from buffering the stream
	w.WriteHeader(http.StatusOK)

	// The server WriteTimeout also covered the model call; give the relay the
	// time it needs for this text.
	deadline := time.Now().Add(time.Duration(utf8.RuneCountInString(reply.Text))*h.relay.Interval + streamSlack)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("could not extend write deadline", slog.String("error", err.Error()))
	}

	n, err := h.relay.Stream(r.Context(), w, reply.Text)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug // client went away
		}
		h.logger.Log(r.Context(), level, "reply stream stopped early",
			slog.Int("sent", n),
			slog.Int("total", len(reply.Text)),
			slog.String("error", err.Error()),
		)
	}
}
