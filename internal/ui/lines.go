package ui

import (
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"
)

// wireCommand is the JSON form of a Command written by LineHandler.
type wireCommand struct {
	Type   string  `json:"type"`
	Factor float64 `json:"factor,omitempty"`
	Script string  `json:"script,omitempty"`
	URL    string  `json:"url,omitempty"`
	Title  string  `json:"title,omitempty"`
	Body   string  `json:"body,omitempty"`
}

// LineHandler writes each command as one JSON line, for a front end that
// runs in another process. It cannot collect dialog answers, so dialogs are
// reported and declined.
type LineHandler struct {
	mu  sync.Mutex
	enc *json.Encoder
	log *zap.Logger
}

func NewLineHandler(w io.Writer, log *zap.Logger) *LineHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &LineHandler{enc: json.NewEncoder(w), log: log}
}

func (h *LineHandler) Handle(cmd Command) {
	var wc wireCommand
	switch c := cmd.(type) {
	case ResizeWindow:
		wc = wireCommand{Type: "resize_window", Factor: c.Factor}
	case EvalScript:
		wc = wireCommand{Type: "eval_script", Script: c.Script}
	case OpenURL:
		wc = wireCommand{Type: "open_url", URL: c.URL}
	case ShowDialog:
		wc = wireCommand{Type: "show_dialog", Title: c.Title, Body: c.Body}
		h.log.Info("dialog declined in headless mode", zap.String("title", c.Title))
		c.Reply <- false
	default:
		h.log.Warn("unknown ui command", zap.Any("command", cmd))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enc.Encode(wc); err != nil {
		h.log.Warn("failed to write ui command", zap.Error(err))
	}
}
