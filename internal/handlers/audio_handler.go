package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
)

// Multipart field names accepted for the uploaded question
var audioFields = []string{"file", "audio_file"}

// AudioHandler answers spoken questions and serves generated audio
type AudioHandler struct {
	asker    Asker
	store    AudioLocator
	maxBytes int64
	logger   arbor.ILogger
}

// NewAudioHandler creates a new audio handler. maxBytes bounds the upload size.
func NewAudioHandler(asker Asker, store AudioLocator, maxBytes int, logger arbor.ILogger) *AudioHandler {
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}
	return &AudioHandler{
		asker:    asker,
		store:    store,
		maxBytes: int64(maxBytes),
		logger:   logger,
	}
}

// AskAudioHandler handles POST /ask_audio with a multipart audio upload
func (h *AudioHandler) AskAudioHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	// Leave room for multipart framing around the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+64*1024)

	audio, filename, err := h.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("audio exceeds %d bytes", h.maxBytes))
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer := h.asker.Ask(r.Context(), models.NewAudioQuery(audio, filename))

	h.logger.Debug().
		Str("request_id", answer.RequestID).
		Str("state", answer.State).
		Str("filename", filename).
		Int("bytes", len(audio)).
		Str("audio_ref", answer.AudioRef).
		Msg("Audio question answered")

	WriteJSON(w, http.StatusOK, NewAnswerResponse(answer))
}

func (h *AudioHandler) readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("invalid multipart form: %v", err)
	}

	for _, field := range audioFields {
		file, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read upload: %w", err)
		}
		return data, header.Filename, nil
	}

	return nil, "", fmt.Errorf("multipart field %q is required", audioFields[0])
}

// ServeAudioHandler handles GET /audio/{file}
func (h *AudioHandler) ServeAudioHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/audio/")
	path, err := h.store.Path(ref)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Audio not found")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}
