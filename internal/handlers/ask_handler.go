package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
)

// AskRequest is the body of POST /ask_llm
type AskRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
}

// AnswerResponse is an Answer plus the URL of its audio, if any
type AnswerResponse struct {
	*models.Answer
	AudioURL string `json:"audio_url,omitempty"`
}

// NewAnswerResponse wraps an answer for the HTTP API
func NewAnswerResponse(answer *models.Answer) AnswerResponse {
	resp := AnswerResponse{Answer: answer}
	if answer.AudioRef != "" {
		resp.AudioURL = "/audio/" + answer.AudioRef
	}
	return resp
}

// AskHandler answers text questions
type AskHandler struct {
	asker  Asker
	logger arbor.ILogger
}

// NewAskHandler creates a new ask handler
func NewAskHandler(asker Asker, logger arbor.ILogger) *AskHandler {
	return &AskHandler{
		asker:  asker,
		logger: logger,
	}
}

// AskLLMHandler handles POST /ask_llm. Pipeline failures are reported inside the answer, not as HTTP errors.
func (h *AskHandler) AskLLMHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req AskRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer := h.asker.Ask(r.Context(), models.NewTextQuery(req.Question))

	h.logger.Debug().
		Str("request_id", answer.RequestID).
		Str("state", answer.State).
		Bool("error", answer.HasError()).
		Msg("Text question answered")

	WriteJSON(w, http.StatusOK, NewAnswerResponse(answer))
}
