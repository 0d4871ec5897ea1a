package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariahq/aria/internal/speech"
)

// statusForKind maps the façade taxonomy onto HTTP statuses. Callers never
// see an ambiguous 500 for a condition with a taxonomy kind.
func statusForKind(kind speech.Kind) int {
	switch kind {
	case speech.KindValidation:
		return http.StatusBadRequest
	case speech.KindUnauthorized:
		return http.StatusUnauthorized
	case speech.KindAccessDenied:
		return http.StatusForbidden
	case speech.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case speech.KindInvalidVoice:
		return http.StatusUnprocessableEntity
	case speech.KindProviderUnavailable:
		return http.StatusBadGateway
	case speech.KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) writeSpeechError(w http.ResponseWriter, req *http.Request, err error) {
	kind := speech.KindOf(err)
	status := statusForKind(kind)
	if status >= 500 {
		captureError(req, err, "speech request failed")
		r.logger.Error("speech request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	var se *speech.Error
	message := "internal error"
	if errors.As(err, &se) {
		message = se.Message
	}
	writeError(w, status, kind, message)
}

func (r *Router) handleGenerateSpeech(w http.ResponseWriter, req *http.Request) {
	user := userFromContext(req.Context())

	var body speech.Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, speech.KindValidation, "invalid JSON body")
		return
	}
	body.CallerID = user.ID
	body.Tier = user.Tier

	res, err := r.speech.GenerateSpeech(req.Context(), body)
	if err != nil {
		r.writeSpeechError(w, req, err)
		return
	}

	// Blob storage failed but generation succeeded: hand the bytes over
	// directly instead of a location.
	if res.AudioLocation == "" && len(res.Audio) > 0 {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("X-Audio-Cached", "false")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Audio)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleReplaceWelcomeAudio(w http.ResponseWriter, req *http.Request) {
	user := userFromContext(req.Context())
	personaID := req.PathValue("personaId")

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, speech.KindValidation, "invalid JSON body")
		return
	}

	res, err := r.speech.ReplaceWelcomeAudio(req.Context(), personaID, body.Text, user.ID, user.Tier)
	if err != nil {
		r.writeSpeechError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (r *Router) handleListVoices(w http.ResponseWriter, req *http.Request) {
	voices := r.speech.ListVoices(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (r *Router) handleProviderStatuses(w http.ResponseWriter, req *http.Request) {
	statuses := r.speech.ProviderStatuses(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{"providers": statuses})
}

func (r *Router) handleGetQuota(w http.ResponseWriter, req *http.Request) {
	user := userFromContext(req.Context())

	quota, err := r.speech.Quota(req.Context(), user.ID, user.Tier)
	if err != nil {
		r.writeSpeechError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, quota)
}
