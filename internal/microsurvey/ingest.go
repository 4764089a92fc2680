package microsurvey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/nacl/secretbox"
)

// formsSubmission is the webhook body posted by the Google Forms
// integration, per spec §4.8 "Google Forms response ingestion": an
// encrypted identifier plus the raw answer text.
type formsSubmission struct {
	EncryptedID string `json:"encrypted_id"`
	Answer      string `json:"answer"`
}

// decryptedIdentifier is what the encrypted identifier decodes to.
type decryptedIdentifier struct {
	QuestionID int    `json:"question_id"`
	UserID     int64  `json:"user_id"`
	SurveyID   string `json:"survey_id"`
}

const nonceSize = 24

// decryptIdentifier opens the nacl secretbox-sealed identifier: a
// base64 blob of [24-byte nonce][ciphertext].
func decryptIdentifier(key *[32]byte, encoded string) (*decryptedIdentifier, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encrypted identifier: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("encrypted identifier too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("decrypt identifier: authentication failed")
	}

	var id decryptedIdentifier
	if err := json.Unmarshal(plain, &id); err != nil {
		return nil, fmt.Errorf("decode decrypted identifier: %w", err)
	}
	return &id, nil
}

// FormsWebhookHandler builds the narrow HTTP surface this core exposes —
// the Google Forms response webhook — using gorilla/mux, per the
// DOMAIN STACK note in SPEC_FULL.md.
func (o *Orchestrator) FormsWebhookHandler(payloadKey *[32]byte) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhooks/microsurvey/forms", o.handleFormsSubmission(payloadKey)).Methods(http.MethodPost)
	return r
}

func (o *Orchestrator) handleFormsSubmission(payloadKey *[32]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub formsSubmission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}

		id, err := decryptIdentifier(payloadKey, sub.EncryptedID)
		if err != nil {
			o.log.Warn("microsurvey: forms webhook identifier decrypt failed", "err", err)
			http.Error(w, "invalid identifier", http.StatusBadRequest)
			return
		}

		_, err = o.Dispatch(r.Context(), id.UserID, AnswerEvent{Question: id.QuestionID, Answer: sub.Answer})
		if err != nil {
			if IsStaleAnswer(err) {
				o.log.Debug("microsurvey: stale_answer", "user_id", id.UserID, "question_id", id.QuestionID)
				w.WriteHeader(http.StatusOK)
				return
			}
			o.log.Warn("microsurvey: forms answer dispatch failed", "user_id", id.UserID, "question_id", id.QuestionID, "err", err)
			http.Error(w, "dispatch failed", http.StatusUnprocessableEntity)
			return
		}

		if err := o.logAnswer(r.Context(), id, sub.Answer); err != nil {
			o.log.Warn("microsurvey: question log insert failed", "user_id", id.UserID, "err", err)
		}
		w.WriteHeader(http.StatusOK)
	}
}
