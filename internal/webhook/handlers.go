package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/kinrule/internal/engine"
	"github.com/roach88/kinrule/internal/ir"
)

// dispatchResponse is the body returned for a processed envelope.
type dispatchResponse struct {
	DispatchID string           `json:"dispatch_id"`
	Seq        int64            `json:"seq"`
	Event      string           `json:"event"`
	Record     ir.Record        `json:"record"`
	Updates    []updateResponse `json:"updates"`
}

type updateResponse struct {
	Rule     string `json:"rule"`
	Key      string `json:"key"`
	AppID    string `json:"app"`
	RecordID string `json:"id"`
	Status   int    `json:"status,omitempty"`
	Revision string `json:"revision,omitempty"`
	Error    string `json:"error,omitempty"`
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var env ir.Envelope
	if err := decodeBody(w, r, &env); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_envelope", err.Error())
		return
	}
	s.dispatch(w, r, env)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var p hostPayload
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	env, ok, err := envelopeFromWebhook(p)
	if !ok {
		s.logger.Debug("webhook ignored", "type", p.Type)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "type": p.Type})
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	s.dispatch(w, r, env)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, env ir.Envelope) {
	res, err := s.dispatcher.Submit(r.Context(), env)
	switch {
	case err == nil:
	case engine.IsInvalidInput(err):
		s.writeError(w, r, http.StatusBadRequest, "invalid_envelope", err.Error())
		return
	case engine.IsStopped(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	default:
		s.writeError(w, r, http.StatusInternalServerError, "internal_server_error", err.Error())
		return
	}

	resp := dispatchResponse{
		DispatchID: res.DispatchID,
		Seq:        res.Seq,
		Event:      res.Event.String(),
		Record:     res.Changed(),
		Updates:    make([]updateResponse, 0, len(res.Updates)),
	}
	for _, u := range res.Updates {
		ur := updateResponse{
			Rule:     u.Rule,
			Key:      u.Key,
			AppID:    u.Update.AppID,
			RecordID: u.Update.RecordID,
			Status:   u.Result.Status,
			Revision: u.Result.Revision,
		}
		if u.Result.Err != nil {
			ur.Error = u.Result.Err.Error()
		}
		resp.Updates = append(resp.Updates, ur)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody decodes a single JSON value of at most MaxBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("body exceeds %d bytes", MaxBodyBytes)
		}
		return fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return errors.New("decode body: unexpected data after JSON value")
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	requestID, _ := RequestIDFromContext(r.Context())
	writeJSON(w, status, errorBody{Error: code, Message: msg, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(body)
}
