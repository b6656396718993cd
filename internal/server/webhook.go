package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/domain"
)

const maxWebhookBody = 64 * 1024

// handlePaymentWebhook receives signed payment-processor events and
// credits the named principal exactly once per event id. A replayed
// delivery is acknowledged without a second credit, so the processor
// stops retrying.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.cfg.WebhookSecret)
	if err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		s.respondError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	var pe domain.PaymentEvent
	if err := json.Unmarshal(event.Data.Raw, &pe); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed event payload")
		return
	}
	pe.EventID = event.ID

	if err := s.validatePaymentEvent(pe); err != nil {
		s.log.Warn("webhook event rejected",
			zap.String("event_id", pe.EventID),
			zap.Error(err),
		)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.ApplyPayment(r.Context(), pe); err != nil {
		if eris.Is(err, domain.ErrPrincipalNotFound) {
			s.respondError(w, http.StatusNotFound, "unknown principal")
			return
		}
		s.log.Error("payment application failed", zap.String("event_id", pe.EventID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "payment application failed")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordCounter("credits_credited_total", float64(pe.Credits), nil)
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) validatePaymentEvent(pe domain.PaymentEvent) error {
	if pe.EventID == "" {
		return eris.New("missing event id")
	}
	if pe.Kind != domain.PrincipalAccount && pe.Kind != domain.PrincipalGuest {
		return eris.Errorf("unknown principal kind %q", pe.Kind)
	}
	if pe.Ref == "" {
		return eris.New("missing principal reference")
	}
	for _, tier := range s.cfg.TopUpTiers {
		if pe.Credits == tier {
			return nil
		}
	}
	return eris.Errorf("credit amount %d is not a purchasable tier", pe.Credits)
}
