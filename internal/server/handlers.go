package server

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/arena"
	"github.com/iliarafa/llmarena/internal/domain"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// handleCompare accepts a comparison request and returns the full
// outcome. Validation failures are 400, an uncovered quote is 402 with
// the figures a top-up prompt needs.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "no principal")
		return
	}

	var req domain.ComparisonRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	outcome, err := s.comparer.Compare(r.Context(), p, req)
	if err != nil {
		if ice, ok := domain.IsInsufficientCredits(err); ok {
			s.respondJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":             "insufficient credits",
				"required_credits":  ice.Required,
				"available_credits": ice.Available,
			})
			return
		}
		if eris.Is(err, arena.ErrInvalidRequest) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if eris.Is(err, domain.ErrPrincipalNotFound) {
			s.respondError(w, http.StatusUnauthorized, "unknown principal")
			return
		}
		s.log.Error("comparison failed", zap.String("principal", p.String()), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "comparison failed")
		return
	}

	s.respondJSON(w, http.StatusOK, outcome)
}

// handleBalance returns the caller's current balance and identity kind.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "no principal")
		return
	}

	balance, err := s.ledger.Balance(r.Context(), p)
	if err != nil {
		if eris.Is(err, domain.ErrPrincipalNotFound) {
			s.respondError(w, http.StatusUnauthorized, "unknown principal")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"kind":    p.Kind,
		"balance": balance,
	})
}

type linkRequest struct {
	GuestToken string `json:"guest_token"`
}

// handleLink absorbs a guest credential into the calling account. The
// caller must authenticate as an account; a token can be linked once.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "no principal")
		return
	}
	if p.IsGuest() {
		s.respondError(w, http.StatusForbidden, "linking requires a registered account")
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GuestToken == "" {
		s.respondError(w, http.StatusBadRequest, "guest_token required")
		return
	}

	// Snapshot the guest balance first so the response can report what
	// moved; the transfer itself is a single store transaction.
	guest, err := s.store.GetGuest(r.Context(), req.GuestToken)
	if err != nil {
		if eris.Is(err, domain.ErrPrincipalNotFound) {
			s.respondError(w, http.StatusNotFound, "unknown guest token")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "guest lookup failed")
		return
	}
	if guest.Linked() {
		s.respondError(w, http.StatusConflict, "guest token already linked")
		return
	}

	if err := s.ledger.LinkGuest(r.Context(), req.GuestToken, p.Ref); err != nil {
		switch {
		case eris.Is(err, domain.ErrGuestLinked):
			s.respondError(w, http.StatusConflict, "guest token already linked")
		case eris.Is(err, domain.ErrPrincipalNotFound):
			s.respondError(w, http.StatusNotFound, "unknown guest token")
		default:
			s.log.Error("link failed", zap.String("principal", p.String()), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "link failed")
		}
		return
	}

	balance, err := s.ledger.Balance(r.Context(), p)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"credits_transferred": guest.Balance,
		"balance":             balance,
	})
}
