package server

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/domain"
)

type contextKey int

const principalKey contextKey = iota

// principalFrom returns the resolved principal for the request.
func principalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}

// withPrincipal resolves who the request bills against. An X-User-ID
// header names a registered account, created with the starter grant on
// first sight. An X-Guest-Token header names an existing guest
// credential. With neither header, or an unrecognized token, a fresh
// guest is minted and its token returned in the X-Guest-Token response
// header.
func (s *Server) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p domain.Principal

		switch {
		case r.Header.Get("X-User-ID") != "":
			account, err := s.ledger.EnsureAccount(r.Context(), r.Header.Get("X-User-ID"))
			if err != nil {
				s.log.Error("account resolution failed", zap.Error(err))
				s.respondError(w, http.StatusInternalServerError, "account resolution failed")
				return
			}
			p = domain.AccountPrincipal(account.ID)

		case r.Header.Get("X-Guest-Token") != "":
			token := r.Header.Get("X-Guest-Token")
			guest, err := s.store.GetGuest(r.Context(), token)
			switch {
			case err == nil:
				p = domain.GuestPrincipal(guest.Token)
			case eris.Is(err, domain.ErrPrincipalNotFound):
				minted, err := s.ledger.MintGuest(r.Context())
				if err != nil {
					s.respondError(w, http.StatusInternalServerError, "guest minting failed")
					return
				}
				w.Header().Set("X-Guest-Token", minted.Token)
				p = domain.GuestPrincipal(minted.Token)
			default:
				s.log.Error("guest resolution failed", zap.Error(err))
				s.respondError(w, http.StatusInternalServerError, "guest resolution failed")
				return
			}

		default:
			minted, err := s.ledger.MintGuest(r.Context())
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, "guest minting failed")
				return
			}
			w.Header().Set("X-Guest-Token", minted.Token)
			p = domain.GuestPrincipal(minted.Token)
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}
