package httpapi

import (
	"context"
	"net/http"

	"github.com/modrinth/forgekeep/connector/minecraft"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// handleMinecraftInit implements GET /minecraft: starts the Xbox
// Live/XSTS exchange that links a Minecraft profile to the caller's
// account.
func (s *Server) handleMinecraftInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.Minecraft == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "minecraft linking is not configured")
		return
	}
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	f, err := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindMinecraftAuth, UserID: &user.ID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start minecraft link flow")
		return
	}
	http.Redirect(w, r, s.Minecraft.RedirectURL(f.ID), http.StatusFound)
}

// handleMinecraftCallback implements GET /minecraft/callback: consumes the
// flow, exchanges the authorization code for a Microsoft access token, runs
// it through the Xbox Live/XSTS/Minecraft-services chain, and persists the
// resulting profile onto the linked user.
func (s *Server) handleMinecraftCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), providerCallTimeout)
	defer cancel()

	if s.Minecraft == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "minecraft linking is not configured")
		return
	}
	q := r.URL.Query()
	f, err := s.Flows.Consume(ctx, q.Get("state"))
	if err != nil || f.Kind != flow.KindMinecraftAuth || f.UserID == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown or expired flow")
		return
	}

	msToken, err := s.Minecraft.ExchangeCode(ctx, q)
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", "could not exchange authorization code")
		return
	}
	profile, err := minecraft.Link(ctx, msToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, "provider_error", "no minecraft account for this profile")
		return
	}

	id, name := profile.ID, profile.Name
	_, err = s.Store.UpdateUser(ctx, *f.UserID, func(u storage.User) (storage.User, error) {
		u.MinecraftID = &id
		u.MinecraftUsername = &name
		return u, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not link minecraft profile")
		return
	}
	writeNoContent(w)
}
