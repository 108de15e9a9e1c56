package server

import (
	"net/http"

	"github.com/onnwee/streambot/currency"
	"github.com/onnwee/streambot/giveaways"
)

// HandleCurrenciesList returns all currencies.
func (h *Handlers) HandleCurrenciesList(w http.ResponseWriter, r *http.Request) {
	if h.Currencies == nil {
		notAvailable(w, "currencies")
		return
	}
	writeJSON(w, http.StatusOK, h.Currencies.All())
}

// HandleCurrencyGet returns one currency.
func (h *Handlers) HandleCurrencyGet(w http.ResponseWriter, r *http.Request) {
	if h.Currencies == nil {
		notAvailable(w, "currencies")
		return
	}
	c, ok := h.Currencies.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, currency.ErrUnknownCurrency)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleCurrencySave creates (POST) or updates (PUT /{id}) a currency.
func (h *Handlers) HandleCurrencySave(w http.ResponseWriter, r *http.Request) {
	if h.Currencies == nil {
		notAvailable(w, "currencies")
		return
	}
	var c currency.Currency
	if err := decodeJSON(w, r, &c); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if id := r.PathValue("id"); id != "" {
		c.ID = id
	}
	saved, err := h.Currencies.Save(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleCurrencyDelete removes a currency, its command and its balances.
func (h *Handlers) HandleCurrencyDelete(w http.ResponseWriter, r *http.Request) {
	if h.Currencies == nil {
		notAvailable(w, "currencies")
		return
	}
	if err := h.Currencies.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCurrencyBalance returns one viewer's balance.
func (h *Handlers) HandleCurrencyBalance(w http.ResponseWriter, r *http.Request) {
	if h.Currencies == nil {
		notAvailable(w, "currencies")
		return
	}
	id, user := r.PathValue("id"), r.PathValue("user")
	if _, ok := h.Currencies.Get(id); !ok {
		writeError(w, r, currency.ErrUnknownCurrency)
		return
	}
	bal, err := h.Currencies.Ledger().Balance(r.Context(), id, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currency": id, "username": user, "amount": bal})
}

// HandleGiveawaysList returns all giveaways.
func (h *Handlers) HandleGiveawaysList(w http.ResponseWriter, r *http.Request) {
	if h.Giveaways == nil {
		notAvailable(w, "giveaways")
		return
	}
	writeJSON(w, http.StatusOK, h.Giveaways.All())
}

// HandleGiveawayGet returns one giveaway.
func (h *Handlers) HandleGiveawayGet(w http.ResponseWriter, r *http.Request) {
	if h.Giveaways == nil {
		notAvailable(w, "giveaways")
		return
	}
	g, ok := h.Giveaways.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, giveaways.ErrUnknownGiveaway)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleGiveawaySave creates (POST) or updates (PUT /{id}) a giveaway.
func (h *Handlers) HandleGiveawaySave(w http.ResponseWriter, r *http.Request) {
	if h.Giveaways == nil {
		notAvailable(w, "giveaways")
		return
	}
	var g giveaways.Giveaway
	if err := decodeJSON(w, r, &g); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if id := r.PathValue("id"); id != "" {
		g.ID = id
	}
	saved, err := h.Giveaways.Save(r.Context(), g)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleGiveawayDelete removes a giveaway and its command.
func (h *Handlers) HandleGiveawayDelete(w http.ResponseWriter, r *http.Request) {
	if h.Giveaways == nil {
		notAvailable(w, "giveaways")
		return
	}
	if err := h.Giveaways.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGiveawayAction runs start, open, close or draw from the dashboard.
func (h *Handlers) HandleGiveawayAction(w http.ResponseWriter, r *http.Request) {
	if h.Giveaways == nil {
		notAvailable(w, "giveaways")
		return
	}
	ctx, id := r.Context(), r.PathValue("id")
	var (
		g   giveaways.Giveaway
		err error
	)
	switch r.PathValue("action") {
	case "start":
		g, err = h.Giveaways.Start(ctx, id)
	case "open":
		g, err = h.Giveaways.Open(ctx, id)
	case "close":
		g, err = h.Giveaways.Close(ctx, id)
	case "draw":
		g, err = h.Giveaways.Draw(ctx, id)
	default:
		badRequest(w, "unknown action")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
