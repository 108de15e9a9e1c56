package server

import (
	"net/http"
	"strconv"

	"github.com/onnwee/streambot/commands"
)

// systemCommandView is a system command as the API shows it.
type systemCommandView struct {
	Command     commands.Definition `json:"command"`
	Default     commands.Definition `json:"default"`
	HasOverride bool                `json:"hasOverride"`
}

// HandleSystemCommandsList returns the effective definitions of all system commands.
func (h *Handlers) HandleSystemCommandsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.All())
}

// HandleSystemCommandGet returns one system command with its default.
func (h *Handlers) HandleSystemCommandGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cmd, ok := h.Registry.Get(id)
	if !ok {
		writeError(w, r, commands.ErrUnknownCommand)
		return
	}
	def, _ := h.Registry.Default(id)
	writeJSON(w, http.StatusOK, systemCommandView{Command: cmd.Definition, Default: def, HasOverride: h.Registry.HasOverride(id)})
}

// HandleSystemCommandSave stores an edited full definition as the override.
func (h *Handlers) HandleSystemCommandSave(w http.ResponseWriter, r *http.Request) {
	var d commands.Definition
	if err := decodeJSON(w, r, &d); err != nil {
		badRequest(w, "invalid json")
		return
	}
	d.ID = r.PathValue("id")
	eff, err := h.Registry.SaveDefinition(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

// HandleSystemCommandPatch stores a sparse override; absent fields keep the default.
func (h *Handlers) HandleSystemCommandPatch(w http.ResponseWriter, r *http.Request) {
	var o commands.Override
	if err := decodeJSON(w, r, &o); err != nil {
		badRequest(w, "invalid json")
		return
	}
	o.ID = r.PathValue("id")
	eff, err := h.Registry.SaveOverride(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

// HandleSystemCommandDelete removes the override; ?deleteDefault=true forgets
// the command entirely.
func (h *Handlers) HandleSystemCommandDelete(w http.ResponseWriter, r *http.Request) {
	deleteDefault, _ := strconv.ParseBool(r.URL.Query().Get("deleteDefault"))
	if err := h.Registry.DeleteOverride(r.Context(), r.PathValue("id"), deleteDefault); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCustomCommandsList returns all custom commands.
func (h *Handlers) HandleCustomCommandsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Custom.All())
}

// HandleCustomCommandGet returns one custom command.
func (h *Handlers) HandleCustomCommandGet(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.Custom.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, commands.ErrUnknownCommand)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// HandleCustomCommandSave creates (POST) or updates (PUT /{id}) a custom command.
func (h *Handlers) HandleCustomCommandSave(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CustomCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		badRequest(w, "invalid json")
		return
	}
	status := http.StatusCreated
	if id := r.PathValue("id"); id != "" {
		cmd.ID = id
		status = http.StatusOK
	} else if cmd.ID != "" {
		status = http.StatusOK
	}
	author := adminName(r.Context())
	if author == "" {
		author = "api"
	}
	saved, err := h.Custom.Save(r.Context(), cmd, author)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, saved)
}

// HandleCustomCommandDelete removes a custom command by id.
func (h *Handlers) HandleCustomCommandDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Custom.DeleteByID(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCustomCommandDeleteByTrigger removes the custom command owning ?trigger=.
func (h *Handlers) HandleCustomCommandDeleteByTrigger(w http.ResponseWriter, r *http.Request) {
	trigger := r.URL.Query().Get("trigger")
	if trigger == "" {
		badRequest(w, "missing trigger")
		return
	}
	deleted, err := h.Custom.DeleteByTrigger(r.Context(), trigger)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// HandleTriggerTaken reports whether an active command owns ?trigger=.
func (h *Handlers) HandleTriggerTaken(w http.ResponseWriter, r *http.Request) {
	trigger := r.URL.Query().Get("trigger")
	if trigger == "" {
		badRequest(w, "missing trigger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trigger": trigger, "taken": h.Registry.TriggerIsTaken(trigger)})
}
