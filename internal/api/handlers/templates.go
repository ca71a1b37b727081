package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/template"
)

// TemplateRequest is the editable part of a template.
type TemplateRequest struct {
	Name      string   `json:"name"`
	Channel   string   `json:"channel"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Variables []string `json:"variables"`
}

// ListTemplates returns every template.
func ListTemplates(engine *template.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := engine.List(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(list))
	}
}

// CreateTemplate validates and stores a template.
func CreateTemplate(engine *template.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TemplateRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		tpl := &models.ReminderTemplate{
			Name:      req.Name,
			Channel:   req.Channel,
			Subject:   req.Subject,
			Body:      req.Body,
			Variables: req.Variables,
		}
		if err := engine.Create(r.Context(), tpl); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tpl)
	}
}

// GetTemplate returns one template.
func GetTemplate(engine *template.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := engine.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	}
}

// UpdateTemplate replaces a template's content. The channel cannot change.
func UpdateTemplate(engine *template.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TemplateRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		tpl, err := engine.Update(r.Context(), mux.Vars(r)["id"], req.Name, req.Subject, req.Body, req.Variables)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	}
}

// DeleteTemplate removes a custom template.
func DeleteTemplate(engine *template.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		tpl, err := engine.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if tpl.IsDefault {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Default templates cannot be deleted")
			return
		}

		if _, err := engine.Delete(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type previewRequest struct {
	Variables map[string]string `json:"variables"`
}

// PreviewTemplate renders a template with caller-supplied variables.
func PreviewTemplate(engine *template.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req previewRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		tpl, err := engine.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		content, err := template.Render(tpl, tpl.Channel, req.Variables)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, content)
	}
}
