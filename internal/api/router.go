// Package api exposes the service facade as JSON routes on a loopback address.
// Every response body is a service.Result.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/melvsalonga/securepass/internal/passgen"
	"github.com/melvsalonga/securepass/internal/service"
	"github.com/melvsalonga/securepass/internal/vault"
)

const maxBody = 8 << 20

// Handler wires routes to the facade.
type Handler struct {
	Router chi.Router
	svc    *service.Service
	log    *zap.SugaredLogger
}

// NewHandler builds the router.
func NewHandler(svc *service.Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Handler{Router: chi.NewRouter(), svc: svc, log: logger}
	r := h.Router

	r.Use(middleware.RequestID)
	r.Use(h.withLogging)

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts", h.createAccount)
		r.Post("/account/master", h.changeMaster)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.lockState)
			r.Post("/login", h.login)
			r.Post("/logout", h.logout)
			r.Post("/lock", h.lock)
			r.Post("/unlock", h.unlock)
			r.Post("/activity", h.activity)
			r.Put("/timeout", h.setTimeout)
			r.Put("/autolock", h.setAutoLock)
			r.Get("/time-until-lock", h.timeUntilLock)
		})

		r.Route("/records", func(r chi.Router) {
			r.Get("/", h.listRecords)
			r.Post("/", h.addRecord)
			r.Post("/search", h.search)
			r.Get("/{id}", h.getRecord)
			r.Patch("/{id}", h.updateRecord)
			r.Delete("/{id}", h.deleteRecord)
			r.Get("/{id}/history", h.history)
		})

		r.Get("/categories", h.categories)
		r.Post("/categories", h.addCategory)
		r.Put("/categories/{name}", h.renameCategory)
		r.Delete("/categories/{name}", h.removeCategory)

		r.Get("/tags", h.tags)
		r.Put("/tags/{tag}", h.renameTag)
		r.Delete("/tags/{tag}", h.removeTag)

		r.Get("/stats", h.stats)
		r.Post("/sites/lookup", h.siteLookup)
		r.Post("/generate", h.generate)

		r.Get("/export", h.export)
		r.Post("/export/encrypted", h.exportEncrypted)
		r.Post("/import", h.importRecords)
		r.Post("/import/encrypted", h.importEncrypted)
	})
	return h
}

func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func statusOf(res service.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case service.CodeValidation:
		return http.StatusBadRequest
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeUserNotFound, service.CodeInvalidPassword:
		return http.StatusUnauthorized
	case service.CodeDuplicateUser:
		return http.StatusConflict
	case service.CodeLocked:
		return http.StatusLocked
	case service.CodeIntegrity, service.CodeDecryptionFailed, service.CodeVaultCorrupted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) write(w http.ResponseWriter, res service.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusOf(res))
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.Errorw("write response", "error", err)
	}
}

// decode reads a JSON body into dst; a bad body yields a validation result.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.write(w, service.Result{Error: "invalid request body: " + err.Error(), Code: service.CodeValidation})
		return false
	}
	return true
}

type credentials struct {
	Username       string `json:"username"`
	MasterPassword string `json:"masterPassword"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if h.decode(w, r, &req) {
		h.write(w, h.svc.CreateAccount(req.Username, req.MasterPassword))
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if h.decode(w, r, &req) {
		h.write(w, h.svc.Authenticate(req.Username, req.MasterPassword))
	}
}

func (h *Handler) changeMaster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.ChangeMasterPassword(req.OldPassword, req.NewPassword))
	}
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) { h.write(w, h.svc.Logout()) }
func (h *Handler) lock(w http.ResponseWriter, r *http.Request)   { h.write(w, h.svc.Lock()) }

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MasterPassword string `json:"masterPassword"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.Unlock(req.MasterPassword))
	}
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request)  { h.write(w, h.svc.RegisterActivity()) }
func (h *Handler) lockState(w http.ResponseWriter, r *http.Request) { h.write(w, h.svc.GetLockState()) }

func (h *Handler) timeUntilLock(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.svc.GetTimeUntilLock())
}

func (h *Handler) setTimeout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes float64 `json:"minutes"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.SetLockTimeout(req.Minutes))
	}
}

func (h *Handler) setAutoLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.SetAutoLock(req.Enabled))
	}
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) { h.write(w, h.svc.GetAllRecords()) }

func (h *Handler) addRecord(w http.ResponseWriter, r *http.Request) {
	var in vault.RecordInput
	if h.decode(w, r, &in) {
		h.write(w, h.svc.AddRecord(in))
	}
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.svc.GetRecord(chi.URLParam(r, "id")))
}

func (h *Handler) updateRecord(w http.ResponseWriter, r *http.Request) {
	var upd vault.RecordUpdate
	if h.decode(w, r, &upd) {
		h.write(w, h.svc.UpdateRecord(chi.URLParam(r, "id"), upd))
	}
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.svc.DeleteRecord(chi.URLParam(r, "id")))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.svc.GetPasswordHistory(chi.URLParam(r, "id")))
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query   string              `json:"query"`
		Filters vault.SearchFilters `json:"filters"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.SearchRecords(req.Query, req.Filters))
	}
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) { h.write(w, h.svc.GetCategories()) }

func (h *Handler) addCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.AddCategory(req.Name))
	}
}

func (h *Handler) renameCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewName string `json:"newName"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.RenameCategory(chi.URLParam(r, "name"), req.NewName))
	}
}

func (h *Handler) removeCategory(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.svc.RemoveCategory(chi.URLParam(r, "name")))
}

func (h *Handler) tags(w http.ResponseWriter, r *http.Request) { h.write(w, h.svc.GetTags()) }

func (h *Handler) renameTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewTag string `json:"newTag"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.RenameTag(chi.URLParam(r, "tag"), req.NewTag))
	}
}

func (h *Handler) removeTag(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.svc.RemoveTag(chi.URLParam(r, "tag")))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) { h.write(w, h.svc.GetStatistics()) }

func (h *Handler) siteLookup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.FindRecordsForURL(req.URL))
	}
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	opts := passgen.DefaultOptions()
	if r.ContentLength != 0 && !h.decode(w, r, &opts) {
		return
	}
	h.write(w, h.svc.GeneratePassword(opts))
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	h.write(w, h.svc.ExportRecords(format))
}

func (h *Handler) exportEncrypted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.ExportEncrypted(req.Password))
	}
}

func (h *Handler) importRecords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Format string `json:"format"`
		Data   string `json:"data"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.ImportRecords(req.Format, req.Data))
	}
}

func (h *Handler) importEncrypted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
		Data     string `json:"data"`
	}
	if h.decode(w, r, &req) {
		h.write(w, h.svc.ImportEncrypted(req.Password, req.Data))
	}
}

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *Handler, log *zap.SugaredLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
