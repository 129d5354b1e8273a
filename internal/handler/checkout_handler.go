package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/service"
	"github.com/apexcoding/apexcoding/internal/storage"
)

// multipartMemory is how much of a check-in form is held in memory before
// file parts spill to disk.
const multipartMemory = 32 << 20

// CheckoutHandler serves checkout, check-in and force release.
type CheckoutHandler struct {
	checkoutService *service.CheckoutService
	logger          zerolog.Logger
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(checkoutService *service.CheckoutService, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		logger:          logger.With().Str("handler", "checkout").Logger(),
	}
}

// RegisterRoutes registers checkout routes.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/projects/{id}/checkout", h.Checkout)
	r.Post("/projects/{id}/checkin", h.Checkin)
	r.Post("/projects/{id}/release", h.Release)
}

type checkinResponse struct {
	Project *domain.Project `json:"project"`
	Commit  *domain.Commit  `json:"commit"`
}

// Checkout handles POST /projects/{id}/checkout.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	project, err := h.checkoutService.Checkout(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Project checked out", Data: project})
}

// Checkin handles POST /projects/{id}/checkin. The body is a multipart form
// with message, version and any number of files parts. Parts named files[]
// are accepted too.
func (h *CheckoutHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, domain.Validationf("upload exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, r, domain.Validationf("check-in must be a multipart form: %v", err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to remove multipart temp files")
		}
	}()

	var parts []*multipart.FileHeader
	for _, field := range []string{"files", "files[]"} {
		parts = append(parts, r.MultipartForm.File[field]...)
	}
	uploads, closeAll, err := openUploads(parts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer closeAll()

	out, err := h.checkoutService.Checkin(r.Context(), caller, service.CheckinInput{
		ProjectID: urlParam(r, "id"),
		Message:   r.FormValue("message"),
		Version:   r.FormValue("version"),
		Files:     uploads,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Project checked in",
		Data:    checkinResponse{Project: out.Project, Commit: out.Commit},
	})
}

// Release handles POST /projects/{id}/release.
func (h *CheckoutHandler) Release(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	project, err := h.checkoutService.ForceRelease(r.Context(), caller, urlParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Checkout released", Data: project})
}

// openUploads opens every file part. The returned func closes them all.
func openUploads(headers []*multipart.FileHeader) ([]storage.Upload, func(), error) {
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	uploads := make([]storage.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, domain.Validationf("cannot read file %q", fh.Filename)
		}
		files = append(files, f)
		uploads = append(uploads, storage.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Content:     f,
		})
	}
	return uploads, closeAll, nil
}
