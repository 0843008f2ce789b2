// Package server exposes the local CTR API and routes every other request
// through the offline shell.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"ctrshell/internal/localstore"
	"ctrshell/internal/shell"
)

// Shell is the part of shell.Service the server depends on.
type Shell interface {
	Handler() http.Handler
	Status() shell.Status
	Activate(ctx context.Context) (shell.ActivateReport, error)
}

// Handler holds the HTTP handlers.
type Handler struct {
	shell   Shell
	records *localstore.RecordStore
	archive *localstore.Archive
	drafts  *localstore.DraftStore
	urls    *localstore.ObjectURLs
	log     *slog.Logger
}

func NewHandler(sh Shell, records *localstore.RecordStore, archive *localstore.Archive, drafts *localstore.DraftStore, urls *localstore.ObjectURLs) *Handler {
	return &Handler{shell: sh, records: records, archive: archive, drafts: drafts, urls: urls}
}

// Health handles GET /__ctr/health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Lifecycle handles GET /__ctr/lifecycle
func (h *Handler) Lifecycle(c echo.Context) error {
	return c.JSON(http.StatusOK, h.shell.Status())
}

// Activate handles POST /__ctr/lifecycle/activate
func (h *Handler) Activate(c echo.Context) error {
	report, err := h.shell.Activate(c.Request().Context())
	if err != nil && !errors.Is(err, shell.ErrInvalidTransition) {
		// Activation completed; a stale generation could not be deleted.
		return c.JSON(http.StatusOK, map[string]any{
			"deleted": report.Deleted,
			"claimed": report.Claimed,
			"warning": err.Error(),
		})
	}
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"deleted": report.Deleted,
		"claimed": report.Claimed,
	})
}

type saveRecordRequest struct {
	Start    string                  `json:"start"`
	End      string                  `json:"end"`
	Roster   []localstore.CrewMember `json:"data"`
	CrewInfo localstore.CrewInfo     `json:"crewInfo"`
}

// ListRecords handles GET /__ctr/api/records. ?sort=date orders keys by date
// range instead of save order.
func (h *Handler) ListRecords(c echo.Context) error {
	keys, err := h.records.Keys(c.Request().Context())
	if err != nil {
		return h.handleError(c, err)
	}
	switch c.QueryParam("sort") {
	case "", "saved":
	case "date":
		localstore.SortKeysChronologically(keys)
	default:
		return h.handleError(c, newInvalidRequestError("unknown sort: "+c.QueryParam("sort"), nil))
	}
	return c.JSON(http.StatusOK, map[string]any{"keys": keys})
}

// SaveRecord handles PUT /__ctr/api/records
func (h *Handler) SaveRecord(c echo.Context) error {
	var req saveRecordRequest
	if err := c.Bind(&req); err != nil {
		return h.handleError(c, newInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	key, err := h.records.Save(c.Request().Context(), req.Start, req.End, req.Roster, req.CrewInfo)
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"key": key})
}

// GetRecord handles GET /__ctr/api/records/:key
func (h *Handler) GetRecord(c echo.Context) error {
	rec, err := h.records.Get(c.Request().Context(), param(c, "key"))
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// DeleteRecord handles DELETE /__ctr/api/records/:key
func (h *Handler) DeleteRecord(c echo.Context) error {
	if err := h.records.Delete(c.Request().Context(), param(c, "key")); err != nil {
		return h.handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type documentSummary struct {
	ID        string              `json:"id"`
	Metadata  localstore.Metadata `json:"metadata"`
	Timestamp time.Time           `json:"timestamp"`
	Size      int                 `json:"size"`
}

// ListDocuments handles GET /__ctr/api/documents?sort=&order=
func (h *Handler) ListDocuments(c echo.Context) error {
	field, order, err := localstore.ParseSort(c.QueryParam("sort"), c.QueryParam("order"))
	if err != nil {
		return h.handleError(c, newInvalidRequestError(err.Error(), err))
	}
	docs, err := h.archive.List(c.Request().Context())
	if err != nil {
		return h.handleError(c, err)
	}
	localstore.SortDocuments(docs, field, order)

	out := make([]documentSummary, len(docs))
	for i, d := range docs {
		out[i] = documentSummary{ID: d.ID, Metadata: d.Metadata, Timestamp: d.Timestamp, Size: len(d.Content)}
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": out})
}

// StoreDocument handles PUT /__ctr/api/documents. The body is the PDF; the
// metadata comes from the query string.
func (h *Handler) StoreDocument(c echo.Context) error {
	content, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.handleError(c, newInvalidRequestError("failed to read request body", err))
	}
	if len(content) == 0 {
		return h.handleError(c, newInvalidRequestError("empty document", nil))
	}
	meta := localstore.Metadata{
		Filename:   c.QueryParam("filename"),
		Date:       c.QueryParam("date"),
		CrewNumber: c.QueryParam("crewNumber"),
		FireName:   c.QueryParam("fireName"),
		FireNumber: c.QueryParam("fireNumber"),
	}
	id, err := h.archive.Store(c.Request().Context(), content, meta)
	if err != nil {
		return h.handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

// GetDocument handles GET /__ctr/api/documents/:id
func (h *Handler) GetDocument(c echo.Context) error {
	doc, err := h.archive.Get(c.Request().Context(), param(c, "id"))
	if err != nil {
		return h.handleError(c, err)
	}
	return blob(c, doc.Content, "application/pdf", doc.Metadata.Filename)
}

// DeleteDocument handles DELETE /__ctr/api/documents/:id
func (h *Handler) DeleteDocument(c echo.Context) error {
	if err := h.archive.Delete(c.Request().Context(), param(c, "id")); err != nil {
		return h.handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DocumentURL handles POST /__ctr/api/documents/:id/url. The returned URL
// stays valid until DELETE /__ctr/blob/:id or shutdown.
func (h *Handler) DocumentURL(c echo.Context) error {
	doc, err := h.archive.Get(c.Request().Context(), param(c, "id"))
	if err != nil {
		return h.handleError(c, err)
	}
	u := h.urls.Create(doc.Content, "application/pdf", doc.Metadata.Filename)
	return c.JSON(http.StatusOK, map[string]string{"url": u, "id": h.urls.ID(u)})
}

// GetBlob handles GET /__ctr/blob/:id
func (h *Handler) GetBlob(c echo.Context) error {
	b, ok := h.urls.Resolve(param(c, "id"))
	if !ok {
		return h.handleError(c, newNotFoundError("object URL revoked or unknown"))
	}
	return blob(c, b.Content, b.ContentType, b.Filename)
}

// RevokeBlob handles DELETE /__ctr/blob/:id
func (h *Handler) RevokeBlob(c echo.Context) error {
	if !h.urls.Revoke(param(c, "id")) {
		return h.handleError(c, newNotFoundError("object URL revoked or unknown"))
	}
	return c.NoContent(http.StatusNoContent)
}

// GetDraft handles GET /__ctr/api/drafts/:key
func (h *Handler) GetDraft(c echo.Context) error {
	key := param(c, "key")
	v, ok, err := h.drafts.GetItem(c.Request().Context(), key)
	if err != nil {
		return h.handleError(c, err)
	}
	if !ok {
		return h.handleError(c, newNotFoundError("no draft for "+key))
	}
	return c.JSON(http.StatusOK, map[string]string{"key": key, "value": v})
}

// PutDraft handles PUT /__ctr/api/drafts/:key. The body is stored verbatim.
func (h *Handler) PutDraft(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.handleError(c, newInvalidRequestError("failed to read request body", err))
	}
	if err := h.drafts.SetItem(c.Request().Context(), param(c, "key"), string(body)); err != nil {
		return h.handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteDraft handles DELETE /__ctr/api/drafts/:key
func (h *Handler) DeleteDraft(c echo.Context) error {
	if err := h.drafts.RemoveItem(c.Request().Context(), param(c, "key")); err != nil {
		return h.handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// param returns the unescaped path parameter. Record keys contain spaces.
func param(c echo.Context, name string) string {
	v := c.Param(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func blob(c echo.Context, content []byte, contentType, filename string) error {
	if filename != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition,
			mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	}
	return c.Blob(http.StatusOK, contentType, content)
}
