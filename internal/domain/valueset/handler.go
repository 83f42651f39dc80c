package valueset

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/valueset/registry/internal/platform/auth"
	"github.com/valueset/registry/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/value-sets")

	g.POST("", h.Create)
	g.GET("", h.List)

	g.POST("/bulk/import", h.BulkCreate)
	g.PUT("/bulk/update", h.BulkUpdate)
	g.PUT("/bulk/update-items", h.BulkUpdateItems)
	g.POST("/bulk/archive", h.BulkArchive)
	g.POST("/bulk/delete", h.BulkDelete)

	g.GET("/search/items", h.SearchItems)
	g.GET("/search/by-label", h.SearchByLabel)

	g.POST("/validate", h.Validate)
	g.POST("/validate/item", h.ValidateItem)

	g.GET("/export/all", h.ExportAll)
	g.POST("/import", h.Import)

	g.GET("/statistics/summary", h.Statistics)
	g.GET("/statistics/module/:module", h.ModuleStatistics)

	g.GET("/id/:id", h.GetByID)

	g.GET("/:key", h.Get)
	g.PUT("/:key", h.Update)
	g.DELETE("/:key", h.Delete)
	g.POST("/:key/archive", h.Archive)
	g.POST("/:key/restore", h.Restore)
	g.GET("/:key/export", h.Export)

	g.POST("/:key/items", h.AddItem)
	g.POST("/:key/items/bulk", h.BulkAddItems)
	g.GET("/:key/items/by-codes", h.GetItemsByCodes)
	g.PUT("/:key/items/:code", h.UpdateItem)
	g.PUT("/:key/items/:code/code", h.ReplaceItemCode)
	g.DELETE("/:key/items/:code", h.RemoveItem)
}

// httpError translates a domain error kind into an HTTP error.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrItemNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrDuplicateItemCode),
		errors.Is(err, ErrAlreadyArchived), errors.Is(err, ErrAlreadyActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidItemCount),
		errors.Is(err, ErrItemLimitExceeded), errors.Is(err, ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotImplemented):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// actor resolves the acting user for audit fields: explicit request
// field first, then the authenticated principal.
func actor(c echo.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return uid
	}
	return "system"
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.CreatedBy = actor(c, in.CreatedBy)
	vs, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, vs)
}

func (h *Handler) Get(c echo.Context) error {
	vs, err := h.svc.GetByKey(c.Request().Context(), c.Param("key"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

func (h *Handler) GetByID(c echo.Context) error {
	vs, err := h.svc.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	var f ListFilter
	if s := c.QueryParam("status"); s != "" {
		status := Status(s)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+s)
		}
		f.Status = &status
	}
	if m := c.QueryParam("module"); m != "" {
		f.Module = &m
	}
	f.Search = c.QueryParam("search")

	sort := Sort{
		Field: c.QueryParam("sortBy"),
		Desc:  strings.EqualFold(c.QueryParam("sortOrder"), "desc"),
	}

	summaries, total, err := h.svc.List(c.Request().Context(), f, pg.Skip, pg.Limit, sort)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries, total, pg.Limit, pg.Skip))
}

func (h *Handler) Update(c echo.Context) error {
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vs, err := h.svc.Update(c.Request().Context(), c.Param("key"), in, actor(c, c.QueryParam("updatedBy")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("key")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type bulkCreateRequest struct {
	ValueSets    []CreateInput `json:"valueSets"`
	SkipExisting bool          `json:"skipExisting"`
}

func (h *Handler) BulkCreate(c echo.Context) error {
	var req bulkCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for i := range req.ValueSets {
		req.ValueSets[i].CreatedBy = actor(c, req.ValueSets[i].CreatedBy)
	}
	result, err := h.svc.BulkCreate(c.Request().Context(), req.ValueSets, req.SkipExisting)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type bulkUpdateRequest struct {
	Updates []BulkSetUpdate `json:"updates"`
}

func (h *Handler) BulkUpdate(c echo.Context) error {
	var req bulkUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	outcome, err := h.svc.BulkUpdateValueSets(c.Request().Context(), req.Updates, actor(c, ""))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

type bulkItemUpdateRequest struct {
	Updates []BulkItemUpdate `json:"updates"`
}

func (h *Handler) BulkUpdateItems(c echo.Context) error {
	var req bulkItemUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for i := range req.Updates {
		req.Updates[i].UpdatedBy = actor(c, req.Updates[i].UpdatedBy)
	}
	outcome, err := h.svc.BulkUpdateItems(c.Request().Context(), req.Updates)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

type bulkArchiveRequest struct {
	Keys   []string `json:"keys"`
	Reason string   `json:"reason"`
}

func (h *Handler) BulkArchive(c echo.Context) error {
	var req bulkArchiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.BulkArchive(c.Request().Context(), req.Keys, req.Reason, actor(c, ""))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type bulkDeleteRequest struct {
	Keys []string `json:"keys"`
}

func (h *Handler) BulkDelete(c echo.Context) error {
	var req bulkDeleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	deleted, err := h.svc.BulkDelete(c.Request().Context(), req.Keys)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": deleted, "keys": req.Keys})
}

func (h *Handler) SearchItems(c echo.Context) error {
	matches, err := h.svc.SearchItems(
		c.Request().Context(),
		c.QueryParam("q"),
		c.QueryParam("valueSetKey"),
		c.QueryParam("language"),
	)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": matches,
		"count":   len(matches),
	})
}

func (h *Handler) SearchByLabel(c echo.Context) error {
	var status *Status
	if s := c.QueryParam("status"); s != "" {
		st := Status(s)
		status = &st
	}
	sets, err := h.svc.SearchByLabel(
		c.Request().Context(),
		c.QueryParam("label"),
		c.QueryParam("language"),
		status,
	)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": sets,
		"count":   len(sets),
	})
}

func (h *Handler) Validate(c echo.Context) error {
	var in ValidationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	result, err := h.svc.Validate(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ValidateItem(c echo.Context) error {
	var item Item
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.ValidateItem(item))
}

func (h *Handler) Export(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}
	result, err := h.svc.Export(c.Request().Context(), c.Param("key"), format)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+c.Param("key")+`.`+result.Format+`"`)
	return c.Blob(http.StatusOK, result.ContentType, result.Data)
}

func (h *Handler) ExportAll(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}
	var status *Status
	if s := c.QueryParam("status"); s != "" {
		st := Status(s)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+s)
		}
		status = &st
	}
	result, err := h.svc.ExportAll(c.Request().Context(), format, status)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="value-sets.`+result.Format+`"`)
	return c.Blob(http.StatusOK, result.ContentType, result.Data)
}

func (h *Handler) Import(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	vs, err := h.svc.Import(c.Request().Context(), data, format, actor(c, ""))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, vs)
}

func (h *Handler) Statistics(c echo.Context) error {
	stats, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) ModuleStatistics(c echo.Context) error {
	stats, err := h.svc.ModuleStatistics(c.Request().Context(), c.Param("module"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

type statusChangeRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

func (h *Handler) Archive(c echo.Context) error {
	var req statusChangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	change, err := h.svc.Archive(c.Request().Context(), c.Param("key"), req.Reason, actor(c, req.By))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, change)
}

func (h *Handler) Restore(c echo.Context) error {
	var req statusChangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	change, err := h.svc.Restore(c.Request().Context(), c.Param("key"), req.Reason, actor(c, req.By))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, change)
}

type addItemRequest struct {
	Item
	UpdatedBy string `json:"updatedBy"`
}

func (h *Handler) AddItem(c echo.Context) error {
	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vs, err := h.svc.AddItem(c.Request().Context(), c.Param("key"), req.Item, actor(c, req.UpdatedBy))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

type bulkAddItemsRequest struct {
	Items     []Item `json:"items"`
	UpdatedBy string `json:"updatedBy"`
}

func (h *Handler) BulkAddItems(c echo.Context) error {
	var req bulkAddItemsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vs, err := h.svc.BulkAddItems(c.Request().Context(), c.Param("key"), req.Items, actor(c, req.UpdatedBy))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

type updateItemRequest struct {
	ItemUpdate
	UpdatedBy string `json:"updatedBy"`
}

func (h *Handler) UpdateItem(c echo.Context) error {
	var req updateItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	vs, err := h.svc.UpdateItem(c.Request().Context(), c.Param("key"), c.Param("code"), req.ItemUpdate, actor(c, req.UpdatedBy))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

type replaceCodeRequest struct {
	NewCode   string `json:"newCode"`
	Labels    Labels `json:"labels,omitempty"`
	UpdatedBy string `json:"updatedBy"`
}

func (h *Handler) ReplaceItemCode(c echo.Context) error {
	var req replaceCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.NewCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "newCode is required")
	}
	vs, err := h.svc.ReplaceItemCode(c.Request().Context(), c.Param("key"), c.Param("code"), req.NewCode, req.Labels, actor(c, req.UpdatedBy))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

func (h *Handler) RemoveItem(c echo.Context) error {
	vs, err := h.svc.RemoveItem(c.Request().Context(), c.Param("key"), c.Param("code"), actor(c, c.QueryParam("updatedBy")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, vs)
}

func (h *Handler) GetItemsByCodes(c echo.Context) error {
	raw := c.QueryParam("codes")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "codes query parameter is required")
	}
	codes := strings.Split(raw, ",")
	for i := range codes {
		codes[i] = strings.TrimSpace(codes[i])
	}
	items, err := h.svc.GetItemsByCodes(c.Request().Context(), c.Param("key"), codes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"key":   c.Param("key"),
		"items": items,
		"count": len(items),
	})
}
