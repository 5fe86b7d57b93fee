package chain

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/integrity"
	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts GET and POST /blockchain/:action.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/blockchain/:action", h.Read)
	api.POST("/blockchain/:action", h.Write)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, integrity.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, integrity.ErrAnchorInFlight),
		errors.Is(err, integrity.ErrRecordChanged):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, integrity.ErrLedgerWriteFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func invalidAction() error {
	return echo.NewHTTPError(http.StatusBadRequest, "Invalid action")
}

func (h *Handler) Read(c echo.Context) error {
	switch c.Param("action") {
	case "status":
		return h.status(c)
	case "contracts":
		return h.listContracts(c)
	case "verify":
		return h.verify(c)
	default:
		return invalidAction()
	}
}

func (h *Handler) Write(c echo.Context) error {
	var next echo.HandlerFunc
	switch c.Param("action") {
	case "store_hash":
		next = auth.RequireRole(auth.RoleDoctor)(h.storeHash)
	case "grant_access":
		next = h.grantAccess
	case "revoke_access":
		next = h.revokeAccess
	case "create_item":
		next = auth.RequireRole(auth.RoleAdmin)(h.createItem)
	default:
		return invalidAction()
	}
	return next(c)
}

func (h *Handler) status(c echo.Context) error {
	st, err := h.svc.Status(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) listContracts(c echo.Context) error {
	contracts, err := h.svc.Contracts(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"contracts": contracts})
}

func (h *Handler) verify(c echo.Context) error {
	q := c.QueryParams()
	if !q.Has("hash_value") {
		return echo.NewHTTPError(http.StatusBadRequest, "hash_value is required")
	}
	res, err := h.svc.Verify(c.Request().Context(), q.Get("record_id"), q.Get("hash_value"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) storeHash(c echo.Context) error {
	var req StoreHashRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.StoreHash(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":    "Data hash stored successfully",
		"record_id":  res.RecordID,
		"tx_hash":    res.TxRef,
		"hash_value": res.Fingerprint,
	})
}

func (h *Handler) grantAccess(c echo.Context) error {
	var req GrantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	g, err := h.svc.GrantAccess(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":     "Access granted successfully",
		"tx_hash":     g.BlockchainTxHash,
		"grant_id":    g.GrantID,
		"expire_time": g.ExpireTime,
	})
}

func (h *Handler) revokeAccess(c echo.Context) error {
	var req RevokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.RevokeAccess(c.Request().Context(), req.GrantID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "Access revoked successfully",
		"tx_hash":  g.BlockchainTxHash,
		"grant_id": g.GrantID,
	})
}

func (h *Handler) createItem(c echo.Context) error {
	var req ItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.svc.CreateItem(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Traceable item created successfully",
		"tx_hash": tx,
		"item_id": req.ItemID,
	})
}
