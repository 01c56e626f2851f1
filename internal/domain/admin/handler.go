package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hospital/booking/internal/domain/scheduling"
	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Directory lookups are open to every signed-in role
	readGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	readGroup.GET("/departments", h.ListDepartments)
	readGroup.GET("/departments/:id", h.GetDepartment)
	readGroup.GET("/doctors", h.ListDoctors)
	readGroup.GET("/doctors/:doctor_id", h.GetDoctor)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.PUT("/departments/:id/price", h.SetDepartmentPrice)
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (h *Handler) ListDepartments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDepartments(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []*Department{}
	}
	return c.JSON(http.StatusOK, pg.Linked(c, items, total))
}

func (h *Handler) GetDepartment(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	d, err := h.svc.GetDepartment(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	var departmentID int64
	if v := c.QueryParam("department_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return fail(c, scheduling.Validation("invalid department_id"))
		}
		departmentID = id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), departmentID, pg.Limit, pg.Offset)
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []*Doctor{}
	}
	return c.JSON(http.StatusOK, pg.Linked(c, items, total))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := pathID(c, "doctor_id")
	if err != nil {
		return fail(c, err)
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SetDepartmentPrice(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var body priceRequest
	if err := c.Bind(&body); err != nil {
		return fail(c, scheduling.Validation("malformed request body"))
	}
	d, err := h.svc.SetDepartmentPrice(c.Request().Context(), id, body.Price)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func fail(c echo.Context, err error) error {
	if k := scheduling.KindOf(err); k != "" {
		return c.JSON(scheduling.HTTPStatus(k), map[string]string{"code": string(k), "message": err.Error()})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	c.Logger().Errorf("directory request failed: %v", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, scheduling.Validation("invalid %s", name)
	}
	return id, nil
}
