package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"kanban/domain"
)

func (h *handlers) createTask(c echo.Context) error {
	user := h.user(c)
	start := time.Now()
	_, err := h.deps.Tasks.CreateTask(c.Request().Context(), user, c.Param("boardId"),
		c.FormValue("description"), c.FormValue("type"))
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *handlers) updateTask(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil {
		return writeFailure(c, http.StatusBadRequest, "Invalid form")
	}
	var upd domain.TaskUpdate
	if vals, ok := form["description"]; ok && len(vals) > 0 {
		desc := vals[0]
		upd.Description = &desc
	}
	if typ := form.Get("type"); typ != "" {
		st := domain.Status(typ)
		upd.Status = &st
	}

	user := h.user(c)
	start := time.Now()
	err = h.deps.Tasks.UpdateTask(c.Request().Context(), user, c.Param("boardId"), form.Get("taskId"), upd)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *handlers) deleteTask(c echo.Context) error {
	user := h.user(c)
	start := time.Now()
	err := h.deps.Tasks.DeleteTask(c.Request().Context(), user, c.Param("boardId"), c.FormValue("taskId"))
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}
