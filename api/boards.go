package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"kanban/domain"
)

func (h *handlers) loadDashboard(c echo.Context, user *domain.User) error {
	start := time.Now()
	boards, err := h.deps.Boards.ListBoards(c.Request().Context(), user)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		// the page still renders; the failure is only logged
		metricsFrom(c).SetErrorStage(domain.KindOf(err).String())
		h.log.WithError(err).Error("list boards failed")
		boards = []domain.Board{}
	}
	metricsFrom(c).SetItems(len(boards))
	return c.JSON(http.StatusOK, boardsResponse{Boards: boards})
}

func (h *handlers) createBoard(c echo.Context) error {
	user := h.user(c)
	start := time.Now()
	board, err := h.deps.Boards.CreateBoard(c.Request().Context(), user, c.FormValue("name"))
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Redirect(http.StatusSeeOther, "/dashboard/"+board.ID)
}

func (h *handlers) loadBoard(c echo.Context, user *domain.User) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardId")

	start := time.Now()
	board, err := h.deps.Boards.GetBoard(ctx, user, boardID)
	if err != nil {
		metricsFrom(c).ObserveStore(time.Since(start))
		return writeError(c, h.log, err)
	}
	tasks, err := h.deps.Tasks.ListTasks(ctx, user, boardID)
	metricsFrom(c).ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, h.log, err)
	}
	metricsFrom(c).SetItems(len(tasks))
	return c.JSON(http.StatusOK, boardResponse{Board: board, Tasks: tasks})
}
