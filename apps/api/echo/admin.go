package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lms/core/reconcile"
)

type adminApi struct {
	sweeper *reconcile.Sweeper
}

func registerAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, sweeper *reconcile.Sweeper) {
	api := adminApi{sweeper: sweeper}

	ag := g.Group("/admin", jwt, adminMiddleware())
	ag.POST("/sweep", api.sweep)
}

// Handlers

func (api *adminApi) sweep(ctx echo.Context) error {
	report, err := api.sweeper.Run(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "running sweep")
	}
	return ctx.JSON(http.StatusOK, report)
}
