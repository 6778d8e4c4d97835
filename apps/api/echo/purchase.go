package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/core/user"
)

type purchaseApi struct {
	users      user.Repository
	courses    course.Repository
	ledger     *purchase.Ledger
	reconciler *reconcile.Service
	validate   *validator.Validate
}

func registerPurchaseAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := purchaseApi{
		users:      deps.Users,
		courses:    deps.Courses,
		ledger:     deps.Ledger,
		reconciler: deps.Reconciler,
		validate:   deps.Validate,
	}

	pg := g.Group("/purchases", jwt)
	pg.POST("", api.create)
	pg.POST("/complete", api.complete)
	pg.GET("/:id", api.retrieve)
}

// Handlers

func (api *purchaseApi) create(ctx echo.Context) error {
	var data CreatePurchaseRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CreatePurchaseRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return err
	}

	c := ctx.Request().Context()
	crs, err := api.courses.GetCourse(c, data.CourseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return errCourseNotFound
		}
		return errors.Wrap(err, "finding course by ID")
	}
	if !crs.IsPublished {
		return errCourseNotOnSale
	}
	if usr.IsEnrolledIn(crs.ID) {
		return errAlreadyEnrolled
	}

	p, resumed, err := api.ledger.ResumeOrCreatePending(c, purchase.NewPurchase{
		UserID:   usr.ID,
		CourseID: crs.ID,
		Amount:   crs.Price,
	})
	if err != nil {
		return errors.Wrap(err, "opening purchase")
	}

	code := http.StatusCreated
	if resumed {
		code = http.StatusOK
	}
	return ctx.JSON(code, p)
}

func (api *purchaseApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	p, err := api.ledger.FindByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding purchase by ID")
	}
	if p.UserID != claims.Subject && !claims.HasRole(user.RoleAdmin) {
		return errHttpForbidden
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *purchaseApi) complete(ctx echo.Context) error {
	var data CompletePurchaseRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CompletePurchaseRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	comp, err := api.reconciler.CompleteForUser(ctx.Request().Context(), claims.Subject, data.PurchaseID)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNotOwner):
			return errHttpForbidden
		case errors.Is(err, purchase.ErrNotFound):
			return errHttpNotFound
		case comp.Kind == "":
			return errors.Wrap(err, "completing purchase")
		}
		// the outcome is described by comp; err has been logged
	}

	code := http.StatusOK
	switch comp.Kind {
	case reconcile.CompletionFailed:
		code = http.StatusUnprocessableEntity
	case reconcile.CompletionPending:
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, newCompletionResponse(comp))
}
