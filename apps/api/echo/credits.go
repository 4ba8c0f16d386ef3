package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/core/notify"
)

type creditApi struct {
	svc        *ledger.Service
	dispatcher *notify.Dispatcher
}

func registerCreditAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *ledger.Service, dispatcher *notify.Dispatcher) {
	api := creditApi{svc: svc, dispatcher: dispatcher}

	cg := g.Group("/credits", jwt)
	cg.GET("/balance", api.balance)
	cg.GET("/entries", api.entries)

	// payments are confirmed by the gateway integration, which authenticates as an admin
	ag := cg.Group("", adminMiddleware())
	ag.POST("/purchases", api.purchase)
	ag.POST("/adjustments", api.adjust)
	ag.GET("/verify", api.verify)
	ag.GET("/accounts/:owner_id", api.ownerBalance)
	ag.GET("/accounts/:owner_id/entries", api.ownerEntries)
}

// Handlers

func (api *creditApi) balance(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	return api.renderBalance(ctx, claims.Subject)
}

func (api *creditApi) ownerBalance(ctx echo.Context) error {
	return api.renderBalance(ctx, ctx.Param("owner_id"))
}

func (api *creditApi) renderBalance(ctx echo.Context, ownerID string) error {
	acc, err := api.svc.Balance(ctx.Request().Context(), ownerID)
	if err != nil {
		return errors.Wrap(err, "getting balance")
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *creditApi) entries(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	return api.renderEntries(ctx, claims.Subject)
}

func (api *creditApi) ownerEntries(ctx echo.Context) error {
	return api.renderEntries(ctx, ctx.Param("owner_id"))
}

func (api *creditApi) renderEntries(ctx echo.Context, ownerID string) error {
	entries, err := api.svc.Entries(ctx.Request().Context(), ownerID)
	if err != nil {
		return errors.Wrap(err, "querying entries")
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *creditApi) purchase(ctx echo.Context) error {
	var data ledger.Purchase
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Purchase")
	}

	entry, replayed, err := api.svc.Purchase(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "crediting purchase")
	}
	if replayed {
		return ctx.JSON(http.StatusOK, entry)
	}
	api.dispatcher.CreditsPurchased(ctx.Request().Context(), entry)
	return ctx.JSON(http.StatusCreated, entry)
}

func (api *creditApi) adjust(ctx echo.Context) error {
	var data ledger.Adjustment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Adjustment")
	}
	entry, err := api.svc.Adjust(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "adjusting balance")
	}
	return ctx.JSON(http.StatusCreated, entry)
}

func (api *creditApi) verify(ctx echo.Context) error {
	found, err := api.svc.Verify(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "verifying ledger")
	}
	if found == nil {
		found = []ledger.Discrepancy{}
	}
	return ctx.JSON(http.StatusOK, VerifyResponse{OK: len(found) == 0, Discrepancies: found})
}

type VerifyResponse struct {
	OK            bool                 `json:"ok"`
	Discrepancies []ledger.Discrepancy `json:"discrepancies"`
}
