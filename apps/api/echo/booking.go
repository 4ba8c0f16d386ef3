package echoapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core/attachment"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/user"
)

type sessionApi struct {
	svc         *booking.Service
	attachments *attachment.Service
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *booking.Service, attachments *attachment.Service) {
	api := sessionApi{svc: svc, attachments: attachments}

	sg := g.Group("/sessions", jwt)
	sg.POST("", api.create, roleMiddleware(user.RoleStudent, user.RolePrincipal))
	sg.GET("", api.query)

	dg := sg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/accept", api.accept)
	dg.POST("/reject", api.reject)
	dg.POST("/cancel", api.cancel)
	dg.POST("/reschedule", api.reschedule)
	dg.POST("/complete", api.complete)
	dg.POST("/successful", api.successful)
	dg.POST("/tutor-no-show", api.tutorNoShow)
	dg.POST("/student-no-show", api.studentNoShow)
	dg.POST("/issues", api.reportIssue).Name = "reportIssue"
	dg.GET("/attachments", api.queryAttachments)
	dg.POST("/attachments", api.upload)

	g.GET("/tutors/:id/availability", api.availability, jwt)
	g.PUT("/availability", api.setAvailability, jwt, roleMiddleware(user.RoleTutor))
}

// sessionResponse is a session as the API shows it, with the status a reader should see.
type sessionResponse struct {
	booking.Session
	DisplayStatus booking.Status
}

func newSessionResponse(s booking.Session) sessionResponse {
	return sessionResponse{Session: s, DisplayStatus: booking.DisplayStatus(s, booking.NowFunc())}
}

func (r sessionResponse) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(r.Session)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err = json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	out["display_status"] = r.DisplayStatus
	return json.Marshal(out)
}

// Handlers

func (api *sessionApi) create(ctx echo.Context) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	var data booking.NewBooking
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBooking")
	}

	sess, err := api.svc.Create(ctx.Request().Context(), caller, data, idempotencyKey(ctx))
	if err != nil {
		return errors.Wrap(err, "booking session")
	}
	return ctx.JSON(http.StatusCreated, newSessionResponse(sess))
}

func (api *sessionApi) query(ctx echo.Context) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	filter, err := bindSessionFilter(ctx)
	if err != nil {
		return err
	}

	sessions, err := api.svc.List(ctx.Request().Context(), caller, filter)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	resp := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, newSessionResponse(s))
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	sess, err := api.svc.Get(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding session")
	}
	return ctx.JSON(http.StatusOK, newSessionResponse(sess))
}

func (api *sessionApi) accept(ctx echo.Context) error {
	var data booking.AcceptRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AcceptRequest")
	}
	return api.respond(ctx, "accepting session", func(caller user.Identity, id, key string) (booking.Session, error) {
		return api.svc.Accept(ctx.Request().Context(), caller, id, data, key)
	})
}

func (api *sessionApi) reject(ctx echo.Context) error {
	return api.respond(ctx, "rejecting session", func(caller user.Identity, id, key string) (booking.Session, error) {
		return api.svc.Reject(ctx.Request().Context(), caller, id, key)
	})
}

func (api *sessionApi) cancel(ctx echo.Context) error {
	var data booking.CancelRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CancelRequest")
	}
	return api.respond(ctx, "cancelling session", func(caller user.Identity, id, key string) (booking.Session, error) {
		return api.svc.Cancel(ctx.Request().Context(), caller, id, data, key)
	})
}

func (api *sessionApi) reschedule(ctx echo.Context) error {
	var data booking.RescheduleRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RescheduleRequest")
	}
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}

	// the response is the new pending session
	sess, err := api.svc.Reschedule(ctx.Request().Context(), caller, ctx.Param("id"), data, idempotencyKey(ctx))
	if err != nil {
		return errors.Wrap(err, "rescheduling session")
	}
	return ctx.JSON(http.StatusCreated, newSessionResponse(sess))
}

func (api *sessionApi) complete(ctx echo.Context) error {
	return api.respond(ctx, "completing session", func(caller user.Identity, id, key string) (booking.Session, error) {
		return api.svc.MarkCompleted(ctx.Request().Context(), caller, id, key)
	})
}

func (api *sessionApi) successful(ctx echo.Context) error {
	return api.respond(ctx, "marking session successful", func(caller user.Identity, id, key string) (booking.Session, error) {
		return api.svc.MarkSuccessful(ctx.Request().Context(), caller, id, key)
	})
}

func (api *sessionApi) tutorNoShow(ctx echo.Context) error {
	err := api.respond(ctx, "reporting tutor no-show", func(caller user.Identity, id, key string) (booking.Session, error) {
		return api.svc.ReportTutorNoShow(ctx.Request().Context(), caller, id, key)
	})
	if errors.Cause(err) == booking.ErrDisputeRequired {
		return echo.NewHTTPError(http.StatusConflict, echo.Map{
			"error":   booking.ErrDisputeRequired.Error(),
			"dispute": ctx.Echo().Reverse("reportIssue", ctx.Param("id")),
		})
	}
	return err
}

func (api *sessionApi) studentNoShow(ctx echo.Context) error {
	return api.respond(ctx, "reporting student no-show", func(caller user.Identity, id, key string) (booking.Session, error) {
		return api.svc.ReportStudentNoShow(ctx.Request().Context(), caller, id, key)
	})
}

func (api *sessionApi) reportIssue(ctx echo.Context) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	var data booking.IssueReport
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to IssueReport")
	}
	if err = api.svc.ReportIssue(ctx.Request().Context(), caller, ctx.Param("id"), data); err != nil {
		return errors.Wrap(err, "reporting issue")
	}
	return ctx.JSON(http.StatusAccepted, SuccessResponse{Success: "Your report was sent to our support team."})
}

func (api *sessionApi) availability(ctx echo.Context) error {
	avail, err := api.svc.GetAvailability(ctx.Request().Context(), ctx.Param("id"), ctx.QueryParam("date"))
	if err != nil {
		return errors.Wrap(err, "getting availability")
	}
	return ctx.JSON(http.StatusOK, avail)
}

func (api *sessionApi) setAvailability(ctx echo.Context) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	var data booking.SetAvailability
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetAvailability")
	}
	avail, err := api.svc.SetAvailability(ctx.Request().Context(), caller, data)
	if err != nil {
		return errors.Wrap(err, "setting availability")
	}
	return ctx.JSON(http.StatusOK, avail)
}

// respond runs a keyed lifecycle operation on the session in the path and renders the result.
func (api *sessionApi) respond(ctx echo.Context, action string, op func(caller user.Identity, id, key string) (booking.Session, error)) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	sess, err := op(caller, ctx.Param("id"), idempotencyKey(ctx))
	if err != nil {
		return errors.Wrap(err, action)
	}
	return ctx.JSON(http.StatusOK, newSessionResponse(sess))
}
