package echoapi

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/user"
)

var (
	orderingParam      = "ordering"
	idempotencyKeyHdr  = "Idempotency-Key"
	errInvalidDateTime = "must be a date (YYYY-MM-DD) or an RFC 3339 timestamp"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindUserFilter reads the user list filters from the query string.
func bindUserFilter(ctx echo.Context) *user.QueryFilter {
	filter := &user.QueryFilter{
		Search: ctx.QueryParam("search"),
		Roles:  ctx.QueryParams()["role"],
	}
	switch strings.ToLower(ctx.QueryParam("is_active")) {
	case "true", "1":
		active := true
		filter.IsActive = &active
	case "false", "0":
		active := false
		filter.IsActive = &active
	}
	filter.Clean()
	return filter
}

// bindSessionFilter reads the session list filters from the query string.
func bindSessionFilter(ctx echo.Context) (booking.QueryFilter, error) {
	filter := booking.QueryFilter{
		TutorID:  core.CleanString(ctx.QueryParam("tutor_id"), true /* lower */),
		FundedBy: core.CleanString(ctx.QueryParam("funded_by"), true /* lower */),
	}
	for _, status := range ctx.QueryParams()["status"] {
		for _, s := range strings.Split(status, ",") {
			if s = core.CleanString(s, true /* lower */); s != "" {
				filter.Statuses = append(filter.Statuses, booking.Status(s))
			}
		}
	}

	var flds []core.FieldError
	for param, dst := range map[string]*time.Time{"start_from": &filter.StartFrom, "start_to": &filter.StartTo} {
		val := core.CleanString(ctx.QueryParam(param))
		if val == "" {
			continue
		}
		t, err := parseDateTime(val)
		if err != nil {
			flds = append(flds, core.FieldError{Field: param, Error: errInvalidDateTime})
			continue
		}
		*dst = t
	}
	if len(flds) > 0 {
		return booking.QueryFilter{}, core.NewValidationError(nil, flds...)
	}
	return filter, nil
}

func parseDateTime(val string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(core.DateLayout, val)
	return t.UTC(), err
}

func idempotencyKey(ctx echo.Context) string {
	return strings.TrimSpace(ctx.Request().Header.Get(idempotencyKeyHdr))
}
