package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/attachment"
)

const uploadField = "file"

func (api *sessionApi) upload(ctx echo.Context) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}

	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: uploadField, Error: "a multipart file is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer func() { _ = f.Close() }()

	att, err := api.attachments.Upload(ctx.Request().Context(), caller, ctx.Param("id"), attachment.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return errors.Wrap(err, "uploading attachment")
	}
	return ctx.JSON(http.StatusCreated, att)
}

func (api *sessionApi) queryAttachments(ctx echo.Context) error {
	caller, err := getContextIdentity(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context identity")
	}
	atts, err := api.attachments.List(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying attachments")
	}
	if atts == nil {
		atts = []attachment.Attachment{}
	}
	return ctx.JSON(http.StatusOK, atts)
}
