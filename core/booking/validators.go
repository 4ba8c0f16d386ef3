package booking

import (
	"fmt"
	"net/url"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/tutorly/core"
)

var (
	durationTag  = "duration"
	durationText = fmt.Sprintf("duration must be one of %v minutes", AllowedDurations)

	halfHourTag  = "halfhour"
	halfHourText = "time must fall on the hour or the half hour"

	windowEndTag  = "windowend"
	windowEndText = "must be a time (HH:MM) or 24:00"

	httpLinkTag  = "httplink"
	httpLinkText = "must be an http or https link"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(durationTag, durationValidation)
	core.RegisterCustomTranslation(validate, translator, durationTag, durationText)

	_ = validate.RegisterValidation(halfHourTag, halfHourValidation)
	core.RegisterCustomTranslation(validate, translator, halfHourTag, halfHourText)

	_ = validate.RegisterValidation(windowEndTag, windowEndValidation)
	core.RegisterCustomTranslation(validate, translator, windowEndTag, windowEndText)

	_ = validate.RegisterValidation(httpLinkTag, httpLinkValidation)
	core.RegisterCustomTranslation(validate, translator, httpLinkTag, httpLinkText)
}

func durationValidation(fl validator.FieldLevel) bool {
	return IsAllowedDuration(int(fl.Field().Int()))
}

func halfHourValidation(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return strings.HasSuffix(s, ":00") || strings.HasSuffix(s, ":30")
}

func httpLinkValidation(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func windowEndValidation(fl validator.FieldLevel) bool {
	_, err := parseWindowEnd(fl.Field().String())
	return err == nil
}
