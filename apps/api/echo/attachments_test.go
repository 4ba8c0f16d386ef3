package echoapi

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tutorly/core/attachment"
	"github.com/trezcool/tutorly/testutil"
)

func newUploadRequest(t *testing.T, path, token, field, filename string, content []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req, rec := newAuthRequest(http.MethodPost, path, token, body.Bytes())
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, rec
}

func TestSessionAPI_attachments(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 2)
	s := app.book(t, "2030-06-03", "14:00", 30)
	path := "/v1/sessions/" + s.ID + "/attachments"
	samToken, tinaToken := getToken(t, app.srv, app.sam), getToken(t, app.srv, app.tina)

	tests := []struct {
		httpTest
		field    string
		filename string
		content  []byte
	}{
		{
			httpTest: httpTest{name: "stranger", token: getToken(t, app.srv, app.sue), wantCode: http.StatusNotFound},
			field:    "file", filename: "notes.txt", content: []byte("x"),
		},
		{
			httpTest: httpTest{
				name:     "no file",
				token:    samToken,
				wantCode: http.StatusBadRequest,
				wantData: marshalObj(t, map[string]string{"file": "a multipart file is required"}),
			},
		},
		{
			httpTest: httpTest{
				name:     "empty file",
				token:    samToken,
				wantCode: http.StatusBadRequest,
				wantData: marshalObj(t, map[string]string{"file": attachment.ErrEmpty.Error()}),
			},
			field: "file", filename: "empty.txt",
		},
		{
			httpTest: httpTest{name: "ok", token: tinaToken, wantCode: http.StatusCreated},
			field:    "file", filename: "../homework 1.pdf", content: []byte("%PDF-1.4"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newUploadRequest(t, path, tt.token, tt.field, tt.filename, tt.content))
			checkCodeAndData(t, tt.httpTest, rec)
		})
	}

	rec := app.do(newAuthRequest(http.MethodGet, path, samToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var atts []attachment.Attachment
	unmarshalBody(t, rec, &atts)
	require.Len(t, atts, 1)
	assert.Equal(t, app.tina.ID, atts[0].UploadedBy)
	assert.NotContains(t, atts[0].Filename, "/")
	assert.Len(t, app.env.Store.Objects, 1)
}
