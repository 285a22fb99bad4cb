package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/timecapsule/internal/server/middlewares"
	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestHTTPErrorHandler(t *testing.T) {
	log, hook := test.NewNullLogger()
	handler := middlewares.HTTPErrorHandler(log)
	e := echo.New()

	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{
			name: "echo",
			err:  echo.NewHTTPError(http.StatusBadRequest, "Request body can't be empty"),
			code: http.StatusBadRequest,
			body: `{"error":{"message":"Request body can't be empty"}}`,
		},
		{
			name: "tcerror",
			err:  errors.Wrap(tcerror.NewWithTagCode(http.StatusBadRequest, "invalid_parameters", "location is required."), "checkin"),
			code: http.StatusBadRequest,
			body: `{"error":{"tag":"invalid_parameters","message":"location is required."}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

			handler(tt.err, c)
			assert.Equal(t, tt.code, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}

	t.Run("internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

		handler(tcerror.New("database is locked"), c)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Regexp(t, `^\{"error":\{"message":"Unexpected error \(id: [a-f0-9-]{36}\)"\}\}`, rec.Body.String())
		assert.NotEmpty(t, hook.LastEntry().Data["incident"])
	})
}
