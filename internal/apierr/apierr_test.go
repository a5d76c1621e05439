package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(NotFound("Session not found")))
	assert.Equal(t, http.StatusForbidden, StatusOf(fmt.Errorf("chat: %w", Forbidden("Not authorized"))))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(Unauthenticated("Not authenticated")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(&Error{}))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Session not found", NotFound("Session not found").Error())
	assert.Equal(t, "forbidden", (&Error{Code: "forbidden"}).Error())
	assert.Equal(t, "api error (418)", (&Error{Status: 418}).Error())

	var nilErr *Error
	assert.Equal(t, "", nilErr.Error())

	cause := errors.New("bad json")
	assert.ErrorIs(t, BadRequest(cause), cause)
}
