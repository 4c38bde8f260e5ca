package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateKeyInvalid_IsConfiguration(t *testing.T) {
	err := fmt.Errorf("sign assertion: %w", ErrPrivateKeyInvalid)
	require.ErrorIs(t, err, ErrConfiguration)
	require.ErrorIs(t, err, ErrPrivateKeyInvalid)
	require.NotErrorIs(t, err, ErrUpstream)
}

func TestUpstreamError_MatchesSentinel(t *testing.T) {
	var err error = &UpstreamError{Op: "upload", Status: 500, Body: `{"error":"boom"}`}
	wrapped := fmt.Errorf("upload document: %w", err)

	require.ErrorIs(t, wrapped, ErrUpstream)

	var up *UpstreamError
	require.True(t, errors.As(wrapped, &up))
	assert.Equal(t, 500, up.Status)
	assert.Contains(t, wrapped.Error(), `upstream status 500: {"error":"boom"}`)
}

func TestHTTPStatusAndCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", Validation("file_name is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", fmt.Errorf("get document: %w", ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"configuration", ErrConfiguration, http.StatusInternalServerError, "CONFIGURATION_ERROR"},
		{"private key", ErrPrivateKeyInvalid, http.StatusInternalServerError, "PRIVATE_KEY_INVALID"},
		{"upstream", &UpstreamError{Op: "create folder", Status: 403}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}
