package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	t.Run("malformed input is a bare 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("%w: unexpected EOF", sentinel.ErrMalformed))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, map[string]any{"ok": false}, body)
	})

	t.Run("unknown errors are internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("db failed"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "db failed")
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, StatusFor(sentinel.ErrInvalidToken))
	assert.Equal(t, http.StatusForbidden, StatusFor(fmt.Errorf("redeem: %w", sentinel.ErrAlreadyUsed)))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(sentinel.ErrUnavailable))
	assert.Equal(t, http.StatusNotFound, StatusFor(sentinel.ErrNotFound))
	assert.Equal(t, http.StatusOK, StatusFor(nil))
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Token string `json:"token"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":"abc"}`))
	require.NoError(t, DecodeJSON(r, &out))
	assert.Equal(t, "abc", out.Token)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":`))
	assert.ErrorIs(t, DecodeJSON(r, &out), sentinel.ErrMalformed)

	big := `{"token":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	assert.ErrorIs(t, DecodeJSON(r, &out), sentinel.ErrMalformed)
}
