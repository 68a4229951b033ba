package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/reliefops/internal/shared"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&shared.StockError{InventoryID: 1, Requested: 5, Available: 2}, http.StatusConflict},
		{&shared.TransitionError{Entity: "request", ID: 1, From: "PENDING", Action: "dispatch"}, http.StatusConflict},
		{fmt.Errorf("commit: %w", shared.ErrAllocationExceedsRequest), http.StatusUnprocessableEntity},
		{shared.Validationf("qty must be positive"), http.StatusBadRequest},
		{fmt.Errorf("material 3: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{shared.ErrInvariantViolation, http.StatusInternalServerError},
		{ErrBadRequest, http.StatusBadRequest},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestRespondErrorCarriesKindAndRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.StockError{InventoryID: 9, Requested: 10, Available: 3})

	require.Equal(t, http.StatusConflict, rec.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "InsufficientStock", body.Kind)
	require.True(t, body.Retryable)
	require.Contains(t, body.Detail, "inventory 9")
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("dial tcp: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Detail)
	require.Equal(t, "Internal", body.Kind)
	require.False(t, body.Retryable)
}

func TestDecodeOptionalJSON(t *testing.T) {
	type body struct {
		Remark string `json:"remark"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	req.ContentLength = -1
	var got body
	require.NoError(t, DecodeOptionalJSON(req, &got))
	require.Empty(t, got.Remark)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"remark":"left at gate"}`))
	require.NoError(t, DecodeOptionalJSON(req, &got))
	require.Equal(t, "left at gate", got.Remark)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"remark":`))
	require.ErrorIs(t, DecodeOptionalJSON(req, &got), ErrBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.ErrorIs(t, DecodeJSON(req, &got), ErrBadRequest)
}
