package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
)

type amountRequest struct {
	Amount string `json:"amount" validate:"required,positive_decimal"`
	Side   string `json:"side" validate:"required,oneof=buy sell"`
}

func TestDecodeJSONBody(t *testing.T) {
	var ok amountRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10.5","side":"buy"}`))
	require.NoError(t, DecodeJSONBody(req, &ok))
	require.Equal(t, "10.5", ok.Amount)

	var finest amountRequest
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"0.00000001","side":"sell"}`))
	require.NoError(t, DecodeJSONBody(req, &finest))

	cases := map[string]string{
		"negative": `{"amount":"-1","side":"buy"}`,
		"zero":     `{"amount":"0","side":"buy"}`,
		"garbage":  `{"amount":"abc","side":"buy"}`,
		"scale":    `{"amount":"0.000000001","side":"buy"}`,
		"side":     `{"amount":"1","side":"hold"}`,
		"unknown":  `{"amount":"1","side":"buy","extra":true}`,
		"syntax":   `{"amount":`,
	}
	for name, body := range cases {
		var dest amountRequest
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		err := DecodeJSONBody(req, &dest)
		require.Error(t, err, name)
		require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), name)
	}
}

func TestDecodeJSONBodyReportsFieldNames(t *testing.T) {
	var dest amountRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"0","side":"buy"}`))
	err := DecodeJSONBody(req, &dest)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be a positive decimal", details["amount"])
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", id.String())
	rc.URLParams.Add("bad", "nope")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "orderId")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "bad")
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = ParseUUIDParam(req, "missing")
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestParsePageParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&cursor=abc", nil)
	params, err := ParsePageParams(req)
	require.NoError(t, err)
	require.Equal(t, 10, params.Limit)
	require.Equal(t, "abc", params.Cursor)

	_, err = ParsePageParams(httptest.NewRequest(http.MethodGet, "/?limit=1000", nil))
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "abc", SanitizeString("  abc  ", 0))
	require.Equal(t, "ab", SanitizeString(" abc", 2))
	require.Equal(t, "", SanitizeString("   ", 10))
}

func TestParseDecimal(t *testing.T) {
	value, err := ParseDecimal("amount", " 12.50 ")
	require.NoError(t, err)
	require.Equal(t, "12.5", value.String())

	_, err = ParseDecimal("amount", "twelve")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}
