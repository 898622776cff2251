package registryerrors_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/registryerrors"
)

func TestHTTPStatusMatchesSpecTable(t *testing.T) {
	cases := []struct {
		code registryerrors.Code
		want int
	}{
		{registryerrors.Unauthorized, http.StatusUnauthorized},
		{registryerrors.Forbidden, http.StatusForbidden},
		{registryerrors.NotFound, http.StatusNotFound},
		{registryerrors.AlreadyExists, http.StatusConflict},
		{registryerrors.DuplicateVersion, http.StatusConflict},
		{registryerrors.LowerVersion, http.StatusConflict},
		{registryerrors.LastOwner, http.StatusConflict},
		{registryerrors.InvalidMetadata, http.StatusBadRequest},
		{registryerrors.BadRequest, http.StatusBadRequest},
		{registryerrors.ChecksumMismatch, http.StatusUnprocessableEntity},
		{registryerrors.IndexBusy, http.StatusServiceUnavailable},
		{registryerrors.UpstreamError, http.StatusBadGateway},
		{registryerrors.IoError, http.StatusInternalServerError},
		{registryerrors.Internal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.want, registryerrors.HTTPStatus(c.code), "code %s", c.code)
	}
}
