package registryerrors

import "net/http"

// HTTPStatus maps a Code onto the status code pkg/httpapi should respond
// with, per spec.md §7's error table.
func HTTPStatus(code Code) int {
	switch code {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists, DuplicateVersion, LowerVersion, LastOwner:
		return http.StatusConflict
	case InvalidMetadata, BadRequest:
		return http.StatusBadRequest
	case ChecksumMismatch:
		return http.StatusUnprocessableEntity
	case IndexBusy:
		return http.StatusServiceUnavailable
	case UpstreamError:
		return http.StatusBadGateway
	case IoError, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
