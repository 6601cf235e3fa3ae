package httpadapter

import (
	"net/http"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrInboxNotFound), domain.IsKind(err, domain.ErrFileGone):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrNotFoundOrProcessed), domain.IsKind(err, domain.ErrDuplicate):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrLeaseBusy), domain.IsKind(err, domain.ErrLeaseLost):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
