package api

import (
	"errors"
	"net/http"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation, core.ErrCatRules, core.ErrCatGrouping,
		core.ErrCatSequence, core.ErrCatNoise:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError maps a domain error onto an HTTP status, falling back
// to 500 for unclassified errors.
func respondDomainError(w http.ResponseWriter, err error) {
	if status, ok := httpStatusForDomainError(err); ok {
		respondError(w, status, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
