package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
}

var statusByKind = map[domain.ErrorKind]int{
	domain.KindThrottled:           http.StatusTooManyRequests,
	domain.KindInvalidTransition:   http.StatusConflict,
	domain.KindInvalidBookingState: http.StatusConflict,
	domain.KindGatewayRejected:     http.StatusPaymentRequired,
	domain.KindGatewayUnavailable:  http.StatusServiceUnavailable,
	domain.KindConfiguration:       http.StatusInternalServerError,
	domain.KindSignatureInvalid:    http.StatusUnauthorized,
	domain.KindEventInFlight:       http.StatusConflict,
	domain.KindNotFound:            http.StatusNotFound,
	domain.KindValidation:          http.StatusBadRequest,
	domain.KindForbidden:           http.StatusForbidden,
}

func statusFor(err error) int {
	if status, ok := statusByKind[domain.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err. Unclassified errors are logged and their details
// are not sent to the client.
func writeError(c *gin.Context, log logrus.FieldLogger, err error) {
	if retry := domain.RetryAfterOf(err); retry > 0 {
		c.Header("Retry-After", strconv.Itoa(retry))
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := errorResponse{Error: de.Message, Code: string(de.Kind), DeclineCode: de.DeclineCode}
	if resp.Error == "" {
		resp.Error = string(de.Kind)
	}
	if de.Kind == domain.KindConfiguration {
		log.WithError(err).Error("payment provider configuration error")
	}
	c.AbortWithStatusJSON(statusFor(err), resp)
}
