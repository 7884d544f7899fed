package errutil

import (
	"fmt"
	"strconv"

	"github.com/sosodev/duration"

	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal/constants"
	"github.com/latticeforge/edgerpc/rpc/internal/version"
)

type wireStatus struct {
	status            int
	message           string
	application       bool
	name              string
	value             any
	version           string
	supportedVersions []int
}

// ToUserProp renders err (nil for success) as the __stat/__stMsg/...
// user properties carried on a response PUBLISH.
func ToUserProp(err error) map[string]string {
	if err == nil {
		return (&wireStatus{status: constants.StatusOK}).props()
	}

	e, ok := err.(*errors.Error)
	if !ok {
		return (&wireStatus{
			status:  constants.StatusInternalServerError,
			message: "invalid error",
		}).props()
	}

	switch e.Kind {
	case errors.HeaderMissing:
		return (&wireStatus{
			status:  constants.StatusBadRequest,
			message: e.Message,
			name:    e.HeaderName,
		}).props()
	case errors.HeaderInvalid:
		status := constants.StatusBadRequest
		if e.HeaderName == constants.ContentType || e.HeaderName == constants.FormatIndicator {
			status = constants.StatusUnsupportedMediaType
		}
		return (&wireStatus{
			status:  status,
			message: e.Message,
			name:    e.HeaderName,
			value:   e.HeaderValue,
		}).props()
	case errors.PayloadInvalid:
		return (&wireStatus{
			status:  constants.StatusBadRequest,
			message: e.Message,
		}).props()
	case errors.Timeout:
		return (&wireStatus{
			status:  constants.StatusRequestTimeout,
			message: e.Message,
			name:    e.TimeoutName,
			value:   duration.Format(e.TimeoutValue),
		}).props()
	case errors.StateInvalid:
		return (&wireStatus{
			status:  constants.StatusInvalidState,
			message: e.Message,
			name:    e.PropertyName,
		}).props()
	case errors.InternalLogicError:
		return (&wireStatus{
			status:  constants.StatusInvalidState,
			message: e.Message,
			name:    e.PropertyName,
		}).props()
	case errors.UnknownError:
		return (&wireStatus{
			status:  constants.StatusInternalServerError,
			message: e.Message,
		}).props()
	case errors.ExecutionException:
		return (&wireStatus{
			status:      constants.StatusInternalServerError,
			message:     e.Message,
			application: true,
			name:        e.PropertyName,
		}).props()
	case errors.MqttError:
		return (&wireStatus{
			status:  constants.StatusGatewayTimeout,
			message: e.Message,
		}).props()
	case errors.UnsupportedVersion:
		return (&wireStatus{
			status:            constants.StatusServiceUnavailable,
			message:           e.Message,
			version:           e.ProtocolVersion,
			supportedVersions: e.SupportedMajorProtocolVersions,
		}).props()
	default:
		return (&wireStatus{
			status:  constants.StatusInternalServerError,
			message: "invalid error kind",
			name:    "Kind",
		}).props()
	}
}

// FromUserProp parses the __stat/... user properties of a response
// PUBLISH into nil (success) or a remote *errors.Error.
func FromUserProp(user map[string]string) error {
	status := user[constants.Status]
	statusMessage := user[constants.StatusMessage]
	propertyName := user[constants.InvalidPropertyName]
	propertyValue := user[constants.InvalidPropertyValue]
	protocolVersion := user[constants.RequestProtocolVersion]
	supportedVersions := user[constants.SupportedProtocolMajorVersion]

	if status == "" {
		return &errors.Error{
			Message:    "status missing",
			Kind:       errors.HeaderMissing,
			HeaderName: constants.Status,
			IsShallow:  true,
		}
	}

	code, err := strconv.ParseInt(status, 10, 32)
	if err != nil {
		return &errors.Error{
			Message:     "status is not a valid integer",
			Kind:        errors.HeaderInvalid,
			HeaderName:  constants.Status,
			HeaderValue: status,
			NestedError: err,
			IsShallow:   true,
		}
	}

	if code < 400 {
		return nil
	}

	e := &errors.Error{Message: statusMessage, IsRemote: true}

	switch code {
	case constants.StatusBadRequest, constants.StatusUnsupportedMediaType:
		switch {
		case propertyName == "" && propertyValue == "":
			e.Kind = errors.PayloadInvalid
		case propertyValue == "":
			e.Kind = errors.HeaderMissing
			e.HeaderName = propertyName
		default:
			e.Kind = errors.HeaderInvalid
			e.HeaderName = propertyName
			e.HeaderValue = propertyValue
		}
	case constants.StatusRequestTimeout:
		to, err := duration.Parse(propertyValue)
		if err != nil {
			return &errors.Error{
				Message:     "invalid timeout value",
				Kind:        errors.HeaderInvalid,
				HeaderName:  constants.InvalidPropertyValue,
				HeaderValue: propertyValue,
				NestedError: err,
				IsShallow:   true,
			}
		}
		e.Kind = errors.Timeout
		e.TimeoutName = propertyName
		e.TimeoutValue = to.ToTimeDuration()
	case constants.StatusInvalidState:
		appErr := user[constants.IsApplicationError]
		switch {
		case appErr != "" && appErr != "false":
			e.Kind = errors.ExecutionException
			e.InApplication = true
		case propertyName != "":
			e.Kind = errors.InternalLogicError
			e.PropertyName = propertyName
		default:
			e.Kind = errors.StateInvalid
		}
	case constants.StatusInternalServerError:
		appErr := user[constants.IsApplicationError]
		switch {
		case appErr != "" && appErr != "false":
			e.Kind = errors.ExecutionException
			e.InApplication = true
		case propertyName != "":
			e.Kind = errors.InternalLogicError
			e.PropertyName = propertyName
		default:
			e.Kind = errors.UnknownError
		}
	case constants.StatusGatewayTimeout:
		e.Kind = errors.MqttError
	case constants.StatusServiceUnavailable:
		e.Kind = errors.UnsupportedVersion
		e.ProtocolVersion = protocolVersion
		e.SupportedMajorProtocolVersions = version.ParseSupported(supportedVersions)
	default:
		e.Kind = errors.UnknownError
		e.PropertyName = propertyName
		if propertyValue != "" {
			e.PropertyValue = propertyValue
		}
	}
	e.StatusCode = int(code)

	return e
}

func (r *wireStatus) props() map[string]string {
	props := make(map[string]string, 5)

	props[constants.Status] = fmt.Sprint(r.status)
	props[constants.StatusMessage] = r.message
	if r.application {
		props[constants.IsApplicationError] = "true"
	}

	if r.name != "" {
		props[constants.InvalidPropertyName] = r.name
		if r.value != nil {
			props[constants.InvalidPropertyValue] = fmt.Sprint(r.value)
		}
	}

	if r.version != "" {
		props[constants.RequestProtocolVersion] = r.version
		props[constants.SupportedProtocolMajorVersion] = version.SerializeSupported(r.supportedVersions)
	}

	return props
}
