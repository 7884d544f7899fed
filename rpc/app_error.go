package rpc

import "encoding/json"

const (
	ApplicationErrorCode = "ApplicationErrorCode"
	ApplicationErrorData = "ApplicationErrorData"
)

// WithApplicationError carries an application-level error back to the
// invoker in the response metadata, using a standardized pair of
// keys, rather than failing the invocation at the protocol level.
func WithApplicationError[T any](code string, data T) interface {
	InvokeOption
	RespondOption
	SendOption
} {
	body, err := json.Marshal(data)
	if err != nil {
		return WithMetadata{ApplicationErrorCode: code}
	}
	return WithMetadata{
		ApplicationErrorCode: code,
		ApplicationErrorData: string(body),
	}
}

// GetApplicationError extracts an application error, if any, from
// message metadata using the standardized pair of keys.
func GetApplicationError[T any](
	meta map[string]string,
) (code string, data T, err error) {
	if c, ok := meta[ApplicationErrorCode]; ok {
		code = c
	}
	if d, ok := meta[ApplicationErrorData]; ok {
		err = json.Unmarshal([]byte(d), &data)
	}
	return code, data, err
}
