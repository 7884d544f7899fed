// Package constants centralizes the reserved MQTT user-property names
// and numeric status codes the wire format depends on.
package constants

// Protocol is the reserved prefix for runtime-owned user properties.
// Any other property name is passed through as application metadata.
const Protocol = "__"

// Reserved user-property keys.
const (
	Timestamp       = Protocol + "ts"
	SenderClientID  = Protocol + "srcId"
	Partition       = Protocol + "partition"
	ProtocolVersion = Protocol + "protVer"
	FencingToken    = Protocol + "ft"

	Status                        = Protocol + "stat"
	StatusMessage                 = Protocol + "stMsg"
	IsApplicationError            = Protocol + "appErr"
	InvalidPropertyName           = Protocol + "propName"
	InvalidPropertyValue          = Protocol + "propValue"
	SupportedProtocolMajorVersion = Protocol + "supProtMajorVer"
	RequestProtocolVersion        = Protocol + "requestProtVer"
)

// Human-readable names used in HeaderMissing/HeaderInvalid errors for
// standard (non-"__") MQTT properties.
const (
	ContentType     = "Content Type"
	FormatIndicator = "Payload Format Indicator"
	CorrelationData = "Correlation Data"
	ResponseTopic   = "Response Topic"
	MessageExpiry   = "Message Expiry"
)

// Status codes carried on the Status ("__stat") property.
const (
	StatusOK                   = 200
	StatusNoContent            = 204
	StatusBadRequest           = 400
	StatusRequestTimeout       = 408
	StatusUnsupportedMediaType = 415
	StatusInvalidState         = 422
	StatusInternalServerError  = 500
	StatusServiceUnavailable   = 503
	StatusGatewayTimeout       = 504
)
