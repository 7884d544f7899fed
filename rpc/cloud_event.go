package rpc

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal/errutil"
	"github.com/latticeforge/edgerpc/transport"
)

// CloudEvent implements the CloudEvents 1.0 envelope, carried as MQTT
// user properties alongside telemetry; see
// https://github.com/cloudevents/spec/blob/main/cloudevents/spec.md
type CloudEvent struct {
	ID          string
	Source      *url.URL
	SpecVersion string
	Type        string

	DataContentType string
	DataSchema      *url.URL
	Subject         string
	Time            time.Time
}

const (
	DefaultCloudEventSpecVersion = "1.0"
	DefaultCloudEventType        = "com.edgerpc.telemetry"

	ceID              = "id"
	ceSource          = "source"
	ceSpecVersion     = "specversion"
	ceType            = "type"
	ceDataContentType = "datacontenttype"
	ceDataSchema      = "dataschema"
	ceSubject         = "subject"
	ceTime            = "time"
)

// ceAttr resolves a single outbound CloudEvents attribute: present
// reports whether the attribute should be stamped onto the message at
// all (false only for an omitted optional attribute like dataschema).
type ceAttr struct {
	key     string
	resolve func(ce *CloudEvent, msg *transport.Message) (value string, present bool, err error)
}

// ceOutbound lists every attribute toMessage may write, in the order
// they're resolved. DataContentType isn't here: it's validated against
// msg.ContentType but never duplicated into a user property.
var ceOutbound = [...]ceAttr{
	{ceID, resolveID},
	{ceSource, resolveSource},
	{ceSpecVersion, resolveSpecVersion},
	{ceType, resolveType},
	{ceDataSchema, resolveDataSchema},
	{ceSubject, resolveSubject},
	{ceTime, resolveTime},
}

func resolveID(ce *CloudEvent, _ *transport.Message) (string, bool, error) {
	if ce.ID != "" {
		return ce.ID, true, nil
	}
	id, err := errutil.NewUUID()
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func resolveSource(ce *CloudEvent, _ *transport.Message) (string, bool, error) {
	if ce.Source == nil {
		return "", false, &errors.Error{
			Message:      "source must be defined",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "CloudEvent",
		}
	}
	return ce.Source.String(), true, nil
}

func resolveSpecVersion(ce *CloudEvent, _ *transport.Message) (string, bool, error) {
	if ce.SpecVersion != "" {
		return ce.SpecVersion, true, nil
	}
	return DefaultCloudEventSpecVersion, true, nil
}

func resolveType(ce *CloudEvent, _ *transport.Message) (string, bool, error) {
	if ce.Type != "" {
		return ce.Type, true, nil
	}
	return DefaultCloudEventType, true, nil
}

func resolveDataSchema(ce *CloudEvent, _ *transport.Message) (string, bool, error) {
	if ce.DataSchema == nil {
		return "", false, nil
	}
	return ce.DataSchema.String(), true, nil
}

func resolveSubject(ce *CloudEvent, msg *transport.Message) (string, bool, error) {
	if ce.Subject != "" {
		return ce.Subject, true, nil
	}
	return msg.Topic, true, nil
}

func resolveTime(ce *CloudEvent, _ *transport.Message) (string, bool, error) {
	if !ce.Time.IsZero() {
		return ce.Time.Format(time.RFC3339), true, nil
	}
	return time.Now().UTC().Format(time.RFC3339), true, nil
}

// Attrs contributes cloud event fields to a log record.
func (ce *CloudEvent) Attrs() []slog.Attr {
	if ce == nil {
		return nil
	}

	a := make([]slog.Attr, 0, 8)
	a = append(a,
		slog.String(ceID, ce.ID),
		slog.String(ceSource, ce.Source.String()),
		slog.String(ceSpecVersion, ce.SpecVersion),
		slog.String(ceType, ce.Type),
	)

	if ce.DataContentType != "" {
		a = append(a, slog.String(ceDataContentType, ce.DataContentType))
	}
	if ce.DataSchema != nil {
		a = append(a, slog.String(ceDataSchema, ce.DataSchema.String()))
	}
	if ce.Subject != "" {
		a = append(a, slog.String(ceSubject, ce.Subject))
	}
	if !ce.Time.IsZero() {
		a = append(a, slog.String(ceTime, ce.Time.Format(time.RFC3339)))
	}
	return a
}

// toMessage fills in defaults where possible and stamps ce's
// attributes onto the outbound message's user properties, failing if
// a required attribute is missing or a caller-supplied attribute
// collides with a reserved cloud-event key.
func (ce *CloudEvent) toMessage(msg *transport.Message) error {
	if ce == nil {
		return nil
	}

	for _, attr := range ceOutbound {
		if _, ok := msg.UserProperties[attr.key]; ok {
			return &errors.Error{
				Message:       "metadata key reserved for cloud event",
				Kind:          errors.ArgumentInvalid,
				PropertyName:  "Metadata",
				PropertyValue: attr.key,
			}
		}
	}

	if ce.DataContentType != "" && ce.DataContentType != msg.ContentType {
		return &errors.Error{
			Message:       "cloud event content type mismatch",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "DataContentType",
			PropertyValue: ce.DataContentType,
		}
	}

	resolved := make(map[string]string, len(ceOutbound))
	for _, attr := range ceOutbound {
		value, present, err := attr.resolve(ce, msg)
		if err != nil {
			return err
		}
		if present {
			resolved[attr.key] = value
		}
	}
	for k, v := range resolved {
		msg.UserProperties[k] = v
	}

	return nil
}

// ceInbound describes how to recover one attribute from a received
// telemetry message's metadata. assign parses raw and populates ce;
// any error it returns is reported as an invalid header.
type ceInbound struct {
	key        string
	required   bool
	missingMsg string
	invalidMsg string
	assign     func(ce *CloudEvent, raw string) error
}

var ceInboundAttrs = [...]ceInbound{
	{
		key: ceID, required: true,
		missingMsg: "cloud event missing ID header",
		assign:     func(ce *CloudEvent, raw string) error { ce.ID = raw; return nil },
	},
	{
		key: ceSource, required: true,
		missingMsg: "cloud event missing source header",
		invalidMsg: "cloud event invalid source header",
		assign: func(ce *CloudEvent, raw string) error {
			src, err := url.Parse(raw)
			if err != nil {
				return err
			}
			ce.Source = src
			return nil
		},
	},
	{
		key: ceType, required: true,
		missingMsg: "cloud event missing type header",
		assign:     func(ce *CloudEvent, raw string) error { ce.Type = raw; return nil },
	},
	{
		key: ceDataSchema, required: false,
		invalidMsg: "cloud event invalid data schema header",
		assign: func(ce *CloudEvent, raw string) error {
			schema, err := url.Parse(raw)
			if err != nil {
				return err
			}
			ce.DataSchema = schema
			return nil
		},
	},
	{
		key: ceSubject, required: false,
		assign: func(ce *CloudEvent, raw string) error { ce.Subject = raw; return nil },
	},
	{
		key: ceTime, required: false,
		invalidMsg: "cloud event invalid time header",
		assign: func(ce *CloudEvent, raw string) error {
			t, err := iso8601.ParseString(raw)
			if err != nil {
				return err
			}
			ce.Time = t
			return nil
		},
	},
}

// CloudEventFromTelemetry recovers cloud event attributes from a
// received telemetry message's metadata, failing if a required
// attribute is missing or an optional one fails to parse. specversion
// is checked ahead of the rest of the table since, unlike every other
// attribute, an unrecognised value isn't just invalid: the runtime
// treats it as "no CloudEvent was sent" and returns a nil CloudEvent
// with a nil error rather than reporting a header error.
func CloudEventFromTelemetry[T any](msg *TelemetryMessage[T]) (*CloudEvent, error) {
	ce := &CloudEvent{}

	sv, ok := msg.Metadata[ceSpecVersion]
	if !ok {
		return nil, &errors.Error{
			Message:    "cloud event missing spec version header",
			Kind:       errors.HeaderMissing,
			HeaderName: ceSpecVersion,
		}
	}
	if sv != DefaultCloudEventSpecVersion {
		return nil, nil
	}
	ce.SpecVersion = sv

	for _, attr := range ceInboundAttrs {
		raw, ok := msg.Metadata[attr.key]
		if !ok {
			if attr.required {
				return nil, &errors.Error{
					Message:    attr.missingMsg,
					Kind:       errors.HeaderMissing,
					HeaderName: attr.key,
				}
			}
			continue
		}
		if err := attr.assign(ce, raw); err != nil {
			return nil, &errors.Error{
				Message:     attr.invalidMsg,
				Kind:        errors.HeaderInvalid,
				HeaderName:  attr.key,
				HeaderValue: raw,
			}
		}
	}

	ce.DataContentType = msg.ContentType
	return ce, nil
}
