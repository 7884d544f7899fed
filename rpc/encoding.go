package rpc

import (
	"encoding/json"
	stderr "errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/hamba/avro/v2"
	"google.golang.org/protobuf/proto"

	"github.com/latticeforge/edgerpc/rpc/errors"
	"github.com/latticeforge/edgerpc/rpc/internal/constants"
)

type (
	// Encoding translates between a concrete Go type T and wire Data.
	// Every method must be safe for concurrent use, since a single
	// Encoding instance is shared across every call of a component.
	Encoding[T any] interface {
		Serialize(T) (*Data, error)
		Deserialize(*Data) (T, error)
	}

	// Data is encoded payload bytes along with the content type and
	// payload-format indicator they were produced with.
	Data struct {
		Payload       []byte
		ContentType   string
		PayloadFormat byte
	}

	// JSON encodes T as application/json.
	JSON[T any] struct{}

	// CBOR encodes T as application/cbor.
	CBOR[T any] struct{}

	// Avro encodes T as application/avro against a fixed schema. T
	// must satisfy the field layout hamba/avro expects (exported
	// fields with optional `avro:"..."` tags); Schema is required.
	Avro[T any] struct {
		Schema avro.Schema
	}

	// Protobuf encodes a proto.Message as application/protobuf.
	Protobuf[T proto.Message] struct{}

	// Empty represents a command or telemetry value with no payload.
	Empty struct{}

	// Raw passes bytes through unchanged.
	Raw struct{}

	// Custom lets application code own serialization entirely: the Go
	// value already is the wire Data.
	Custom struct{}
)

// ErrUnsupportedContentType signals that a Deserialize implementation
// doesn't recognize the incoming content type.
var ErrUnsupportedContentType = stderr.New("unsupported content type")

func serialize[T any](encoding Encoding[T], value T) (data *Data, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = payloadError("cannot serialize payload", p)
		}
	}()
	data, err = encoding.Serialize(value)
	if err != nil {
		return nil, payloadError("cannot serialize payload", err)
	}
	return data, nil
}

func deserialize[T any](encoding Encoding[T], data *Data) (value T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = payloadError("cannot deserialize payload", p)
		}
	}()
	value, err = encoding.Deserialize(data)
	if err != nil {
		if stderr.Is(err, ErrUnsupportedContentType) {
			return value, &errors.Error{
				Message:     "content type mismatch",
				Kind:        errors.HeaderInvalid,
				HeaderName:  constants.ContentType,
				HeaderValue: data.ContentType,
			}
		}
		return value, payloadError("cannot deserialize payload", err)
	}
	return value, nil
}

func payloadError(msg string, err any) error {
	switch e := err.(type) {
	case *errors.Error:
		return e
	case error:
		return &errors.Error{Message: msg, Kind: errors.PayloadInvalid, NestedError: e}
	default:
		return &errors.Error{
			Message:     msg,
			Kind:        errors.PayloadInvalid,
			NestedError: stderr.New(fmt.Sprint(e)),
		}
	}
}

// Serialize encodes t as JSON.
func (JSON[T]) Serialize(t T) (*Data, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Data{b, "application/json", 1}, nil
}

// Deserialize decodes JSON into T.
func (JSON[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/json":
		err := json.Unmarshal(data.Payload, &t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize encodes t as CBOR.
func (CBOR[T]) Serialize(t T) (*Data, error) {
	b, err := cbor.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Data{b, "application/cbor", 0}, nil
}

// Deserialize decodes CBOR into T.
func (CBOR[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/cbor":
		err := cbor.Unmarshal(data.Payload, &t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize encodes t as Avro against the configured schema.
func (e Avro[T]) Serialize(t T) (*Data, error) {
	b, err := avro.Marshal(e.Schema, t)
	if err != nil {
		return nil, err
	}
	return &Data{b, "application/avro", 0}, nil
}

// Deserialize decodes Avro into T using the configured schema.
func (e Avro[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/avro":
		err := avro.Unmarshal(e.Schema, data.Payload, &t)
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize encodes t as binary protobuf.
func (Protobuf[T]) Serialize(t T) (*Data, error) {
	b, err := proto.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &Data{b, "application/protobuf", 0}, nil
}

// Deserialize decodes binary protobuf into T. T must be a non-nil
// proto.Message (typically a pointer to a generated message type) so
// Deserialize has a concrete instance to unmarshal into.
func (Protobuf[T]) Deserialize(data *Data) (T, error) {
	var t T
	switch data.ContentType {
	case "", "application/protobuf":
		err := proto.Unmarshal(data.Payload, any(t).(proto.Message))
		return t, err
	default:
		return t, ErrUnsupportedContentType
	}
}

// Serialize validates that t is the zero value.
func (Empty) Serialize(t any) (*Data, error) {
	if t != nil {
		return nil, &errors.Error{
			Message: "unexpected payload for empty type",
			Kind:    errors.PayloadInvalid,
		}
	}
	return &Data{}, nil
}

// Deserialize validates that the payload is empty.
func (Empty) Deserialize(data *Data) (any, error) {
	if len(data.Payload) != 0 {
		return nil, &errors.Error{
			Message: "unexpected payload for empty type",
			Kind:    errors.PayloadInvalid,
		}
	}
	return nil, nil
}

// Serialize returns the bytes unchanged.
func (Raw) Serialize(t []byte) (*Data, error) {
	return &Data{t, "application/octet-stream", 0}, nil
}

// Deserialize returns the bytes unchanged.
func (Raw) Deserialize(data *Data) ([]byte, error) {
	switch data.ContentType {
	case "", "application/octet-stream":
		return data.Payload, nil
	default:
		return nil, ErrUnsupportedContentType
	}
}

// Serialize returns t unchanged.
func (Custom) Serialize(t Data) (*Data, error) {
	return &t, nil
}

// Deserialize returns data unchanged.
func (Custom) Deserialize(data *Data) (Data, error) {
	return *data, nil
}
