package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/bytedance/sonic"
)

// Kind is the discriminant of a serialized body.
type Kind string

const (
	KindJSON     Kind = "json"
	KindText     Kind = "text"
	KindFormData Kind = "form-data"
	KindBinary   Kind = "array-buffer"
	KindStream   Kind = "readable-stream"
)

// Body is a captured request or response body. The implementations are
// JSON, Text, FormData, Binary and Stream. A nil Body means no body.
type Body interface {
	Kind() Kind
	sealed()
}

// JSON holds a parsed JSON document.
type JSON struct{ Value any }

// Text holds a UTF-8 text body.
type Text struct{ Value string }

// FormData holds multipart fields. File parts are flattened to their content.
type FormData struct{ Value map[string]string }

// Binary holds raw bytes.
type Binary struct{ Data []byte }

// Stream holds the chunks of a body of unknown length, in read order.
type Stream struct{ Chunks [][]byte }

func (JSON) Kind() Kind     { return KindJSON }
func (Text) Kind() Kind     { return KindText }
func (FormData) Kind() Kind { return KindFormData }
func (Binary) Kind() Kind   { return KindBinary }
func (Stream) Kind() Kind   { return KindStream }

func (JSON) sealed()     {}
func (Text) sealed()     {}
func (FormData) sealed() {}
func (Binary) sealed()   {}
func (Stream) sealed()   {}

// api keeps numbers as json.Number so JSON bodies re-encode without
// float rounding.
var api = sonic.Config{
	UseNumber:      true,
	SortMapKeys:    true,
	ValidateString: true,
	CopyString:     true,
}.Froze()

type bodyJSON struct {
	Type  Kind `json:"type"`
	Value any  `json:"value"`
}

type rawBodyJSON struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalBody encodes b as {"type": ..., "value": ...}, or null.
func MarshalBody(b Body) ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}

	var value any
	switch v := b.(type) {
	case JSON:
		value = v.Value
	case Text:
		value = v.Value
	case FormData:
		value = v.Value
	case Binary:
		value = EncodeBinary(v.Data)
	case Stream:
		chunks := make([]string, len(v.Chunks))
		for i, c := range v.Chunks {
			chunks[i] = EncodeBinary(c)
		}
		value = chunks
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnsupportedBody, b)
	}

	return api.Marshal(bodyJSON{Type: b.Kind(), Value: value})
}

// UnmarshalBody decodes the output of MarshalBody. A null value decodes to
// the empty body of its kind.
func UnmarshalBody(data []byte) (Body, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var raw rawBodyJSON
	if err := api.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed body: %v", types.ErrInvalidRequest, err)
	}
	if len(raw.Value) == 0 {
		raw.Value = json.RawMessage("null")
	}

	switch raw.Type {
	case KindJSON:
		var v any
		if err := api.Unmarshal(raw.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: json body: %v", types.ErrInvalidRequest, err)
		}
		return JSON{Value: v}, nil
	case KindText:
		var s string
		if err := api.Unmarshal(raw.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: text body: %v", types.ErrInvalidRequest, err)
		}
		return Text{Value: s}, nil
	case KindFormData:
		var m map[string]string
		if err := api.Unmarshal(raw.Value, &m); err != nil {
			return nil, fmt.Errorf("%w: form-data body: %v", types.ErrInvalidRequest, err)
		}
		return FormData{Value: m}, nil
	case KindBinary:
		var s string
		if err := api.Unmarshal(raw.Value, &s); err != nil {
			return nil, fmt.Errorf("%w: binary body: %v", types.ErrInvalidRequest, err)
		}
		data, err := DecodeBinary(s)
		if err != nil {
			return nil, err
		}
		return Binary{Data: data}, nil
	case KindStream:
		var chunks []string
		if err := api.Unmarshal(raw.Value, &chunks); err != nil {
			return nil, fmt.Errorf("%w: stream body: %v", types.ErrInvalidRequest, err)
		}
		s := Stream{Chunks: make([][]byte, len(chunks))}
		for i, c := range chunks {
			data, err := DecodeBinary(c)
			if err != nil {
				return nil, err
			}
			s.Chunks[i] = data
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", types.ErrUnsupportedBody, raw.Type)
	}
}

// Flatten turns a Stream into a Binary holding the concatenated chunks.
// Other kinds are returned unchanged.
func Flatten(b Body) Body {
	s, ok := b.(Stream)
	if !ok {
		return b
	}
	n := 0
	for _, c := range s.Chunks {
		n += len(c)
	}
	data := make([]byte, 0, n)
	for _, c := range s.Chunks {
		data = append(data, c...)
	}
	return Binary{Data: data}
}

// ValueString renders the value of b as one string: the printable form for
// Binary and Stream, the text for Text, compact JSON otherwise. It is the
// payload that gets split into chunks.
func ValueString(b Body) (string, error) {
	switch v := Flatten(b).(type) {
	case nil:
		return "", nil
	case Text:
		return v.Value, nil
	case Binary:
		return EncodeBinary(v.Data), nil
	case JSON:
		data, err := api.Marshal(v.Value)
		return string(data), err
	case FormData:
		data, err := api.Marshal(v.Value)
		return string(data), err
	default:
		return "", fmt.Errorf("%w: %T", types.ErrUnsupportedBody, b)
	}
}

// ValueIsJSON reports whether ValueString of kind k is JSON text rather
// than a plain string.
func ValueIsJSON(k Kind) bool {
	return k == KindJSON || k == KindFormData
}

// WithoutValue returns the empty body of the same kind as b.
func WithoutValue(b Body) Body {
	if b == nil {
		return nil
	}
	switch b.Kind() {
	case KindJSON:
		return JSON{}
	case KindText:
		return Text{}
	case KindFormData:
		return FormData{}
	case KindStream:
		return Stream{}
	default:
		return Binary{}
	}
}
