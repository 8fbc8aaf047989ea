package http

import (
	"net/http"
	"reflect"
	"sync"

	"github.com/GriffinCanCode/corsbroker/internal/domain/broker"
	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"
)

// callPayloads maps each call served on /stream to the shape of its data.
var callPayloads = map[string]any{
	types.MsgPing:               nil,
	types.MsgGetAllowedInfo:     types.OriginPayload{},
	types.MsgRequestHosts:       types.HostsPayload{},
	types.MsgAcceptRequestHosts: types.HostsPayload{},
	types.MsgRejectRequestHosts: types.HostsPayload{},
	types.MsgRequest:            broker.ForwardPayload{},
	types.MsgGetResponseChunk:   types.ChunkPayload{},
}

var (
	schemaOnce sync.Once
	schemaDoc  map[string]any
)

// Schema serves the JSON schema of the frame envelope and of every call.
func (h *Handlers) Schema(c *gin.Context) {
	schemaOnce.Do(func() { schemaDoc = buildSchema() })
	c.JSON(http.StatusOK, schemaDoc)
}

func buildSchema() map[string]any {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
		Mapper:         mapWireTypes,
	}

	calls := make(map[string]*jsonschema.Schema, len(callPayloads))
	for name, v := range callPayloads {
		if v == nil {
			calls[name] = &jsonschema.Schema{Type: "null"}
			continue
		}
		calls[name] = reflector.Reflect(v)
	}

	return map[string]any{
		"frame":   reflector.Reflect(types.Frame{}),
		"signal":  reflector.Reflect(types.SignalPayload{}),
		"allowed": reflector.Reflect(types.AllowedInfo{}),
		"calls":   calls,
	}
}

// mapWireTypes describes the codec types, which marshal themselves.
func mapWireTypes(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(wire.SerializedRequest{}):
		return object(
			[]string{"url", "method"},
			"url", &jsonschema.Schema{Type: "string", Format: "uri"},
			"method", &jsonschema.Schema{Type: "string"},
			"headers", headersSchema(),
			"body", bodySchema(),
		)
	case reflect.TypeOf(wire.SerializedResponse{}):
		return object(
			[]string{"status"},
			"url", &jsonschema.Schema{Type: "string"},
			"status", &jsonschema.Schema{Type: "integer"},
			"statusText", &jsonschema.Schema{Type: "string"},
			"headers", headersSchema(),
			"body", bodySchema(),
		)
	}
	return nil
}

func headersSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		AdditionalProperties: &jsonschema.Schema{Type: "string"},
	}
}

func bodySchema() *jsonschema.Schema {
	kinds := []any{
		string(wire.KindJSON), string(wire.KindText), string(wire.KindFormData),
		string(wire.KindBinary), string(wire.KindStream),
	}
	body := object([]string{"type", "value"},
		"type", &jsonschema.Schema{Type: "string", Enum: kinds},
		"value", &jsonschema.Schema{},
	)
	return &jsonschema.Schema{OneOf: []*jsonschema.Schema{{Type: "null"}, body}}
}

func object(required []string, props ...any) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "object", Properties: jsonschema.NewProperties(), Required: required}
	for i := 0; i+1 < len(props); i += 2 {
		s.Properties.Set(props[i].(string), props[i+1].(*jsonschema.Schema))
	}
	return s
}
