package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

const fieldErrorType = "error_type"

// Variant tags the decoded shape of a response body.
type Variant int

const (
	// VariantEmpty is an accepted response without a JSON body.
	VariantEmpty Variant = iota
	// VariantSuccess is a JSON object without error_type.
	VariantSuccess
	// VariantError is a JSON object carrying error_type.
	VariantError
)

// String returns the variant label.
func (variant Variant) String() string {
	switch variant {
	case VariantEmpty:
		return "empty"
	case VariantSuccess:
		return "success"
	case VariantError:
		return "error"
	default:
		return fmt.Sprintf("variant(%d)", int(variant))
	}
}

// Payload is a response body decoded at the transport boundary.
type Payload struct {
	Variant    Variant
	StatusCode int
	// Err is set for VariantError.
	Err    *ServerError
	raw    json.RawMessage
	fields map[string]json.RawMessage
}

// Has reports whether the success object contains name.
func (payload Payload) Has(name string) bool {
	_, ok := payload.fields[name]
	return ok
}

// Field decodes the required property name into target.
func (payload Payload) Field(name string, target any) error {
	raw, ok := payload.fields[name]
	if !ok {
		return qcs.MissingPropertyError(name)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode property '%s': %w", name, err)
	}
	return nil
}

// Decode unmarshals the whole object into target.
func (payload Payload) Decode(target any) error {
	if len(payload.raw) == 0 {
		return fmt.Errorf("decode %s payload: no body", payload.Variant)
	}
	return json.Unmarshal(payload.raw, target)
}

// decodeObject classifies body as a success or error payload. ok is false when body is not a JSON object.
func decodeObject(statusCode int, body []byte) (Payload, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Payload{}, false, nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Payload{}, false, err
	}
	payload := Payload{Variant: VariantSuccess, StatusCode: statusCode, raw: json.RawMessage(trimmed), fields: fields}
	if _, ok := fields[fieldErrorType]; !ok {
		return payload, true, nil
	}
	serverError := &ServerError{StatusCode: statusCode}
	if err := json.Unmarshal(trimmed, serverError); err != nil {
		return Payload{}, false, err
	}
	payload.Variant = VariantError
	payload.Err = serverError
	return payload, true, nil
}
