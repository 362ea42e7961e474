package filter

import (
	"bytes"
	"strings"

	jsoniter "github.com/json-iterator/go"

	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

// strictJSON rejects keys outside the payload schema at every nesting level.
var strictJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// Decode parses a filter payload from JSON. Unknown keys, at any depth, are
// a validation error. An empty body decodes to the zero payload.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := DecodeStrict(data, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// DecodeStrict decodes any request body that embeds a Payload, with the same
// closed-schema rules.
func DecodeStrict(data []byte, dest interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := strictJSON.Unmarshal(data, dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, describeDecodeError(err))
	}
	return nil
}

func describeDecodeError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "unknown field") {
		return "unknown filter field: " + unknownFieldName(msg)
	}
	return "malformed filter payload"
}

// unknownFieldName pulls the key name out of a jsoniter error message.
func unknownFieldName(msg string) string {
	const marker = "found unknown field: "
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return "unrecognised key"
	}
	name := msg[idx+len(marker):]
	if cut := strings.IndexAny(name, ", "); cut >= 0 {
		name = name[:cut]
	}
	return name
}
