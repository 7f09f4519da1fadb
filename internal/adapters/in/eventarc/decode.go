// internal/adapters/in/eventarc/decode.go
package eventarc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

var ErrMalformedEvent = errors.New("eventarc: malformed document event")

// documentEventData is google.events.cloud.firestore.v1.DocumentEventData
// in its JSON encoding.
type documentEventData struct {
	Value    *document `json:"value"`
	OldValue *document `json:"oldValue"`
}

type document struct {
	Name       string           `json:"name"`
	Fields     map[string]value `json:"fields"`
	UpdateTime string           `json:"updateTime"`
}

// value is a Firestore Value; exactly one member is set.
type value struct {
	NullValue      *string     `json:"nullValue"`
	BooleanValue   *bool       `json:"booleanValue"`
	IntegerValue   *string     `json:"integerValue"`
	DoubleValue    *float64    `json:"doubleValue"`
	TimestampValue *string     `json:"timestampValue"`
	StringValue    *string     `json:"stringValue"`
	BytesValue     *string     `json:"bytesValue"`
	ReferenceValue *string     `json:"referenceValue"`
	GeoPointValue  *geoPoint   `json:"geoPointValue"`
	ArrayValue     *arrayValue `json:"arrayValue"`
	MapValue       *mapValue   `json:"mapValue"`
}

type geoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type arrayValue struct {
	Values []value `json:"values"`
}

type mapValue struct {
	Fields map[string]value `json:"fields"`
}

// DecodeChange turns an event body into a Change. subject is the ce-subject
// header ("documents/<path>") and is used when both documents are absent.
func DecodeChange(eventID, subject string, body []byte) (docstore.Change, error) {
	var ev documentEventData
	if err := json.Unmarshal(body, &ev); err != nil {
		return docstore.Change{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	path := ""
	switch {
	case ev.Value != nil && ev.Value.Name != "":
		path = documentPath(ev.Value.Name)
	case ev.OldValue != nil && ev.OldValue.Name != "":
		path = documentPath(ev.OldValue.Name)
	default:
		path = documentPath(subject)
	}
	if !docstore.ValidDocPath(path) {
		return docstore.Change{}, fmt.Errorf("%w: bad document path %q", ErrMalformedEvent, path)
	}

	before, err := toDoc(path, ev.OldValue)
	if err != nil {
		return docstore.Change{}, err
	}
	after, err := toDoc(path, ev.Value)
	if err != nil {
		return docstore.Change{}, err
	}
	return docstore.Change{EventID: eventID, Path: path, Before: before, After: after}, nil
}

// documentPath strips "projects/p/databases/d/documents/" or "documents/".
func documentPath(name string) string {
	if i := strings.Index(name, "/documents/"); i >= 0 {
		return strings.Trim(name[i+len("/documents/"):], "/")
	}
	return strings.Trim(strings.TrimPrefix(name, "documents/"), "/")
}

func toDoc(path string, d *document) (*docstore.Doc, error) {
	_, id := docstore.SplitPath(path)
	if d == nil || d.Name == "" {
		return &docstore.Doc{Path: path, ID: id}, nil
	}
	data, err := decodeFields(d.Fields)
	if err != nil {
		return nil, err
	}
	doc := &docstore.Doc{Path: path, ID: id, Exists: true, Data: data}
	if d.UpdateTime != "" {
		if ts, err := time.Parse(time.RFC3339Nano, d.UpdateTime); err == nil {
			doc.UpdateTime = ts.UTC()
		}
	}
	return doc, nil
}

func decodeFields(fields map[string]value) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		x, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = x
	}
	return out, nil
}

// decodeValue maps Firestore values onto the types the Firestore client
// returns, so handlers parse trigger payloads and store reads alike.
func decodeValue(v value) (any, error) {
	switch {
	case v.NullValue != nil:
		return nil, nil
	case v.BooleanValue != nil:
		return *v.BooleanValue, nil
	case v.IntegerValue != nil:
		n, err := strconv.ParseInt(*v.IntegerValue, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: integer %q", ErrMalformedEvent, *v.IntegerValue)
		}
		return n, nil
	case v.DoubleValue != nil:
		return *v.DoubleValue, nil
	case v.TimestampValue != nil:
		ts, err := time.Parse(time.RFC3339Nano, *v.TimestampValue)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q", ErrMalformedEvent, *v.TimestampValue)
		}
		return ts.UTC(), nil
	case v.StringValue != nil:
		return *v.StringValue, nil
	case v.BytesValue != nil:
		b, err := base64.StdEncoding.DecodeString(*v.BytesValue)
		if err != nil {
			return nil, fmt.Errorf("%w: bytes", ErrMalformedEvent)
		}
		return b, nil
	case v.ReferenceValue != nil:
		return documentPath(*v.ReferenceValue), nil
	case v.GeoPointValue != nil:
		return map[string]any{"latitude": v.GeoPointValue.Latitude, "longitude": v.GeoPointValue.Longitude}, nil
	case v.ArrayValue != nil:
		out := make([]any, 0, len(v.ArrayValue.Values))
		for _, e := range v.ArrayValue.Values {
			x, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case v.MapValue != nil:
		return decodeFields(v.MapValue.Fields)
	}
	return nil, nil
}
