package source

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Envelope is the normalized result of one page fetch.
type Envelope struct {
	Success    bool
	StatusCode int
	RawBody    []byte
	Items      []gjson.Result
	NextCursor string
	HasMore    bool
}

// itemFields are probed in order; the first array wins.
var itemFields = []string{"data", "customEvents", "users"}

// cursorFields holds the current cursor name first and the older scroll name second.
var cursorFields = []string{"nextCursor", "scrollId"}

// Normalize maps any of the known response shapes onto an Envelope.
func Normalize(body []byte, status int) (Envelope, error) {
	env := Envelope{
		Success:    status >= 200 && status < 300,
		StatusCode: status,
		RawBody:    body,
	}
	if !gjson.ValidBytes(body) {
		return env, fmt.Errorf("%w: body is not valid JSON", ErrMalformedResponse)
	}
	root := gjson.ParseBytes(body)

	if root.IsArray() {
		env.Items = root.Array()
		return env, nil
	}
	if !root.IsObject() {
		return env, fmt.Errorf("%w: unexpected top-level %s", ErrMalformedResponse, root.Type)
	}

	for _, f := range itemFields {
		if v := root.Get(f); v.IsArray() {
			env.Items = v.Array()
			break
		}
	}

	for _, f := range cursorFields {
		v := root.Get(f)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type != gjson.String && v.Type != gjson.Number {
			return env, fmt.Errorf("%w: %s is %s", ErrMalformedResponse, f, v.Type)
		}
		env.NextCursor = v.String()
		break
	}

	if v := root.Get("hasMore"); v.Exists() {
		if v.Type != gjson.True && v.Type != gjson.False && v.Type != gjson.Null {
			return env, fmt.Errorf("%w: hasMore is %s", ErrMalformedResponse, v.Type)
		}
		env.HasMore = v.Bool()
	}
	// Without a cursor there is nothing to continue from.
	if env.NextCursor == "" {
		env.HasMore = false
	}
	return env, nil
}
