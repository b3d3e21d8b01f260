package door

import (
	"strings"

	iface "PassengerCounter/interface"

	"github.com/tidwall/gjson"
)

// Parse extracts the door state from a change event on the home record.
// The event is either the whole record at "/" or the field itself at
// "/<field>". ok is false when the event does not carry a usable value.
func Parse(ev iface.ChangeEvent, field string) (open bool, ok bool) {
	if !gjson.ValidBytes(ev.Data) {
		return false, false
	}
	data := gjson.ParseBytes(ev.Data)
	switch strings.Trim(ev.Path, "/") {
	case "":
		if !data.IsObject() {
			return false, false
		}
		return Value(data.Get(gjson.Escape(field)))
	case field:
		return Value(data)
	default:
		return false, false
	}
}

// ParsePayload reads a bare message body: a scalar, or an object holding field.
func ParsePayload(payload []byte, field string) (open bool, ok bool) {
	if !gjson.ValidBytes(payload) {
		// unquoted text such as `open` or `TRUE`
		return text(strings.TrimSpace(string(payload)))
	}
	data := gjson.ParseBytes(payload)
	if data.IsObject() {
		return Value(data.Get(gjson.Escape(field)))
	}
	return Value(data)
}

// Value maps true/1 to open and false/0 to closed. Strings are accepted in
// any case; every other value is rejected.
func Value(v gjson.Result) (open bool, ok bool) {
	switch v.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.Number:
		switch v.Raw {
		case "1":
			return true, true
		case "0":
			return false, true
		}
	case gjson.String:
		return text(strings.TrimSpace(v.Str))
	}
	return false, false
}

func text(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1", "open":
		return true, true
	case "false", "0", "closed":
		return false, true
	}
	return false, false
}
