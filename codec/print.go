package codec

import (
	"fmt"
	"reflect"
	"strings"

	"noc-rpc/protocol"
)

// Format renders the inline fields of p, skipping padding.
func Format(p Payload) string {
	v := reflect.ValueOf(p).Elem()
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.Name == "_" {
			continue
		}
		if b.Len() > 1 {
			b.WriteByte(' ')
		}
		fv := v.Field(i).Interface()
		switch x := fv.(type) {
		case [6]byte:
			fmt.Fprintf(&b, "%s:%02x:%02x:%02x:%02x:%02x:%02x", f.Name, x[0], x[1], x[2], x[3], x[4], x[5])
		default:
			fmt.Fprintf(&b, "%s:%v", f.Name, fv)
		}
	}
	b.WriteByte('}')
	return b.String()
}

// Print renders a message header followed by its decoded inline area.
// An error answer shows its text instead.
func Print(m *protocol.Message) string {
	s := m.String()
	if text := ErrorString(m); text != "" {
		return s + " " + fmt.Sprintf("%q", text)
	}
	p, err := Decode(m)
	if err != nil {
		return s + " <" + err.Error() + ">"
	}
	return s + " " + Format(p)
}
