package warehouse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// naturalKey encodes key values into a comparable string. Each value is
// written as tag:length:payload so that no two distinct tuples collide.
// Integers share one tag, as do floats, so a key read as int and int64
// compares equal.
func naturalKey(values []any) string {
	var buf bytes.Buffer
	for _, val := range values {
		var (
			tag     string
			payload []byte
		)
		switch v := val.(type) {
		case nil:
			tag = "nil"
		case string:
			tag, payload = "s", []byte(v)
		case []byte:
			tag, payload = "s", v
		case int, int8, int16, int32, int64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(reflect.ValueOf(v).Int()))
			tag, payload = "i", b[:]
		case uint, uint8, uint16, uint32, uint64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], reflect.ValueOf(v).Uint())
			tag, payload = "u", b[:]
		case float32:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(float64(v)))
			tag, payload = "f", b[:]
		case float64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
			tag, payload = "f", b[:]
		case bool:
			tag, payload = "b", []byte(strconv.FormatBool(v))
		case time.Time:
			tag, payload = "t", []byte(v.UTC().Format(time.RFC3339Nano))
		default:
			tag, payload = reflect.TypeOf(v).String(), []byte(fmt.Sprintf("%v", v))
		}
		buf.WriteString(tag)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(payload)))
		buf.WriteByte(':')
		buf.Write(payload)
	}
	return buf.String()
}
