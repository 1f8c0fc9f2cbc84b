package warehouse

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the storage class of a column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindTimestamp:
		return "timestamp"
	default:
		return "text"
	}
}

// DefaultTextLength is used for text columns with no reported length.
const DefaultTextLength = 255

// ColumnType describes a column's declared type. Precision applies to
// timestamps. Length applies to text; zero means unbounded.
type ColumnType struct {
	Kind      Kind
	Precision int
	Length    int
}

func (t ColumnType) String() string {
	switch t.Kind {
	case KindTimestamp:
		return fmt.Sprintf("timestamp(%d)", t.Precision)
	case KindText:
		if t.Length <= 0 {
			return "text"
		}
		return fmt.Sprintf("text(%d)", t.Length)
	default:
		return t.Kind.String()
	}
}

// ColumnInfo is a named column with its type.
type ColumnInfo struct {
	Name string
	Type ColumnType
}

// ColumnDef pairs a column name with the type it is declared with.
type ColumnDef = ColumnInfo

var (
	textOverrides   = []string{"interval", "point"}
	integerPatterns = []string{"int"}
	floatPatterns   = []string{"float", "decimal", "double", "real", "numeric"}
	timePatterns    = []string{"datetime", "timestamp", "date"}
)

// ClassifyType maps a store's reported type name to a ColumnType by
// substring. charMax and precision are the reported character length and
// fractional-second precision, nil when the store reports none. A charMax
// of -1 means unbounded.
func ClassifyType(reported string, charMax, precision *int64) ColumnType {
	name := strings.ToLower(reported)
	switch {
	case containsAny(name, textOverrides):
	case containsAny(name, integerPatterns):
		return ColumnType{Kind: KindInteger}
	case containsAny(name, floatPatterns):
		return ColumnType{Kind: KindFloat}
	case containsAny(name, timePatterns):
		t := ColumnType{Kind: KindTimestamp}
		if precision != nil && *precision > 0 {
			t.Precision = int(*precision)
		}
		return t
	}
	t := ColumnType{Kind: KindText, Length: DefaultTextLength}
	if charMax != nil {
		switch {
		case *charMax < 0:
			t.Length = 0
		case *charMax > 0:
			t.Length = int(*charMax)
		}
	}
	return t
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// InferColumnType derives a ColumnType from in-memory values. Nil values
// are skipped. A column of only timestamps is timestamp(0), only integers
// is integer, floats or a mix of floats and integers is float, and anything
// else, including an all-nil column, is text(255).
func InferColumnType(values []any) ColumnType {
	var sawTime, sawInt, sawFloat, sawOther bool
	for _, v := range values {
		switch v.(type) {
		case nil:
		case time.Time:
			sawTime = true
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			sawInt = true
		case float32, float64:
			sawFloat = true
		default:
			sawOther = true
		}
	}
	switch {
	case sawOther:
	case sawTime && !sawInt && !sawFloat:
		return ColumnType{Kind: KindTimestamp}
	case sawFloat && !sawTime:
		return ColumnType{Kind: KindFloat}
	case sawInt && !sawTime:
		return ColumnType{Kind: KindInteger}
	}
	return ColumnType{Kind: KindText, Length: DefaultTextLength}
}
