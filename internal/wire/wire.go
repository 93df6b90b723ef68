// Package wire converts between plain Go values and the tagged
// {"type": ..., "value": ...} encoding used by ledger nodes. Decode is the
// only place tagged values are unwrapped; everything past it works with
// ordinary typed values.
package wire

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type tags.
const (
	TypeUint      = "uint"
	TypeInt       = "int"
	TypeDecimal   = "decimal"
	TypeBool      = "bool"
	TypeString    = "string-ascii"
	TypeUTF8      = "string-utf8"
	TypePrincipal = "principal"
	TypeBuffer    = "buff"
	TypeNone      = "none"
	TypeSome      = "some"
	TypeList      = "list"
	TypeTuple     = "tuple"
	TypeOK        = "ok"
	TypeErr       = "err"
)

// ErrMalformed is returned for input that is not a valid tagged value.
var ErrMalformed = errors.New("wire: malformed value")

// Value is a tagged value.
type Value struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ResponseError is an err response carried by a tagged value. Code is zero
// when the err payload was not an unsigned integer.
type ResponseError struct {
	Code    uint64
	Payload any
}

func (e *ResponseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("wire: err response u%d", e.Code)
	}
	return fmt.Sprintf("wire: err response %v", e.Payload)
}

// Decode unwraps raw into plain Go values: uint64, int64, json.Number,
// bool, string, []byte, []any, map[string]any or nil. Nested tags are
// unwrapped recursively. An err response anywhere in the value is returned
// as a *ResponseError.
func Decode(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: expected object, got %.20s", ErrMalformed, raw)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typeRaw, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var typ string
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformed, err)
	}
	val := fields["value"]

	switch typ {
	case TypeNone:
		return nil, nil
	case TypeSome, TypeOK:
		return Decode(val)
	case TypeErr:
		payload, err := Decode(val)
		if err != nil {
			return nil, err
		}
		code, _ := payload.(uint64)
		return nil, &ResponseError{Code: code, Payload: payload}
	case TypeUint:
		s, err := scalar(val)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "u"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: uint %q", ErrMalformed, s)
		}
		return n, nil
	case TypeInt:
		s, err := scalar(val)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: int %q", ErrMalformed, s)
		}
		return n, nil
	case TypeDecimal:
		s, err := scalar(val)
		if err != nil {
			return nil, err
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("%w: decimal %q", ErrMalformed, s)
		}
		return json.Number(s), nil
	case TypeBool:
		var b bool
		if err := json.Unmarshal(val, &b); err != nil {
			s, serr := scalar(val)
			if serr != nil {
				return nil, serr
			}
			if b, err = strconv.ParseBool(s); err != nil {
				return nil, fmt.Errorf("%w: bool %q", ErrMalformed, s)
			}
		}
		return b, nil
	case TypeString, TypeUTF8, TypePrincipal:
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
		}
		return s, nil
	case TypeBuffer:
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return nil, fmt.Errorf("%w: buff: %v", ErrMalformed, err)
		}
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: buff: %v", ErrMalformed, err)
		}
		return b, nil
	case TypeList:
		var items []json.RawMessage
		if err := json.Unmarshal(val, &items); err != nil {
			return nil, fmt.Errorf("%w: list: %v", ErrMalformed, err)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := Decode(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TypeTuple:
		var members map[string]json.RawMessage
		if err := json.Unmarshal(val, &members); err != nil {
			return nil, fmt.Errorf("%w: tuple: %v", ErrMalformed, err)
		}
		out := make(map[string]any, len(members))
		for k, m := range members {
			v, err := Decode(m)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
	}
}

// scalar accepts a JSON string or number and returns its text.
func scalar(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: scalar %s", ErrMalformed, raw)
	}
	return n.String(), nil
}

// Unmarshal decodes a tagged value into dst, which is populated as if the
// plain value had been JSON encoded. Struct fields match tuple keys by
// their json names.
func Unmarshal(raw json.RawMessage, dst any) error {
	v, err := Decode(raw)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: re-encode: %w", err)
	}
	if err := json.Unmarshal(plain, dst); err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	return nil
}

// Encode tags v, which is first rendered through encoding/json so that
// json struct tags and MarshalText implementations apply.
func Encode(v any) (Value, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("wire: encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return Value{}, fmt.Errorf("wire: encode: %w", err)
	}
	return tag(generic)
}

// OK wraps v in an ok response.
func OK(v any) (Value, error) {
	inner, err := Encode(v)
	if err != nil {
		return Value{}, err
	}
	return wrap(TypeOK, inner)
}

// Err builds an err response carrying code.
func Err(code uint64) Value {
	inner := Value{Type: TypeUint, Value: json.RawMessage(strconv.Quote(strconv.FormatUint(code, 10)))}
	v, _ := wrap(TypeErr, inner)
	return v
}

func wrap(typ string, inner Value) (Value, error) {
	b, err := json.Marshal(inner)
	if err != nil {
		return Value{}, err
	}
	return Value{Type: typ, Value: b}, nil
}

func tag(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{Type: TypeNone}, nil
	case bool:
		return Value{Type: TypeBool, Value: json.RawMessage(strconv.FormatBool(x))}, nil
	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeString, Value: b}, nil
	case json.Number:
		s := x.String()
		typ := TypeUint
		switch {
		case strings.ContainsAny(s, ".eE"):
			typ = TypeDecimal
		case strings.HasPrefix(s, "-"):
			typ = TypeInt
		}
		return Value{Type: typ, Value: json.RawMessage(strconv.Quote(s))}, nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			t, err := tag(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = t
		}
		b, err := json.Marshal(items)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeList, Value: b}, nil
	case map[string]any:
		members := make(map[string]Value, len(x))
		for k, member := range x {
			t, err := tag(member)
			if err != nil {
				return Value{}, err
			}
			members[k] = t
		}
		b, err := json.Marshal(members)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeTuple, Value: b}, nil
	default:
		return Value{}, fmt.Errorf("wire: cannot tag %T", v)
	}
}
