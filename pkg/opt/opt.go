// Package opt 提供带显式存在标记的可选值，替代零值/空串当作“没有”的写法。
package opt

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/segmentio/encoding/json"
)

type Value[T any] struct {
	V     T
	Valid bool
}

func Some[T any](v T) Value[T] { return Value[T]{V: v, Valid: true} }

func None[T any]() Value[T] { return Value[T]{} }

// FromPtr nil 即 None
func FromPtr[T any](p *T) Value[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

func (o Value[T]) Get() (T, bool) { return o.V, o.Valid }

func (o Value[T]) OrElse(def T) T {
	if !o.Valid {
		return def
	}
	return o.V
}

func (o Value[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.V
	return &v
}

func (o Value[T]) String() string {
	if !o.Valid {
		return "<none>"
	}
	return fmt.Sprint(o.V)
}

// Scan 实现 sql.Scanner，NULL -> None
func (o *Value[T]) Scan(src any) error {
	var n sql.Null[T]
	if err := n.Scan(src); err != nil {
		return err
	}
	o.V, o.Valid = n.V, n.Valid
	return nil
}

// Value 实现 driver.Valuer。内层类型自己是 Valuer（比如 decimal）时交给它处理。
func (o Value[T]) Value() (driver.Value, error) {
	if !o.Valid {
		return nil, nil
	}
	if v, ok := any(o.V).(driver.Valuer); ok {
		return v.Value()
	}
	return driver.DefaultParameterConverter.ConvertValue(o.V)
}

func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.V)
}

func (o *Value[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
