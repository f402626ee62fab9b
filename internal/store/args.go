// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Arg is a single name/value pair in a job's argument list.
type Arg struct {
	Name  string
	Value any
}

// Args is an ordered name->value mapping. The external design binary
// process supervisor to build argv by walking args "in insertion
// order" — a bare Go map loses that order on every iteration and on
// every JSON round-trip (encoding/json sorts map keys alphabetically),
// so Args preserves it explicitly as a slice, while still marshaling
// to and from a plain JSON object for on-disk/wire compatibility.
type Args []Arg

// NewArgs builds an Args value from a sequence of alternating
// name/value pairs, e.g. NewArgs("num_designs", 10, "verbose", true).
func NewArgs(pairs ...any) Args {
	if len(pairs)%2 != 0 {
		panic("store.NewArgs: odd number of arguments")
	}
	out := make(Args, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Arg{Name: pairs[i].(string), Value: pairs[i+1]})
	}
	return out
}

// Get returns the value for name and whether it was present.
func (a Args) Get(name string) (any, bool) {
	for _, kv := range a {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes the pairs as a JSON object in their stored order.
func (a Args) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving the order keys appear
// in the source document.
func (a *Args) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("store: Args must decode from a JSON object")
	}

	out := Args{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("store: Args key must be a string")
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, Arg{Name: name, Value: normalizeNumber(raw)})
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}
	*a = out
	return nil
}

// normalizeNumber converts json.Number (from UseNumber) into float64
// or int64 so callers see the same types submit(...) would have passed
// in-process, keeping Args' runtime shape independent of whether it
// arrived over JSON or was constructed directly.
func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}
