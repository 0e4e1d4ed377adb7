// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/xuehua-build/xuehua/lib/codec"
)

// Output is an embeddable params struct that adds --json and --cbor
// output modes to a command.
//
//	type listParams struct {
//	    cli.Output
//	}
//
//	// In Run:
//	if done, err := params.Emit(streams.Out, entries); done {
//	    return err
//	}
//	// ... text formatting ...
type Output struct {
	JSON bool `flag:"json" desc:"output as JSON"`
	CBOR bool `flag:"cbor" desc:"output as CBOR"`
}

// Emit writes result to w in the selected structured format. It
// returns (false, nil) when neither flag is set and the caller should
// print text. Nil slices are written as empty lists.
func (o *Output) Emit(w io.Writer, result any) (bool, error) {
	switch {
	case o.JSON && o.CBOR:
		return true, fmt.Errorf("--json and --cbor are mutually exclusive")
	case o.JSON:
		return true, WriteJSON(w, normalizeNilSlice(result))
	case o.CBOR:
		return true, codec.NewEncoder(w).Encode(normalizeNilSlice(result))
	default:
		return false, nil
	}
}

// WriteJSON writes value to w as indented JSON.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// normalizeNilSlice returns an empty slice of the same type if value
// is a nil slice, so that output holds [] instead of null.
func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
