package bodyprocessors

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"

	"github.com/veilwaf/veil/internal/variables"
)

const defaultJSONDepth = 32

var errJSONTooDeep = errors.New("json body nested too deep")

// jsonProcessor flattens a JSON document into ARGS_POST keys such as
// json.user.name and json.items.0.
type jsonProcessor struct {
	maxDepth int
}

func (p jsonProcessor) ProcessRequest(body []byte, _ string, store *variables.Store) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	var dataType jsonparser.ValueType
	switch body[0] {
	case '{':
		dataType = jsonparser.Object
	case '[':
		dataType = jsonparser.Array
	default:
		return fmt.Errorf("json body must be an object or array")
	}
	return p.walk("json", body, dataType, 0, store)
}

func (p jsonProcessor) walk(prefix string, value []byte, dataType jsonparser.ValueType, depth int, store *variables.Store) error {
	if depth > p.maxDepth {
		return errJSONTooDeep
	}

	switch dataType {
	case jsonparser.Object:
		return jsonparser.ObjectEach(value, func(key []byte, val []byte, vt jsonparser.ValueType, _ int) error {
			name, err := jsonparser.ParseString(key)
			if err != nil {
				name = string(key)
			}
			return p.walk(prefix+"."+name, val, vt, depth+1, store)
		})
	case jsonparser.Array:
		var walkErr error
		index := 0
		_, err := jsonparser.ArrayEach(value, func(val []byte, vt jsonparser.ValueType, _ int, _ error) {
			if walkErr != nil {
				return
			}
			walkErr = p.walk(prefix+"."+strconv.Itoa(index), val, vt, depth+1, store)
			index++
		})
		if walkErr != nil {
			return walkErr
		}
		return err
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			s = string(value)
		}
		return store.Add(variables.ArgsPost, prefix, s)
	case jsonparser.Null:
		return store.Add(variables.ArgsPost, prefix, "")
	default:
		return store.Add(variables.ArgsPost, prefix, string(value))
	}
}
