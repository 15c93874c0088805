package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// AnswerValues 作答原始输入，接受字符串、布尔、数字或它们的数组
type AnswerValues []string

func (a *AnswerValues) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}

	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			v, err := scalarString(item)
			if err != nil {
				return err
			}
			if v != "" {
				out = append(out, v)
			}
		}
		*a = out
		return nil
	}

	v, err := scalarString(data)
	if err != nil {
		return err
	}
	if v == "" {
		*a = nil
		return nil
	}
	*a = AnswerValues{v}
	return nil
}

func scalarString(data []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported answer value %s", string(data))
	}
}
