package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/FranksOps/gleaner/internal/params"
)

// Limits enforced on merged parameters.
const (
	MinPage  = 1
	MinLimit = 1
	MaxLimit = 100
)

// termKeys are the parameter names that may carry the search term.
var termKeys = []string{"keyword", "query", "wd"}

// fieldNames label parameters in validation messages.
var fieldNames = map[string]string{
	"keyword": "关键词",
	"query":   "查询词",
	"wd":      "搜索词",
	"page":    "页码",
	"limit":   "限制数量",
}

// Validate checks the merged parameters: any term key present must be a
// non-empty string, page a number >= 1 and limit a number in [1,100].
func Validate(p params.Params) error {
	for _, k := range termKeys {
		v, ok := p[k]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if !isString {
			return fmt.Errorf("%s必须是字符串类型", fieldNames[k])
		}
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s不能为空", fieldNames[k])
		}
	}

	if n, ok, err := number(p, "page"); ok {
		if err != nil {
			return err
		}
		if n < MinPage {
			return errors.New("页码必须大于等于1")
		}
	}
	if n, ok, err := number(p, "limit"); ok {
		if err != nil {
			return err
		}
		if n < MinLimit || n > MaxLimit {
			return fmt.Errorf("限制数量必须在%d-%d之间", MinLimit, MaxLimit)
		}
	}
	return nil
}

// number accepts only numeric JSON values; numeric strings are rejected.
func number(p params.Params, key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok {
		return 0, false, nil
	}
	switch v := v.(type) {
	case float64:
		return v, true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%s必须是数字类型", fieldNames[key])
		}
		return n, true, nil
	default:
		return 0, true, fmt.Errorf("%s必须是数字类型", fieldNames[key])
	}
}
