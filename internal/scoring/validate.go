package scoring

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidItem = errors.New("invalid item")

// Definition 题目定义，用于发布前的结构校验
type Definition struct {
	Kind      Kind
	OptionIDs []string
	Canonical []string
	Points    float64
	Penalty   float64
}

// Validate 按题型校验选项与标准答案的形状
func Validate(d Definition) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidItem, d.Kind)
	}
	if d.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrInvalidItem)
	}
	if d.Penalty < 0 {
		return fmt.Errorf("%w: negative points must not be negative", ErrInvalidItem)
	}

	canonical := Normalize(d.Canonical)
	if len(canonical) != len(d.Canonical) {
		return fmt.Errorf("%w: blank correct answer", ErrInvalidItem)
	}

	switch d.Kind {
	case SingleChoice, MultipleChoice:
		options, err := optionSet(d.OptionIDs)
		if err != nil {
			return err
		}
		if d.Kind == SingleChoice && len(canonical) != 1 {
			return fmt.Errorf("%w: single_choice needs exactly one correct option", ErrInvalidItem)
		}
		if len(canonical) == 0 {
			return fmt.Errorf("%w: multiple_choice needs at least one correct option", ErrInvalidItem)
		}
		for _, c := range canonical {
			if _, ok := options[c]; !ok {
				return fmt.Errorf("%w: correct answer %q is not an option", ErrInvalidItem, c)
			}
		}
	case TrueFalse:
		if len(canonical) != 1 || (canonical[0] != "true" && canonical[0] != "false") {
			return fmt.Errorf("%w: true_false answer must be true or false", ErrInvalidItem)
		}
	case ShortAnswer, Code:
		if len(d.OptionIDs) > 0 {
			return fmt.Errorf("%w: %s does not take options", ErrInvalidItem, d.Kind)
		}
		if len(canonical) == 0 {
			return fmt.Errorf("%w: %s needs at least one reference answer", ErrInvalidItem, d.Kind)
		}
	}
	return nil
}

func optionSet(ids []string) (map[string]struct{}, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("%w: at least two options required", ErrInvalidItem)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			return nil, fmt.Errorf("%w: blank option id", ErrInvalidItem)
		}
		if _, dup := set[id]; dup {
			return nil, fmt.Errorf("%w: duplicate option id %q", ErrInvalidItem, id)
		}
		set[id] = struct{}{}
	}
	return set, nil
}
