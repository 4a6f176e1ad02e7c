package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

func parseRefArg(name, s string) (entities.Ref, error) {
	ref, err := entities.ParseRef(s)
	if err != nil {
		return entities.Ref{}, fmt.Errorf("%s: %w", name, err)
	}
	if ref.IsZero() {
		return entities.Ref{}, fmt.Errorf("%s is required", name)
	}
	return ref, nil
}

func parseRefArgs(name string, args []string) ([]entities.Ref, error) {
	var refs []entities.Ref
	for _, arg := range args {
		parsed, err := entities.ParseRefs(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		refs = append(refs, parsed...)
	}
	return refs, nil
}

func parseIDArg(name, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return id, nil
}

func parseIDList(name, s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseIDArg(name, part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDecimalArg(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return d, nil
}

// parseSwitch accepts on/off, yes/no, true/false and 1/0
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
