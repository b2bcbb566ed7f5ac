package manifest

import (
	"fmt"
	"strings"
)

// Checks is a set of toggleable attribute checks.
type Checks uint8

const (
	CheckTrusted Checks = 1 << iota
	CheckCodebase
	CheckPermissions
	CheckALAC
	CheckEntryPoint

	CheckNone Checks = 0
	CheckAll         = CheckTrusted | CheckCodebase | CheckPermissions | CheckALAC | CheckEntryPoint
)

var checkNames = []struct {
	check Checks
	name  string
}{
	{CheckTrusted, "TRUSTED"},
	{CheckCodebase, "CODEBASE"},
	{CheckPermissions, "PERMISSIONS"},
	{CheckALAC, "ALAC"},
	{CheckEntryPoint, "ENTRYPOINT"},
}

// ParseChecks reads "ALL", "NONE", or a comma or space separated subset.
// NONE wins over anything else in the list.
func ParseChecks(s string) (Checks, error) {
	var out Checks
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return CheckAll, nil
	}
	for _, f := range fields {
		switch f {
		case "ALL":
			out |= CheckAll
			continue
		case "NONE":
			return CheckNone, nil
		}
		found := false
		for _, cn := range checkNames {
			if cn.name == f {
				out |= cn.check
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown manifest check %q", f)
		}
	}
	return out, nil
}

// Has reports whether c is enabled.
func (cs Checks) Has(c Checks) bool { return cs&c == c }

func (cs Checks) String() string {
	switch cs {
	case CheckNone:
		return "NONE"
	case CheckAll:
		return "ALL"
	}
	var names []string
	for _, cn := range checkNames {
		if cs.Has(cn.check) {
			names = append(names, cn.name)
		}
	}
	return strings.Join(names, ",")
}

// Level is the configured handling of unsigned or under-declared code.
type Level string

const (
	LevelAllowUnsigned Level = "ALLOW_UNSIGNED"
	LevelAskUnsigned   Level = "ASK_UNSIGNED"
	LevelDenyUnsigned  Level = "DENY_UNSIGNED"
)

// ParseLevel normalises a configured level, defaulting to ASK_UNSIGNED.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelAllowUnsigned, LevelDenyUnsigned:
		return l
	default:
		return LevelAskUnsigned
	}
}
