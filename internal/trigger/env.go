package trigger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// reservedEnv lists variables that come from the server environment only.
// Document fields with these names never reach a script.
var reservedEnv = map[string]struct{}{
	"PATH":     {},
	"HOME":     {},
	"IFS":      {},
	"SHELL":    {},
	"BASH_ENV": {},
	"ENV":      {},
	"CDPATH":   {},
	"PS4":      {},
	"TMPDIR":   {},
	"USER":     {},
	"LOGNAME":  {},
	"PWD":      {},
}

// Reserved reports whether key names a variable a trigger document may not
// set: the entries of reservedEnv and every LD_* or DYLD_* loader variable.
func Reserved(key string) bool {
	k := strings.ToUpper(key)
	if _, ok := reservedEnv[k]; ok {
		return true
	}
	return strings.HasPrefix(k, "LD_") || strings.HasPrefix(k, "DYLD_")
}

// Environ flattens a document into environment variables for a trigger.
// List and map values are skipped, as are reserved names; keys are
// uppercased and values string-encoded.
func Environ(doc map[string]any) map[string]string {
	env := make(map[string]string, len(doc))
	for k, v := range doc {
		if !validKey(k) || Reserved(k) {
			continue
		}
		s, ok := envValue(v)
		if !ok {
			continue
		}
		env[strings.ToUpper(k)] = s
	}
	return env
}

func validKey(k string) bool {
	return k != "" && !strings.ContainsAny(k, "=\x00")
}

func envValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case []any, map[string]any:
		return "", false
	}
	return fmt.Sprint(v), true
}

// envList renders env as KEY=VALUE pairs in a stable order. Reserved and
// malformed keys are dropped whatever their origin.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		if !validKey(k) || Reserved(k) || strings.ContainsRune(v, 0) {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
