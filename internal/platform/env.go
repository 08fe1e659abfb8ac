package platform

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc reads one environment value.
type LookupFunc func(key string) (string, bool)

// SlotKey returns key suffixed for account slot n. Slot 0 uses the bare key.
func SlotKey(key string, slot int) string {
	if slot == 0 {
		return key
	}
	return key + strconv.Itoa(slot)
}

// ResolveEnv reads f.EnvKeys for slot, falling back to f.Fallback. A key with
// neither a value nor a fallback yields a CodeConfiguration error naming it.
// Optional keys are included only when set.
func ResolveEnv(f Factory, slot int, lookup LookupFunc) (map[string]string, error) {
	env := make(map[string]string, len(f.EnvKeys))
	var missing []string
	for _, key := range f.EnvKeys {
		if v, ok := lookup(SlotKey(key, slot)); ok && strings.TrimSpace(v) != "" {
			env[key] = strings.TrimSpace(v)
			continue
		}
		if v, ok := f.Fallback[key]; ok {
			env[key] = v
			continue
		}
		missing = append(missing, SlotKey(key, slot))
	}
	for _, key := range f.Optional {
		if v, ok := lookup(SlotKey(key, slot)); ok && strings.TrimSpace(v) != "" {
			env[key] = strings.TrimSpace(v)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{
			Code:     CodeConfiguration,
			Platform: f.ID,
			Message:  fmt.Sprintf("missing %s", strings.Join(missing, ", ")),
		}
	}
	return env, nil
}
