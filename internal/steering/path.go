package steering

import "strings"

// Resolve walks a dotted field path ("request.metadata.taskType") through
// a map/list tree and returns the value plus whether the path was present.
// Missing is distinct from a falsy zero value (§9 design notes: "avoid
// conflating missing with falsy").
func Resolve(ctx map[string]any, path string) (value any, present bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur any = ctx

	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, exists := m[seg]
		if !exists {
			return nil, false
		}
		cur = v
	}

	return cur, true
}

// writeField writes value at a dotted path, creating intermediate maps as
// needed (§4.3 inject action: "creating intermediate maps").
func writeField(ctx map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	cur := ctx

	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
}

// deleteField removes the value at a dotted path, a no-op if any
// intermediate segment is absent.
func deleteField(ctx map[string]any, path string) {
	segments := strings.Split(path, ".")
	cur := ctx

	for i, seg := range segments {
		if i == len(segments)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}
