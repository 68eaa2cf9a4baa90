package canon

import (
	"fmt"
	"strings"
)

// GetPath resolves a dotted path ("stats.hp") inside an attribute object.
// Returns Null (not an error) when any segment is absent, so callers can
// record "was unset" as an explicit old value.
func GetPath(obj Object, path string) Value {
	segments := strings.Split(path, ".")
	var cur Value = obj
	for _, seg := range segments {
		inner, ok := cur.(Object)
		if !ok {
			return Null{}
		}
		next, present := inner[seg]
		if !present {
			return Null{}
		}
		cur = next
	}
	return cur
}

// SetPath writes v at a dotted path inside obj, creating intermediate
// objects as needed. Setting Null deletes the leaf key. Fails when an
// intermediate segment resolves to a non-object value.
func SetPath(obj Object, path string, v Value) error {
	segments := strings.Split(path, ".")
	cur := obj
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("empty segment in path %q", path)
		}
		if i == len(segments)-1 {
			if IsNull(v) {
				delete(cur, seg)
			} else {
				cur[seg] = v
			}
			return nil
		}

		next, present := cur[seg]
		if !present {
			child := Object{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(Object)
		if !ok {
			return fmt.Errorf("path %q: segment %q is not an object", path, seg)
		}
		cur = child
	}
	return nil
}
