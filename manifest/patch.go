// Package manifest implements the Manifest Library (§4.1): versioned,
// namespaced configuration documents with RFC 7396 merge-patch and
// RFC 6902 json-patch semantics. No external patch library is in the
// teacher's stack, so both RFCs are implemented directly against
// map[string]interface{}/[]interface{} — see DESIGN.md for why this is
// one of the few standard-library-only corners of the module.
package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"cm.lsst.io/cmerrors"
)

// MergePatch applies an RFC 7396 merge patch: patch is recursively merged
// into doc; a null value at any key deletes that key. doc is not mutated;
// the merged result is returned.
func MergePatch(doc, patch map[string]interface{}) map[string]interface{} {
	return mergeObject(deepCopyMap(doc), patch)
}

func mergeObject(target, patch map[string]interface{}) map[string]interface{} {
	if target == nil {
		target = map[string]interface{}{}
	}
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		if patchObj, ok := v.(map[string]interface{}); ok {
			var targetObj map[string]interface{}
			if existing, ok := target[k].(map[string]interface{}); ok {
				targetObj = existing
			}
			target[k] = mergeObject(targetObj, patchObj)
			continue
		}
		target[k] = v
	}
	return target
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// JSONPatchOp is one RFC 6902 operation.
type JSONPatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
	From  string      `json:"from,omitempty"`
}

// ApplyJSONPatch applies an ordered list of RFC 6902 operations to doc.
// Failure of any operation aborts the whole patch (all-or-nothing); a
// failed `test` op returns a *cmerrors.Error of KindPatchAssertionFailed.
// doc is not mutated; the result of a successful patch is returned.
func ApplyJSONPatch(doc map[string]interface{}, ops []JSONPatchOp) (map[string]interface{}, error) {
	var root interface{} = deepCopyMap(doc)
	for i, op := range ops {
		var err error
		root, err = applyOp(root, op)
		if err != nil {
			return nil, fmt.Errorf("json-patch op %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	result, ok := root.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("json-patch: result is not a JSON object")
	}
	return result, nil
}

func applyOp(root interface{}, op JSONPatchOp) (interface{}, error) {
	switch op.Op {
	case "add":
		return setAt(root, splitPointer(op.Path), op.Value, true)
	case "replace":
		return setAt(root, splitPointer(op.Path), op.Value, false)
	case "remove":
		return removeAt(root, splitPointer(op.Path))
	case "test":
		got, err := getAt(root, splitPointer(op.Path))
		if err != nil {
			return nil, cmerrors.New(cmerrors.KindPatchAssertionFailed, "path %s: %v", op.Path, err)
		}
		if !deepEqual(got, op.Value) {
			return nil, cmerrors.New(cmerrors.KindPatchAssertionFailed, "path %s: expected %v, got %v", op.Path, op.Value, got)
		}
		return root, nil
	case "move":
		val, err := getAt(root, splitPointer(op.From))
		if err != nil {
			return nil, err
		}
		root, err = removeAt(root, splitPointer(op.From))
		if err != nil {
			return nil, err
		}
		return setAt(root, splitPointer(op.Path), val, true)
	case "copy":
		val, err := getAt(root, splitPointer(op.From))
		if err != nil {
			return nil, err
		}
		return setAt(root, splitPointer(op.Path), deepCopyValue(val), true)
	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

func splitPointer(p string) []string {
	if p == "" || p == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		parts[i] = part
	}
	return parts
}

func getAt(root interface{}, path []string) (interface{}, error) {
	cur := root
	for _, seg := range path {
		switch t := cur.(type) {
		case map[string]interface{}:
			v, ok := t[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found", seg)
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, fmt.Errorf("index %q out of range", seg)
			}
			cur = t[idx]
		default:
			return nil, fmt.Errorf("cannot descend into scalar at %q", seg)
		}
	}
	return cur, nil
}

// setAt sets value at path, creating the path's final key (insert) or
// replacing it if allowCreate is false (replace must already exist).
func setAt(root interface{}, path []string, value interface{}, allowCreate bool) (interface{}, error) {
	if len(path) == 0 {
		return value, nil
	}
	parent, err := getAt(root, path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	last := path[len(path)-1]
	switch t := parent.(type) {
	case map[string]interface{}:
		if !allowCreate {
			if _, ok := t[last]; !ok {
				return nil, fmt.Errorf("key %q not found for replace", last)
			}
		}
		t[last] = value
		return root, nil
	case []interface{}:
		if last == "-" {
			parentOfParent, _ := getAt(root, path[:len(path)-1])
			arr := parentOfParent.([]interface{})
			newArr := append(arr, value)
			return replaceArrayInPlace(root, path[:len(path)-1], newArr)
		}
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx > len(t) {
			return nil, fmt.Errorf("index %q out of range", last)
		}
		if allowCreate {
			newArr := append(t[:idx:idx], append([]interface{}{value}, t[idx:]...)...)
			return replaceArrayInPlace(root, path[:len(path)-1], newArr)
		}
		if idx == len(t) {
			return nil, fmt.Errorf("index %q out of range for replace", last)
		}
		t[idx] = value
		return root, nil
	default:
		return nil, fmt.Errorf("cannot set into scalar parent")
	}
}

func removeAt(root interface{}, path []string) (interface{}, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("cannot remove document root")
	}
	parent, err := getAt(root, path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	last := path[len(path)-1]
	switch t := parent.(type) {
	case map[string]interface{}:
		if _, ok := t[last]; !ok {
			return nil, fmt.Errorf("key %q not found for remove", last)
		}
		delete(t, last)
		return root, nil
	case []interface{}:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(t) {
			return nil, fmt.Errorf("index %q out of range for remove", last)
		}
		newArr := append(t[:idx:idx], t[idx+1:]...)
		return replaceArrayInPlace(root, path[:len(path)-1], newArr)
	default:
		return nil, fmt.Errorf("cannot remove from scalar parent")
	}
}

// replaceArrayInPlace replaces the array living at parentPath with newArr,
// since Go slices can't be mutated in place through an interface{} the
// way maps can.
func replaceArrayInPlace(root interface{}, parentPath []string, newArr []interface{}) (interface{}, error) {
	if len(parentPath) == 0 {
		return newArr, nil
	}
	grandparent, err := getAt(root, parentPath[:len(parentPath)-1])
	if err != nil {
		return nil, err
	}
	last := parentPath[len(parentPath)-1]
	switch t := grandparent.(type) {
	case map[string]interface{}:
		t[last] = newArr
	case []interface{}:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(t) {
			return nil, fmt.Errorf("index %q out of range", last)
		}
		t[idx] = newArr
	}
	return root, nil
}

func deepEqual(a, b interface{}) bool {
	am, aok := a.(map[string]interface{})
	bm, bok := b.(map[string]interface{})
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(v, bv) {
				return false
			}
		}
		return true
	}
	aa, aok := a.([]interface{})
	ba, bok := b.([]interface{})
	if aok && bok {
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !deepEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
