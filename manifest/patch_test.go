package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergePatch_DeletesNullKeys(t *testing.T) {
	doc := map[string]interface{}{"owner": "bob", "scope": "drp"}
	patch := map[string]interface{}{"scope": nil, "extra": "x"}
	got := MergePatch(doc, patch)
	require.Equal(t, map[string]interface{}{"owner": "bob", "extra": "x"}, got)
}

func TestMergePatch_Idempotent(t *testing.T) {
	doc := map[string]interface{}{"owner": "bob", "nested": map[string]interface{}{"a": 1}}
	patch := map[string]interface{}{"owner": "alice", "nested": map[string]interface{}{"b": 2}}

	once := MergePatch(doc, patch)
	twice := MergePatch(once, patch)
	require.Equal(t, once, twice)
}

func TestApplyJSONPatch_AtomicOnTestFailure(t *testing.T) {
	doc := map[string]interface{}{"spec": map[string]interface{}{"owner": "bob_loblaw"}, "meta": map[string]interface{}{}}
	ops := []JSONPatchOp{
		{Op: "test", Path: "/spec/owner", Value: "bob"},
		{Op: "replace", Path: "/spec/owner", Value: "alice"},
		{Op: "add", Path: "/meta/scope", Value: "drp"},
	}
	_, err := ApplyJSONPatch(doc, ops)
	require.Error(t, err)

	// Original doc must be untouched (patch is all-or-nothing).
	require.Equal(t, "bob_loblaw", doc["spec"].(map[string]interface{})["owner"])
	_, hasScope := doc["meta"].(map[string]interface{})["scope"]
	require.False(t, hasScope)
}

func TestApplyJSONPatch_AddReplaceRemove(t *testing.T) {
	doc := map[string]interface{}{"a": 1, "list": []interface{}{1, 2, 3}}
	ops := []JSONPatchOp{
		{Op: "replace", Path: "/a", Value: 2},
		{Op: "add", Path: "/b", Value: "new"},
		{Op: "remove", Path: "/list/1"},
		{Op: "add", Path: "/list/-", Value: 99},
	}
	got, err := ApplyJSONPatch(doc, ops)
	require.NoError(t, err)
	require.Equal(t, float64(2), toFloat(got["a"]))
	require.Equal(t, "new", got["b"])
	require.Equal(t, []interface{}{1, 3, 99}, got["list"])
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return -1
	}
}
