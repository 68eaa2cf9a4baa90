package canon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	// Verify all types implement Value (compile-time check via assignment)
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{
		"zebra":  String("z"),
		"apple":  String("a"),
		"banana": String("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestObjectSortedKeysRFC8785Order(t *testing.T) {
	// UTF-16 code unit ordering: 'A' (65) sorts before 'a' (97)
	obj := Object{
		"a":  Int(1),
		"A":  Int(2),
		"aa": Int(3),
		"aA": Int(4),
		"Aa": Int(5),
		"AA": Int(6),
	}

	expected := []string{"A", "AA", "Aa", "a", "aA", "aa"}
	assert.Equal(t, expected, obj.SortedKeys())
}

func TestParseValueRejectsFloats(t *testing.T) {
	_, err := ParseValue([]byte(`{"weight": 1.5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestParseValueAllowsNull(t *testing.T) {
	v, err := ParseValue([]byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, Null{}, v)
}

func TestParseValueNestedObject(t *testing.T) {
	v, err := ParseValue([]byte(`{"name":"elara","age":120,"titles":["warden","seer"],"alive":true}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("elara"), obj["name"])
	assert.Equal(t, Int(120), obj["age"])
	assert.Equal(t, Array{String("warden"), String("seer")}, obj["titles"])
	assert.Equal(t, Bool(true), obj["alive"])
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{
		"location": String("blackmoor"),
		"level":    Int(3),
		"flags":    Array{Bool(true), Null{}},
	}

	data, err := json.Marshal(obj)
	require.NoError(t, err)

	var got Object
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, Equal(obj, got))
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal strings", String("x"), String("x"), true},
		{"different strings", String("x"), String("y"), false},
		{"string vs int", String("1"), Int(1), false},
		{"equal nulls", Null{}, Null{}, true},
		{"equal arrays", Array{Int(1), Int(2)}, Array{Int(1), Int(2)}, true},
		{"reordered arrays", Array{Int(1), Int(2)}, Array{Int(2), Int(1)}, false},
		{"equal objects", Object{"a": Int(1)}, Object{"a": Int(1)}, true},
		{"missing key", Object{"a": Int(1)}, Object{"b": Int(1)}, false},
		{"nested", Object{"a": Array{String("x")}}, Object{"a": Array{String("x")}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(Null{}))
	assert.False(t, IsNull(String("")))
	assert.False(t, IsNull(Int(0)))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	obj := Object{
		"b": Int(2),
		"a": Int(1),
		"c": Object{"y": String("inner"), "x": Bool(false)},
	}

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	second, err := MarshalCanonical(obj)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, `{"a":1,"b":2,"c":{"x":false,"y":"inner"}}`, string(first))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	data, err := MarshalCanonical(String("<alive> & well"))
	require.NoError(t, err)
	assert.Equal(t, `"<alive> & well"`, string(data))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"weight": 1.5})
	require.Error(t, err)
}

func TestMarshalCanonicalNull(t *testing.T) {
	data, err := MarshalCanonical(Null{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
