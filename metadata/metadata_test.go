package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAccessors(t *testing.T) {
	i, ok := Int(42).AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(42), i)

	_, ok = Int(42).AsString()
	assert.False(t, ok)

	s, ok := String("theme").AsString()
	require.True(t, ok)
	assert.Equal(t, "theme", s)

	f, ok := Float(2.5).AsFloat64()
	require.True(t, ok)
	assert.Equal(t, 2.5, f)

	b, ok := Bool(true).AsBool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, String("x").Equal(String("x")))
	assert.False(t, String("x").Equal(String("y")))
	assert.False(t, Int(1).Equal(Float(1)))
	assert.True(t, Bool(false).Equal(Bool(false)))
}

func TestFromMapRoundTrip(t *testing.T) {
	doc, err := FromMap(map[string]any{
		"theme":      "technology",
		"confidence": 0.93,
		"segment":    int64(7),
		"reviewed":   true,
	})
	require.NoError(t, err)

	m := doc.ToMap()
	assert.Equal(t, "technology", m["theme"])
	assert.Equal(t, 0.93, m["confidence"])
	assert.Equal(t, int64(7), m["segment"])
	assert.Equal(t, true, m["reviewed"])
}

func TestFromMapRejectsUnsupportedType(t *testing.T) {
	_, err := FromMap(map[string]any{"bad": []string{"nope"}})
	assert.Error(t, err)
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	doc := Document{"theme": String("a")}
	clone := doc.Clone()
	clone["theme"] = String("b")

	v, _ := doc["theme"].AsString()
	assert.Equal(t, "a", v)
}

func TestCloneIfNeeded(t *testing.T) {
	assert.Nil(t, CloneIfNeeded(nil))
	assert.Nil(t, CloneIfNeeded(Document{}))

	doc := Document{"theme": String("a")}
	clone := CloneIfNeeded(doc)
	require.NotNil(t, clone)
	clone["theme"] = String("b")

	v, _ := doc["theme"].AsString()
	assert.Equal(t, "a", v)
}

func TestBinaryRoundTrip(t *testing.T) {
	doc := Document{
		"theme":      String("technology"),
		"confidence": Float(0.85),
		"segment":    Int(-3),
		"reviewed":   Bool(true),
	}

	data, err := doc.MarshalBinary()
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, decoded.UnmarshalBinary(data))

	require.Len(t, decoded, len(doc))
	for k, v := range doc {
		assert.True(t, decoded[k].Equal(v), "key %q", k)
	}
}

func TestBinaryEncodingIsDeterministic(t *testing.T) {
	doc := Document{
		"b": Int(2),
		"a": Int(1),
		"c": Int(3),
	}

	first, err := doc.MarshalBinary()
	require.NoError(t, err)
	second, err := doc.MarshalBinary()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUnmarshalTruncated(t *testing.T) {
	doc := Document{"theme": String("technology")}
	data, err := doc.MarshalBinary()
	require.NoError(t, err)

	var decoded Document
	assert.Error(t, decoded.UnmarshalBinary(data[:len(data)-3]))
}

func TestValueBinaryRoundTrip(t *testing.T) {
	for _, v := range []Value{Int(9), Float(1.5), String("x"), Bool(true)} {
		buf := AppendValue(nil, v)
		got, rest, err := ReadValue(buf)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.True(t, got.Equal(v))
	}
}
