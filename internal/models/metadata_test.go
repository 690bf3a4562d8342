package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataJSON(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"s":"x","n":1.5,"b":true,"z":null,"a":[1,"two"],"o":{"k":false}}`), &m))

	s, ok := m["s"].AsString()
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	n, ok := m["n"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.5, n)

	b, ok := m["b"].AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	assert.True(t, m["z"].IsNull())

	arr, ok := m["a"].AsArray()
	require.True(t, ok)
	require.Len(t, arr, 2)
	assert.Equal(t, KindNumber, arr[0].Kind())
	assert.Equal(t, KindString, arr[1].Kind())

	obj, ok := m["o"].AsObject()
	require.True(t, ok)
	assert.Equal(t, KindBool, obj["k"].Kind())

	_, ok = m["s"].AsNumber()
	assert.False(t, ok)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"x","n":1.5,"b":true,"z":null,"a":[1,"two"],"o":{"k":false}}`, string(data))
}

func TestMetadataNilEncodings(t *testing.T) {
	var m Metadata
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	v, err := m.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, json.Unmarshal([]byte("null"), &m))
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestMetadataSQL(t *testing.T) {
	m := Metadata{"k": String("v"), "n": Number(3)}
	v, err := m.Value()
	require.NoError(t, err)

	var scanned Metadata
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	assert.Equal(t, m, scanned)

	var fromText Metadata
	require.NoError(t, fromText.Scan(v))
	assert.Equal(t, m, fromText)

	var empty Metadata
	require.NoError(t, empty.Scan(nil))
	assert.Equal(t, Metadata{}, empty)

	assert.Error(t, empty.Scan(42))
}

func TestMetadataCloneIsDeep(t *testing.T) {
	m := Metadata{"o": Object(map[string]Value{"k": String("v")})}
	c := m.Clone()

	inner, _ := c["o"].AsObject()
	inner["k"] = String("changed")

	orig, _ := m["o"].AsObject()
	s, _ := orig["k"].AsString()
	assert.Equal(t, "v", s)

	assert.Nil(t, Metadata(nil).Clone())
}

func TestStatusValidation(t *testing.T) {
	assert.True(t, SessionActive.Valid())
	assert.True(t, SessionArchived.Valid())
	assert.False(t, SessionStatus("deleted").Valid())

	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("bot").Valid())

	assert.True(t, MessageError.Valid())
	assert.False(t, MessageStatus("").Valid())
}
