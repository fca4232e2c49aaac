package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONEqual_KeyOrderIgnored(t *testing.T) {
	a := []byte(`{"b":2,"a":1,"nested":{"y":[1,2],"x":"v"}}`)
	b := []byte(`{"a":1,"nested":{"x":"v","y":[1,2]},"b":2}`)
	assert.True(t, JSONEqual(a, b))
}

func TestJSONEqual_DifferentValues(t *testing.T) {
	a := []byte(`{"a":1}`)
	b := []byte(`{"a":2}`)
	assert.False(t, JSONEqual(a, b))
}

func TestJSONEqual_ArrayOrderSignificant(t *testing.T) {
	a := []byte(`[1,2,3]`)
	b := []byte(`[3,2,1]`)
	assert.False(t, JSONEqual(a, b))
}

func TestJSONEqual_InvalidInput(t *testing.T) {
	assert.False(t, JSONEqual([]byte(`{`), []byte(`{}`)))
	assert.False(t, JSONEqual([]byte(`{}`), []byte(``)))
}

func TestCanonicalJSON_Stable(t *testing.T) {
	doc := []byte(`{"z":null,"a":[{"k":1,"b":true}]}`)
	c1, err := CanonicalJSON(doc)
	assert.NoError(t, err)
	c2, err := CanonicalJSON(c1)
	assert.NoError(t, err)
	assert.Equal(t, string(c1), string(c2))
}
