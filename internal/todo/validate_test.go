package todo

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SmartTodo/internal/errors"
)

func TestTodoPatchDecodeDistinguishesNull(t *testing.T) {
	var patch TodoPatch
	require.NoError(t, json.Unmarshal([]byte(`{"category":null,"due_date":"2024-05-10T08:00:00Z"}`), &patch))

	assert.False(t, patch.Text.Set)
	assert.True(t, patch.Category.Set)
	assert.True(t, patch.Category.Null)
	require.True(t, patch.DueDate.Set)
	assert.Equal(t, time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC).UnixMilli(), int64(patch.DueDate.Value))

	normalized, err := patch.normalize()
	require.NoError(t, err)

	todo := &Todo{Category: "work"}
	normalized.Apply(todo)
	assert.Empty(t, todo.Category)
	require.NotNil(t, todo.DueDate)
}

func TestTodoPatchMarshalOmitsUnset(t *testing.T) {
	data, err := json.Marshal(TodoPatch{Completed: Some(true), DueDate: Null[Millis]()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"completed":true,"due_date":null}`, string(data))
}

func TestTodoPatchValidation(t *testing.T) {
	cases := map[string]string{
		"empty":          `{}`,
		"null text":      `{"text":null}`,
		"blank text":     `{"text":"   "}`,
		"null completed": `{"completed":null}`,
		"bad priority":   `{"priority":"urgent"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var patch TodoPatch
			require.NoError(t, json.Unmarshal([]byte(body), &patch))
			_, err := patch.normalize()
			assert.Equal(t, CodeValidationFailed, xerrors.CodeOf(err))
		})
	}
}

func TestEmptyCategoryPatchClearsCategory(t *testing.T) {
	patch, err := TodoPatch{Category: Some("  ")}.normalize()
	require.NoError(t, err)
	assert.True(t, patch.Category.Null)
}

func TestCategoryInputNormalize(t *testing.T) {
	in, err := CategoryInput{Name: "  Books ", Color: "#a1b2c3", Icon: " book "}.normalize()
	require.NoError(t, err)
	assert.Equal(t, "Books", in.Name)
	assert.Equal(t, "#A1B2C3", in.Color)
	assert.Equal(t, "book", in.Icon)

	for _, bad := range []CategoryInput{
		{Name: "", Color: "#000000"},
		{Name: "x", Color: ""},
		{Name: "x", Color: "#0000"},
		{Name: "x", Color: "000000"},
		{Name: strings.Repeat("n", MaxCategoryNameLength+1), Color: "#000000"},
		{Name: "x", Color: "#000000", Icon: strings.Repeat("i", MaxIconLength+1)},
	} {
		_, err := bad.normalize()
		assert.Equal(t, CodeValidationFailed, xerrors.CodeOf(err), "input %+v", bad)
	}
}

func TestCategoryPatchRejectsNullColor(t *testing.T) {
	var patch CategoryPatch
	require.NoError(t, json.Unmarshal([]byte(`{"color":null}`), &patch))
	_, err := patch.normalize()
	assert.Equal(t, CodeValidationFailed, xerrors.CodeOf(err))

	require.NoError(t, json.Unmarshal([]byte(`{"icon":null}`), &patch))
}

func TestNormalizeTags(t *testing.T) {
	tags, err := NormalizeTags([]string{" Go ", "go", "", "Web"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "web"}, tags)

	tags, err = NormalizeTags([]string{" ", ""})
	require.NoError(t, err)
	assert.Nil(t, tags)

	_, err = NormalizeTags([]string{strings.Repeat("t", MaxTagLength+1)})
	assert.Error(t, err)

	many := make([]string, 0, MaxTags+1)
	for i := 0; i <= MaxTags; i++ {
		many = append(many, strings.Repeat("a", i+1))
	}
	_, err = NormalizeTags(many)
	assert.Error(t, err)
}

func TestParseMillis(t *testing.T) {
	ms, err := ParseMillis("1715328000000")
	require.NoError(t, err)
	assert.Equal(t, Millis(1715328000000), ms)

	ms, err = ParseMillis("2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC).UnixMilli(), int64(ms))

	_, err = ParseMillis("next tuesday")
	assert.Error(t, err)
}

func TestMillisRejectsNonIntegralNumbers(t *testing.T) {
	var m Millis
	require.NoError(t, json.Unmarshal([]byte(`1715328000000`), &m))
	assert.Equal(t, Millis(1715328000000), m)

	require.NoError(t, json.Unmarshal([]byte(`1.715328e12`), &m))
	assert.Equal(t, Millis(1715328000000), m)

	for _, raw := range []string{`1715328000000.5`, `1e300`, `-1e300`} {
		err := json.Unmarshal([]byte(raw), &m)
		require.Error(t, err, raw)
		assert.Equal(t, CodeValidationFailed, xerrors.CodeOf(err), raw)
	}

	var in TodoInput
	err := json.Unmarshal([]byte(`{"text":"x","due_date":12.5}`), &in)
	assert.Equal(t, CodeValidationFailed, xerrors.CodeOf(err))
}
