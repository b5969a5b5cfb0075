package chatclient

import (
	"bytes"
	"testing"

	"gemini-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderAnchorIsLastRow(t *testing.T) {
	conversations := [][]model.Message{
		nil,
		{{ID: "u1", Role: model.RoleUser, Content: "hi"}},
		{
			{ID: "u1", Role: model.RoleUser, Content: "hi"},
			{ID: "a1", Role: model.RoleAssistant, Content: "hello"},
			{ID: "u2", Role: model.RoleUser, Content: "more"},
		},
	}
	for _, conv := range conversations {
		v := Render(conv)
		require.Len(t, v.Rows, len(conv)+1)
		target := v.ScrollTarget()
		assert.True(t, target.Anchor)
		assert.Equal(t, v.Rows[len(v.Rows)-1], target)
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	conv := []model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello\nthere"},
	}
	assert.Equal(t, Render(conv), Render(conv))

	var first, second bytes.Buffer
	_, err := Render(conv).WriteTo(&first)
	require.NoError(t, err)
	_, err = Render(conv).WriteTo(&second)
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
	assert.Equal(t, "You: hi\nAssistant: hello\nthere\n", first.String())
}

func TestRenderAlignment(t *testing.T) {
	v := Render([]model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "q"},
		{ID: "a1", Role: model.RoleAssistant, Content: "a"},
		{Role: model.RoleSystem, Content: "s"},
	})

	assert.Equal(t, AlignRight, v.Rows[0].Align)
	assert.Equal(t, AlignLeft, v.Rows[1].Align)
	assert.Equal(t, AlignLeft, v.Rows[2].Align)
	assert.Equal(t, "message-2", v.Rows[2].Key)
}

func TestViewLatestSkipsAnchor(t *testing.T) {
	_, ok := Render(nil).Latest()
	assert.False(t, ok)

	v := Render([]model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "hi"},
		{ID: "a1", Role: model.RoleAssistant, Content: "hello"},
	})
	row, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, "a1", row.Key)
	assert.Equal(t, "Assistant", row.Label())
	assert.Equal(t, v.Rows[len(v.Rows)-2], row)
}
