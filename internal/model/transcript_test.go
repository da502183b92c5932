package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeIsConcatenation(t *testing.T) {
	prior := Transcript{Items: []Item{
		NewMessage(RoleUser, "hello"),
		NewMessage(RoleAssistant, "hi there"),
	}}
	next := Transcript{Items: []Item{
		NewMessage(RoleUser, "weather?"),
		NewFunctionCall("call_1", "get_weather", `{"city":"Oslo"}`),
		NewFunctionCallOutput("call_1", "Clear sky"),
		NewMessage(RoleAssistant, "Clear in Oslo!"),
	}}

	merged := Merge(prior, next)
	require.Equal(t, append(append([]Item{}, prior.Items...), next.Items...), merged.Items)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	prior := Transcript{Items: []Item{NewMessage(RoleUser, "a")}}
	next := Transcript{Items: []Item{NewMessage(RoleUser, "b")}}

	merged := Merge(prior, next)
	merged.Items[0].Content = "mutated"

	require.Equal(t, "a", prior.Items[0].Content)
}

func TestMergeWithEmptySides(t *testing.T) {
	items := []Item{NewMessage(RoleUser, "only")}

	require.Equal(t, items, Merge(Transcript{}, Transcript{Items: items}).Items)
	require.Equal(t, items, Merge(Transcript{Items: items}, Transcript{}).Items)
	require.Empty(t, Merge(Transcript{}, Transcript{}).Items)
}

func TestWithoutHandoffs(t *testing.T) {
	tr := Transcript{Items: []Item{
		NewMessage(RoleUser, "hi"),
		NewHandoff(),
		NewMessage(RoleAssistant, "hello"),
		NewHandoff(),
	}}

	stripped := tr.WithoutHandoffs()
	require.Len(t, stripped.Items, 2)
	for _, item := range stripped.Items {
		require.NotEqual(t, ItemTypeHandoff, item.Type)
	}
	// Order of the survivors is preserved.
	require.Equal(t, "hi", stripped.Items[0].Content)
	require.Equal(t, "hello", stripped.Items[1].Content)
}

func TestSummarize(t *testing.T) {
	tr := Transcript{Items: []Item{
		NewMessage(RoleUser, "one"),
		NewMessage(RoleAssistant, "reply"),
		NewFunctionCall("c1", "get_weather", "{}"),
		NewFunctionCallOutput("c1", "sunny"),
		NewMessage(RoleUser, "two"),
		NewHandoff(),
	}}

	stats := tr.Summarize()
	require.Equal(t, 6, stats.Items)
	require.Equal(t, 2, stats.UserMessages)
	require.Equal(t, 1, stats.ToolCalls)
}

func TestItemValidate(t *testing.T) {
	require.NoError(t, NewMessage(RoleUser, "hi").Validate())
	require.NoError(t, NewFunctionCall("c1", "get_weather", "{}").Validate())
	require.NoError(t, NewFunctionCallOutput("c1", "out").Validate())
	require.NoError(t, NewHandoff().Validate())

	require.Error(t, Item{Type: ItemTypeMessage, Role: "robot"}.Validate())
	require.Error(t, Item{Type: ItemTypeFunctionCall}.Validate())
	require.Error(t, Item{Type: ItemTypeFunctionCallOutput}.Validate())
	require.Error(t, Item{Type: "telepathy"}.Validate())
}
