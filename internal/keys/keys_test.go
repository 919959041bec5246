package keys

import (
	"testing"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestDefaultKeyMap_KeyAssignments(t *testing.T) {
	k := DefaultKeyMap()
	tests := []struct {
		name     string
		binding  key.Binding
		expected []string
	}{
		{name: "Up uses k and up", binding: k.Up, expected: []string{"k", "up"}},
		{name: "Down uses j and down", binding: k.Down, expected: []string{"j", "down"}},
		{name: "Toggle uses space", binding: k.Toggle, expected: []string{" "}},
		{name: "ToggleAll uses a", binding: k.ToggleAll, expected: []string{"a"}},
		{name: "Confirm uses enter", binding: k.Confirm, expected: []string{"enter"}},
		{name: "Refresh uses r", binding: k.Refresh, expected: []string{"r"}},
		{name: "Quit uses q, esc and ctrl+c", binding: k.Quit, expected: []string{"q", "esc", "ctrl+c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.binding.Keys())
		})
	}
}

func TestDefaultKeyMap_MatchesKeyMessages(t *testing.T) {
	k := DefaultKeyMap()

	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, k.Toggle))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyDown}, k.Down))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")}, k.Up))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyCtrlC}, k.Quit))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyEsc}, k.Quit))
	require.False(t, key.Matches(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}, k.Quit))
}

func TestDefaultKeyMap_HelpTextDefined(t *testing.T) {
	k := DefaultKeyMap()
	for _, group := range k.FullHelp() {
		for _, b := range group {
			require.NotEmpty(t, b.Help().Key)
			require.NotEmpty(t, b.Help().Desc)
		}
	}
	require.Len(t, k.ShortHelp(), 5)
}
