package extraction

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mappingExport = `[
  {
    "title": "Sync ideas",
    "mapping": {
      "n3": {"message": {"author": {"role": "assistant"}, "create_time": 30, "content": {"parts": ["Try CRDTs."]}}},
      "root": {"message": null},
      "n1": {"message": {"author": {"role": "user"}, "create_time": 10, "content": {"parts": ["How do I sync", "two phones?"]}}},
      "n2": {"message": {"author": {"role": "system"}, "create_time": 10, "content": {"text": "tie after n1"}}}
    }
  },
  {
    "messages": [
      {"role": "user", "text": "flat user"},
      {"role": "assistant", "content": [{"type": "text", "text": "flat assistant"}]},
      {"content": "ignored scalar"}
    ]
  },
  {"title": "empty", "mapping": {}}
]`

func collectConversations(t *testing.T, export string, opts ConversationOptions) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	err := streamConversations(context.Background(), strings.NewReader(export), opts, func(raw json.RawMessage) error {
		out = append(out, append(json.RawMessage(nil), raw...))
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestConversationText_MappingOrderedByCreateTime(t *testing.T) {
	t.Parallel()

	convs := collectConversations(t, mappingExport, ConversationOptions{})
	require.Len(t, convs, 3)

	text, title, ok := ConversationText(convs[0], 1, RolesBoth)
	require.True(t, ok)
	assert.Equal(t, "Sync ideas", title)
	assert.Equal(t, "[CONV: Sync ideas]\nUSER: How do I sync\ntwo phones?\n\nSYSTEM: tie after n1\n\nASSISTANT: Try CRDTs.", text)
}

func TestConversationText_FlatMessagesAndPlaceholderTitle(t *testing.T) {
	t.Parallel()

	convs := collectConversations(t, mappingExport, ConversationOptions{})
	text, title, ok := ConversationText(convs[1], 2, RolesBoth)
	require.True(t, ok)
	assert.Equal(t, "Conversation 2", title)
	assert.Equal(t, "[CONV: Conversation 2]\nUSER: flat user\n\nASSISTANT: flat assistant", text)

	_, _, ok = ConversationText(convs[2], 3, RolesBoth)
	assert.False(t, ok)
}

func TestConversationText_RoleFilter(t *testing.T) {
	t.Parallel()

	convs := collectConversations(t, mappingExport, ConversationOptions{})

	text, _, ok := ConversationText(convs[0], 1, RolesUser)
	require.True(t, ok)
	assert.Equal(t, "[CONV: Sync ideas]\nUSER: How do I sync\ntwo phones?", text)

	text, _, ok = ConversationText(convs[1], 2, RolesAssistant)
	require.True(t, ok)
	assert.Equal(t, "[CONV: Conversation 2]\nASSISTANT: flat assistant", text)
}

func TestConversationText_Malformed(t *testing.T) {
	t.Parallel()

	_, _, ok := ConversationText(json.RawMessage(`"not an object"`), 1, RolesBoth)
	assert.False(t, ok)

	text, title, ok := ConversationText(json.RawMessage(`{"title": 7, "mapping": "bad", "messages": [{"role":"user","parts":["p"]}]}`), 4, RolesBoth)
	require.True(t, ok)
	assert.Equal(t, "Conversation 4", title)
	assert.Equal(t, "[CONV: Conversation 4]\nUSER: p", text)
}

func TestMessageText_Strategies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"content parts", `{"content": {"parts": ["a", 3, "b"]}}`, "a\nb"},
		{"content scalar text", `{"content": {"text": "scalar"}}`, "scalar"},
		{"content text objects", `{"content": {"text": [{"value": "v1"}, {"text": "t2"}, "skip"]}}`, "v1\nt2"},
		{"content items", `{"content": ["s", {"text": "t"}, {"value": "v"}]}`, "s\nt\nv"},
		{"message text", `{"text": "top"}`, "top"},
		{"message parts", `{"parts": ["x", "y"]}`, "x\ny"},
		{"blank parts fall through", `{"content": {"parts": ["  "]}, "text": "fallback"}`, "fallback"},
		{"nothing", `{"content": 42}`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var msg map[string]any
			require.NoError(t, json.Unmarshal([]byte(tc.msg), &msg))
			assert.Equal(t, tc.want, MessageText(msg))
		})
	}
	assert.Equal(t, "", MessageText(nil))
}

func TestStreamConversations_ObjectWrapped(t *testing.T) {
	t.Parallel()

	export := `{"meta": {"v": [1, {"x": [2]}]}, "conversations": [{"title": "a"}, {"title": "b"}], "tail": true}`
	assert.Len(t, collectConversations(t, export, ConversationOptions{}), 2)

	first := `{"meta": "x", "items": [{"title": "only"}]}`
	assert.Len(t, collectConversations(t, first, ConversationOptions{}), 1)

	named := `{"drafts": [{"title": "no"}], "threads": [{"title": "a"}, {"title": "b"}, {"title": "c"}]}`
	assert.Len(t, collectConversations(t, named, ConversationOptions{ArrayField: "threads"}), 3)
	assert.Len(t, collectConversations(t, named, ConversationOptions{}), 1, "only the first array is read")
}

func TestStreamConversations_Errors(t *testing.T) {
	t.Parallel()

	noop := func(json.RawMessage) error { return nil }
	ctx := context.Background()

	require.Error(t, streamConversations(ctx, strings.NewReader(`"str"`), ConversationOptions{}, noop))
	require.Error(t, streamConversations(ctx, strings.NewReader(`{"a": 1}`), ConversationOptions{}, noop))
	require.Error(t, streamConversations(ctx, strings.NewReader(`[{"title": "x"}`), ConversationOptions{}, noop))
	require.Error(t, streamConversations(ctx, strings.NewReader(``), ConversationOptions{}, noop))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, streamConversations(cancelled, strings.NewReader(`[{"title": "x"}]`), ConversationOptions{}, noop))
}

func TestParseRoleFilter(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]RoleFilter{"": RolesBoth, "both": RolesBoth, "ALL": RolesBoth, "user": RolesUser, " Assistant ": RolesAssistant} {
		got, err := ParseRoleFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseRoleFilter("tool")
	assert.Error(t, err)
}

func TestSplitPseudoPages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"abc", "def", "g"}, SplitPseudoPages("abcdefg", 3))
	assert.Equal(t, []string{"日本", "語"}, SplitPseudoPages("日本語", 2))
	assert.Nil(t, SplitPseudoPages("", 3))
	assert.Nil(t, SplitPseudoPages(" \n ", 3))
	assert.Equal(t, strings.Repeat("a", 10), strings.Join(SplitPseudoPages(strings.Repeat("a", 10), 4), ""))
}
