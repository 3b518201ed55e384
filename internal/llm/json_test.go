package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{"plain", `{"veredito": "[FALSO]"}`, map[string]any{"veredito": "[FALSO]"}},
		{"json fence", "```json\n{\"is_fake\": true}\n```", map[string]any{"is_fake": true}},
		{"plain fence", "```\n{\"a\": 1}\n```", map[string]any{"a": float64(1)}},
		{"whitespace", "  \n {\"a\": \"b\"} \n ", map[string]any{"a": "b"}},
		{"prose around object", "Here you go: {\"a\": \"b\"} hope it helps", map[string]any{"a": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON("test", tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "not json at all", "```json\n{broken\n```"} {
		_, err := ParseJSON("groq", input)
		require.Error(t, err, "input %q", input)

		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "groq", perr.Provider)
		assert.Equal(t, input, perr.Raw)
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFence(`{"a":1}`))
	assert.Equal(t, "x", StripCodeFence("```x```"))
}

func TestParseJSONVerdictShape(t *testing.T) {
	reply := "```json\n" + `{
  "veredito": "[PARCIALMENTE VERDADEIRO]",
  "analise": "O contexto confirma parte da afirmação.",
  "confianca": 70,
  "evidencias": ["citação 1", "citação 2"]
}` + "\n```"

	got, err := ParseJSON("anthropic", reply)
	require.NoError(t, err)
	assert.Equal(t, "[PARCIALMENTE VERDADEIRO]", got["veredito"])
	assert.Equal(t, float64(70), got["confianca"])
	assert.Len(t, got["evidencias"], 2)
}
