package verify

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/vortex/internal/database"
)

const promptTemplate = `Você é um Auditor Especialista em Integridade de Informação.
Analise a congruência entre a AFIRMAÇÃO e o CONTEXTO documental fornecido.

REGRAS DE RESPOSTA:
1. Resposta estritamente em JSON.
2. Tom clínico, impessoal e direto.
3. Se o contexto não permitir validação, o veredito deve ser [INCONCLUSIVO].

FORMATO:
{
    "veredito": "[VERDADEIRO], [FALSO], [PARCIALMENTE VERDADEIRO] ou [INCONCLUSIVO]",
    "analise": "Descrição técnica da discrepância ou confirmação.",
    "confianca": integer,
    "evidencias": ["citação direta 1", "citação direta 2"]
}

CONTEXTO OBTIDO:
%s

AFIRMAÇÃO ANALISADA:
%s
`

func buildPrompt(claim, evidence string) string {
	return fmt.Sprintf(promptTemplate, evidence, claim)
}

// formatEvidence renders the retrieved articles as the prompt context.
func formatEvidence(articles []database.ScoredArticle, contentChars int) string {
	blocks := make([]string, 0, len(articles))
	for _, a := range articles {
		title := a.Title
		if title == "" {
			title = "Fonte Desconhecida"
		}
		var content string
		if a.Content != nil {
			content = truncate(*a.Content, contentChars)
		}
		blocks = append(blocks, fmt.Sprintf("NOTÍCIA: %s\nCONTEÚDO: %s", title, content))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
