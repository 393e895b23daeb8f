package briefing

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/internal/model/template"
)

const (
	defaultGreeting  = "Olá! Sou o assistente do seu arquiteto e vou fazer algumas perguntas sobre o seu projeto."
	handoffMessage   = "Não consegui entender sua resposta. Um atendente vai continuar a conversa com você em breve."
	abandonMessage   = "Este briefing foi encerrado. Se quiser retomar, é só falar com o seu arquiteto."
	inactiveMessage  = "Encerramos este briefing por falta de resposta. Quando quiser retomar, é só avisar o seu arquiteto."
	failureMessage   = "Tivemos um problema ao continuar o seu briefing. Um atendente vai entrar em contato."
	skipPrefix       = "Sem problemas, vamos seguir."
	answeredPrefix   = "Anotado!"
	notUnderstoodFmt = "Desculpe, não consegui entender. %s"
)

// questionText renders a question, listing enum options as a numbered menu.
func questionText(q briefing.Question) string {
	if q.Type != briefing.TypeEnum || len(q.Options) == 0 {
		return q.Prompt
	}
	var b strings.Builder
	b.WriteString(q.Prompt)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "\n%d) %s", i+1, opt)
	}
	return b.String()
}

func greetingText(tv template.Version) string {
	greeting := strings.TrimSpace(tv.Greeting)
	if greeting == "" {
		greeting = defaultGreeting
	}
	return greeting + "\n\n" + questionText(tv.Questions[0])
}

func clarificationText(q briefing.Question) string {
	if q.Clarification != "" {
		return withOptions(q.Clarification, q)
	}
	var hint string
	switch q.Type {
	case briefing.TypePhone:
		hint = "Informe o telefone com DDD, por exemplo (11) 98765-4321."
	case briefing.TypeDate:
		hint = "Informe uma data, por exemplo 15/08/2025, ou o mês previsto."
	case briefing.TypeNumber:
		hint = "Informe apenas o número, por exemplo 120."
	case briefing.TypeEnum:
		hint = "Responda com uma das opções abaixo."
	default:
		hint = "Pode responder com um pouco mais de detalhe?"
	}
	return fmt.Sprintf(notUnderstoodFmt, hint) + "\n" + questionText(q)
}

func withOptions(text string, q briefing.Question) string {
	if q.Type != briefing.TypeEnum || len(q.Options) == 0 {
		return text
	}
	opts := questionText(briefing.Question{Type: q.Type, Options: q.Options})
	return text + opts
}

func completionText(s briefing.Session) string {
	name := ""
	if rec, ok := s.Answer("client_name"); ok {
		if fields := strings.Fields(rec.Value); len(fields) > 0 {
			name = fields[0]
		}
	}
	if name == "" {
		return "Obrigado! ✅ Recebemos todas as suas respostas. O arquiteto vai analisar o briefing e entrará em contato em breve."
	}
	return fmt.Sprintf("Obrigado, %s! ✅ Recebemos todas as suas respostas. O arquiteto vai analisar o briefing e entrará em contato em breve.", name)
}
