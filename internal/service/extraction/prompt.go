package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// 注意：eino FString 模板中的花括号是占位符，系统提示里不要出现字面量花括号。
const extractionSystemPrompt = "Você é um assistente que extrai respostas estruturadas de mensagens de clientes de arquitetos brasileiros, recebidas pelo WhatsApp.\n" +
	"Analise a mensagem do cliente em relação à pergunta atual e responda somente com um objeto JSON com os campos: " +
	"valid (boolean, true se a mensagem responde a pergunta), value (string com a resposta normalizada), " +
	"confidence (número entre 0 e 1), reason (explicação curta), insight (string opcional com informações úteis que o cliente mencionou mas que não respondem a pergunta atual).\n" +
	"Regras: para perguntas do tipo enum, value deve ser exatamente uma das opções; para phone, use o formato +55DDNNNNNNNNN; " +
	"para date, use AAAA-MM-DD ou AAAA-MM; para number, apenas dígitos com ponto decimal. " +
	"Se o cliente disser que não sabe ou a mensagem não tiver relação com a pergunta, valid deve ser false. Não escreva nada além do JSON."

const extractionUserPrompt = "Pergunta (id={question_id}, tipo={question_type}, obrigatória={required}):\n{question}\n\nOpções válidas: {options}\n\nMensagem do cliente:\n{message}"

// promptVariables 构造模板变量，LLM 与 OpenAI 两种实现共用。
func promptVariables(text string, q briefing.Question) map[string]any {
	options := "nenhuma (resposta livre)"
	if len(q.Options) > 0 {
		options = strings.Join(q.Options, " | ")
	}
	required := "não"
	if q.Required {
		required = "sim"
	}
	qType := string(q.Type)
	if qType == "" {
		qType = string(briefing.TypeText)
	}
	return map[string]any{
		"question_id":   q.ID,
		"question_type": qType,
		"required":      required,
		"question":      q.Prompt,
		"options":       options,
		"message":       strings.TrimSpace(text),
	}
}

// renderUserPrompt 用简单替换渲染用户提示（OpenAI 实现不经过 eino 模板）。
func renderUserPrompt(vars map[string]any) string {
	out := extractionUserPrompt
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
	}
	return out
}

type modelPayload struct {
	Valid      bool    `json:"valid"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Insight    string  `json:"insight"`
}

// parseModelOutput 从模型回复中截取第一个 JSON 对象并解析。
func parseModelOutput(content string) (Result, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return Result{}, fmt.Errorf("missing json object")
	}

	payload := &modelPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return Result{}, err
	}

	value := ""
	switch v := payload.Value.(type) {
	case nil:
	case string:
		value = strings.TrimSpace(v)
	default:
		value = strings.TrimSpace(fmt.Sprint(v))
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Valid:      payload.Valid && value != "",
		Value:      value,
		Confidence: confidence,
		Reason:     strings.TrimSpace(payload.Reason),
		Insight:    strings.TrimSpace(payload.Insight),
	}, nil
}
