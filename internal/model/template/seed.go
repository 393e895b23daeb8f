package template

import "github.com/zhouzirui/briefing/backend/internal/model/briefing"

// Seed provides the default template versions shipped with the service.
func Seed() []Version {
	return []Version{
		{
			TemplateID: "basico",
			Number:     1,
			Name:       "Briefing básico",
			Category:   "geral",
			Greeting:   "Olá! Sou o assistente do seu arquiteto e vou fazer algumas perguntas rápidas sobre o seu projeto.",
			Questions: []briefing.Question{
				{ID: "client_name", Prompt: "Qual é o seu nome completo?", Type: briefing.TypeText, Required: true, MinLength: 3},
				{ID: "project_type", Prompt: "Que tipo de projeto você deseja realizar?", Type: briefing.TypeText, Required: true},
			},
		},
		{
			TemplateID: "reforma",
			Number:     1,
			Name:       "Reforma residencial",
			Category:   "reforma",
			Greeting:   "Olá! Vamos levantar as informações da sua reforma. Pode responder no seu tempo.",
			Questions: []briefing.Question{
				{ID: "client_name", Prompt: "Qual é o seu nome completo?", Type: briefing.TypeText, Required: true, MinLength: 3},
				{
					ID:            "property_type",
					Prompt:        "O imóvel é casa ou apartamento?",
					Type:          briefing.TypeEnum,
					Required:      true,
					Options:       []string{"Casa", "Apartamento"},
					Clarification: "Só para confirmar: o imóvel é uma casa ou um apartamento?",
				},
				{ID: "rooms", Prompt: "Quais ambientes você pretende reformar?", Type: briefing.TypeText, Required: true},
				{ID: "area_m2", Prompt: "Qual é a área aproximada em m²?", Type: briefing.TypeNumber, Required: false},
				{ID: "budget", Prompt: "Qual é o orçamento previsto (em R$)?", Type: briefing.TypeNumber, Required: false},
				{ID: "start_date", Prompt: "Para quando você gostaria de iniciar a obra?", Type: briefing.TypeDate, Required: false},
				{ID: "contact_phone", Prompt: "Qual telefone podemos usar para agendar a visita técnica?", Type: briefing.TypePhone, Required: true},
			},
		},
		{
			TemplateID: "residencial",
			Number:     1,
			Name:       "Construção residencial",
			Category:   "residencial",
			Questions: []briefing.Question{
				{ID: "client_name", Prompt: "Qual é o seu nome completo?", Type: briefing.TypeText, Required: true, MinLength: 3},
				{ID: "lot_size", Prompt: "Qual é o tamanho do terreno em m²?", Type: briefing.TypeNumber, Required: true},
				{ID: "bedrooms", Prompt: "Quantos quartos a casa deve ter?", Type: briefing.TypeNumber, Required: true},
				{
					ID:       "style",
					Prompt:   "Qual estilo arquitetônico você prefere?",
					Type:     briefing.TypeEnum,
					Required: false,
					Options:  []string{"Moderno", "Clássico", "Rústico", "Minimalista"},
				},
				{ID: "deadline", Prompt: "Qual é o prazo desejado para conclusão?", Type: briefing.TypeDate, Required: false},
			},
		},
	}
}
