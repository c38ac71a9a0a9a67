package products

import (
	"github.com/ariefcatur/fortune-orders/internal/generation"
	"github.com/shopspring/decimal"
)

const (
	DailyTarot = iota + 1
	WeeklyHoroscope
	NameInterpretation
	Compatibility
	BaziChart
	AnnualForecast
)

// Default is the production catalog.
func Default() *Catalog {
	d := decimal.RequireFromString
	return NewCatalog(
		Product{
			ID: DailyTarot, NameEN: "Daily Tarot", NameZH: "每日塔罗", Price: decimal.Zero,
			Persona:    generation.PersonaTarot,
			TemplateEN: "Draw three tarot cards for {{.CurrentDate}} and give a daily tarot reading covering love, career and wellbeing.",
			TemplateZH: "请为 {{.CurrentDate}} 抽取三张塔罗牌，并给出今日塔罗解读，涵盖感情、事业与身心状态。",
		},
		Product{
			ID: WeeklyHoroscope, NameEN: "Weekly Horoscope", NameZH: "星座周运", Price: d("4.99"),
			Fields:     []string{"zodiac"},
			Persona:    generation.PersonaHoroscope,
			TemplateEN: "Write the weekly horoscope for {{input .UserInput \"zodiac\"}} for the week starting {{.CurrentDate}}.",
			TemplateZH: "请为{{input .UserInput \"zodiac\"}}撰写自 {{.CurrentDate}} 起一周的星座运势。",
		},
		Product{
			ID: NameInterpretation, NameEN: "Name Interpretation", NameZH: "姓名解析", Price: d("9.99"),
			Fields:     []string{"name"},
			Persona:    generation.PersonaName,
			TemplateEN: "Interpret the name \"{{input .UserInput \"name\"}}\": meaning, character, strengths and advice.",
			TemplateZH: "请解析姓名“{{input .UserInput \"name\"}}”的含义、性格特征、优势与建议。",
		},
		Product{
			ID: Compatibility, NameEN: "Compatibility", NameZH: "生肖配对", Price: d("9.99"),
			Fields:     []string{"zodiac_a", "zodiac_b"},
			Persona:    generation.PersonaCompatibility,
			TemplateEN: "Analyse the compatibility between {{input .UserInput \"zodiac_a\"}} and {{input .UserInput \"zodiac_b\"}}.",
			TemplateZH: "请分析生肖{{input .UserInput \"zodiac_a\"}}与{{input .UserInput \"zodiac_b\"}}的配对关系。",
		},
		Product{
			ID: BaziChart, NameEN: "Bazi Chart", NameZH: "八字命盘", Price: d("29.99"),
			Fields:             []string{"name", "birthday", "birth_time", "gender"},
			RequiresEnrichment: true,
			Persona:            generation.PersonaBazi,
			TemplateEN: `Write a detailed Bazi report for {{input .UserInput "name" | default "the client"}}, born {{input .UserInput "birthday"}} at {{input .UserInput "birth_time" | default "12:00"}}.
Base the reading on this chart data:
{{.Enrichment}}
Cover personality, career, wealth, relationships, health and advice for {{.CurrentDate}}.`,
			TemplateZH: `请为{{input .UserInput "name" | default "用户"}}撰写一份详细的八字命理报告，出生于 {{input .UserInput "birthday"}} {{input .UserInput "birth_time" | default "12:00"}}。
请以下列八字数据为核心依据：
{{.Enrichment}}
涵盖性格、事业、财运、感情、健康，并给出 {{.CurrentDate}} 起的建议。`,
		},
		Product{
			ID: AnnualForecast, NameEN: "Annual Forecast", NameZH: "流年运势", Price: d("19.99"),
			Fields:     []string{"birthday", "gender"},
			Persona:    generation.PersonaAnnual,
			TemplateEN: "Write the annual forecast for someone born {{input .UserInput \"birthday\"}} for the year beginning {{.CurrentDate}}.",
			TemplateZH: "请为出生于 {{input .UserInput \"birthday\"}} 的用户撰写自 {{.CurrentDate}} 起一年的流年运势。",
		},
	)
}
