package generation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"
)

// PromptData is the template context for a report prompt.
type PromptData struct {
	ProductID   int
	ProductName string
	Language    string
	UserInput   map[string]any
	// Enrichment is the enrichment payload as indented JSON, empty when absent.
	Enrichment  string
	CurrentDate string
}

func NewPromptData(productID int, productName, lang string, input map[string]any, enrichment json.RawMessage, now time.Time) PromptData {
	d := PromptData{
		ProductID:   productID,
		ProductName: productName,
		Language:    lang,
		UserInput:   input,
		CurrentDate: now.Format("2006-01-02"),
	}
	if d.UserInput == nil {
		d.UserInput = map[string]any{}
	}
	if len(enrichment) > 0 {
		var v any
		if err := json.Unmarshal(enrichment, &v); err == nil {
			if b, err := json.MarshalIndent(v, "", "  "); err == nil {
				d.Enrichment = string(b)
			}
		}
		if d.Enrichment == "" {
			d.Enrichment = string(enrichment)
		}
	}
	return d
}

var funcs = template.FuncMap{
	"input": func(m map[string]any, key string) string {
		if v, ok := m[key]; ok && v != nil {
			return strings.TrimSpace(fmt.Sprint(v))
		}
		return ""
	},
	"default": func(def, v string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	},
}

// RenderPrompt executes tmpl against data. Missing map keys render as empty.
func RenderPrompt(tmpl string, data PromptData) (string, error) {
	t, err := template.New("prompt").Funcs(funcs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return b.String(), nil
}

// FallbackPrompt is used when a template cannot be rendered.
func FallbackPrompt(data PromptData) string {
	zh := isChinese(data.Language)
	if len(data.UserInput) == 0 {
		if zh {
			return fmt.Sprintf("请根据当前日期 %s 生成占卜报告。", data.CurrentDate)
		}
		return fmt.Sprintf("Please write a fortune report for today's date, %s.", data.CurrentDate)
	}

	keys := make([]string, 0, len(data.UserInput))
	for k := range data.UserInput {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, data.UserInput[k]))
	}

	var b strings.Builder
	if zh {
		fmt.Fprintf(&b, "请根据以下用户信息生成报告：%s", strings.Join(pairs, ", "))
		if data.Enrichment != "" {
			fmt.Fprintf(&b, "\n\n八字数据：%s", data.Enrichment)
		}
	} else {
		fmt.Fprintf(&b, "Please write a fortune report using this information: %s", strings.Join(pairs, ", "))
		if data.Enrichment != "" {
			fmt.Fprintf(&b, "\n\nChart data: %s", data.Enrichment)
		}
	}
	return b.String()
}
