// Package products holds the sellable report catalog.
package products

import (
	"errors"
	"sort"

	"github.com/ariefcatur/fortune-orders/internal/generation"
	"github.com/shopspring/decimal"
)

var ErrUnknownProduct = errors.New("unknown product")

type Product struct {
	ID     int
	NameEN string
	NameZH string
	Price  decimal.Decimal
	// Fields lists the user input keys collected upstream.
	Fields []string
	// RequiresEnrichment gates the Bazi chart lookup.
	RequiresEnrichment bool
	Persona            generation.Persona
	TemplateEN         string
	TemplateZH         string
}

func (p Product) IsFree() bool { return p.Price.Sign() <= 0 }

func (p Product) Name(lang string) string {
	if isChinese(lang) {
		return p.NameZH
	}
	return p.NameEN
}

func (p Product) Template(lang string) string {
	if isChinese(lang) && p.TemplateZH != "" {
		return p.TemplateZH
	}
	return p.TemplateEN
}

type Catalog struct {
	byID map[int]Product
}

func NewCatalog(ps ...Product) *Catalog {
	c := &Catalog{byID: make(map[int]Product, len(ps))}
	for _, p := range ps {
		c.byID[p.ID] = p
	}
	return c
}

func (c *Catalog) Get(id int) (Product, error) {
	p, ok := c.byID[id]
	if !ok {
		return Product{}, ErrUnknownProduct
	}
	return p, nil
}

func (c *Catalog) All() []Product {
	out := make([]Product, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func isChinese(lang string) bool {
	return len(lang) >= 2 && (lang[:2] == "zh" || lang[:2] == "ZH")
}
