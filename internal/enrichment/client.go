// Package enrichment fetches birth-chart data from the Bazi calculation service.
package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/retry"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	GenderMale   = 1
	GenderFemale = 2

	defaultName      = "用户"
	defaultBirthTime = "12:00"
)

type Config struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	BackoffUnit time.Duration
	// Mock returns synthetic charts when the key is missing or every attempt fails.
	Mock bool
}

type Request struct {
	Name      string
	Birthday  string `validate:"required,datetime=2006-01-02"`
	BirthTime string `validate:"required,datetime=15:04"`
	Gender    int    `validate:"oneof=1 2"`
}

// Chart is the parsed summary plus the response data kept verbatim.
type Chart struct {
	Name      string          `json:"name,omitempty"`
	Birthday  string          `json:"birthday"`
	BirthTime string          `json:"birth_time"`
	Gender    int             `json:"gender"`
	Bazi      json.RawMessage `json:"bazi,omitempty"`
	Wuxing    json.RawMessage `json:"wuxing,omitempty"`
	Analysis  json.RawMessage `json:"analysis,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Mock      bool            `json:"mock,omitempty"`
}

type Client struct {
	cfg      Config
	http     *http.Client
	policy   retry.Policy
	log      *zap.Logger
	validate *validator.Validate
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.policy.Sleep = fn }
}

func New(cfg Config, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
		policy: retry.Policy{
			MaxRetries:  cfg.MaxRetries,
			BaseTimeout: cfg.Timeout,
			BackoffUnit: cfg.BackoffUnit,
		},
		log:      log.Named("enrichment"),
		validate: validator.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Policy() retry.Policy { return c.policy }

// NewRequest fills defaults for the optional fields.
func NewRequest(name, birthday, birthTime string, gender int) Request {
	if strings.TrimSpace(name) == "" {
		name = defaultName
	}
	if _, err := time.Parse("15:04", birthTime); err != nil {
		birthTime = defaultBirthTime
	}
	if gender != GenderFemale {
		gender = GenderMale
	}
	return Request{Name: strings.TrimSpace(name), Birthday: strings.TrimSpace(birthday), BirthTime: birthTime, Gender: gender}
}

// ParseGender accepts numeric codes and common spellings; anything else is male.
func ParseGender(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2", "f", "female", "woman", "女":
		return GenderFemale
	default:
		return GenderMale
	}
}

// Fetch returns the chart for req. Missing or malformed fields fail with fault.Validation
// before any network call.
func (c *Client) Fetch(ctx context.Context, req Request) (*Chart, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fault.New(fault.Validation, "enrichment.fetch", err)
	}
	if c.cfg.APIKey == "" {
		if c.cfg.Mock {
			c.log.Warn("api key not configured, returning mock chart", zap.Bool("mock", true))
			return MockChart(req), nil
		}
		return nil, fault.Newf(fault.Validation, "enrichment.fetch", "api key not configured")
	}

	form := c.form(req)
	chart, err := retry.Do(ctx, c.policy, c.log, "enrichment.fetch", func(ctx context.Context, a retry.Attempt) (*Chart, error) {
		return c.call(ctx, form)
	})
	if err != nil {
		if c.cfg.Mock && ctx.Err() == nil && !fault.Is(err, fault.Validation) {
			c.log.Warn("all attempts failed, returning mock chart", zap.Bool("mock", true), zap.Error(err))
			return MockChart(req), nil
		}
		return nil, err
	}
	chart.Name, chart.Birthday, chart.BirthTime, chart.Gender = req.Name, req.Birthday, req.BirthTime, req.Gender
	return chart, nil
}

func (c *Client) form(req Request) url.Values {
	date, _ := time.Parse("2006-01-02", req.Birthday)
	clock, _ := time.Parse("15:04", req.BirthTime)
	sex := "1"
	if req.Gender == GenderMale {
		sex = "0"
	}
	v := url.Values{}
	v.Set("api_key", c.cfg.APIKey)
	v.Set("name", req.Name)
	v.Set("sex", sex)
	v.Set("type", "1")
	v.Set("year", strconv.Itoa(date.Year()))
	v.Set("month", strconv.Itoa(int(date.Month())))
	v.Set("day", strconv.Itoa(date.Day()))
	v.Set("hours", strconv.Itoa(clock.Hour()))
	v.Set("minute", strconv.Itoa(clock.Minute()))
	v.Set("sect", "2")
	v.Set("zhen", "2")
	v.Set("lang", "zh-cn")
	v.Set("factor", "0")
	return v
}

func (c *Client) call(ctx context.Context, form url.Values) (*Chart, error) {
	const op = "enrichment.call"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fault.New(fault.Validation, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fault.New(fault.Transient, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fault.New(fault.Transient, op, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.Newf(fault.Transient, op, "status %d: %s", resp.StatusCode, snippet(body))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fault.Newf(fault.Auth, op, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fault.Newf(fault.Client, op, "status %d: %s", resp.StatusCode, snippet(body))
	}
	return parse(body)
}

func parse(body []byte) (*Chart, error) {
	const op = "enrichment.parse"
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fault.New(fault.Parse, op, err)
	}
	if !succeeded(envelope) {
		msg := firstString(envelope, "errmsg", "message", "error")
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fault.Newf(fault.Client, op, "rejected: %s", msg)
	}

	data := envelope
	raw := json.RawMessage(body)
	if d, ok := envelope["data"]; ok && len(d) > 0 && string(d) != "null" {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(d, &inner); err != nil {
			return nil, fault.New(fault.Parse, op, err)
		}
		data, raw = inner, d
	}
	return &Chart{
		Bazi:     data["bazi"],
		Wuxing:   data["wuxing"],
		Analysis: data["analysis"],
		Raw:      raw,
	}, nil
}

func succeeded(m map[string]json.RawMessage) bool {
	return scalar(m["errcode"]) == "0" || scalar(m["code"]) == "200" || scalar(m["status"]) == "success"
}

// scalar renders a JSON string or number without quotes.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s := scalar(m[k]); s != "" && s != "null" {
			return s
		}
	}
	return ""
}

func snippet(b []byte) string {
	if len(b) > 200 {
		return string(b[:200])
	}
	return string(b)
}

// MockChart returns a fixed chart that echoes the request identity.
func MockChart(req Request) *Chart {
	c := &Chart{
		Name:      req.Name,
		Birthday:  req.Birthday,
		BirthTime: req.BirthTime,
		Gender:    req.Gender,
		Bazi:      json.RawMessage(`{"heavenly_stems":["庚","戊","乙","辛"],"earthly_branches":["子","辰","巳","酉"],"day_master":"乙木","structure":"偏印格"}`),
		Wuxing:    json.RawMessage(`{"metal":2,"wood":3,"water":2,"fire":1,"earth":2,"favorable":["水","木"]}`),
		Analysis:  json.RawMessage(`{"career":"创新思维，适合文化创意、教育或咨询类行业。","wealth":"财星稳定，重视长期积累。","relationship":"以温柔沟通为主。","health":"注意作息规律。"}`),
		Mock:      true,
	}
	c.Raw, _ = json.Marshal(map[string]any{"bazi": c.Bazi, "wuxing": c.Wuxing, "analysis": c.Analysis})
	return c
}
