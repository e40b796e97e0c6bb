package portal

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spigell/talent-screener/internal/source"
	"go.uber.org/zap"
)

// searchParams are the query parameters understood by the portal. Filters
// from the run are decoded into it; unknown filters are passed through as is.
type searchParams struct {
	Text       string   `param:"text"`
	Cities     []string `param:"city" mapstructure:"city"`
	Experience string   `param:"experience" mapstructure:"experience"`
	Education  string   `param:"education" mapstructure:"education"`
	Salary     int      `param:"salary" mapstructure:"salary"`
	Period     int      `param:"period" mapstructure:"period"`
	OrderBy    string   `param:"order_by" mapstructure:"order_by"`
	Page       int      `param:"page"`
	PerPage    int      `param:"per_page"`
}

// candidate is the portal's item layout.
type candidate struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Skills     []string `json:"skills"`
	Experience float64  `json:"experience_years"`
	Title      string   `json:"title"`
	Resume     string   `json:"resume_text"`
}

// Search opens a stream positioned at cursor ("page:index", empty is the
// first item of the first page).
func (c *Client) Search(ctx context.Context, q source.Query, cursor source.Cursor) (source.Stream, error) {
	page, index, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	params, extra, err := decodeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	params.Text = strings.Join(q.Keywords, " ")
	params.PerPage = c.PerPage
	if q.MaxResults > 0 && q.MaxResults < params.PerPage {
		params.PerPage = q.MaxResults
	}

	return &stream{
		client: c,
		params: params,
		extra:  extra,
		page:   page,
		skip:   index,
	}, nil
}

type stream struct {
	client *Client
	params searchParams
	extra  url.Values

	page    int
	skip    int
	items   []map[string]any
	pos     int
	pages   int
	fetched bool
}

func (s *stream) Next(ctx context.Context) (*source.RawCandidate, error) {
	for {
		if s.pos < len(s.items) {
			raw := s.items[s.pos]
			s.pos++

			cand, err := toCandidate(raw)
			if err != nil {
				return nil, err
			}

			next := fmt.Sprintf("%d:%d", s.page, s.pos)
			if s.pos >= len(s.items) {
				next = fmt.Sprintf("%d:0", s.page+1)
			}
			return cand.withCursor(source.Cursor(next)), nil
		}

		if s.fetched {
			if s.page+1 >= s.pages {
				return nil, source.ErrExhausted
			}
			s.page++
			s.skip = 0
		}

		if err := s.fetch(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *stream) fetch(ctx context.Context) error {
	s.params.Page = s.page
	q := buildParams(&s.params)
	for key, values := range s.extra {
		for _, v := range values {
			q.Add(key, v)
		}
	}

	resp, err := s.client.getPage(ctx, q)
	if err != nil {
		return err
	}

	s.client.logger.Debug("got candidates page",
		zap.Int("page", resp.Page),
		zap.Int("pages", resp.Pages),
		zap.Int("items", len(resp.Items)),
	)

	s.fetched = true
	s.pages = resp.Pages
	s.items = resp.Items
	s.pos = s.skip
	if s.pos > len(s.items) {
		s.pos = len(s.items)
	}
	if len(resp.Items) == 0 {
		s.pages = 0
	}
	return nil
}

func (s *stream) Close() error {
	return nil
}

func (c candidate) withCursor(cursor source.Cursor) *source.RawCandidate {
	payload := map[string]any{
		"name":                c.Name,
		"email":               c.Email,
		"phone":               c.Phone,
		"skills":              c.Skills,
		"years_of_experience": c.Experience,
		"summary":             c.Title,
		"text":                c.Resume,
	}
	return &source.RawCandidate{
		ExternalID: c.ID,
		Source:     name,
		Payload:    payload,
		Cursor:     cursor,
	}
}

func toCandidate(item map[string]any) (candidate, error) {
	var out candidate
	cfg := &mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(item); err != nil {
		return out, fmt.Errorf("decode portal candidate: %w", err)
	}
	return out, nil
}

func decodeFilters(filters map[string]string) (searchParams, url.Values, error) {
	var params searchParams
	if len(filters) == 0 {
		return params, url.Values{}, nil
	}

	input := make(map[string]any, len(filters))
	for k, v := range filters {
		if k == "city" {
			input[k] = splitList(v)
			continue
		}
		input[k] = v
	}

	var md mapstructure.Metadata
	cfg := &mapstructure.DecoderConfig{
		Result:           &params,
		Metadata:         &md,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return params, nil, err
	}
	if err := decoder.Decode(input); err != nil {
		return params, nil, fmt.Errorf("decode search filters: %w", err)
	}

	extra := url.Values{}
	sort.Strings(md.Unused)
	for _, key := range md.Unused {
		extra.Set(key, filters[key])
	}
	return params, extra, nil
}

func buildParams(params *searchParams) url.Values {
	q := url.Values{}
	value := reflect.ValueOf(params).Elem()
	for _, field := range reflect.VisibleFields(value.Type()) {
		key := field.Tag.Get("param")
		if key == "" {
			continue
		}

		fv := value.FieldByIndex(field.Index)
		switch field.Type.Kind() {
		case reflect.Slice:
			if s, ok := fv.Interface().([]string); ok {
				for _, item := range s {
					q.Add(key, item)
				}
			}
		default:
			v := fmt.Sprintf("%v", fv.Interface())
			if v != "" && (v != "0" || key == "page") {
				q.Set(key, v)
			}
		}
	}
	return q
}

func parseCursor(cursor source.Cursor) (int, int, error) {
	if cursor == "" {
		return 0, 0, nil
	}
	pageStr, indexStr, ok := strings.Cut(string(cursor), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid portal cursor %q", cursor)
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0, 0, fmt.Errorf("invalid portal cursor %q", cursor)
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("invalid portal cursor %q", cursor)
	}
	return page, index, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
