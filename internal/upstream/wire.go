package upstream

import (
	"encoding/json"
	"strconv"
	"strings"

	"dramastream/aggregator/internal/domain"
)

// listResponse is the common envelope of the CMS catalog dialect. Paging
// fields arrive as numbers from some deployments and quoted strings from
// others, hence the flexible scalar types.
type listResponse struct {
	Code      int         `json:"code"`
	Msg       string      `json:"msg"`
	Page      flexInt     `json:"page"`
	PageCount flexInt     `json:"pagecount"`
	Total     flexInt     `json:"total"`
	List      []vodRecord `json:"list"`
}

type vodRecord struct {
	ID       flexString `json:"vod_id"`
	Name     string     `json:"vod_name"`
	Pic      string     `json:"vod_pic"`
	Remarks  string     `json:"vod_remarks"`
	Year     string     `json:"vod_year"`
	TypeName string     `json:"type_name"`
	PlayURL  string     `json:"vod_play_url"`
	Content  string     `json:"vod_content"`
	Actor    string     `json:"vod_actor"`
	Director string     `json:"vod_director"`
	Area     string     `json:"vod_area"`
	Time     string     `json:"vod_time"`
}

func (r vodRecord) toSearchItem() domain.SearchItem {
	return domain.SearchItem{
		ID:       r.ID.String(),
		Title:    strings.TrimSpace(r.Name),
		Cover:    strings.TrimSpace(r.Pic),
		Remarks:  strings.TrimSpace(r.Remarks),
		Year:     strings.TrimSpace(r.Year),
		TypeName: strings.TrimSpace(r.TypeName),
		Episodes: ParsePlayURL(r.PlayURL),
	}
}

func (r vodRecord) toCatalogItem() domain.CatalogItem {
	return domain.CatalogItem{
		ID:        r.ID.String(),
		Title:     strings.TrimSpace(r.Name),
		Cover:     strings.TrimSpace(r.Pic),
		Remarks:   strings.TrimSpace(r.Remarks),
		UpdatedAt: strings.TrimSpace(r.Time),
		TypeName:  strings.TrimSpace(r.TypeName),
	}
}

func (r vodRecord) toDetail() domain.Detail {
	return domain.Detail{
		ID:       r.ID.String(),
		Title:    strings.TrimSpace(r.Name),
		Cover:    strings.TrimSpace(r.Pic),
		Remarks:  strings.TrimSpace(r.Remarks),
		Blurb:    stripTags(r.Content),
		Actor:    strings.TrimSpace(r.Actor),
		Director: strings.TrimSpace(r.Director),
		Area:     strings.TrimSpace(r.Area),
		Year:     strings.TrimSpace(r.Year),
		TypeName: strings.TrimSpace(r.TypeName),
		Episodes: ParsePlayURL(r.PlayURL),
	}
}

// flexString accepts both `"123"` and `123` on the wire.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*f = ""
		return nil
	}
	if raw[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*f = flexString(number.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// flexInt accepts `7`, `"7"`, and absent/null, all as an int.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*f = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	if raw == "" {
		*f = 0
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		// Some deployments send floats for total; truncate.
		parsed, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return err
		}
		value = int(parsed)
	}
	*f = flexInt(value)
	return nil
}

// Int returns the value, or fallback when the wire omitted the field.
func (f flexInt) Int(fallback int) int {
	if f <= 0 {
		return fallback
	}
	return int(f)
}

// stripTags drops the HTML markup some upstreams embed in vod_content.
func stripTags(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.ContainsRune(raw, '<') {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
