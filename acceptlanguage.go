package fathom

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// LanguageRange is one entry of a parsed Accept-Language header: the
// language tag, its quality weight, and the position it held in the raw
// header. Applications consume the ranking through a helper like
// Request.AcceptedLanguages; routing never consults it.
type LanguageRange struct {
	Tag     language.Tag
	Raw     string
	Quality float64
	Index   int
}

// ParseAcceptLanguage parses header into a list of language ranges sorted
// by descending quality, stable on the original header order. Entries whose
// tag fails to parse, or whose q-value is malformed or zero, are dropped.
func ParseAcceptLanguage(header string) []LanguageRange {
	var ranges []LanguageRange

	for i, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		raw := part
		quality := 1.0
		if j := strings.IndexByte(part, ';'); j >= 0 {
			raw = strings.TrimSpace(part[:j])
			params := strings.TrimSpace(part[j+1:])
			if !strings.HasPrefix(params, "q=") {
				continue
			}
			q, err := strconv.ParseFloat(params[2:], 64)
			if err != nil || q < 0 || q > 1 {
				continue
			}
			quality = q
		}

		if quality == 0 {
			continue
		}

		tag, err := language.Parse(raw)
		if err != nil {
			continue
		}

		ranges = append(ranges, LanguageRange{
			Tag:     tag,
			Raw:     raw,
			Quality: quality,
			Index:   i,
		})
	}

	sort.SliceStable(ranges, func(i, j int) bool {
		return ranges[i].Quality > ranges[j].Quality
	})

	return ranges
}

// AcceptedLanguages returns the request's Accept-Language ranking.
func (r *Request) AcceptedLanguages() []LanguageRange {
	return ParseAcceptLanguage(r.Header("Accept-Language"))
}
