package tabular

import (
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/tabimport/internal/domain"
)

const maxSampleValues = 10

var dateLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

var booleanTokens = map[string]struct{}{
	"true":  {},
	"false": {},
	"yes":   {},
	"no":    {},
}

// Profile carries the statistics computed for one column of the
// combined row set.
type Profile struct {
	Column      Column
	Type        domain.ColumnType
	Samples     []string
	NullCount   int
	UniqueCount int
	Confidence  float64
}

// ProfileColumns computes a profile for every column in the row set.
// Type inference runs over non-null values only, in priority order
// date, number, boolean, text.
func ProfileColumns(set RowSet) []Profile {
	profiles := make([]Profile, 0, len(set.Columns))
	for _, col := range set.Columns {
		profiles = append(profiles, profileColumn(col, set.Rows))
	}
	return profiles
}

func profileColumn(col Column, rows []Row) Profile {
	profile := Profile{Column: col}

	distinct := make(map[string]struct{})
	allDates := true
	allNumbers := true
	allBooleans := true
	sample := 0

	for _, row := range rows {
		value := strings.TrimSpace(row.Values[col.Name])
		if value == "" {
			profile.NullCount++
			continue
		}

		sample++
		if _, ok := distinct[value]; !ok {
			distinct[value] = struct{}{}
			if len(profile.Samples) < maxSampleValues {
				profile.Samples = append(profile.Samples, value)
			}
		}

		if !looksLikeDate(value) {
			allDates = false
		}
		if !looksLikeNumber(value) {
			allNumbers = false
		}
		if !looksLikeBoolean(value) {
			allBooleans = false
		}
	}

	profile.UniqueCount = len(distinct)

	switch {
	case sample > 0 && allDates:
		profile.Type = domain.ColumnTypeDate
	case sample > 0 && allNumbers:
		profile.Type = domain.ColumnTypeNumber
	case sample > 0 && allBooleans:
		profile.Type = domain.ColumnTypeBoolean
	default:
		profile.Type = domain.ColumnTypeText
	}

	profile.Confidence = confidence(profile.Type, profile.UniqueCount, sample)
	return profile
}

// confidence scores the type guess. Parse success is unambiguous for
// numbers and dates; for text and boolean, more distinct values
// relative to the sample size raises confidence that the guess is
// meaningful.
func confidence(columnType domain.ColumnType, unique, sample int) float64 {
	switch columnType {
	case domain.ColumnTypeNumber, domain.ColumnTypeDate:
		return 0.95
	default:
		if sample < 1 {
			sample = 1
		}
		score := 0.5 + float64(unique)/float64(sample)
		if score > 0.9 {
			score = 0.9
		}
		return score
	}
}

func looksLikeDate(value string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func looksLikeNumber(value string) bool {
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

func looksLikeBoolean(value string) bool {
	_, ok := booleanTokens[strings.ToLower(value)]
	return ok
}
