package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JKgeneral1/IT-tgBot/internal/models"
	"gorm.io/gorm/clause"
)

// Helpdesk webhooks echo requester comments back alongside engineer
// replies. The bridge records what the requester said (normalized) and
// suppresses deliveries that merely repeat it.

var (
	hiddenRunesRe = regexp.MustCompile("[​‌‍︎️]")
	spaceRunRe    = regexp.MustCompile(`\s+`)
	nonWordRe     = regexp.MustCompile(`[\W_]+`)
)

// minEchoLen is the minimum significant length for substring and
// similarity echo matches; shorter texts only match on full equality.
const minEchoLen = 24

// echoRatio is the similarity above which a near-match counts as an echo,
// catching engineer quotes with minor edits.
const echoRatio = 0.88

// normalizeSoft collapses whitespace and invisible selectors and lowercases.
func normalizeSoft(s string) string {
	s = hiddenRunesRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeStrict keeps only word characters, for substring comparisons.
func normalizeStrict(s string) string {
	return nonWordRe.ReplaceAllString(normalizeSoft(s), "")
}

// SaveUserComment records a requester comment for echo detection. Saving
// the same text twice is a no-op.
func (s *Store) SaveUserComment(ticketID, text string) error {
	norm := normalizeSoft(text)
	if norm == "" {
		return nil
	}
	if len(norm) > 512 {
		norm = norm[:512]
	}
	rec := models.UserComment{TicketID: ticketID, Normalized: norm}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("store: save user comment %s: %w", ticketID, err)
	}
	return nil
}

// IsEcho reports whether text repeats a recorded requester comment for the
// ticket: equal after soft normalization, or (for texts with at least
// minEchoLen significant characters) one strict form containing the other.
func (s *Store) IsEcho(ticketID, text string) (bool, error) {
	soft := normalizeSoft(text)
	if soft == "" {
		return false, nil
	}
	strict := normalizeStrict(text)

	var rows []models.UserComment
	if err := s.db.Where("ticket_id = ?", ticketID).Find(&rows).Error; err != nil {
		return false, fmt.Errorf("store: is echo %s: %w", ticketID, err)
	}
	for _, row := range rows {
		if row.Normalized == soft {
			return true, nil
		}
		rowStrict := normalizeStrict(row.Normalized)
		if len(rowStrict) < minEchoLen || len(strict) < minEchoLen {
			continue
		}
		if strings.Contains(strict, rowStrict) || strings.Contains(rowStrict, strict) {
			return true, nil
		}
		if similarity(rowStrict, strict) >= echoRatio {
			return true, nil
		}
	}
	return false, nil
}

// similarity scores two strings as 2*lcs/(len(a)+len(b)) over runes,
// 1.0 for equal strings and 0.0 for disjoint ones.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return 2 * float64(prev[len(rb)]) / float64(len(ra)+len(rb))
}

// ClearUserComments drops the echo records for a ticket, called when the
// ticket reaches a closed state.
func (s *Store) ClearUserComments(ticketID string) error {
	err := s.db.Where("ticket_id = ?", ticketID).Delete(&models.UserComment{}).Error
	if err != nil {
		return fmt.Errorf("store: clear user comments %s: %w", ticketID, err)
	}
	return nil
}
