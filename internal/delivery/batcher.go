package delivery

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/TobiSchelling/PartnerCenter/internal/notify"
	"github.com/TobiSchelling/PartnerCenter/internal/selector"
)

// Batch is the claimed posts of one recipient, in claim order.
type Batch struct {
	RecipientID string
	Candidates  []selector.Candidate
}

// PostIDs returns the IDs of the batch's posts.
func (b Batch) PostIDs() []int64 {
	ids := make([]int64, len(b.Candidates))
	for i, c := range b.Candidates {
		ids[i] = c.Post.ID
	}
	return ids
}

// GroupByRecipient groups claimed posts by recipient. Batches come out in the
// order their recipient was first seen.
func GroupByRecipient(claimed []selector.Candidate) []Batch {
	var batches []Batch
	index := make(map[string]int)
	for _, c := range claimed {
		i, ok := index[c.RecipientID]
		if !ok {
			i = len(batches)
			index[c.RecipientID] = i
			batches = append(batches, Batch{RecipientID: c.RecipientID})
		}
		batches[i].Candidates = append(batches[i].Candidates, c)
	}
	return batches
}

const maxFieldChars = 600

// fieldCaps are the per-field caps tried, largest first, when the first post
// does not fit the message on its own.
var fieldCaps = []int{maxFieldChars, 300, 150, 80, 40, 20, 0}

// markup renders message fragments for one channel.
type markup struct {
	escape func(string) string
	bold   func(string) string
	italic func(string) string
}

var (
	htmlMarkup = markup{
		escape: html.EscapeString,
		bold:   func(s string) string { return "<b>" + s + "</b>" },
		italic: func(s string) string { return "<i>" + s + "</i>" },
	}
	slackMarkup = markup{
		escape: strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace,
		bold:   func(s string) string { return "*" + s + "*" },
		italic: func(s string) string { return "_" + s + "_" },
	}
)

func markupFor(channel string) markup {
	if channel == notify.ChannelSlack {
		return slackMarkup
	}
	return htmlMarkup
}

// RenderMessage formats one message for the whole batch: per post the
// profile title, the summary, the first suggested reply and the URL. When
// the message would exceed maxLen characters, the remaining posts are
// replaced by a "+N more" line. Fields are shortened before escaping, so the
// markup is never cut.
func RenderMessage(b Batch, channel string, maxLen int) string {
	m := markupFor(channel)

	n := len(b.Candidates)
	noun := "opportunity"
	if n != 1 {
		noun = "opportunities"
	}
	header := m.bold(fmt.Sprintf("%d new sales %s", n, noun))

	var sb strings.Builder
	sb.WriteString(header)
	used := runeLen(header)

	for i, c := range b.Candidates {
		reserve := 0
		if rest := n - i - 1; rest > 0 {
			reserve = runeLen(moreLine(m, rest))
		}
		entry := "\n\n" + renderEntry(m, i+1, c, maxFieldChars)
		if maxLen > 0 && used+runeLen(entry)+reserve > maxLen {
			if i > 0 {
				// The previous entry left room for exactly this line.
				sb.WriteString(moreLine(m, n-i))
				return sb.String()
			}
			entry = fitEntry(m, c, maxLen-used-reserve)
			if entry == "" {
				sb.WriteString(moreLine(m, n))
				return sb.String()
			}
		}
		sb.WriteString(entry)
		used += runeLen(entry)
	}
	return sb.String()
}

// fitEntry renders the first post with ever smaller field caps until it fits
// in budget characters. It returns "" when not even the bare entry fits.
func fitEntry(m markup, c selector.Candidate, budget int) string {
	for _, limit := range fieldCaps[1:] {
		entry := "\n\n" + renderEntry(m, 1, c, limit)
		if runeLen(entry) <= budget {
			return entry
		}
	}
	return ""
}

func renderEntry(m markup, n int, c selector.Candidate, limit int) string {
	var sb strings.Builder
	sb.WriteString(m.bold(fmt.Sprintf("%d. %s", n, m.escape(cut(c.ProfileTitle, limit)))))

	cls := c.Post.Classification
	if cls != nil {
		if summary := cut(cls.Summary, limit); summary != "" {
			sb.WriteString("\n")
			sb.WriteString(m.escape(summary))
		}
	}
	if reply := cut(cls.FirstReply(), limit); reply != "" {
		sb.WriteString("\n")
		sb.WriteString(m.italic("Reply: " + m.escape(reply)))
	}
	// A shortened link is useless, so an oversize URL is left out.
	if c.Post.URL != nil && *c.Post.URL != "" && runeLen(*c.Post.URL) <= limit {
		sb.WriteString("\n")
		sb.WriteString(m.escape(*c.Post.URL))
	}
	return sb.String()
}

func moreLine(m markup, n int) string {
	return "\n\n" + m.italic(fmt.Sprintf("+%d more in Partner Center", n))
}

func cut(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if runeLen(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
