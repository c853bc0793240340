package subtitles

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Caption struct {
	StartTime string
	EndTime   string
	Text      string
}

// Segment is one synthesized chunk: the text that was spoken and how long the audio runs.
type Segment struct {
	Text     string
	Duration float64
}

// DefaultLineLength is the caption width used when callers pass zero.
const DefaultLineLength = 84

// FromSegments lays captions over the merged audio. Each segment starts where the previous one
// ended; inside a segment, captions get a share of its duration proportional to their length.
func FromSegments(segments []Segment, maxChars int) []Caption {
	if maxChars <= 0 {
		maxChars = DefaultLineLength
	}
	var captions []Caption
	offset := 0.0
	for _, seg := range segments {
		lines := wrap(NormalizeText(seg.Text), maxChars)
		if len(lines) == 0 || seg.Duration <= 0 {
			offset += math.Max(seg.Duration, 0)
			continue
		}
		total := 0
		for _, l := range lines {
			total += len([]rune(l))
		}
		start := offset
		for i, l := range lines {
			end := start + seg.Duration*float64(len([]rune(l)))/float64(total)
			if i == len(lines)-1 {
				end = offset + seg.Duration
			}
			captions = append(captions, Caption{
				StartTime: FormatTimestamp(start),
				EndTime:   FormatTimestamp(end),
				Text:      l,
			})
			start = end
		}
		offset += seg.Duration
	}
	return captions
}

func SerializeSRT(captions []Caption) string {
	var builder strings.Builder
	for idx, caption := range captions {
		builder.WriteString(strconv.Itoa(idx + 1))
		builder.WriteString("\n")
		builder.WriteString(caption.StartTime)
		builder.WriteString(" --> ")
		builder.WriteString(caption.EndTime)
		builder.WriteString("\n")
		builder.WriteString(caption.Text)
		builder.WriteString("\n\n")
	}
	return builder.String()
}

// FormatTimestamp renders seconds as HH:MM:SS,mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// NormalizeText flattens line breaks and runs of whitespace into single spaces.
func NormalizeText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

func wrap(text string, maxChars int) []string {
	words := strings.Fields(text)
	var lines []string
	var cur strings.Builder
	curLen := 0
	for _, w := range words {
		wl := len([]rune(w))
		if curLen > 0 && curLen+1+wl > maxChars {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	if curLen > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
