package assist

import (
	"fmt"
	"strings"

	"github.com/fretwise/fretwise/internal/song"
)

// Focus selects the instructional framing appended to a grounded context.
// It is a quality knob, not a correctness one: unknown values fall back to
// the general framing instead of erroring.
type Focus string

const (
	FocusGeneral     Focus = "general"
	FocusStructure   Focus = "structure"
	FocusHarmony     Focus = "harmony"
	FocusArrangement Focus = "arrangement"
	FocusPractice    Focus = "practice"
)

func ParseFocus(s string) Focus {
	switch Focus(strings.ToLower(strings.TrimSpace(s))) {
	case FocusStructure:
		return FocusStructure
	case FocusHarmony:
		return FocusHarmony
	case FocusArrangement:
		return FocusArrangement
	case FocusPractice:
		return FocusPractice
	default:
		return FocusGeneral
	}
}

// Closed framing table; every arm is fixed text, never caller-supplied.
var focusFramings = map[Focus]string{
	FocusGeneral:     "You are a helpful music assistant. Answer questions about this song using the context above.",
	FocusStructure:   "You are a song-structure coach. Analyze the section layout above: comment on flow, repetition, and pacing, and suggest structural improvements.",
	FocusHarmony:     "You are a harmony coach. Analyze the chord content above: identify the harmonic movement and suggest substitutions or extensions that fit the key.",
	FocusArrangement: "You are an arrangement coach. Using the sections and chords above, suggest instrumentation, dynamics, and texture changes across the song.",
	FocusPractice:    "You are a practice coach. Using the song data and practice history above, point out what is improving, what is stagnating, and what to practice next.",
}

func framingFor(f Focus) string {
	if text, ok := focusFramings[f]; ok {
		return text
	}
	return focusFramings[FocusGeneral]
}

// Head counts keep the context size-bounded regardless of how large a song
// grows; truncated lists carry an explicit "of N total" note.
const (
	maxListedSections = 12
	maxListedChords   = 24
	maxListedPractice = 5
	timeLayout        = "2006-01-02"
)

// BuildSongContext renders loaded song rows into the natural-language
// context block sent upstream. Deterministic: identical input rows produce
// byte-identical output.
func BuildSongContext(d *song.Detail, focus Focus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Song: %q", d.Song.Title)
	if d.Song.Artist != "" {
		fmt.Fprintf(&b, " by %s", d.Song.Artist)
	}
	b.WriteString("\n")
	if d.Song.KeySignature != "" {
		fmt.Fprintf(&b, "Key: %s\n", d.Song.KeySignature)
	}
	if d.Song.Tempo > 0 {
		fmt.Fprintf(&b, "Tempo: %d bpm\n", d.Song.Tempo)
	}
	if d.Song.TimeSignature != "" {
		fmt.Fprintf(&b, "Time signature: %s\n", d.Song.TimeSignature)
	}
	if d.Song.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", d.Song.Notes)
	}

	if len(d.Sections) > 0 {
		fmt.Fprintf(&b, "\nSections (%s):\n", headNote(len(d.Sections), maxListedSections))
		for i, s := range d.Sections {
			if i >= maxListedSections {
				break
			}
			fmt.Fprintf(&b, "%d. %s", s.Position, s.Name)
			if s.Lyrics != "" {
				fmt.Fprintf(&b, " — lyrics: %s", truncate(s.Lyrics, 200))
			}
			b.WriteString("\n")
		}
	}

	if len(d.Chords) > 0 {
		names := make([]string, 0, min(len(d.Chords), maxListedChords))
		for i, c := range d.Chords {
			if i >= maxListedChords {
				break
			}
			names = append(names, c.Name)
		}
		fmt.Fprintf(&b, "\nChords (%s): %s\n", headNote(len(d.Chords), maxListedChords), strings.Join(names, " "))
	}

	if len(d.Practice) > 0 {
		fmt.Fprintf(&b, "\nRecent practice (%s):\n", headNote(len(d.Practice), maxListedPractice))
		for i, p := range d.Practice {
			if i >= maxListedPractice {
				break
			}
			fmt.Fprintf(&b, "- %s: %d min, self-rating %d/5", p.PracticedAt.UTC().Format(timeLayout), p.DurationMinutes, p.Rating)
			if p.Notes != "" {
				fmt.Fprintf(&b, " (%s)", truncate(p.Notes, 120))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(framingFor(focus))
	return b.String()
}

// BuildChatSystemPrompt is the system prompt snapshot for a conversation.
// Grounded chat (detail != nil) embeds the song context; plain chat gets the
// general framing alone.
func BuildChatSystemPrompt(d *song.Detail, focus Focus) string {
	if d == nil {
		return framingFor(FocusGeneral)
	}
	return BuildSongContext(d, focus)
}

// BuildSuggestPrompt frames a section-content suggestion request. sec may be
// nil, in which case the suggestion targets the song as a whole.
func BuildSuggestPrompt(d *song.Detail, sec *song.Section) string {
	base := BuildSongContext(d, FocusArrangement)
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	if sec != nil {
		fmt.Fprintf(&b, "Suggest content for the %q section (position %d): propose a chord progression and, if lyrics exist, a lyrical direction that fits the song.", sec.Name, sec.Position)
	} else {
		b.WriteString("Suggest a new section for this song: where it should sit, its chords, and how it should contrast with the existing sections.")
	}
	return b.String()
}

// BuildPracticeInsightsPrompt renders the user's recent practice history.
func BuildPracticeInsightsPrompt(entries []song.PracticeEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Practice history (%s):\n", headNote(len(entries), maxListedPractice*4))
	for i, e := range entries {
		if i >= maxListedPractice*4 {
			break
		}
		fmt.Fprintf(&b, "- %s: %q, %d min, self-rating %d/5", e.PracticedAt.UTC().Format(timeLayout), e.SongTitle, e.DurationMinutes, e.Rating)
		if e.Notes != "" {
			fmt.Fprintf(&b, " (%s)", truncate(e.Notes, 120))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(framingFor(FocusPractice))
	return b.String()
}

func headNote(total, head int) string {
	if total <= head {
		return fmt.Sprintf("%d total", total)
	}
	return fmt.Sprintf("first %d of %d total", head, total)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
