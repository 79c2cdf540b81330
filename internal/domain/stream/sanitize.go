package stream

import "strings"

// artifacts are literal serializations of unserializable values that must
// never reach a client. They show up when an upstream provider stringifies
// something it could not encode.
var artifacts = []string{
	"[object Object]",
	"[object Undefined]",
	"[object Function]",
	"[Circular]",
}

// bareTokens are dropped only when they make up the entire payload;
// inside normal prose they are legitimate words.
var bareTokens = map[string]struct{}{
	"undefined": {},
	"null":      {},
	"NaN":       {},
}

// SanitizeContent strips serialization artifacts from a content payload.
// An empty result means the event must be dropped, not sent.
func SanitizeContent(s string) string {
	for _, a := range artifacts {
		s = strings.ReplaceAll(s, a, "")
	}
	if _, ok := bareTokens[strings.TrimSpace(s)]; ok {
		return ""
	}
	return s
}

// Chunks splits s into rune-safe pieces of at most size runes. size <= 0
// returns the whole string as one chunk.
func Chunks(s string, size int) []string {
	if size <= 0 || s == "" {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
