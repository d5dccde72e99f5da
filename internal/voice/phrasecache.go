package voice

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// CacheChunkSize is how cached opener audio is framed onto the wire. The
// TTS provider's own chunks pass through untouched; only pre-cached blobs
// need re-chunking.
const CacheChunkSize = 4 * 1024

type phraseEntry struct {
	text       string
	normalized string
	audio      []byte
}

// PhraseCache holds pre-synthesised audio for the fixed opener phrases.
// Immutable after Load; safe for concurrent use.
type PhraseCache struct {
	entries []phraseEntry
}

// LoadPhraseCache builds the cache: each phrase is read from the disk
// mirror when present, otherwise synthesised once and written back. A
// phrase that fails to synthesise is skipped with a log line; a partial
// cache still serves the phrases it has.
func LoadPhraseCache(ctx context.Context, dir string, phrases []string, tts TTSClient) (*PhraseCache, error) {
	if len(phrases) == 0 {
		phrases = DefaultOpenerPhrases
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	cache := &PhraseCache{entries: make([]phraseEntry, 0, len(phrases))}
	for _, phrase := range phrases {
		normalized := normalizePhrase(phrase)
		if normalized == "" {
			continue
		}
		path := filepath.Join(dir, cacheFileName(normalized))

		audio, err := os.ReadFile(path)
		if err != nil {
			audio, err = synthesizePhrase(ctx, tts, phrase)
			if err != nil {
				log.Printf("phrase cache: synthesize %q failed: %v", phrase, err)
				continue
			}
			if err := os.WriteFile(path, audio, 0o644); err != nil {
				log.Printf("phrase cache: write %s failed: %v", path, err)
			}
		}
		if len(audio) == 0 {
			continue
		}
		cache.entries = append(cache.entries, phraseEntry{
			text:       phrase,
			normalized: normalized,
			audio:      audio,
		})
	}

	// Longest normalized form first so Match returns the longest prefix.
	sort.Slice(cache.entries, func(i, j int) bool {
		return len(cache.entries[i].normalized) > len(cache.entries[j].normalized)
	})

	log.Printf("phrase cache: %d/%d phrases ready", len(cache.entries), len(phrases))
	return cache, nil
}

func synthesizePhrase(ctx context.Context, tts TTSClient, phrase string) ([]byte, error) {
	var audio []byte
	err := tts.SynthesizeStream(ctx, phrase, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// Match finds the longest cached opener that is a prefix of spoken (after
// case and whitespace normalization) and returns its audio together with
// the un-consumed remainder of the original string. The remainder keeps its
// original spelling and spacing so downstream synthesis reproduces exactly
// what the opener did not cover.
func (c *PhraseCache) Match(spoken string) (audio []byte, remainder string, ok bool) {
	if c == nil {
		return nil, "", false
	}
	for _, entry := range c.entries {
		rest, matched := consumeNormalizedPrefix(spoken, entry.normalized)
		if !matched {
			continue
		}
		if rest != "" && !boundaryRune(rest) {
			continue
		}
		return entry.audio, rest, true
	}
	return nil, "", false
}

// Size reports how many phrases are loaded.
func (c *PhraseCache) Size() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// ChunkBytes splits a blob into wire-sized frames.
func ChunkBytes(data []byte, size int) [][]byte {
	if size <= 0 {
		size = CacheChunkSize
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// normalizePhrase lowercases and collapses whitespace. Punctuation stays;
// it is part of what makes an opener an exact sentence.
func normalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// consumeNormalizedPrefix walks the original string, normalizing on the
// fly, until the whole normalized prefix has been consumed. Returns the
// untouched tail of the original string.
func consumeNormalizedPrefix(s, normPrefix string) (string, bool) {
	target := []rune(normPrefix)
	runes := []rune(s)
	ti := 0
	i := 0
	prevSpace := true

	for i < len(runes) && ti < len(target) {
		r := runes[i]
		if unicode.IsSpace(r) {
			if prevSpace {
				i++
				continue
			}
			if target[ti] != ' ' {
				return "", false
			}
			ti++
			prevSpace = true
			i++
			continue
		}
		if unicode.ToLower(r) != target[ti] {
			return "", false
		}
		ti++
		prevSpace = false
		i++
	}
	if ti < len(target) {
		return "", false
	}
	return string(runes[i:]), true
}

func boundaryRune(rest string) bool {
	for _, r := range rest {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}
	return true
}

func cacheFileName(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:]) + ".pcm"
}
