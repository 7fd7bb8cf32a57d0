// Package stream turns a finished reply into paced chunks for display.
// Pacing is presentation only and never affects what is recorded.
package stream

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode"
)

type Mode string

const (
	ModeChar  Mode = "char"
	ModeWord  Mode = "word"
	ModeWhole Mode = "whole"
)

func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case "", ModeChar:
		return ModeChar, nil
	case ModeWord:
		return ModeWord, nil
	case ModeWhole:
		return ModeWhole, nil
	default:
		return "", fmt.Errorf("unsupported stream mode %q (expected char|word|whole)", v)
	}
}

// Reply is a finite chunk sequence over a fixed text. Every call to Chunks
// starts again from the first chunk; there is no mid-stream resume.
type Reply struct {
	text string
	mode Mode
}

func NewReply(text string, mode Mode) Reply {
	if mode == "" {
		mode = ModeChar
	}
	return Reply{text: text, mode: mode}
}

func (r Reply) Text() string { return r.text }

func (r Reply) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		if r.text == "" {
			return
		}
		switch r.mode {
		case ModeWhole:
			yield(r.text)
		case ModeWord:
			start := 0
			inSpace := false
			for i, c := range r.text {
				sp := unicode.IsSpace(c)
				// A chunk is a word plus the whitespace that follows it.
				if inSpace && !sp {
					if !yield(r.text[start:i]) {
						return
					}
					start = i
				}
				inSpace = sp
			}
			yield(r.text[start:])
		default:
			for _, c := range r.text {
				if !yield(string(c)) {
					return
				}
			}
		}
	}
}

// Pacer is consulted before each chunk is emitted.
type Pacer interface {
	Before(ctx context.Context, index int) error
}

// NoPacer emits immediately.
type NoPacer struct{}

func (NoPacer) Before(ctx context.Context, _ int) error { return ctx.Err() }

// TypingPacer simulates typing: a pause before the first chunk and a short
// delay before each chunk.
type TypingPacer struct {
	Initial  time.Duration
	PerChunk time.Duration
}

// DefaultTypingPacer is a 300ms pause then 10ms per chunk.
func DefaultTypingPacer() TypingPacer {
	return TypingPacer{Initial: 300 * time.Millisecond, PerChunk: 10 * time.Millisecond}
}

func (p TypingPacer) Before(ctx context.Context, index int) error {
	d := p.PerChunk
	if index == 0 {
		d += p.Initial
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Play emits every chunk of reply through emit, pacing with p.
func Play(ctx context.Context, reply Reply, p Pacer, emit func(chunk string) error) error {
	if p == nil {
		p = NoPacer{}
	}
	i := 0
	for chunk := range reply.Chunks() {
		if err := p.Before(ctx, i); err != nil {
			return err
		}
		if err := emit(chunk); err != nil {
			return err
		}
		i++
	}
	return nil
}
