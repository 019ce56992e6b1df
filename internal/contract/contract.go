// Package contract extracts the structured {data, message} payload the
// generator is instructed to embed in its free-form output.
package contract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/luiscore200/cotizador/internal/domain"
)

// Source tells where a Response came from.
type Source int

const (
	// SourceContract means a fenced JSON block was found and decoded.
	SourceContract Source = iota
	// SourceRawText means the contract was violated and the raw text became the message.
	SourceRawText
	// SourceFallback means the generator failed and a canned message was substituted.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceContract:
		return "contract"
	case SourceRawText:
		return "raw_text"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Response is the parsed result of one generator call.
type Response struct {
	Data    domain.Patch
	Message string
	Source  Source
}

// Degraded reports whether the response did not come from a valid contract.
func (r Response) Degraded() bool {
	return r.Source != SourceContract
}

// Fallback builds a data-less response carrying a canned message.
func Fallback(message string) Response {
	return Response{Message: message, Source: SourceFallback}
}

var fencePattern = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z0-9_-]*)[ \\t]*\\r?\\n(.*?)\\r?\\n?[ \\t]*```")

// Parse extracts the structured payload from raw. It never fails: when no
// usable block is present, it returns an empty patch with the raw text as
// message.
func Parse(raw string) Response {
	resp, _ := Inspect(raw)
	return resp
}

// Inspect is Parse that also reports why raw violates the contract. The
// returned Response is always usable; err is nil only for SourceContract.
func Inspect(raw string) (Response, error) {
	resp, err := decode(raw)
	if err != nil {
		return Response{Message: raw, Source: SourceRawText}, err
	}
	return resp, nil
}

// decode tries json-tagged blocks before untagged ones, in order of
// appearance, and returns the first that satisfies the contract. Blocks
// tagged with another language are never candidates.
func decode(raw string) (Response, error) {
	var tagged, untagged []string
	for _, m := range fencePattern.FindAllStringSubmatch(raw, -1) {
		switch strings.ToLower(m[1]) {
		case "json":
			tagged = append(tagged, m[2])
		case "":
			untagged = append(untagged, m[2])
		}
	}

	var firstErr error
	for _, block := range append(tagged, untagged...) {
		resp, err := decodeBlock(block)
		if err == nil {
			return resp, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errNoBlock
	}
	return Response{}, firstErr
}

func decodeBlock(block string) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &w); err != nil {
		return Response{}, fmt.Errorf("decode fenced block: %w", err)
	}

	message := firstNonEmpty(w.Message, w.Mensaje)
	if strings.TrimSpace(message) == "" {
		return Response{}, errNoMessage
	}

	return Response{
		Data:    w.Data.patch(),
		Message: message,
		Source:  SourceContract,
	}, nil
}
