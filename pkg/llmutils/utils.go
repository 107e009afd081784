package llmutils

import (
	"bytes"
	"encoding/json"
	"strings"
)

var fence = []byte("```")

// ExtractJSON returns the JSON value embedded in a model reply,
// such as `Sure, here are the arguments: {json}`.
// A reply that does not start with JSON is unfenced first,
// then the text before the first bracket and after the last one is dropped.
func ExtractJSON(bs []byte) []byte {
	bs = bytes.TrimSpace(bs)
	if len(bs) > 0 && bs[0] != '{' && bs[0] != '[' {
		bs = Unfence(bs)
	}

	start := bytes.IndexAny(bs, "{[")
	if start < 0 {
		return bs
	}
	end := bytes.LastIndexAny(bs, "}]")
	if end < start {
		return bs[start:]
	}
	return bs[start : end+1]
}

// Unfence returns the content of a ``` fenced block, or bs if there is none.
// The info string of the fence, e.g. json, is dropped.
func Unfence(bs []byte) []byte {
	open := bytes.Index(bs, fence)
	if open < 0 {
		return bs
	}
	body := bs[open+len(fence):]

	// the value may start on the fence line
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 && bytes.IndexAny(body[:nl], "{[") < 0 {
		body = body[nl+1:]
	}
	if end := bytes.LastIndex(body, fence); end >= 0 {
		body = body[:end]
	}
	return bytes.TrimSpace(body)
}

// IndentJSON returns the indented JSON, or body unchanged if it is not valid JSON
func IndentJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(body), "", "\t"); err != nil {
		return body
	}
	return buf.String()
}

func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// FenceJSON wraps the JSON in a json code block
func FenceJSON(js string) string {
	return "\n```json\n" + strings.TrimSpace(js) + "\n```\n"
}

// EnsureEndsWithNewline trims the spaces around s,
// and ends a non-empty result with a single newline.
func EnsureEndsWithNewline(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return s + "\n"
}
