package masking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

type segmentKind int

const (
	segmentKey segmentKind = iota
	segmentIndex
	segmentWildcard
	segmentDeepKey
	segmentDeepWildcard
)

type jsonSegment struct {
	kind  segmentKind
	key   string
	index int
}

// parseJSONPath parses the supported JSONPath subset: $, .key, ['key'],
// [n], [*], .*, ..key and ..*
func parseJSONPath(expr string) ([]jsonSegment, error) {
	p := strings.TrimSpace(expr)
	if p == "" {
		return nil, fmt.Errorf("empty JSONPath")
	}
	if !strings.HasPrefix(p, "$") {
		p = "$." + p
	}

	var segments []jsonSegment
	i := 1
	for i < len(p) {
		switch {
		case strings.HasPrefix(p[i:], ".."):
			i += 2
			name, next := readName(p, i)
			if name == "" {
				return nil, fmt.Errorf("missing name after '..' at offset %d in %q", i, expr)
			}
			if name == "*" {
				segments = append(segments, jsonSegment{kind: segmentDeepWildcard})
			} else {
				segments = append(segments, jsonSegment{kind: segmentDeepKey, key: name})
			}
			i = next
		case p[i] == '.':
			i++
			name, next := readName(p, i)
			if name == "" {
				return nil, fmt.Errorf("missing name after '.' at offset %d in %q", i, expr)
			}
			if name == "*" {
				segments = append(segments, jsonSegment{kind: segmentWildcard})
			} else {
				segments = append(segments, jsonSegment{kind: segmentKey, key: name})
			}
			i = next
		case p[i] == '[':
			seg, next, err := readBracket(p, i)
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, expr)
			}
			segments = append(segments, seg)
			i = next
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d in %q", p[i], i, expr)
		}
	}

	return segments, nil
}

func readName(p string, i int) (string, int) {
	start := i
	for i < len(p) && p[i] != '.' && p[i] != '[' {
		i++
	}
	return p[start:i], i
}

func readBracket(p string, i int) (jsonSegment, int, error) {
	i++ // '['
	if i >= len(p) {
		return jsonSegment{}, i, fmt.Errorf("unterminated bracket")
	}

	if q := p[i]; q == '\'' || q == '"' {
		end := strings.IndexByte(p[i+1:], q)
		if end < 0 {
			return jsonSegment{}, i, fmt.Errorf("unterminated quoted key")
		}
		key := p[i+1 : i+1+end]
		i += end + 2
		if i >= len(p) || p[i] != ']' {
			return jsonSegment{}, i, fmt.Errorf("expected ']' after quoted key")
		}
		return jsonSegment{kind: segmentKey, key: key}, i + 1, nil
	}

	end := strings.IndexByte(p[i:], ']')
	if end < 0 {
		return jsonSegment{}, i, fmt.Errorf("unterminated bracket")
	}
	content := strings.TrimSpace(p[i : i+end])
	next := i + end + 1

	if content == "*" {
		return jsonSegment{kind: segmentWildcard}, next, nil
	}
	idx, err := strconv.Atoi(content)
	if err != nil || idx < 0 {
		return jsonSegment{}, next, fmt.Errorf("unsupported array index %q", content)
	}
	return jsonSegment{kind: segmentIndex, index: idx}, next, nil
}

// resolveJSONPath expands segments against the document into concrete gjson
// paths, one per matched value, in document order.
func resolveJSONPath(doc string, segments []jsonSegment) []string {
	var paths []string
	seen := make(map[string]bool)

	var walk func(cur gjson.Result, path []string, segs []jsonSegment)
	walk = func(cur gjson.Result, path []string, segs []jsonSegment) {
		if len(segs) == 0 {
			if len(path) == 0 {
				return
			}
			joined := strings.Join(path, ".")
			if !seen[joined] {
				seen[joined] = true
				paths = append(paths, joined)
			}
			return
		}

		seg, rest := segs[0], segs[1:]
		switch seg.kind {
		case segmentKey:
			if cur.IsObject() {
				comp := gjson.Escape(seg.key)
				if v := cur.Get(comp); v.Exists() {
					walk(v, appendPath(path, comp), rest)
				}
			}
		case segmentIndex:
			if cur.IsArray() {
				if items := cur.Array(); seg.index < len(items) {
					walk(items[seg.index], appendPath(path, strconv.Itoa(seg.index)), rest)
				}
			}
		case segmentWildcard:
			eachChild(cur, func(comp string, v gjson.Result) {
				walk(v, appendPath(path, comp), rest)
			})
		case segmentDeepKey:
			walk(cur, path, append([]jsonSegment{{kind: segmentKey, key: seg.key}}, rest...))
			eachChild(cur, func(comp string, v gjson.Result) {
				walk(v, appendPath(path, comp), segs)
			})
		case segmentDeepWildcard:
			eachChild(cur, func(comp string, v gjson.Result) {
				walk(v, appendPath(path, comp), rest)
				walk(v, appendPath(path, comp), segs)
			})
		}
	}

	walk(gjson.Parse(doc), nil, segments)
	return paths
}

func eachChild(cur gjson.Result, fn func(comp string, v gjson.Result)) {
	switch {
	case cur.IsObject():
		cur.ForEach(func(key, value gjson.Result) bool {
			fn(gjson.Escape(key.String()), value)
			return true
		})
	case cur.IsArray():
		for i, item := range cur.Array() {
			fn(strconv.Itoa(i), item)
		}
	}
}

func appendPath(path []string, comp string) []string {
	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	return append(next, comp)
}
