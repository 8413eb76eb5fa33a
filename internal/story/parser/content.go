package parser

import (
	"strings"
	"unicode/utf8"

	"inkforge.dev/internal/story/diag"
)

// shift moves pos right by the runes in s.
func shift(pos diag.Pos, s string) diag.Pos {
	pos.Column += utf8.RuneCountInString(s)
	return pos
}

// scanTop walks s and calls fn for every rune outside braces. Escaped runes
// and the insides of `{...}` are skipped; quotes only matter inside braces.
func scanTop(s string, fn func(i int, r rune) bool) {
	depth := 0
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			i++
			continue
		case inStr:
			if c == '"' {
				inStr = false
			}
			continue
		case c == '"' && depth > 0:
			inStr = true
			continue
		case c == '{':
			depth++
			continue
		case c == '}':
			if depth > 0 {
				depth--
				continue
			}
		}
		if depth == 0 {
			r, _ := utf8.DecodeRuneInString(s[i:])
			if !fn(i, r) {
				return
			}
		}
	}
}

// indexTop returns the byte offset of the first top-level sep, or -1.
func indexTop(s string, sep rune) int {
	at := -1
	scanTop(s, func(i int, r rune) bool {
		if r == sep {
			at = i
			return false
		}
		return true
	})
	return at
}

// splitTop splits s at every top-level sep.
func splitTop(s string, sep rune) []string {
	var parts []string
	last := 0
	scanTop(s, func(i int, r rune) bool {
		if r == sep {
			parts = append(parts, s[last:i])
			last = i + utf8.RuneLen(r)
		}
		return true
	})
	return append(parts, s[last:])
}

// matchBrace returns the index of the `}` closing the `{` at open.
func matchBrace(s string, open int) int {
	depth := 0
	inStr := false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			i++
		case inStr:
			if c == '"' {
				inStr = false
			}
		case c == '"' && depth > 0:
			inStr = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTags cuts trailing `#tag` annotations off a content string.
func splitTags(s string) (string, []string) {
	at := indexTop(s, '#')
	if at < 0 {
		return s, nil
	}
	var tags []string
	for _, t := range strings.Split(s[at+1:], "#") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return s[:at], tags
}

// parseContentLine parses a full content line: inline content, an optional
// trailing divert and tags.
func (p *Parser) parseContentLine(s string, pos diag.Pos) *Line {
	body, tags := splitTags(s)
	body = strings.TrimRight(body, " \t")
	return &Line{Content: p.parseInline(body, pos), Tags: tags, Pos: pos}
}

// parseInline turns content text into inline nodes. A divert consumes the
// rest of the text.
func (p *Parser) parseInline(s string, pos diag.Pos) []Inline {
	var out []Inline
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			out = append(out, &Text{Text: text.String()})
			text.Reset()
		}
	}
	for i := 0; i < len(s); {
		r, w := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '\\' && i+w < len(s):
			nr, nw := utf8.DecodeRuneInString(s[i+w:])
			text.WriteRune(nr)
			i += w + nw
			continue
		case r == '{':
			end := matchBrace(s, i)
			if end < 0 {
				p.errorf(shift(pos, s[:i]), "unclosed '{' in content")
				flush()
				return out
			}
			flush()
			inner := s[i+1 : end]
			if n := p.parseBrace(inner, shift(pos, s[:i+1])); n != nil {
				out = append(out, n)
			}
			i = end + 1
			continue
		case r == '}':
			p.errorf(shift(pos, s[:i]), "unmatched '}' in content")
			i += w
			continue
		case strings.HasPrefix(s[i:], "<>"):
			flush()
			out = append(out, &Glue{})
			i += 2
			continue
		case strings.HasPrefix(s[i:], "->"):
			flush()
			if d := p.parseDivertText(s[i:], shift(pos, s[:i])); d != nil {
				out = append(out, d)
			}
			return out
		}
		text.WriteRune(r)
		i += w
	}
	flush()
	return out
}

// parseDivertText parses a divert chain that must run to the end of s.
func (p *Parser) parseDivertText(s string, pos diag.Pos) *Divert {
	e := newExprParser(s, pos)
	d := e.parseDivert()
	if e.err == nil && !e.atEOF() {
		e.fail(e.peek(), "unexpected %q after divert", e.peek().Lexeme)
	}
	if e.err != nil {
		p.exprError(e.err)
		return nil
	}
	return d
}

var sequencePrefixes = map[byte]SequenceMode{
	'&': SeqCycle,
	'!': SeqOnce,
	'~': SeqShuffle,
}

// parseBrace interprets the inside of an inline `{...}`.
func (p *Parser) parseBrace(inner string, pos diag.Pos) Inline {
	trimmed := strings.TrimLeft(inner, " \t")
	lead := shift(pos, inner[:len(inner)-len(trimmed)])
	if trimmed == "" {
		p.errorf(pos, "empty '{}' in content")
		return nil
	}

	if mode, ok := sequencePrefixes[trimmed[0]]; ok && !strings.HasPrefix(trimmed, "!=") {
		body := trimmed[1:]
		return &InlineSeq{Mode: mode, Branches: p.inlineBranches(body, shift(lead, trimmed[:1])), Pos: lead}
	}

	if colon := indexTop(inner, ':'); colon >= 0 {
		cond, err := ParseExpr(inner[:colon], pos)
		if err != nil {
			p.exprError(err)
			return nil
		}
		branches := p.inlineBranches(inner[colon+1:], shift(pos, inner[:colon+1]))
		if len(branches) > 2 {
			p.errorf(pos, "inline conditional takes at most two branches, found %d", len(branches))
			return nil
		}
		ic := &InlineCond{Cond: cond, Then: branches[0]}
		if len(branches) == 2 {
			ic.Else = branches[1]
		}
		return ic
	}

	if len(splitTop(inner, '|')) > 1 {
		return &InlineSeq{Mode: SeqStopping, Branches: p.inlineBranches(inner, pos), Pos: lead}
	}

	x, err := ParseExpr(inner, pos)
	if err != nil {
		p.exprError(err)
		return nil
	}
	return &Eval{Expr: x}
}

func (p *Parser) inlineBranches(s string, pos diag.Pos) [][]Inline {
	var out [][]Inline
	offset := 0
	for _, part := range splitTop(s, '|') {
		out = append(out, p.parseInline(part, shift(pos, s[:offset])))
		offset += len(part) + 1
	}
	return out
}
