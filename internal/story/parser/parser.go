// Package parser turns story source text into a parse tree. It is line
// oriented: every statement starts on its own line, and errors are collected
// as diagnostics so one bad line never hides the rest of the file.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"inkforge.dev/internal/story/diag"
)

// IncludeFunc loads the source of an INCLUDEd file.
type IncludeFunc func(name string) (string, error)

type Options struct {
	Include IncludeFunc
	// MaxIncludeDepth bounds nested INCLUDE chains. Zero means 16.
	MaxIncludeDepth int
}

type Parser struct {
	opts     Options
	diags    diag.List
	out      *File
	file     string
	included map[string]bool
	depth    int
}

type srcLine struct {
	text string
	num  int
	col  int
}

// Parse parses src (named file) and everything it includes.
func Parse(file, src string, opts Options) (*File, diag.List) {
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = 16
	}
	p := &Parser{
		opts:     opts,
		out:      &File{Name: file},
		included: map[string]bool{file: true},
	}
	p.parseFile(file, src)
	return p.out, p.diags
}

func (p *Parser) errorf(pos diag.Pos, format string, args ...any) {
	p.diags.Errorf(diag.KindSyntax, pos, format, args...)
}

func (p *Parser) exprError(err error) {
	var ee *exprError
	if errors.As(err, &ee) {
		p.diags.Errorf(diag.KindSyntax, ee.pos, "%s", ee.msg)
		return
	}
	p.diags.Errorf(diag.KindSyntax, diag.Pos{File: p.file}, "%v", err)
}

// stripComments blanks `//` and `/* */` comments, keeping line structure.
func stripComments(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src) && src[i+1] != '\n':
			sb.WriteByte(c)
			sb.WriteByte(src[i+1])
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				sb.WriteByte('\n')
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				if src[i] == '\n' {
					sb.WriteByte('\n')
				}
				i++
			}
			i++
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func splitLines(src string) []srcLine {
	raw := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	out := make([]srcLine, len(raw))
	for i, t := range raw {
		out[i] = srcLine{text: t, num: i + 1, col: 1}
	}
	return out
}

// trim returns the line without surrounding blanks and the position of its
// first visible rune.
func (p *Parser) trim(ln srcLine) (string, diag.Pos) {
	t := strings.TrimRightFunc(ln.text, unicode.IsSpace)
	body := strings.TrimLeftFunc(t, unicode.IsSpace)
	pos := diag.Pos{File: p.file, Line: ln.num, Column: ln.col}
	return body, shift(pos, t[:len(t)-len(body)])
}

func hasKeyword(t, kw string) bool {
	if !strings.HasPrefix(t, kw) {
		return false
	}
	rest := t[len(kw):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

func (p *Parser) parseFile(name, src string) {
	prevFile := p.file
	p.file = name
	defer func() { p.file = prevFile }()

	lines := splitLines(stripComments(normalize(src)))
	body := &p.out.Top
	var knot *Knot

	for i := 0; i < len(lines); {
		t, pos := p.trim(lines[i])
		switch {
		case t == "":
			i++
		case strings.HasPrefix(t, "=="):
			knot = p.parseKnotHeader(t, pos)
			i++
			if knot != nil {
				p.out.Knots = append(p.out.Knots, knot)
				body = &knot.Body
			}
		case t[0] == '=':
			i++
			st := p.parseStitchHeader(t, pos)
			if st == nil {
				continue
			}
			if knot == nil {
				p.errorf(pos, "stitch %q must be inside a knot", st.Name)
				continue
			}
			knot.Stitches = append(knot.Stitches, st)
			body = &st.Body
		case hasKeyword(t, "INCLUDE"):
			i++
			p.include(strings.TrimSpace(t[len("INCLUDE"):]), pos)
		case hasKeyword(t, "VAR"), hasKeyword(t, "CONST"):
			i++
			if d := p.parseVarDecl(t, pos); d != nil {
				p.out.Globals = append(p.out.Globals, d)
			}
		case hasKeyword(t, "LIST"):
			i++
			if d := p.parseListDecl(t, pos); d != nil {
				p.out.Lists = append(p.out.Lists, d)
			}
		case hasKeyword(t, "EXTERNAL"):
			i++
			if d := p.parseExternal(t, pos); d != nil {
				p.out.Externals = append(p.out.Externals, d)
			}
		default:
			nodes, next := p.parseStatement(lines, i, false)
			*body = append(*body, nodes...)
			i = next
		}
	}
}

// normalize drops a byte order mark and composes the text to NFC, so names
// typed with combining marks match their precomposed spelling.
func normalize(src string) string {
	src = strings.TrimPrefix(src, "\ufeff")
	if norm.NFC.IsNormalString(src) {
		return src
	}
	return norm.NFC.String(src)
}

func (p *Parser) include(name string, pos diag.Pos) {
	switch {
	case name == "":
		p.errorf(pos, "INCLUDE needs a file name")
		return
	case p.opts.Include == nil:
		p.errorf(pos, "cannot INCLUDE %q: no include loader configured", name)
		return
	case p.included[name]:
		p.errorf(pos, "file %q is included more than once", name)
		return
	case p.depth >= p.opts.MaxIncludeDepth:
		p.errorf(pos, "INCLUDE nesting deeper than %d", p.opts.MaxIncludeDepth)
		return
	}
	src, err := p.opts.Include(name)
	if err != nil {
		p.errorf(pos, "cannot INCLUDE %q: %v", name, err)
		return
	}
	p.included[name] = true
	p.depth++
	p.parseFile(name, src)
	p.depth--
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isIdentStart(r) || !isIdentPart(r) {
			return false
		}
	}
	return true
}

// parseHeader reads `name(params)` for knots and stitches.
func (p *Parser) parseHeader(t string, pos diag.Pos) (string, []Param, bool) {
	name := t
	var paramText string
	if open := strings.IndexByte(t, '('); open >= 0 {
		if !strings.HasSuffix(t, ")") {
			p.errorf(pos, "unclosed parameter list")
			return "", nil, false
		}
		name = strings.TrimSpace(t[:open])
		paramText = t[open+1 : len(t)-1]
	}
	if !isIdent(name) {
		p.errorf(pos, "invalid name %q", name)
		return "", nil, false
	}
	var params []Param
	if strings.TrimSpace(paramText) != "" {
		for _, raw := range strings.Split(paramText, ",") {
			f := strings.Fields(raw)
			prm := Param{Pos: pos}
			switch {
			case len(f) == 1:
				prm.Name = f[0]
			case len(f) == 2 && f[0] == "->":
				prm.Name, prm.Divert = f[1], true
			case len(f) == 2 && f[0] == "ref":
				p.errorf(pos, "reference parameters are not supported (%q)", f[1])
				return "", nil, false
			default:
				p.errorf(pos, "invalid parameter %q", strings.TrimSpace(raw))
				return "", nil, false
			}
			if !isIdent(prm.Name) {
				p.errorf(pos, "invalid parameter name %q", prm.Name)
				return "", nil, false
			}
			params = append(params, prm)
		}
	}
	return name, params, true
}

func (p *Parser) parseKnotHeader(t string, pos diag.Pos) *Knot {
	body := strings.TrimSpace(strings.Trim(t, "="))
	k := &Knot{Pos: pos}
	if hasKeyword(body, "function") {
		k.Function = true
		body = strings.TrimSpace(body[len("function"):])
	}
	name, params, ok := p.parseHeader(body, pos)
	if !ok {
		return nil
	}
	k.Name, k.Params = name, params
	return k
}

func (p *Parser) parseStitchHeader(t string, pos diag.Pos) *Stitch {
	name, params, ok := p.parseHeader(strings.TrimSpace(t[1:]), pos)
	if !ok {
		return nil
	}
	return &Stitch{Name: name, Params: params, Pos: pos}
}

func (p *Parser) parseVarDecl(t string, pos diag.Pos) *VarDecl {
	kw := "VAR"
	if hasKeyword(t, "CONST") {
		kw = "CONST"
	}
	rest := t[len(kw):]
	e := newExprParser(rest, shift(pos, t[:len(kw)]))
	name, ok := e.expect(TOK_IDENT)
	if ok {
		_, ok = e.expect(TOK_ASSIGN)
	}
	var x Expr
	if ok {
		x = e.parseExpr(0)
		if e.err == nil && !e.atEOF() {
			e.fail(e.peek(), "unexpected %q after %s initializer", e.peek().Lexeme, kw)
		}
	}
	if e.err != nil {
		p.exprError(e.err)
		return nil
	}
	return &VarDecl{Name: name.Lexeme, Value: x, Constant: kw == "CONST", Pos: pos}
}

func (p *Parser) parseListDecl(t string, pos diag.Pos) *ListDecl {
	rest := strings.TrimSpace(t[len("LIST"):])
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		p.errorf(pos, "LIST needs '=' and item names")
		return nil
	}
	d := &ListDecl{Name: strings.TrimSpace(rest[:eq]), Pos: pos}
	if !isIdent(d.Name) {
		p.errorf(pos, "invalid list name %q", d.Name)
		return nil
	}
	next := int64(1)
	for _, raw := range strings.Split(rest[eq+1:], ",") {
		item := strings.TrimSpace(raw)
		var it ListItemDecl
		if strings.HasPrefix(item, "(") && strings.HasSuffix(item, ")") {
			it.Selected = true
			item = strings.TrimSpace(item[1 : len(item)-1])
		}
		if k := strings.IndexByte(item, '='); k >= 0 {
			n, err := strconv.ParseInt(strings.TrimSpace(item[k+1:]), 10, 64)
			if err != nil {
				p.errorf(pos, "list item value must be an integer: %q", item)
				return nil
			}
			next, it.Explicit = n, true
			item = strings.TrimSpace(item[:k])
		}
		if !isIdent(item) {
			p.errorf(pos, "invalid list item %q", strings.TrimSpace(raw))
			return nil
		}
		it.Name, it.Value = item, next
		next++
		d.Items = append(d.Items, it)
	}
	return d
}

func (p *Parser) parseExternal(t string, pos diag.Pos) *ExternalDecl {
	name, params, ok := p.parseHeader(strings.TrimSpace(t[len("EXTERNAL"):]), pos)
	if !ok {
		return nil
	}
	d := &ExternalDecl{Name: name, Pos: pos}
	for _, prm := range params {
		d.Params = append(d.Params, prm.Name)
	}
	return d
}

// parseStatement parses the statement starting at lines[i] and returns the
// index of the first line after it. Inside conditional blocks the weave
// markers are not allowed.
func (p *Parser) parseStatement(lines []srcLine, i int, inBlock bool) ([]Node, int) {
	t, pos := p.trim(lines[i])
	if t == "" {
		return nil, i + 1
	}
	switch {
	case t[0] == '*' || t[0] == '+':
		if inBlock {
			p.errorf(pos, "choices are not allowed inside conditional blocks")
			return nil, i + 1
		}
		if c := p.parseChoice(t, pos); c != nil {
			return []Node{c}, i + 1
		}
	case t[0] == '-' && !strings.HasPrefix(t, "->"):
		if inBlock {
			p.errorf(pos, "gathers are not allowed inside conditional blocks")
			return nil, i + 1
		}
		return []Node{p.parseGather(t, pos)}, i + 1
	case t[0] == '~':
		if l := p.parseLogic(t[1:], shift(pos, "~")); l != nil {
			return []Node{l}, i + 1
		}
	case strings.HasPrefix(t, "<-"):
		if th := p.parseThread(t, pos); th != nil {
			return []Node{th}, i + 1
		}
	case t[0] == '{' && braceDepth(t, 0) > 0:
		return p.parseMultiline(lines, i)
	case strings.HasPrefix(t, "TODO"):
	case strings.HasPrefix(t, "==") || t[0] == '=':
		p.errorf(pos, "knot and stitch headers are not allowed here")
	default:
		return []Node{p.parseContentLine(t, pos)}, i + 1
	}
	return nil, i + 1
}

func markers(t string, allowed string) (count int, first byte, rest string) {
	i := 0
	for i < len(t) {
		c := t[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		if strings.IndexByte(allowed, c) < 0 || (c == '-' && strings.HasPrefix(t[i:], "->")) {
			break
		}
		if count == 0 {
			first = c
		}
		count++
		i++
	}
	return count, first, t[i:]
}

// label parses a leading `(name)`.
func (p *Parser) label(rest string, pos diag.Pos) (string, string, bool) {
	if !strings.HasPrefix(rest, "(") {
		return "", rest, true
	}
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		p.errorf(pos, "unclosed label")
		return "", "", false
	}
	name := strings.TrimSpace(rest[1:end])
	if !isIdent(name) {
		p.errorf(pos, "invalid label %q", name)
		return "", "", false
	}
	return name, strings.TrimLeft(rest[end+1:], " \t"), true
}

func (p *Parser) parseGather(t string, pos diag.Pos) *Gather {
	depth, _, rest := markers(t, "-")
	g := &Gather{Depth: depth, Pos: pos}
	lblPos := shift(pos, t[:len(t)-len(rest)])
	name, rest, ok := p.label(rest, lblPos)
	if !ok {
		return g
	}
	g.Label = name
	if rest != "" {
		g.Line = p.parseContentLine(rest, shift(pos, t[:len(t)-len(rest)]))
	}
	return g
}

func (p *Parser) parseChoice(t string, pos diag.Pos) *Choice {
	depth, first, rest := markers(t, "*+")
	c := &Choice{Depth: depth, Sticky: first == '+', Pos: pos}
	at := func(s string) diag.Pos { return shift(pos, t[:len(t)-len(s)]) }

	name, rest, ok := p.label(rest, at(rest))
	if !ok {
		return nil
	}
	c.Label = name

	for strings.HasPrefix(rest, "{") {
		end := matchBrace(rest, 0)
		if end < 0 {
			p.errorf(at(rest), "unclosed choice condition")
			return nil
		}
		cond, err := ParseExpr(rest[1:end], shift(at(rest), "{"))
		if err != nil {
			p.exprError(err)
			return nil
		}
		c.Conditions = append(c.Conditions, cond)
		rest = strings.TrimLeft(rest[end+1:], " \t")
	}

	body, tags := splitTags(rest)
	c.Tags = tags
	body = strings.TrimRight(body, " \t")

	if body == "" || strings.HasPrefix(body, "->") {
		c.Fallback = true
		c.Inner = p.parseInline(body, at(rest))
		return c
	}

	open := indexTop(body, '[')
	if open < 0 {
		c.Start = p.parseInline(body, at(rest))
		return c
	}
	closeAt := indexTop(body[open:], ']')
	if closeAt < 0 {
		p.errorf(shift(at(rest), body[:open]), "unclosed '[' in choice")
		return nil
	}
	closeAt += open
	c.HasBracket = true
	c.Start = p.parseInline(body[:open], at(rest))
	c.ChoiceOnly = p.parseInline(body[open+1:closeAt], shift(at(rest), body[:open+1]))
	c.Inner = p.parseInline(body[closeAt+1:], shift(at(rest), body[:closeAt+1]))
	for _, part := range [][]Inline{c.Start, c.ChoiceOnly} {
		for _, n := range part {
			if _, isDivert := n.(*Divert); isDivert {
				p.errorf(pos, "a choice divert must come after the ']'")
				return nil
			}
		}
	}
	return c
}

func (p *Parser) parseLogic(s string, pos diag.Pos) *Logic {
	e := newExprParser(s, pos)
	first := e.peek()
	l := &Logic{Pos: pos}

	switch {
	case first.Type == TOK_IDENT && first.Lexeme == "temp":
		e.next()
		name, ok := e.expect(TOK_IDENT)
		if ok {
			_, ok = e.expect(TOK_ASSIGN)
		}
		if ok {
			l.Kind, l.Name, l.Op = LogicTemp, name.Lexeme, "="
			l.Expr = e.parseExpr(0)
		}
	case first.Type == TOK_IDENT && first.Lexeme == "return":
		e.next()
		l.Kind = LogicReturn
		if !e.atEOF() {
			l.Expr = e.parseExpr(0)
		}
	case first.Type == TOK_IDENT && isAssignOp(e.peekN(1).Type):
		e.next()
		op := e.next()
		l.Kind, l.Name, l.Op = LogicAssign, first.Lexeme, op.Lexeme
		if op.Type != TOK_INCR && op.Type != TOK_DECR {
			l.Expr = e.parseExpr(0)
		}
	default:
		l.Kind = LogicExpr
		l.Expr = e.parseExpr(0)
	}
	if e.err == nil && !e.atEOF() {
		e.fail(e.peek(), "unexpected %q in logic line", e.peek().Lexeme)
	}
	if e.err != nil {
		p.exprError(e.err)
		return nil
	}
	return l
}

func isAssignOp(tt TokenType) bool {
	switch tt {
	case TOK_ASSIGN, TOK_PLUS_EQ, TOK_MINUS_EQ, TOK_INCR, TOK_DECR:
		return true
	}
	return false
}

func (p *Parser) parseThread(t string, pos diag.Pos) *Thread {
	e := newExprParser(t, pos)
	e.expect(TOK_THREAD)
	tg, _ := e.parseTarget()
	if e.err == nil && !e.atEOF() {
		e.fail(e.peek(), "unexpected %q after thread target", e.peek().Lexeme)
	}
	if e.err != nil {
		p.exprError(e.err)
		return nil
	}
	return &Thread{Target: tg, Pos: pos}
}

// braceDepth returns the brace depth after scanning s from depth.
func braceDepth(s string, depth int) int {
	d, _ := scanBraces(s, depth)
	return d
}

// scanBraces tracks brace depth across s. It reports the byte index at which
// the depth first returns to zero, or -1. Quotes are ordinary text here since
// block bodies are content.
func scanBraces(s string, depth int) (int, int) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			i++
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return 0, i
			}
		}
	}
	return depth, -1
}

var sequenceKeywords = map[string]SequenceMode{
	"stopping": SeqStopping,
	"cycle":    SeqCycle,
	"once":     SeqOnce,
	"shuffle":  SeqShuffle,
}

// parseMultiline parses a `{ ... }` block spanning several lines.
func (p *Parser) parseMultiline(lines []srcLine, i int) ([]Node, int) {
	t, pos := p.trim(lines[i])
	header := t[1:]
	depth := braceDepth(header, 1)

	var inner []srcLine
	j := i + 1
	closed := false
	for ; j < len(lines); j++ {
		d, at := scanBraces(lines[j].text, depth)
		if at >= 0 {
			if tail := strings.TrimSpace(lines[j].text[at+1:]); tail != "" {
				p.errorf(diag.Pos{File: p.file, Line: lines[j].num}, "unexpected %q after '}'", tail)
			}
			if before := lines[j].text[:at]; strings.TrimSpace(before) != "" {
				inner = append(inner, srcLine{text: before, num: lines[j].num, col: lines[j].col})
			}
			closed = true
			j++
			break
		}
		depth = d
		inner = append(inner, lines[j])
	}
	if !closed {
		p.errorf(pos, "unclosed '{' block")
		return nil, j
	}

	header = strings.TrimSpace(header)
	block := p.buildBlock(header, inner, pos)
	if block == nil {
		return nil, j
	}
	return []Node{block}, j
}

type rawBranch struct {
	head  string
	pos   diag.Pos
	lines []srcLine
}

// splitBranches cuts block lines at top-level `- ` markers. Lines before the
// first marker are returned as the lead.
func (p *Parser) splitBranches(lines []srcLine) ([]srcLine, []*rawBranch) {
	var lead []srcLine
	var branches []*rawBranch
	depth := 0
	for _, ln := range lines {
		t, pos := p.trim(ln)
		if depth == 0 && strings.HasPrefix(t, "-") && !strings.HasPrefix(t, "->") {
			head := strings.TrimLeft(t[1:], " \t")
			branches = append(branches, &rawBranch{head: head, pos: pos})
		} else if len(branches) == 0 {
			lead = append(lead, ln)
		} else {
			b := branches[len(branches)-1]
			b.lines = append(b.lines, ln)
		}
		depth = braceDepth(ln.text, depth)
		if depth < 0 {
			depth = 0
		}
	}
	return lead, branches
}

func (p *Parser) parseBody(lines []srcLine) []Node {
	var out []Node
	for i := 0; i < len(lines); {
		nodes, next := p.parseStatement(lines, i, true)
		out = append(out, nodes...)
		i = next
	}
	return out
}

// withHead prepends the text that follows a branch marker as its first line.
func withHead(text string, pos diag.Pos, lines []srcLine) []srcLine {
	if strings.TrimSpace(text) == "" {
		return lines
	}
	return append([]srcLine{{text: text, num: pos.Line, col: pos.Column}}, lines...)
}

func (p *Parser) buildBlock(header string, lines []srcLine, pos diag.Pos) Node {
	lead, branches := p.splitBranches(lines)

	if header == "" {
		c := &Conditional{Pos: pos}
		for _, ln := range lead {
			if t, lpos := p.trim(ln); t != "" {
				p.errorf(lpos, "expected '- condition:' branch in conditional block")
				return nil
			}
		}
		for _, rb := range branches {
			br := p.condBranch(rb)
			if br == nil {
				return nil
			}
			c.Branches = append(c.Branches, br)
		}
		return c
	}

	if !strings.HasSuffix(header, ":") {
		p.errorf(pos, "expected ':' at the end of a block header")
		return nil
	}
	subject := strings.TrimSpace(header[:len(header)-1])

	if mode, ok := sequenceKeywords[subject]; ok {
		seq := &SequenceBlock{Mode: mode, Pos: pos}
		for _, rb := range branches {
			headPos := shift(rb.pos, "-")
			seq.Branches = append(seq.Branches, p.parseBody(withHead(rb.head, headPos, rb.lines)))
		}
		if len(seq.Branches) == 0 {
			p.errorf(pos, "sequence block has no '- ' branches")
			return nil
		}
		return seq
	}

	subj, err := ParseExpr(subject, shift(pos, "{"))
	if err != nil {
		p.exprError(err)
		return nil
	}

	hasLead := false
	for _, ln := range lead {
		if t, _ := p.trim(ln); t != "" {
			hasLead = true
		}
	}

	c := &Conditional{Subject: subj, Pos: pos}
	if hasLead || len(branches) == 0 || isElseHead(branches[0].head) {
		c.Branches = append(c.Branches, &Branch{Cond: subj, Body: p.parseBody(lead), Pos: pos})
		for _, rb := range branches {
			if !isElseHead(rb.head) {
				p.errorf(rb.pos, "only '- else:' may follow an if block")
				return nil
			}
			br := p.condBranch(rb)
			if br == nil {
				return nil
			}
			c.Branches = append(c.Branches, br)
		}
		if len(c.Branches) > 2 {
			p.errorf(pos, "an if block takes at most one else")
			return nil
		}
		return c
	}

	c.Switch = true
	for _, rb := range branches {
		br := p.condBranch(rb)
		if br == nil {
			return nil
		}
		c.Branches = append(c.Branches, br)
	}
	return c
}

func isElseHead(head string) bool {
	h := strings.TrimSpace(head)
	return h == "else:" || strings.HasPrefix(h, "else:") || h == "else"
}

func (p *Parser) condBranch(rb *rawBranch) *Branch {
	headPos := shift(rb.pos, "-")
	colon := indexTop(rb.head, ':')
	if colon < 0 {
		p.errorf(headPos, "expected ':' after branch condition")
		return nil
	}
	condText := strings.TrimSpace(rb.head[:colon])
	rest := rb.head[colon+1:]
	restPos := shift(headPos, rb.head[:colon+1])
	br := &Branch{Pos: rb.pos}
	if condText != "else" {
		x, err := ParseExpr(rb.head[:colon], headPos)
		if err != nil {
			p.exprError(err)
			return nil
		}
		br.Cond = x
	}
	br.Body = p.parseBody(withHead(strings.TrimLeft(rest, " \t"), shift(restPos, leadingBlank(rest)), rb.lines))
	return br
}

func leadingBlank(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// String summarizes the parse tree.
func (f *File) String() string {
	return fmt.Sprintf("file %s: %d top-level nodes, %d knots, %d globals, %d lists, %d externals",
		f.Name, len(f.Top), len(f.Knots), len(f.Globals), len(f.Lists), len(f.Externals))
}
