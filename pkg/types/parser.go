package types

import (
	"fmt"
	"strings"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

// SyntaxError describes malformed type text. It matches errs.ErrTypeSyntax.
type SyntaxError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("types: %s at offset %d of %q", e.Msg, e.Pos, e.Input)
}

func (e *SyntaxError) Is(target error) bool { return target == errs.ErrTypeSyntax }

// modifierWords follow a type in a column definition. The ones mapped to true
// end the type: the rest of the definition is skipped.
var modifierWords = map[string]bool{
	"NOT":          false,
	"NULL":         false,
	"ALIAS":        true,
	"DEFAULT":      true,
	"MATERIALIZED": true,
	"EPHEMERAL":    true,
	"CODEC":        true,
	"TTL":          true,
	"COMMENT":      true,
}

// Parse parses a single type descriptor, e.g. `array(nullable(decimal(18, 4)))`,
// into a column called columnName.
func Parse(typeText, columnName string) (*Column, error) {
	p := &parser{src: typeText}
	c, err := p.typeExpr(columnName)
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.fail("unexpected %q", p.src[p.pos:])
	}
	return c, nil
}

// ParseColumns parses a comma separated `name type` list such as the
// structure of an external table.
func ParseColumns(text string) ([]*Column, error) {
	p := &parser{src: text}
	if p.eof() {
		return nil, p.fail("empty column list")
	}
	cols, err := p.columnList()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.fail("unexpected %q", p.src[p.pos:])
	}
	return cols, nil
}

// MustParse is Parse for statically known type text; it panics on error.
func MustParse(typeText string) *Column {
	c, err := Parse(typeText, "")
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	src string
	pos int
}

func (p *parser) fail(format string, args ...any) error {
	return &SyntaxError{Input: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p *parser) eof() bool {
	p.skipSpace()
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) accept(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(c byte) error {
	if p.accept(c) {
		return nil
	}
	if p.pos >= len(p.src) {
		return p.fail("expected %q, got end of input", c)
	}
	return p.fail("expected %q, got %q", c, p.src[p.pos])
}

// ident reads a bare identifier or one quoted with backticks or double quotes.
func (p *parser) ident() (name string, quoted bool, err error) {
	if p.eof() {
		return "", false, p.fail("expected identifier, got end of input")
	}
	q := p.src[p.pos]
	if q == '`' || q == '"' {
		var b strings.Builder
		for i := p.pos + 1; i < len(p.src); i++ {
			switch c := p.src[i]; {
			case c == '\\' && i+1 < len(p.src):
				i++
				b.WriteByte(p.src[i])
			case c == q && i+1 < len(p.src) && p.src[i+1] == q:
				i++
				b.WriteByte(q)
			case c == q:
				p.pos = i + 1
				return b.String(), true, nil
			default:
				b.WriteByte(c)
			}
		}
		return "", false, p.fail("unterminated quoted identifier")
	}
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos], p.pos == start) {
		p.pos++
	}
	if p.pos == start {
		return "", false, p.fail("expected identifier, got %q", q)
	}
	return p.src[start:p.pos], false, nil
}

// word returns the next bare word upper-cased without consuming it when
// consume is false. It returns "" when no bare word follows.
func (p *parser) word(consume bool) string {
	save := p.pos
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos], p.pos == start) {
		p.pos++
	}
	w := strings.ToUpper(p.src[start:p.pos])
	if !consume || w == "" {
		p.pos = save
	}
	return w
}

func (p *parser) columnList() ([]*Column, error) {
	var cols []*Column
	for {
		name, _, err := p.ident()
		if err != nil {
			return nil, err
		}
		if p.peek() == ',' || p.peek() == ')' || p.eof() {
			return nil, p.fail("missing type for column %q", name)
		}
		c, err := p.typeExpr(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if !p.accept(',') {
			return cols, nil
		}
	}
}

// typeExpr parses wrapper* base_type modifier* and finalizes the result.
func (p *parser) typeExpr(name string) (*Column, error) {
	p.skipSpace()
	start := p.pos

	var lowCard, wrapped bool
	depth := 0
	for {
		save := p.pos
		w, quoted, err := p.ident()
		if err != nil {
			return nil, err
		}
		kw, ok := wrapperKeywords[w]
		if quoted || !ok || p.peek() != '(' {
			p.pos = save
			break
		}
		p.pos++
		switch kw {
		case kwLowCardinality:
			if lowCard {
				return nil, p.fail("low_cardinality applied twice")
			}
			lowCard = true
		case kwNullable:
			if wrapped {
				return nil, p.fail("nullable applied twice")
			}
			wrapped = true
		}
		depth++
	}

	c, err := p.baseType()
	if err != nil {
		return nil, err
	}
	for ; depth > 0; depth-- {
		if err := p.expect(')'); err != nil {
			return nil, err
		}
	}
	c.name = name
	c.lowCardinality = lowCard
	c.nullable = wrapped

	end, err := p.modifiers(&c, wrapped)
	if err != nil {
		return nil, err
	}
	c.originalType = strings.TrimSpace(p.src[start:end])

	fc, err := finalize(c)
	if err != nil {
		return nil, &SyntaxError{Input: p.src, Pos: start, Msg: err.Error()}
	}
	return &fc, nil
}

// modifiers consumes trailing NULL / NOT NULL and table-definition stop words.
// It returns the offset where the type text ends.
func (p *parser) modifiers(c *Column, wrapped bool) (int, error) {
	end := p.pos
	notNull := false
	for {
		w := p.word(false)
		stop, ok := modifierWords[w]
		if !ok {
			return end, nil
		}
		p.word(true)
		if stop {
			if err := p.skipExpr(); err != nil {
				return 0, err
			}
			return end, nil
		}
		switch w {
		case "NOT":
			if p.word(true) != "NULL" {
				return 0, p.fail("expected NULL after NOT")
			}
			if wrapped {
				return 0, p.fail("NOT NULL conflicts with nullable")
			}
			if c.nullable {
				return 0, p.fail("NOT NULL conflicts with NULL")
			}
			notNull = true
		case "NULL":
			if notNull {
				return 0, p.fail("NULL conflicts with NOT NULL")
			}
			c.nullable = true
		}
		end = p.pos
	}
}

// skipExpr skips to the next top-level ',' or ')' without consuming it.
func (p *parser) skipExpr() error {
	depth := 0
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; c {
		case '\'', '"', '`':
			if err := p.skipQuoted(c); err != nil {
				return err
			}
			continue
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return nil
			}
			depth--
		case ',':
			if depth == 0 {
				return nil
			}
		}
		p.pos++
	}
	if depth > 0 {
		return p.fail("unbalanced parentheses")
	}
	return nil
}

func (p *parser) skipQuoted(q byte) error {
	for i := p.pos + 1; i < len(p.src); i++ {
		switch p.src[i] {
		case '\\':
			i++
		case q:
			if i+1 < len(p.src) && p.src[i+1] == q {
				i++
				continue
			}
			p.pos = i + 1
			return nil
		}
	}
	return p.fail("unterminated quote")
}

func (p *parser) baseType() (Column, error) {
	p.skipSpace()
	at := p.pos
	word, quoted, err := p.ident()
	if err != nil {
		return Column{}, err
	}
	if t, ok := compositeKeywords[word]; ok && !quoted {
		if !p.accept('(') {
			return Column{}, p.fail("%s requires type arguments", t)
		}
		c := Column{dataType: t, keyword: t.String()}
		switch t {
		case Array:
			err = p.arrayArgs(&c)
		case Map:
			err = p.mapArgs(&c)
		case Tuple:
			err = p.tupleArgs(&c)
		case Nested:
			err = p.nestedArgs(&c)
		default:
			err = p.aggregateArgs(&c)
		}
		return c, err
	}

	keyword, t, ok := lookupScalar(word)
	if !ok {
		p.pos = at
		return Column{}, p.fail("unknown type %q", word)
	}
	c := Column{dataType: t, keyword: keyword}
	if p.accept('(') {
		if c.parameters, err = p.paramList(); err != nil {
			return Column{}, err
		}
	}
	return c, nil
}

func (p *parser) arrayArgs(c *Column) error {
	if p.peek() == ')' {
		return p.fail("array requires an element type")
	}
	elem, err := p.typeExpr("")
	if err != nil {
		return err
	}
	if p.peek() == ',' {
		return p.fail("array takes exactly one element type")
	}
	c.nested = []*Column{elem}
	return p.expect(')')
}

func (p *parser) mapArgs(c *Column) error {
	if p.peek() == ')' {
		return p.fail("map requires key and value types")
	}
	key, err := p.typeExpr("")
	if err != nil {
		return err
	}
	if !p.accept(',') {
		return p.fail("map requires key and value types")
	}
	val, err := p.typeExpr("")
	if err != nil {
		return err
	}
	if p.peek() == ',' {
		return p.fail("map takes exactly two types")
	}
	c.nested = []*Column{key, val}
	return p.expect(')')
}

func (p *parser) tupleArgs(c *Column) error {
	if p.peek() == ')' {
		return p.fail("tuple requires at least one element")
	}
	for {
		elem, err := p.tupleElem()
		if err != nil {
			return err
		}
		c.nested = append(c.nested, elem)
		if !p.accept(',') {
			return p.expect(')')
		}
	}
}

// tupleElem parses either `name type` or a bare type. A name is recognized by
// an identifier directly following the first one.
func (p *parser) tupleElem() (*Column, error) {
	save := p.pos
	name, _, err := p.ident()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	named := false
	if p.pos < len(p.src) {
		next := p.src[p.pos]
		switch {
		case next == '`' || next == '"':
			named = true
		case isIdentByte(next, true):
			_, isMod := modifierWords[p.word(false)]
			named = !isMod
		}
	}
	if !named {
		p.pos = save
		name = ""
	}
	return p.typeExpr(name)
}

func (p *parser) nestedArgs(c *Column) error {
	if p.peek() == ')' {
		return p.fail("nested requires at least one column")
	}
	cols, err := p.columnList()
	if err != nil {
		return err
	}
	c.nested = cols
	return p.expect(')')
}

func (p *parser) aggregateArgs(c *Column) error {
	if p.peek() == ')' {
		return p.fail("%s requires a function name", c.dataType)
	}
	fn, _, err := p.ident()
	if err != nil {
		return err
	}
	f, ok := LookupAggregateFunction(fn)
	if !ok {
		return p.fail("unknown aggregate function %q", fn)
	}
	c.aggFunc, c.aggName = f, fn
	if p.accept('(') {
		if c.aggParams, err = p.paramList(); err != nil {
			return err
		}
	}
	for p.accept(',') {
		arg, err := p.typeExpr("")
		if err != nil {
			return err
		}
		c.nested = append(c.nested, arg)
	}
	if c.dataType == SimpleAggregateFunction && len(c.nested) != 1 {
		return p.fail("simple_aggregate_function takes exactly one argument type")
	}
	return p.expect(')')
}

// paramList reads raw parameters up to the matching ')'. Commas inside nested
// parentheses or quotes do not split. Whitespace outside quotes is dropped.
func (p *parser) paramList() ([]string, error) {
	var (
		params []string
		cur    strings.Builder
		depth  int
	)
	flush := func() error {
		if cur.Len() == 0 {
			return p.fail("empty parameter")
		}
		params = append(params, cur.String())
		cur.Reset()
		return nil
	}
	if p.accept(')') {
		return nil, nil
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\'' || c == '"' || c == '`':
			from := p.pos
			if err := p.skipQuoted(c); err != nil {
				return nil, err
			}
			cur.WriteString(p.src[from:p.pos])
			continue
		case isSpace(c):
		case c == '(':
			depth++
			cur.WriteByte(c)
		case c == ')' && depth == 0:
			p.pos++
			if err := flush(); err != nil {
				return nil, err
			}
			return params, nil
		case c == ')':
			depth--
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteByte(c)
		}
		p.pos++
	}
	return nil, p.fail("unbalanced parentheses")
}
