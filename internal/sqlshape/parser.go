package sqlshape

import "strings"

// Emit receives one (statement_kind, qualified_table_name) callback per
// table reference the parser recognizes. statement_kind is one of
// "select", "insert", "update", "delete", "show".
type Emit func(statementKind, table string)

// Parse recognizes the statement shapes enumerated in §4.6 and invokes
// emit once per table reference found. It returns a *ParseError, never a
// generic error, so callers can always recover the offending bytes;
// per-§4.6 "parse failure is non-fatal: the query is reported to stderr
// and excluded from table statistics" — that reporting is the caller's
// job, Parse only surfaces the error.
func Parse(query string, emit Emit) error {
	p := &parser{lex: newLexer(query), query: query}
	p.advance()
	return p.parseStatement(emit)
}

type parser struct {
	lex   *lexer
	query string
	tok   token
}

func (p *parser) advance() {
	p.tok = p.lex.next()
}

func (p *parser) errf(msg string) *ParseError {
	return &ParseError{Query: p.query, Pos: p.tok.pos, Msg: msg}
}

func upper(s string) string { return strings.ToUpper(s) }

// isKeyword reports whether the current token is an unquoted identifier
// equal (case-insensitively) to kw.
func (p *parser) isKeyword(kw string) bool {
	return p.tok.kind == tokIdent && upper(p.tok.text) == kw
}

func (p *parser) isAnyKeyword(kws ...string) bool {
	if p.tok.kind != tokIdent {
		return false
	}
	u := upper(p.tok.text)
	for _, kw := range kws {
		if u == kw {
			return true
		}
	}
	return false
}

var clauseStopwords = []string{
	"WHERE", "GROUP", "ORDER", "LIMIT", "HAVING", "UNION",
	"JOIN", "INNER", "LEFT", "RIGHT", "NATURAL", "CROSS", "ON", "USING",
	"AS", "USE", "FORCE", "IGNORE",
}

func (p *parser) parseStatement(emit Emit) error {
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelect(emit)
	case p.isKeyword("INSERT"):
		return p.parseInsert(emit)
	case p.isKeyword("UPDATE"):
		return p.parseUpdate(emit)
	case p.isKeyword("DELETE"):
		return p.parseDelete(emit)
	case p.isKeyword("SHOW"):
		return p.parseShow(emit)
	default:
		return p.errf("unrecognized statement")
	}
}

// skipBalanced advances past tokens until it either reaches EOF, a closing
// paren at depth 0 (left unconsumed for the caller), or one of the stop
// keywords at depth 0 (also left unconsumed). It treats nested parens as
// opaque, which is sufficient to "tolerate" subqueries/EXISTS/CAST inside
// WHERE predicates and ON clauses without needing to recurse into them.
func (p *parser) skipBalanced(stop []string) {
	depth := 0
	for {
		if p.tok.kind == tokEOF {
			return
		}
		if depth == 0 {
			if p.tok.kind == tokPunct && p.tok.text == ")" {
				return
			}
			if p.isAnyKeyword(stop...) {
				return
			}
		}
		if p.tok.kind == tokPunct {
			switch p.tok.text {
			case "(":
				depth++
			case ")":
				depth--
			}
		}
		p.advance()
	}
}

// parseQualifiedName consumes db.table / table, returning the final
// component with any non-alphanumeric prefix stripped, per §4.6.
func (p *parser) parseQualifiedName() (string, bool) {
	if p.tok.kind != tokIdent && p.tok.kind != tokQuotedIdent {
		return "", false
	}
	name := p.tok.text
	p.advance()

	for p.tok.kind == tokPunct && p.tok.text == "." {
		p.advance()
		if p.tok.kind != tokIdent && p.tok.kind != tokQuotedIdent {
			return "", false
		}
		name = p.tok.text
		p.advance()
	}

	return stripNonAlnumPrefix(name), true
}

func stripNonAlnumPrefix(s string) string {
	i := 0
	for i < len(s) {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			break
		}
		i++
	}
	return s[i:]
}

// consumeOptionalAlias swallows `[AS] alias` or bare `alias` following a
// table reference, without reporting it as a table.
func (p *parser) consumeOptionalAlias() {
	if p.isKeyword("AS") {
		p.advance()
		if p.tok.kind == tokIdent || p.tok.kind == tokQuotedIdent {
			p.advance()
		}
		return
	}
	if p.tok.kind == tokIdent && !p.isAnyKeyword(clauseStopwords...) {
		p.advance()
	}
}

// consumeIndexHints discards zero or more `(USE|FORCE|IGNORE) (INDEX|KEY)
// [FOR (JOIN|ORDER BY|GROUP BY)] (name, ...)` index hints following a table
// reference (and its alias, if any). They name no table of their own and
// must not be mistaken for an alias or left unconsumed for the caller to
// misread as a stray continuation token.
func (p *parser) consumeIndexHints() {
	for p.isAnyKeyword("USE", "FORCE", "IGNORE") {
		p.advance() // USE/FORCE/IGNORE
		if !p.isAnyKeyword("INDEX", "KEY") {
			return
		}
		p.advance() // INDEX/KEY

		if p.isKeyword("FOR") {
			p.advance()
			switch {
			case p.isKeyword("JOIN"):
				p.advance()
			case p.isKeyword("ORDER"), p.isKeyword("GROUP"):
				p.advance()
				if p.isKeyword("BY") {
					p.advance()
				}
			}
		}

		if p.tok.kind == tokPunct && p.tok.text == "(" {
			p.advance()
			depth := 1
			for depth > 0 && p.tok.kind != tokEOF {
				if p.tok.kind == tokPunct && p.tok.text == "(" {
					depth++
				} else if p.tok.kind == tokPunct && p.tok.text == ")" {
					depth--
				}
				p.advance()
			}
		}
	}
}

// parseTableRefList parses a comma/JOIN-separated list of table
// references (the grammar after FROM or after UPDATE), emitting kind for
// each qualified table name encountered. It stops as soon as it sees a
// non-continuation token, leaving that token for the caller.
func (p *parser) parseTableRefList(kind string, emit Emit) {
	for {
		p.parseOneTableRef(kind, emit)

		switch {
		case p.tok.kind == tokPunct && p.tok.text == ",":
			p.advance()
			continue
		case p.isAnyKeyword("JOIN"):
			p.advance()
			continue
		case p.isAnyKeyword("INNER", "LEFT", "RIGHT", "NATURAL", "CROSS"):
			// consume modifier words up to JOIN
			for p.isAnyKeyword("INNER", "LEFT", "RIGHT", "NATURAL", "CROSS", "OUTER") {
				p.advance()
			}
			if p.isKeyword("JOIN") {
				p.advance()
				continue
			}
			return
		default:
			return
		}
	}
}

func (p *parser) parseOneTableRef(kind string, emit Emit) {
	if p.tok.kind == tokPunct && p.tok.text == "(" {
		p.advance() // consume '('
		// Could be a subquery or a parenthesized join; either way treat
		// its contents as an opaque nested statement when it starts with
		// SELECT, otherwise as a nested table-ref-list.
		if p.isKeyword("SELECT") {
			_ = p.parseSelect(emit)
		} else {
			p.parseTableRefList(kind, emit)
		}
		if p.tok.kind == tokPunct && p.tok.text == ")" {
			p.advance()
		}
		p.consumeOptionalAlias()
		return
	}

	if name, ok := p.parseQualifiedName(); ok {
		emit(kind, name)
	}
	p.consumeOptionalAlias()
	p.consumeIndexHints()

	// ON / USING clause attached to a join
	if p.isKeyword("ON") {
		p.advance()
		p.skipBalanced([]string{"WHERE", "GROUP", "ORDER", "LIMIT", "HAVING", "UNION", "JOIN", "INNER", "LEFT", "RIGHT", "NATURAL", "CROSS"})
	} else if p.isKeyword("USING") {
		p.advance()
		if p.tok.kind == tokPunct && p.tok.text == "(" {
			p.advance()
			depth := 1
			for depth > 0 && p.tok.kind != tokEOF {
				if p.tok.kind == tokPunct && p.tok.text == "(" {
					depth++
				} else if p.tok.kind == tokPunct && p.tok.text == ")" {
					depth--
				}
				p.advance()
			}
		}
	}
}

func (p *parser) parseSelect(emit Emit) error {
	if !p.isKeyword("SELECT") {
		return p.errf("expected SELECT")
	}
	p.advance()

	// Skip the select list (column expressions), which may itself contain
	// balanced parens (function calls, CAST, subqueries as scalar exprs),
	// stopping at FROM.
	p.skipBalanced([]string{"FROM"})

	if p.isKeyword("FROM") {
		p.advance()
		p.parseTableRefList("select", emit)
	}

	// Skip everything else up to UNION/EOF/closing paren.
	p.skipBalanced([]string{"UNION"})

	if p.isKeyword("UNION") {
		p.advance()
		if p.isKeyword("ALL") {
			p.advance()
		}
		if p.isKeyword("SELECT") {
			return p.parseSelect(emit)
		}
	}

	return nil
}

func (p *parser) parseInsert(emit Emit) error {
	p.advance() // INSERT
	if p.isKeyword("IGNORE") {
		p.advance()
	}
	if !p.isKeyword("INTO") {
		return p.errf("expected INTO after INSERT")
	}
	p.advance()

	name, ok := p.parseQualifiedName()
	if !ok {
		return p.errf("expected table name after INSERT INTO")
	}
	emit("insert", name)
	return nil
}

func (p *parser) parseUpdate(emit Emit) error {
	p.advance() // UPDATE
	p.parseTableRefList("update", emit)
	return nil
}

func (p *parser) parseDelete(emit Emit) error {
	p.advance() // DELETE
	if !p.isKeyword("FROM") {
		return p.errf("expected FROM after DELETE")
	}
	p.advance()

	name, ok := p.parseQualifiedName()
	if !ok {
		return p.errf("expected table name after DELETE FROM")
	}
	emit("delete", name)
	return nil
}

func (p *parser) parseShow(emit Emit) error {
	p.advance() // SHOW
	sawFrom := false
	for p.tok.kind != tokEOF {
		if p.isKeyword("FROM") || p.isKeyword("IN") {
			sawFrom = true
			p.advance()
			if name, ok := p.parseQualifiedName(); ok {
				emit("show", name)
			}
			continue
		}
		p.advance()
	}
	if !sawFrom {
		emit("show", "")
	}
	return nil
}
