package lang

import (
	"strconv"

	"github.com/graphlite/graphlite/pkg/types"
)

// Parser is a recursive-descent parser over a pre-tokenized stream, with a
// Pratt-style precedence climb for expressions.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse tokenizes and parses a single statement (optionally chained via
// UNION/INTERSECT/EXCEPT).
func Parse(src string) (Statement, error) {
	toks, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if err := p.expectEndOrSemicolon(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) cur() Token  { return p.tokens[p.pos] }
func (p *Parser) advance() Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) atKeyword(kw string) bool {
	t := p.cur()
	return t.Kind == Keyword && t.Text == kw
}

func (p *Parser) eatKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.eatKeyword(kw) {
		return p.errorf(kw)
	}
	return nil
}

func (p *Parser) expect(kind Kind, desc string) (Token, error) {
	if p.cur().Kind != kind {
		return Token{}, p.errorf(desc)
	}
	return p.advance(), nil
}

func (p *Parser) errorf(expected ...string) error {
	return &SyntaxError{Offset: p.cur().Offset, Found: p.cur().Text, Expected: expected}
}

func (p *Parser) expectEndOrSemicolon() error {
	if p.cur().Kind == Semicolon {
		p.advance()
	}
	if p.cur().Kind != EOF {
		return p.errorf("<eof>")
	}
	return nil
}

// parseStatement dispatches on the leading keyword.
func (p *Parser) parseStatement() (Statement, error) {
	switch {
	case p.atKeyword("CREATE"):
		return p.parseCreate()
	case p.atKeyword("DROP"):
		return p.parseDrop()
	case p.atKeyword("SESSION"):
		return p.parseSessionSet()
	case p.atKeyword("BEGIN"):
		p.advance()
		return &BeginStmt{}, nil
	case p.atKeyword("COMMIT"):
		p.advance()
		return &CommitStmt{}, nil
	case p.atKeyword("ROLLBACK"):
		p.advance()
		return &RollbackStmt{}, nil
	case p.atKeyword("GRANT"):
		return p.parseGrantRevoke(false)
	case p.atKeyword("REVOKE"):
		return p.parseGrantRevoke(true)
	case p.atKeyword("INSERT"):
		return p.parseInsert()
	case p.atKeyword("MATCH"):
		return p.parseMatchChain()
	case p.atKeyword("WITH"):
		return p.parseWith()
	case p.atKeyword("LET"):
		return p.parseLet()
	case p.atKeyword("CALL"):
		return p.parseCall()
	default:
		return nil, p.errorf("CREATE", "DROP", "SESSION", "BEGIN", "COMMIT", "ROLLBACK", "INSERT", "MATCH", "WITH", "LET", "CALL", "GRANT", "REVOKE")
	}
}

// --- DDL ---

func (p *Parser) parseCreate() (Statement, error) {
	p.advance() // CREATE
	switch {
	case p.eatKeyword("SCHEMA"):
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		return &CreateSchemaStmt{Path: path}, nil
	case p.eatKeyword("GRAPH"):
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		schema, name := splitGraphPath(path)
		return &CreateGraphStmt{Schema: schema, Name: name}, nil
	case p.eatKeyword("USER"):
		name, err := p.parseIdentText()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("PASSWORD"); err != nil {
			return nil, err
		}
		pw, err := p.parseStringLiteralText()
		if err != nil {
			return nil, err
		}
		return &CreateUserStmt{Name: name, Password: pw}, nil
	default:
		return nil, p.errorf("SCHEMA", "GRAPH", "USER")
	}
}

func (p *Parser) parseDrop() (Statement, error) {
	p.advance() // DROP
	switch {
	case p.eatKeyword("SCHEMA"):
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		cascade := p.eatKeyword("CASCADE")
		return &DropSchemaStmt{Path: path, Cascade: cascade}, nil
	case p.eatKeyword("GRAPH"):
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		schema, name := splitGraphPath(path)
		return &DropGraphStmt{Schema: schema, Name: name}, nil
	default:
		return nil, p.errorf("SCHEMA", "GRAPH")
	}
}

func (p *Parser) parseGrantRevoke(revoke bool) (Statement, error) {
	p.advance() // GRANT | REVOKE
	var privs []string
	for {
		tok, err := p.parseIdentText()
		if err != nil {
			return nil, err
		}
		privs = append(privs, tok)
		if p.cur().Kind == Comma {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	scope, err := p.parseIdentText()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	role, err := p.parseIdentText()
	if err != nil {
		return nil, err
	}
	if revoke {
		return &RevokeStmt{Privileges: privs, Scope: scope, Role: role}, nil
	}
	return &GrantStmt{Privileges: privs, Scope: scope, Role: role}, nil
}

func (p *Parser) parseSessionSet() (Statement, error) {
	p.advance() // SESSION
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	switch {
	case p.eatKeyword("SCHEMA"):
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		return &SessionSetSchemaStmt{Path: path}, nil
	case p.eatKeyword("GRAPH"):
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		schema, name := splitGraphPath(path)
		return &SessionSetGraphStmt{Schema: schema, Name: name}, nil
	default:
		return nil, p.errorf("SCHEMA", "GRAPH")
	}
}

// parsePath consumes a leading-slash path like "/demo" or "/demo/g".
func (p *Parser) parsePath() (string, error) {
	path := ""
	for p.cur().Kind == Slash {
		p.advance()
		seg, err := p.parseIdentText()
		if err != nil {
			return "", err
		}
		path += "/" + seg
	}
	if path == "" {
		return "", p.errorf("path")
	}
	return path, nil
}

func splitGraphPath(full string) (schema, name string) {
	last := -1
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '/' {
			last = i
			break
		}
	}
	if last <= 0 {
		return full, ""
	}
	return full[:last], full[last+1:]
}

func (p *Parser) parseIdentText() (string, error) {
	switch p.cur().Kind {
	case Ident, DelimitedIdent:
		return p.advance().Text, nil
	case Keyword:
		return p.advance().Text, nil
	default:
		return "", p.errorf("identifier")
	}
}

func (p *Parser) parseStringLiteralText() (string, error) {
	tok, err := p.expect(StringLiteral, "string literal")
	if err != nil {
		return "", err
	}
	return tok.Text, nil
}

// --- INSERT ---

func (p *Parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	var patterns []*Pattern
	for {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pat)
		if p.cur().Kind == Comma {
			p.advance()
			continue
		}
		break
	}
	stmt := &InsertStmt{Patterns: patterns}
	if p.eatKeyword("RETURN") {
		ret, err := p.parseReturnClause()
		if err != nil {
			return nil, err
		}
		stmt.Return = ret
	}
	return stmt, nil
}

// --- MATCH chain (UNION/INTERSECT/EXCEPT) ---

func (p *Parser) parseMatchChain() (Statement, error) {
	head, err := p.parseMatch()
	if err != nil {
		return nil, err
	}
	tail := head
	for p.atKeyword("UNION") || p.atKeyword("INTERSECT") || p.atKeyword("EXCEPT") {
		var kind SetOpKind
		switch {
		case p.eatKeyword("UNION"):
			kind = SetOpUnion
		case p.eatKeyword("INTERSECT"):
			kind = SetOpIntersect
		case p.eatKeyword("EXCEPT"):
			kind = SetOpExcept
		}
		all := p.eatKeyword("ALL")
		right, err := p.parseMatch()
		if err != nil {
			return nil, err
		}
		tail.Combinator = &SetOpCombinator{Kind: kind, All: all, Right: right}
		tail = right
	}
	return head, nil
}

func (p *Parser) parseMatch() (*MatchStmt, error) {
	if err := p.expectKeyword("MATCH"); err != nil {
		return nil, err
	}
	stmt := &MatchStmt{}
	for {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		stmt.Patterns = append(stmt.Patterns, pat)
		if p.cur().Kind == Comma {
			p.advance()
			continue
		}
		break
	}
	if p.eatKeyword("WHERE") {
		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}
	if err := p.checkAmbiguousPredicates(stmt); err != nil {
		return nil, err
	}
	switch {
	case p.eatKeyword("RETURN"):
		ret, err := p.parseReturnClause()
		if err != nil {
			return nil, err
		}
		stmt.Return = ret
	case p.eatKeyword("DELETE"):
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			stmt.Delete = append(stmt.Delete, e)
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	case p.eatKeyword("INSERT"):
		for {
			pat, err := p.parsePattern()
			if err != nil {
				return nil, err
			}
			stmt.Insert = append(stmt.Insert, pat)
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	case p.eatKeyword("SET"):
		for {
			target, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(Eq, "="); err != nil {
				return nil, err
			}
			val, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			stmt.SetOps = append(stmt.SetOps, &SetItem{Target: target, Value: val})
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.eatKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			desc := false
			if p.eatKeyword("DESC") {
				desc = true
			} else {
				p.eatKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, OrderItem{Expr: e, Descending: desc})
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	}
	if p.eatKeyword("SKIP") {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		stmt.Skip = e
	}
	if p.eatKeyword("LIMIT") {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		stmt.Limit = e
	}
	return stmt, nil
}

// checkAmbiguousPredicates rejects ambiguous predicate placement: a variable may
// carry a label-pattern WHERE or a trailing WHERE, but not both when the
// trailing WHERE also references that same variable.
func (p *Parser) checkAmbiguousPredicates(stmt *MatchStmt) error {
	if stmt.Where == nil {
		return nil
	}
	labelPredicated := map[string]bool{}
	for _, pat := range stmt.Patterns {
		for _, el := range pat.Elements {
			if el.Node != nil && el.Node.Where != nil && el.Node.Variable != "" {
				labelPredicated[el.Node.Variable] = true
			}
		}
	}
	if len(labelPredicated) == 0 {
		return nil
	}
	referenced := map[string]bool{}
	collectIdentifiers(stmt.Where, referenced)
	for v := range labelPredicated {
		if referenced[v] {
			return &AmbiguousPredicateError{Variable: v}
		}
	}
	return nil
}

func collectIdentifiers(e Expr, out map[string]bool) {
	switch n := e.(type) {
	case *Identifier:
		out[n.Name] = true
	case *PropertyAccess:
		collectIdentifiers(n.Target, out)
	case *BinaryExpr:
		collectIdentifiers(n.Left, out)
		collectIdentifiers(n.Right, out)
	case *UnaryExpr:
		collectIdentifiers(n.Operand, out)
	case *FunctionCall:
		for _, a := range n.Args {
			collectIdentifiers(a, out)
		}
	case *ListExpr:
		for _, it := range n.Items {
			collectIdentifiers(it, out)
		}
	case *MapExpr:
		for _, v := range n.Entries {
			collectIdentifiers(v, out)
		}
	}
}

func (p *Parser) parseReturnClause() (*ReturnClause, error) {
	rc := &ReturnClause{}
	if p.eatKeyword("DISTINCT") {
		rc.Distinct = true
	}
	for {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		alias := ""
		if p.eatKeyword("AS") {
			a, err := p.parseIdentText()
			if err != nil {
				return nil, err
			}
			alias = a
		}
		rc.Items = append(rc.Items, ReturnItem{Expr: e, Alias: alias})
		if p.cur().Kind == Comma {
			p.advance()
			continue
		}
		break
	}
	return rc, nil
}

// --- WITH / LET / CALL ---

func (p *Parser) parseWith() (Statement, error) {
	p.advance() // WITH
	rc, err := p.parseReturnClause()
	if err != nil {
		return nil, err
	}
	next, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &WithStmt{Items: rc.Items, Next: next}, nil
}

func (p *Parser) parseLet() (Statement, error) {
	p.advance() // LET
	name, err := p.parseIdentText()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(Eq, "="); err != nil {
		return nil, err
	}
	val, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	next, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &LetStmt{Variable: name, Value: val, Next: next}, nil
}

func (p *Parser) parseCall() (Statement, error) {
	p.advance() // CALL
	name, err := p.parseIdentText()
	if err != nil {
		return nil, err
	}
	stmt := &CallStmt{Procedure: name}
	if p.cur().Kind == LParen {
		p.advance()
		if p.cur().Kind != RParen {
			for {
				e, err := p.parseExpr(0)
				if err != nil {
					return nil, err
				}
				stmt.Args = append(stmt.Args, e)
				if p.cur().Kind == Comma {
					p.advance()
					continue
				}
				break
			}
		}
		if _, err := p.expect(RParen, ")"); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// --- Patterns ---

func (p *Parser) parsePattern() (*Pattern, error) {
	pat := &Pattern{}
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	pat.Elements = append(pat.Elements, PathElement{Node: node})
	for p.cur().Kind == Minus || p.cur().Kind == LeftArrow {
		edge, err := p.parseEdgePattern()
		if err != nil {
			return nil, err
		}
		nextNode, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		pat.Elements[len(pat.Elements)-1].Edge = edge
		pat.Elements = append(pat.Elements, PathElement{Node: nextNode})
	}
	return pat, nil
}

func (p *Parser) parseNodePattern() (*NodePattern, error) {
	if _, err := p.expect(LParen, "("); err != nil {
		return nil, err
	}
	np := &NodePattern{Properties: map[string]Expr{}}
	if p.cur().Kind == Ident {
		np.Variable = p.advance().Text
	}
	for p.cur().Kind == Colon {
		p.advance()
		label, err := p.parseIdentText()
		if err != nil {
			return nil, err
		}
		np.Labels = append(np.Labels, label)
	}
	if p.cur().Kind == LBrace {
		props, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		np.Properties = props
	}
	if p.eatKeyword("WHERE") {
		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		np.Where = expr
	}
	if _, err := p.expect(RParen, ")"); err != nil {
		return nil, err
	}
	return np, nil
}

// parseEdgePattern parses "-[...]->" (outgoing) or "<-[...]-" (incoming),
// following the usual property-graph arrow convention.
func (p *Parser) parseEdgePattern() (*EdgePattern, error) {
	ep := &EdgePattern{Properties: map[string]Expr{}, Direction: types.DirOutgoing}
	switch p.cur().Kind {
	case LeftArrow: // <-
		p.advance()
		ep.Direction = types.DirIncoming
	case Minus: // -
		p.advance()
	default:
		return nil, p.errorf("-[", "<-[")
	}
	if _, err := p.expect(LBracket, "["); err != nil {
		return nil, err
	}
	if p.cur().Kind == Ident {
		ep.Variable = p.advance().Text
	}
	if p.cur().Kind == Colon {
		p.advance()
		t, err := p.parseIdentText()
		if err != nil {
			return nil, err
		}
		ep.Type = t
	}
	if p.cur().Kind == LBrace {
		props, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		ep.Properties = props
	}
	if _, err := p.expect(RBracket, "]"); err != nil {
		return nil, err
	}
	if ep.Direction == types.DirIncoming {
		if _, err := p.expect(Minus, "-"); err != nil {
			return nil, err
		}
		return ep, nil
	}
	if _, err := p.expect(Arrow, "->"); err != nil {
		return nil, err
	}
	return ep, nil
}

func (p *Parser) parsePropertyMap() (map[string]Expr, error) {
	if _, err := p.expect(LBrace, "{"); err != nil {
		return nil, err
	}
	m := map[string]Expr{}
	if p.cur().Kind != RBrace {
		for {
			key, err := p.parseIdentText()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(Colon, ":"); err != nil {
				return nil, err
			}
			val, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			m[key] = val
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(RBrace, "}"); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Expressions: Pratt precedence climbing ---

func binaryPrecedence(t Token) int {
	if t.Kind == Keyword {
		switch t.Text {
		case "OR":
			return 1
		case "XOR":
			return 2
		case "AND":
			return 3
		case "IN", "IS":
			return 5
		}
		return -1
	}
	switch t.Kind {
	case Eq, Neq, Lt, Lte, Gt, Gte:
		return 5
	case Plus, Minus:
		return 6
	case Star, Slash, Percent:
		return 7
	default:
		return -1
	}
}

func (p *Parser) parseExpr(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec := binaryPrecedence(p.cur())
		if prec < 0 || prec < minPrec {
			break
		}
		opTok := p.advance()
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: opTok.Text, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.atKeyword("NOT") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	if p.cur().Kind == Minus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == Dot {
		p.advance()
		key, err := p.parseIdentText()
		if err != nil {
			return nil, err
		}
		e = &PropertyAccess{Target: e, Key: key}
	}
	return e, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.Kind {
	case IntLiteral:
		p.advance()
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Offset: t.Offset, Found: t.Text, Expected: []string{"integer"}}
		}
		return &Literal{Value: types.Int(n)}, nil
	case FloatLiteral:
		p.advance()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Offset: t.Offset, Found: t.Text, Expected: []string{"float"}}
		}
		return &Literal{Value: types.Float(f)}, nil
	case StringLiteral:
		p.advance()
		return &Literal{Value: types.String(t.Text)}, nil
	case Parameter:
		p.advance()
		return &ParameterExpr{Name: t.Text}, nil
	case LParen:
		p.advance()
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case LBracket:
		return p.parseListLiteral()
	case LBrace:
		return p.parseMapLiteral()
	case Ident, DelimitedIdent:
		return p.parseIdentOrCall()
	case Keyword:
		switch t.Text {
		case "TRUE":
			p.advance()
			return &Literal{Value: types.Bool(true)}, nil
		case "FALSE":
			p.advance()
			return &Literal{Value: types.Bool(false)}, nil
		case "NULL":
			p.advance()
			return &Literal{Value: types.Null()}, nil
		default:
			return p.parseIdentOrCall()
		}
	default:
		return nil, p.errorf("expression")
	}
}

func (p *Parser) parseIdentOrCall() (Expr, error) {
	name, err := p.parseIdentText()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind != LParen {
		return &Identifier{Name: name}, nil
	}
	p.advance() // (
	call := &FunctionCall{Name: name}
	if p.eatKeyword("DISTINCT") {
		call.Distinct = true
	}
	if p.cur().Kind == Star {
		p.advance()
	} else if p.cur().Kind != RParen {
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, e)
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(RParen, ")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseListLiteral() (Expr, error) {
	p.advance() // [
	lst := &ListExpr{}
	if p.cur().Kind != RBracket {
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			lst.Items = append(lst.Items, e)
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(RBracket, "]"); err != nil {
		return nil, err
	}
	return lst, nil
}

func (p *Parser) parseMapLiteral() (Expr, error) {
	m, err := p.parsePropertyMap()
	if err != nil {
		return nil, err
	}
	return &MapExpr{Entries: m}, nil
}
