// Package lang implements GraphLite's GQL subset: lexer, AST, and a
// recursive-descent/Pratt parser. It depends on nothing
// but pkg/types for literal value construction.
package lang

import "fmt"

// Kind identifies a lexical token class.
type Kind int

const (
	EOF Kind = iota
	Ident
	DelimitedIdent
	Parameter
	IntLiteral
	FloatLiteral
	StringLiteral
	Keyword

	// Punctuation
	LParen
	RParen
	LBracket
	RBracket
	LBrace
	RBrace
	Comma
	Dot
	Colon
	Semicolon
	Arrow     // ->
	LeftArrow // <-

	// Operators
	Plus
	Minus
	Star
	Slash
	Percent
	Eq
	Neq
	Lt
	Lte
	Gt
	Gte
)

// Token is one lexical unit with its source offset, used to build Parse
// errors that carry an offset and expected-token set.
type Token struct {
	Kind   Kind
	Text   string
	Offset int
}

func (t Token) String() string {
	return fmt.Sprintf("%v(%q)@%d", t.Kind, t.Text, t.Offset)
}

// keywords is the reserved-word table; identifiers matching (case
// insensitively) are lexed as Keyword tokens with Text normalized to upper
// case, mirroring common GQL dialect casing conventions.
var keywords = map[string]bool{
	"CREATE": true, "DROP": true, "SCHEMA": true, "GRAPH": true,
	"SESSION": true, "SET": true, "INSERT": true, "MATCH": true,
	"WHERE": true, "RETURN": true, "ORDER": true, "BY": true,
	"SKIP": true, "LIMIT": true, "DELETE": true, "UNION": true,
	"ALL": true, "INTERSECT": true, "EXCEPT": true, "WITH": true,
	"CALL": true, "LET": true, "AND": true, "OR": true, "NOT": true,
	"XOR": true, "TRUE": true, "FALSE": true, "NULL": true,
	"AS": true, "ASC": true, "DESC": true, "BEGIN": true,
	"COMMIT": true, "ROLLBACK": true, "IN": true, "IS": true,
	"CASCADE": true, "USER": true, "ROLE": true, "GRANT": true,
	"REVOKE": true, "ENABLE": true, "DISABLE": true, "PASSWORD": true,
	"ON": true, "TO": true, "DISTINCT": true,
}
