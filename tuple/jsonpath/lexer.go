// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package jsonpath tokenizes dotted and indexed field paths such as
// "a.b[2]" or `["key with spaces"]` into numeric and string tokens.
package jsonpath

import (
	"github.com/molecula/loom/tuple"
)

// TokenType identifies one path token kind.
type TokenType int

const (
	// End marks path exhaustion.
	End TokenType = iota
	// Num is an array index token.
	Num
	// Str is a map key token.
	Str
	// Any is the wildcard `[*]`; lexed, but rejected at use sites
	// in this engine.
	Any
)

// Token is one lexed path step.
type Token struct {
	Type TokenType
	// Num holds the index for Num tokens, already adjusted by the
	// lexer's index base.
	Num int
	// Str holds the key bytes for Str tokens, without quotes.
	Str []byte
}

// Lexer walks a path expression. Offset is exported so a caller can
// fast-forward past an already-matched prefix, the way route nodes
// skip their shared prefix.
type Lexer struct {
	src       []byte
	indexBase int

	// Offset is the byte position of the next token.
	Offset int
	// SymbolCount counts lexed symbols for error reporting.
	SymbolCount int
}

// NewLexer creates a lexer over src. Numeric tokens are rebased by
// indexBase (1 for one-based callers).
func NewLexer(src []byte, indexBase int) *Lexer {
	return &Lexer{src: src, indexBase: indexBase}
}

// Src returns the whole path expression.
func (l *Lexer) Src() []byte { return l.src }

// IndexBase returns the numeric rebase applied to index tokens.
func (l *Lexer) IndexBase() int { return l.indexBase }

// Rest returns the not-yet-lexed path suffix.
func (l *Lexer) Rest() []byte { return l.src[l.Offset:] }

func (l *Lexer) errAt(pos int) error {
	return tuple.ClientErr(tuple.ErrBadJSONPath,
		"invalid path '%s': error at symbol %d", l.src, pos+1)
}

func isIdentFirstChar(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isIdentFirstChar(ch) || isDigit(ch)
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

// Next returns the next token. Bare identifiers are accepted at the
// very start of the path; afterwards every step begins with '.' or
// '['.
func (l *Lexer) Next() (Token, error) {
	if l.Offset >= len(l.src) {
		return Token{Type: End}, nil
	}
	ch := l.src[l.Offset]
	switch {
	case ch == '[':
		return l.scanBracket()
	case ch == '.':
		l.Offset++
		l.SymbolCount++
		return l.scanIdent()
	case l.Offset == 0:
		return l.scanIdent()
	default:
		return Token{}, l.errAt(l.SymbolCount)
	}
}

func (l *Lexer) scanIdent() (Token, error) {
	start := l.Offset
	if start >= len(l.src) || !isIdentFirstChar(l.src[start]) {
		return Token{}, l.errAt(l.SymbolCount)
	}
	end := start + 1
	for end < len(l.src) && isIdentChar(l.src[end]) {
		end++
	}
	l.SymbolCount += end - l.Offset
	l.Offset = end
	return Token{Type: Str, Str: l.src[start:end]}, nil
}

func (l *Lexer) scanBracket() (Token, error) {
	// Consume '['.
	l.Offset++
	l.SymbolCount++
	if l.Offset >= len(l.src) {
		return Token{}, l.errAt(l.SymbolCount)
	}
	ch := l.src[l.Offset]
	var tok Token
	var err error
	switch {
	case ch == '"' || ch == '\'':
		tok, err = l.scanQuoted(ch)
	case ch == '*':
		l.Offset++
		l.SymbolCount++
		tok = Token{Type: Any}
	case isDigit(ch):
		tok, err = l.scanNumber()
	default:
		return Token{}, l.errAt(l.SymbolCount)
	}
	if err != nil {
		return Token{}, err
	}
	if l.Offset >= len(l.src) || l.src[l.Offset] != ']' {
		return Token{}, l.errAt(l.SymbolCount)
	}
	l.Offset++
	l.SymbolCount++
	return tok, nil
}

func (l *Lexer) scanNumber() (Token, error) {
	n := 0
	for l.Offset < len(l.src) && isDigit(l.src[l.Offset]) {
		n = n*10 + int(l.src[l.Offset]-'0')
		if n > 0x7fffffff {
			return Token{}, l.errAt(l.SymbolCount)
		}
		l.Offset++
		l.SymbolCount++
	}
	if n < l.indexBase {
		return Token{}, l.errAt(l.SymbolCount)
	}
	return Token{Type: Num, Num: n - l.indexBase}, nil
}

func (l *Lexer) scanQuoted(quote byte) (Token, error) {
	// Consume the opening quote.
	l.Offset++
	l.SymbolCount++
	start := l.Offset
	for l.Offset < len(l.src) && l.src[l.Offset] != quote {
		l.Offset++
		l.SymbolCount++
	}
	if l.Offset >= len(l.src) || l.Offset == start {
		return Token{}, l.errAt(l.SymbolCount)
	}
	tok := Token{Type: Str, Str: l.src[start:l.Offset]}
	l.Offset++
	l.SymbolCount++
	return tok, nil
}

// TokenEq reports whether two tokens address the same step.
func TokenEq(a, b Token) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case Num:
		return a.Num == b.Num
	case Str:
		return string(a.Str) == string(b.Str)
	}
	return true
}
