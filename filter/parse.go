// Copyright (C) 2024 The fdistdump-go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package filter

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/field"
)

// Filter is a compiled predicate, ready to Eval against records.
type Filter struct {
	Root Node
	Src  string
}

// Compile parses and type-checks a filter expression, e.g.:
//
//	srcip == 10.0.0.1 and dstport == 53
//	not (proto == 6) or bytes > 1500
//
// An empty src compiles to a nil *Filter (the "always true" predicate);
// Eval on a nil *Filter returns true.
func Compile(src string) (*Filter, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	p := &parser{toks: tokenize(src)}
	n, err := p.parseOr()
	if err != nil {
		return nil, ferrors.New(ferrors.KindFilter, err)
	}
	if p.pos != len(p.toks) {
		return nil, ferrors.Newf(ferrors.KindFilter, "unexpected trailing tokens starting at %q", p.toks[p.pos])
	}
	return &Filter{Root: n, Src: src}, nil
}

type parser struct {
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for strings.EqualFold(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Or{Children: children}, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []Node{left}
	for strings.EqualFold(p.peek(), "and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &And{Children: children}, nil
}

func (p *parser) parseUnary() (Node, error) {
	if strings.EqualFold(p.peek(), "not") {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Child: child}, nil
	}
	if p.peek() == "(" {
		p.next()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("expected ')', got %q", p.peek())
		}
		p.next()
		return n, nil
	}
	return p.parseCmp()
}

var opTokens = map[string]Op{
	"==": Eq, "!=": Ne, "<": Lt, "<=": Le, ">": Gt, ">=": Ge,
}

func (p *parser) parseCmp() (Node, error) {
	name := p.next()
	if name == "" {
		return nil, fmt.Errorf("expected a field name")
	}
	def, ok := field.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown field %q", name)
	}
	opTok := p.next()
	op, ok := opTokens[opTok]
	if !ok {
		return nil, fmt.Errorf("expected a comparison operator, got %q", opTok)
	}
	valTok := p.next()
	if valTok == "" {
		return nil, fmt.Errorf("expected a value after %q %q", name, opTok)
	}
	c := &Cmp{Field: name, Op: op, Mask: -1}
	if def.IsAddr() {
		if op != Eq && op != Ne {
			return nil, fmt.Errorf("field %q: operator %q is not supported on addresses", name, opTok)
		}
		addr, mask, err := parseAddr(valTok)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		c.IP, c.Mask = addr, mask
	} else {
		n, err := strconv.ParseUint(valTok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: invalid numeric literal %q", name, valTok)
		}
		c.Num = n
	}
	return c, nil
}

func parseAddr(tok string) (net.IP, int, error) {
	addrPart, maskPart, hasMask := strings.Cut(tok, "/")
	ip := net.ParseIP(addrPart)
	if ip == nil {
		return nil, -1, fmt.Errorf("invalid IP address %q", addrPart)
	}
	if !hasMask {
		return ip, -1, nil
	}
	mask, err := strconv.Atoi(maskPart)
	if err != nil {
		return nil, -1, fmt.Errorf("invalid netmask %q", maskPart)
	}
	return ip, mask, nil
}

// tokenize splits src into a flat token stream: parens, the multi-char
// operators, and whitespace-delimited words. It is small and exists only
// to drive this package's tiny grammar; it is not a general lexer.
func tokenize(src string) []string {
	var toks []string
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, src[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		default:
			j := i
			for j < len(src) && !isSep(src[j]) {
				j++
			}
			toks = append(toks, src[i:j])
			i = j
		}
	}
	return toks
}

func isSep(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', '=', '!', '<', '>':
		return true
	default:
		return false
	}
}
