package validator

import (
	"fmt"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// ifOp is one operator of the boolean expression grammar used by the
// if tag. Binding powers follow the engine's precedence table.
type ifOp struct {
	lbp    int
	prefix bool
}

var ifOperators = map[string]ifOp{
	"or":     {lbp: 6},
	"and":    {lbp: 7},
	"not":    {lbp: 8, prefix: true},
	"in":     {lbp: 9},
	"not in": {lbp: 9},
	"is":     {lbp: 10},
	"is not": {lbp: 10},
	"==":     {lbp: 10},
	"!=":     {lbp: 10},
	">":      {lbp: 10},
	">=":     {lbp: 10},
	"<":      {lbp: 10},
	"<=":     {lbp: 10},
}

// mergeIfTokens joins the two-word operators: "is not" and "not in".
func mergeIfTokens(bits []string) []string {
	var out []string
	for i := 0; i < len(bits); i++ {
		if bits[i] == "is" && i+1 < len(bits) && bits[i+1] == "not" {
			out = append(out, "is not")
			i++
			continue
		}
		if bits[i] == "not" && i+1 < len(bits) && bits[i+1] == "in" {
			out = append(out, "not in")
			i++
			continue
		}
		out = append(out, bits[i])
	}
	return out
}

type ifParser struct {
	toks     []string
	pos      int
	operands []string
}

// parseIfExpression runs the condition grammar over the words after
// the if/elif keyword. It returns the literal operands (for filter
// validation) and the first syntax error, if any.
func parseIfExpression(bits []string) (operands []string, errMsg string) {
	p := &ifParser{toks: mergeIfTokens(bits)}
	if err := p.expression(0); err != "" {
		return p.operands, err
	}
	if p.pos < len(p.toks) {
		return p.operands, fmt.Sprintf("Unused '%s' at end of if expression.", p.toks[p.pos])
	}
	return p.operands, ""
}

func (p *ifParser) peek() (string, bool) {
	if p.pos < len(p.toks) {
		return p.toks[p.pos], true
	}
	return "", false
}

func (p *ifParser) lbpOfNext() int {
	tok, ok := p.peek()
	if !ok {
		return 0
	}
	if op, isOp := ifOperators[tok]; isOp {
		return op.lbp
	}
	return 0
}

func (p *ifParser) expression(rbp int) string {
	tok, ok := p.peek()
	if !ok {
		return "Unexpected end of expression in if tag."
	}
	p.pos++

	// Value position.
	if op, isOp := ifOperators[tok]; isOp {
		if !op.prefix {
			return fmt.Sprintf("Not expecting '%s' as infix operator in if tag.", tok)
		}
		if err := p.expression(op.lbp); err != "" {
			return err
		}
	} else {
		p.operands = append(p.operands, tok)
	}

	// Operator position.
	for rbp < p.lbpOfNext() {
		tok, _ = p.peek()
		op := ifOperators[tok]
		if op.prefix {
			return fmt.Sprintf("Not expecting '%s' in this position in if tag.", tok)
		}
		p.pos++
		if err := p.expression(op.lbp); err != "" {
			return err
		}
	}
	return ""
}

// ValidateIfExpression checks the condition of an if or elif tag and
// returns at most one diagnostic, plus the operand filter expressions
// encountered.
func ValidateIfExpression(tag tagspec.TemplateTag) ([]tagspec.Diagnostic, []string) {
	bits := tag.Bits[1:]
	operands, errMsg := parseIfExpression(bits)
	if errMsg == "" {
		return nil, operands
	}
	return []tagspec.Diagnostic{{
		Line:    tag.Line,
		Name:    tag.Name,
		Raw:     joinBits(tag.Bits),
		Message: errMsg,
	}}, operands
}
