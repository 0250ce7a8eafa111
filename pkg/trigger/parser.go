package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	pkgerrors "github.com/pkg/errors"

	"logicsniffer/pkg/errors"
	"logicsniffer/pkg/signals"
	"logicsniffer/pkg/sump"
)

// MaxChain is the longest "then" sequence the stage levels can express.
const MaxChain = sump.MaxLevel + 1

var unitDivisors = map[string]float64{
	"s":  1,
	"ms": 1e3,
	"us": 1e6,
	"ns": 1e9,
	"ps": 1e12,
}

func parseError(pos Pos, format string, args ...interface{}) *errors.HostError {
	return errors.TriggerParseError(pos.Line, pos.Col, fmt.Sprintf(format, args...))
}

type parser struct {
	lex *lexer
	tok token
	reg *signals.Registry
}

// Parse reads a trigger specification, resolving signal names in reg.
//
//	Spec     = [ Chain | Group ] .
//	Chain    = Term { "then" Term } .
//	Group    = Term "or" Term { "or" Term } .
//	Term     = ( Pattern | Timed ) [ "after" Duration ] .
//	Pattern  = Cond { "and" Cond } .
//	Cond     = name "=" number .
//	Timed    = name "=" "[" Step { "," Step } "]" .
//	Step     = number ":" Duration .
//	Duration = number [ "s" | "ms" | "us" | "ns" | "ps" ] .
//
// Numbers are decimal, 0x hexadecimal or 0b binary. A duration without a
// unit counts samples; one with a unit may have a fraction. Text after '#'
// up to the end of the line is ignored.
//
// An empty specification is valid and means "trigger immediately".
func Parse(src string, reg *signals.Registry) (*Spec, error) {
	p := &parser{lex: newLexer(src), reg: reg}
	if err := p.advance(); err != nil {
		return nil, err
	}
	spec := &Spec{}
	if p.tok.kind == tokEOF {
		return spec, nil
	}
	for {
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		spec.Terms = append(spec.Terms, term)

		var mode Mode
		switch p.tok.kind {
		case tokEOF:
			return spec, nil
		case tokThen:
			mode = Sequential
		case tokOr:
			mode = Parallel
		default:
			return nil, p.unexpected("'then', 'or' or end of input")
		}
		if spec.Mode != Single && spec.Mode != mode {
			return nil, parseError(p.tok.pos, "cannot mix 'then' and 'or' in one specification")
		}
		if mode == Sequential && len(spec.Terms) == MaxChain {
			return nil, parseError(p.tok.pos, "a sequence can have at most %d steps", MaxChain)
		}
		spec.Mode = mode
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) unexpected(want string) error {
	return parseError(p.tok.pos, "expected %s, found %s", want, p.tok)
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.tok
	if tok.kind != kind {
		return tok, p.unexpected(kind.String())
	}
	return tok, p.advance()
}

// signal consumes a signal name.
func (p *parser) signal() (*signals.Signal, Pos, error) {
	tok, err := p.expect(tokIdent)
	if err != nil {
		return nil, tok.pos, err
	}
	sig := p.reg.Lookup(tok.text)
	if sig == nil {
		return nil, tok.pos, parseError(tok.pos, "unknown signal %q", tok.text)
	}
	return sig, tok.pos, nil
}

func (p *parser) parseTerm() (*Term, error) {
	sig, pos, err := p.signal()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokAssign); err != nil {
		return nil, err
	}
	term := &Term{Pos: pos}

	if p.tok.kind == tokLBrack {
		timed, err := p.parseTimed(sig, pos)
		if err != nil {
			return nil, err
		}
		term.Timed = timed
		if p.tok.kind == tokAnd {
			return nil, parseError(p.tok.pos, "a waveform on %s cannot be combined with other conditions", sig.Name)
		}
	} else {
		cond, err := p.parseCond(sig, pos)
		if err != nil {
			return nil, err
		}
		term.Conds = append(term.Conds, cond)
		for p.tok.kind == tokAnd {
			if err := p.advance(); err != nil {
				return nil, err
			}
			sig, pos, err := p.signal()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokAssign); err != nil {
				return nil, err
			}
			if p.tok.kind == tokLBrack {
				return nil, parseError(p.tok.pos, "a waveform on %s cannot be combined with other conditions", sig.Name)
			}
			cond, err := p.parseCond(sig, pos)
			if err != nil {
				return nil, err
			}
			term.Conds = append(term.Conds, cond)
		}
	}

	if p.tok.kind == tokAfter {
		if err := p.advance(); err != nil {
			return nil, err
		}
		d, err := p.parseDuration()
		if err != nil {
			return nil, err
		}
		term.Delay = d
	}
	return term, nil
}

func (p *parser) parseCond(sig *signals.Signal, pos Pos) (*Cond, error) {
	v, err := p.parseValue(sig)
	if err != nil {
		return nil, err
	}
	return &Cond{Pos: pos, Signal: sig, Value: v}, nil
}

func (p *parser) parseTimed(sig *signals.Signal, pos Pos) (*Timed, error) {
	if _, err := p.expect(tokLBrack); err != nil {
		return nil, err
	}
	timed := &Timed{Pos: pos, Signal: sig}
	for {
		stepPos := p.tok.pos
		v, err := p.parseValue(sig)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon); err != nil {
			return nil, err
		}
		d, err := p.parseDuration()
		if err != nil {
			return nil, err
		}
		timed.Steps = append(timed.Steps, &Step{Pos: stepPos, Value: v, Duration: d})
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRBrack); err != nil {
		return nil, err
	}
	return timed, nil
}

// parseValue consumes a number and checks that it fits in sig.
func (p *parser) parseValue(sig *signals.Signal) (uint32, error) {
	tok, err := p.expect(tokNumber)
	if err != nil {
		return 0, err
	}
	v, err := ParseNumber(tok.text)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrTriggerParse, err.Error()).SetPosition(tok.pos.Line, tok.pos.Col)
	}
	if sig.Bits() < 32 && v>>uint(sig.Bits()) != 0 {
		return 0, parseError(tok.pos, "value %#x does not fit in %d-bit signal %s", v, sig.Bits(), sig.Name)
	}
	return v, nil
}

func (p *parser) parseDuration() (*Duration, error) {
	tok, err := p.expect(tokNumber)
	if err != nil {
		return nil, err
	}
	num, unit := splitUnit(tok.text)
	if unit == "" && p.tok.kind == tokIdent {
		if _, ok := unitDivisors[strings.ToLower(p.tok.text)]; ok {
			unit = p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	d, err := ParseDuration(num, unit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTriggerParse, err.Error()).SetPosition(tok.pos.Line, tok.pos.Col)
	}
	d.Pos = tok.pos
	return d, nil
}

// splitUnit separates a trailing time unit from a decimal number. Prefixed
// numbers never carry a unit.
func splitUnit(text string) (num, unit string) {
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0b") {
		return text, ""
	}
	i := strings.IndexFunc(text, unicode.IsLetter)
	if i < 0 {
		return text, ""
	}
	return text[:i], text[i:]
}

// ParseNumber parses a decimal, 0x hexadecimal or 0b binary 32-bit value.
func ParseNumber(text string) (uint32, error) {
	base, digits := 10, text
	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lower, "0x"):
		base, digits = 16, text[2:]
	case strings.HasPrefix(lower, "0b"):
		base, digits = 2, text[2:]
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "invalid number %q", text)
	}
	return uint32(v), nil
}

// ParseDuration builds a duration from a number and an optional unit. With
// no unit the number is a whole count of samples.
func ParseDuration(num, unit string) (*Duration, error) {
	if unit == "" {
		base := 10
		if lower := strings.ToLower(num); strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0b") {
			base = 0
		}
		n, err := strconv.ParseInt(num, base, 64)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "invalid sample count %q", num)
		}
		if n < 0 {
			return nil, pkgerrors.Errorf("negative sample count %d", n)
		}
		return &Duration{Samples: n}, nil
	}
	div, ok := unitDivisors[strings.ToLower(unit)]
	if !ok {
		return nil, pkgerrors.Errorf("unknown time unit %q", unit)
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid time %q", num+unit)
	}
	if f < 0 {
		return nil, pkgerrors.Errorf("negative time %q", num+unit)
	}
	return &Duration{Seconds: f / div, Timed: true}, nil
}
