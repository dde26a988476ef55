// Package selector compiles and evaluates selector expressions against the
// live instance forest.
//
// Grammar:
//
//	selector   := [":global" WS] compound (combinator compound)*
//	combinator := WS              descendant
//	            | WS? ">" WS?     child
//	compound   := "*" | token ["#" key] | "#" key
//
// A token matches an instance whose definition selector pattern or name
// equals it. A key constrains the instantiation key.
package selector

import (
	"fmt"
	"strings"

	"github.com/zjrosen/tessera/internal/component"
)

const globalPrefix = ":global"

// Combinator relates a compound to the one before it.
type Combinator int

const (
	// Descendant matches any ancestor.
	Descendant Combinator = iota
	// Child matches the direct parent only.
	Child
)

// Compound is a single node test.
type Compound struct {
	Any   bool   // "*"
	Token string // pattern or definition name; empty when key-only
	Key   string // instantiation key; empty when unconstrained
}

// Matches reports whether inst satisfies the compound.
func (c Compound) Matches(inst *component.Instance) bool {
	if c.Any {
		return true
	}
	if c.Token != "" && inst.Pattern() != c.Token && inst.Name() != c.Token {
		return false
	}
	return c.Key == "" || inst.Key == c.Key
}

func (c Compound) String() string {
	switch {
	case c.Any:
		return "*"
	case c.Key == "":
		return c.Token
	default:
		return c.Token + "#" + c.Key
	}
}

// Step is a compound plus the combinator linking it to the previous step.
// The first step's combinator is unused.
type Step struct {
	Combinator Combinator
	Compound   Compound
}

// Selector is a compiled selector expression.
type Selector struct {
	Expr   string
	Global bool
	Steps  []Step
}

// Compile parses expr. Malformed expressions return ErrInvalidSelector.
func Compile(expr string) (*Selector, error) {
	rest := strings.TrimSpace(expr)
	s := &Selector{Expr: expr}

	if r, ok := strings.CutPrefix(rest, globalPrefix); ok {
		if r != "" && !isSpace(r[0]) {
			return nil, invalid(expr, "unknown pseudo-class")
		}
		s.Global = true
		rest = strings.TrimLeft(r, " \t\n")
	}
	if rest == "" {
		return nil, invalid(expr, "empty selector")
	}

	child := false
	for i := 0; i < len(rest); {
		c := rest[i]
		switch {
		case isSpace(c):
			i++
		case c == '>':
			if child || len(s.Steps) == 0 {
				return nil, invalid(expr, "misplaced '>'")
			}
			child = true
			i++
		default:
			j := i
			for j < len(rest) && !isSpace(rest[j]) && rest[j] != '>' {
				j++
			}
			comp, err := parseCompound(rest[i:j])
			if err != nil {
				return nil, invalid(expr, err.Error())
			}
			step := Step{Combinator: Descendant, Compound: comp}
			if child {
				step.Combinator = Child
			}
			s.Steps = append(s.Steps, step)
			child = false
			i = j
		}
	}
	if child {
		return nil, invalid(expr, "trailing '>'")
	}
	return s, nil
}

func parseCompound(text string) (Compound, error) {
	if text == "*" {
		return Compound{Any: true}, nil
	}
	if strings.HasPrefix(text, ":") {
		return Compound{}, fmt.Errorf("unsupported pseudo-class %q", text)
	}
	token, key, hasKey := strings.Cut(text, "#")
	switch {
	case strings.Contains(token, "*"):
		return Compound{}, fmt.Errorf("'*' must stand alone in %q", text)
	case hasKey && key == "":
		return Compound{}, fmt.Errorf("empty key in %q", text)
	case strings.ContainsAny(key, "#*"):
		return Compound{}, fmt.Errorf("invalid key in %q", text)
	}
	return Compound{Token: token, Key: key}, nil
}

// String returns the canonical form of the selector.
func (s *Selector) String() string {
	var b strings.Builder
	if s.Global {
		b.WriteString(globalPrefix)
		b.WriteByte(' ')
	}
	for i, step := range s.Steps {
		if i > 0 {
			if step.Combinator == Child {
				b.WriteString(" > ")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(step.Compound.String())
	}
	return b.String()
}

// Subject returns the rightmost compound, the one results must satisfy.
func (s *Selector) Subject() Compound {
	return s.Steps[len(s.Steps)-1].Compound
}

// MatchesAt reports whether inst is selected. Ancestor tests walk up to
// and including boundary; a nil boundary walks to the root.
func (s *Selector) MatchesAt(inst, boundary *component.Instance) bool {
	last := len(s.Steps) - 1
	if !s.Steps[last].Compound.Matches(inst) {
		return false
	}
	return s.matchUp(inst, last, boundary)
}

func (s *Selector) matchUp(inst *component.Instance, idx int, boundary *component.Instance) bool {
	if idx == 0 {
		return true
	}
	if inst == boundary {
		return false
	}
	comb := s.Steps[idx].Combinator
	prev := s.Steps[idx-1].Compound
	for p := inst.Parent(); p != nil; p = p.Parent() {
		if prev.Matches(p) && s.matchUp(p, idx-1, boundary) {
			return true
		}
		if comb == Child || p == boundary {
			return false
		}
	}
	return false
}

// MatchesDefinition reports whether an instance of def could ever be
// selected by sel. Only the subject compound is checked.
func MatchesDefinition(sel *Selector, def *component.Definition) bool {
	subject := sel.Subject()
	if subject.Any || subject.Token == "" {
		return true
	}
	return def.Selector == subject.Token || def.Name == subject.Token
}

func invalid(expr, reason string) error {
	return fmt.Errorf("%w: %q: %s", component.ErrInvalidSelector, expr, reason)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}
