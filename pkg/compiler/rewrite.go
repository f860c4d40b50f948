package compiler

import "strings"

// AsyncImportName is the sandbox capability dynamic imports are routed to.
const AsyncImportName = "__import"

type tokenKind int

const (
	tokNone tokenKind = iota
	tokIdent
	tokPunct
	tokValue
)

// keywords after which a '/' starts a regular expression literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// RewriteDynamicImports replaces every dynamic import call in compiled text
// with a call to AsyncImportName and reports how many calls were rewritten.
//
// The scan is token-aware: string literals, template literals (including
// nested substitutions), comments and regular expression literals are copied
// verbatim, member calls such as obj.import( and the import.meta
// meta-property are left alone.
func RewriteDynamicImports(src string) (string, int) {
	if !strings.Contains(src, "import") {
		return src, 0
	}
	r := &rewriter{src: src}
	r.out.Grow(len(src) + 16)
	r.code(0, false)
	return r.out.String(), r.count
}

type rewriter struct {
	src      string
	out      strings.Builder
	prev     tokenKind
	prevText string
	count    int
}

// code copies code starting at i. Inside a template substitution it stops at
// the matching '}' and returns its index.
func (r *rewriter) code(i int, inSubst bool) int {
	src := r.src
	depth := 0

	for i < len(src) {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			j := r.skipString(i, c)
			r.emit(i, j, tokValue, "")
			i = j

		case c == '`':
			i = r.template(i)
			r.prev, r.prevText = tokValue, ""

		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				j = len(src) - i
			}
			r.out.WriteString(src[i : i+j])
			i += j

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			j := strings.Index(src[i+2:], "*/")
			end := len(src)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			r.out.WriteString(src[i:end])
			i = end

		case c == '/' && r.regexAllowed():
			j := r.skipRegex(i)
			r.emit(i, j, tokValue, "")
			i = j

		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			if word == "import" && !r.afterDot() && r.nextSignificant(j) == '(' {
				r.out.WriteString(AsyncImportName)
				r.count++
				r.prev, r.prevText = tokIdent, AsyncImportName
			} else {
				r.emit(i, j, tokIdent, word)
			}
			i = j

		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(src) && (isIdentPart(src[j]) || src[j] == '.') {
				j++
			}
			r.emit(i, j, tokValue, "")
			i = j

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			r.out.WriteByte(c)
			i++

		default:
			if inSubst {
				if c == '{' {
					depth++
				} else if c == '}' {
					if depth == 0 {
						return i
					}
					depth--
				}
			}
			if c == '.' && strings.HasPrefix(src[i:], "...") {
				r.emit(i, i+3, tokPunct, "...")
				i += 3
				continue
			}
			r.emit(i, i+1, tokPunct, src[i:i+1])
			i++
		}
	}
	return i
}

func (r *rewriter) emit(i, j int, kind tokenKind, text string) {
	r.out.WriteString(r.src[i:j])
	r.prev, r.prevText = kind, text
}

func (r *rewriter) afterDot() bool {
	return r.prev == tokPunct && r.prevText == "."
}

// template copies a template literal starting at the opening backtick and
// returns the index after the closing one.
func (r *rewriter) template(i int) int {
	src := r.src
	r.out.WriteByte('`')
	i++
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			r.out.WriteString(src[i : i+2])
			i += 2
		case c == '`':
			r.out.WriteByte('`')
			return i + 1
		case c == '$' && i+1 < len(src) && src[i+1] == '{':
			r.out.WriteString("${")
			r.prev, r.prevText = tokPunct, "{"
			end := r.code(i+2, true)
			if end < len(src) {
				r.out.WriteByte('}')
				end++
			}
			i = end
		default:
			r.out.WriteByte(c)
			i++
		}
	}
	return i
}

func (r *rewriter) skipString(i int, quote byte) int {
	src := r.src
	j := i + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
		case quote:
			return j + 1
		case '\n':
			return j
		default:
			j++
		}
	}
	return len(src)
}

// regexAllowed reports whether a '/' at the current position starts a
// regular expression rather than a division.
func (r *rewriter) regexAllowed() bool {
	switch r.prev {
	case tokNone:
		return true
	case tokValue:
		return false
	case tokIdent:
		return regexKeywords[r.prevText]
	default:
		return r.prevText != ")" && r.prevText != "]"
	}
}

func (r *rewriter) skipRegex(i int) int {
	src := r.src
	j := i + 1
	inClass := false
	for j < len(src) {
		c := src[j]
		if c == '\\' {
			j += 2
			continue
		}
		if c == '\n' {
			return j
		}
		j++
		if inClass {
			if c == ']' {
				inClass = false
			}
		} else if c == '[' {
			inClass = true
		} else if c == '/' {
			break
		}
	}
	for j < len(src) && isIdentPart(src[j]) {
		j++
	}
	if j > len(src) {
		j = len(src)
	}
	return j
}

// nextSignificant returns the first byte at or after i that is not
// whitespace or part of a comment, or 0 at end of input.
func (r *rewriter) nextSignificant(i int) byte {
	src := r.src
	for i < len(src) {
		switch c := src[i]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				return 0
			}
			i += j
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			j := strings.Index(src[i+2:], "*/")
			if j < 0 {
				return 0
			}
			i += j + 4
		default:
			return c
		}
	}
	return 0
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c == '\\' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
