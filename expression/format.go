package expression

import (
	"regexp"
	"strconv"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// String renders n as infix text that Parse accepts. Nested arithmetic
// branches are parenthesized; Min and Max render as function calls.
func String(n Node) string {
	var sb strings.Builder
	write(&sb, n, false)
	return sb.String()
}

func write(sb *strings.Builder, n Node, nested bool) {
	switch x := n.(type) {
	case nil:
		sb.WriteString("<nil>")
	case Constant:
		sb.WriteString(FormatNumber(x.Value))
	case Parameter:
		if identifierPattern.MatchString(x.Reference) && !reservedWords[x.Reference] {
			sb.WriteString(x.Reference)
		} else {
			sb.WriteString(strconv.Quote(x.Reference))
		}
	case Branch:
		if x.Operator == Min || x.Operator == Max {
			sb.WriteString(x.Operator.Symbol())
			sb.WriteByte('(')
			write(sb, x.Left, false)
			sb.WriteString(", ")
			write(sb, x.Right, false)
			sb.WriteByte(')')
			return
		}
		if nested {
			sb.WriteByte('(')
		}
		write(sb, x.Left, true)
		sb.WriteByte(' ')
		sb.WriteString(x.Operator.Symbol())
		sb.WriteByte(' ')
		write(sb, x.Right, true)
		if nested {
			sb.WriteByte(')')
		}
	}
}

// FormatNumber formats v in the shortest form that parses back to v. The
// result never depends on the process locale.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseNumber parses a number written with a '.' decimal separator
func ParseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// CEL keywords that cannot appear as bare identifiers
var reservedWords = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true,
}
