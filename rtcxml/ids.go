package rtcxml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liamcoop/rtc/rules"
)

// Id tags used in the exchange files
const (
	tagInput                = "Input"
	tagOutput               = "Output"
	tagStatus               = "Status"
	tagSetPoint             = "SP"
	tagIntegralPart         = "IP"
	tagDifferentialPart     = "DP"
	tagDelayed              = "Delayed"
	tagStandardCondition    = "StandardCondition"
	tagDirectionalCondition = "DirectionalCondition"
	tagTimeCondition        = "TimeCondition"
)

// id is a parsed exchange identifier of the form [Tag]group/name. Tag is
// empty for expressions, which use the bare group/name form.
type id struct {
	Tag   string
	Group string
	Name  string
}

func (i id) String() string {
	if i.Tag == "" {
		return i.Group + "/" + i.Name
	}
	return "[" + i.Tag + "]" + i.Group + "/" + i.Name
}

func makeID(tag, group, name string) string {
	return id{Tag: tag, Group: group, Name: name}.String()
}

func parseID(s string) (id, bool) {
	var out id
	rest := s
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return id{}, false
		}
		out.Tag = rest[1:end]
		rest = rest[end+1:]
	}
	group, name, ok := strings.Cut(rest, "/")
	if !ok || group == "" || name == "" {
		return id{}, false
	}
	out.Group, out.Name = group, name
	return out, true
}

// delayedIndex splits the name of a delayed id such as "rule[1]" into the
// vector name and index
func delayedIndex(name string) (string, int, error) {
	open := strings.LastIndex(name, "[")
	if open < 0 || !strings.HasSuffix(name, "]") {
		return "", 0, fmt.Errorf("delayed reference %q has no index", name)
	}
	n, err := strconv.Atoi(name[open+1 : len(name)-1])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("delayed reference %q has an invalid index", name)
	}
	return name[:open], n, nil
}

func ruleTag(k rules.RuleKind) string           { return k.String() }
func conditionTag(k rules.ConditionKind) string { return k.String() }

// signalID maps a reference of group g to the exchange id of what it
// names. References that do not resolve are written unchanged.
func signalID(g *rules.ControlGroup, ref string) string {
	switch g.Resolve(ref) {
	case rules.SignalInput:
		return makeID(tagInput, g.Name, ref)
	case rules.SignalExpression:
		return makeID("", g.Name, ref)
	case rules.SignalOutput:
		return makeID(tagOutput, g.Name, ref)
	default:
		return ref
	}
}

// outputID is the exchange id of the output called name. Outputs win over
// inputs and expressions of the same name.
func outputID(g *rules.ControlGroup, name string) string {
	if _, ok := g.Output(name); ok {
		return makeID(tagOutput, g.Name, name)
	}
	return signalID(g, name)
}

// signalName is the inverse of signalID for references read in group.
// Ids of other groups or of other kinds are kept whole.
func signalName(group, s string) string {
	i, ok := parseID(s)
	if !ok || i.Group != group {
		return s
	}
	switch i.Tag {
	case tagInput, tagOutput, "":
		return i.Name
	default:
		return s
	}
}
