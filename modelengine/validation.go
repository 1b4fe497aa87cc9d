package modelengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/rtc/rtcxml"
	"github.com/liamcoop/rtc/rules"
)

// Limits on what one model may hold
const (
	MaxNameLength      = 100
	MaxGroups          = 100
	MaxRulesPerGroup   = 1000
	MaxDocumentBytes   = 16 << 20
	maxDescriptionSize = 2000
)

var modelName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_. -]*$`)

// ValidateName checks a model name: 1 to MaxNameLength characters of
// letters, digits, underscore, dot, dash or space, starting with a letter,
// digit or underscore and not ending in a space.
func ValidateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("model name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("model name length %d exceeds maximum of %d characters", len(name), MaxNameLength)
	}
	if !modelName.MatchString(name) {
		return fmt.Errorf("model name %q must match %s", name, modelName)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("model name %q has trailing whitespace", name)
	}
	return nil
}

// ValidateBundle checks the size of the uploaded documents
func ValidateBundle(b rtcxml.Bundle) error {
	if len(b.ToolsConfig) == 0 {
		return fmt.Errorf("%s is required", rtcxml.ToolsConfigFile)
	}
	docs := []struct {
		name string
		data []byte
	}{
		{rtcxml.ToolsConfigFile, b.ToolsConfig},
		{rtcxml.DataConfigFile, b.DataConfig},
		{rtcxml.TimeSeriesFile, b.TimeSeries},
		{rtcxml.StateFile, b.State},
	}
	for _, d := range docs {
		if len(d.data) > MaxDocumentBytes {
			return fmt.Errorf("%s is %d bytes, maximum allowed is %d", d.name, len(d.data), MaxDocumentBytes)
		}
	}
	return nil
}

// validateGroups checks the decoded groups against the model limits
func validateGroups(groups []*rules.ControlGroup) error {
	if len(groups) == 0 {
		return fmt.Errorf("model contains no control groups")
	}
	if len(groups) > MaxGroups {
		return fmt.Errorf("model contains %d control groups, maximum allowed is %d", len(groups), MaxGroups)
	}
	for _, g := range groups {
		if n := len(g.Rules()); n > MaxRulesPerGroup {
			return fmt.Errorf("control group %s contains %d rules, maximum allowed is %d", g.Name, n, MaxRulesPerGroup)
		}
	}
	return nil
}

func validateDescription(d string) error {
	if len(d) > maxDescriptionSize {
		return fmt.Errorf("description length %d exceeds maximum of %d characters", len(d), maxDescriptionSize)
	}
	return nil
}
