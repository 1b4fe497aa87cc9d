package main

import (
	"time"

	"github.com/liamcoop/rtc/modelengine"
	"github.com/liamcoop/rtc/rtcxml"
	"github.com/liamcoop/rtc/rules"
)

// API request and response models

// BundleDocuments carries the four exchange documents as XML text
type BundleDocuments struct {
	ToolsConfig string `json:"toolsConfig"`
	DataConfig  string `json:"dataConfig,omitempty"`
	TimeSeries  string `json:"timeSeries,omitempty"`
	State       string `json:"state,omitempty"`
}

func optional(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

// Bundle converts the documents; empty documents become absent
func (d BundleDocuments) Bundle() rtcxml.Bundle {
	return rtcxml.Bundle{
		ToolsConfig: optional(d.ToolsConfig),
		DataConfig:  optional(d.DataConfig),
		TimeSeries:  optional(d.TimeSeries),
		State:       optional(d.State),
	}
}

func documentsFrom(b *rtcxml.Bundle) BundleDocuments {
	return BundleDocuments{
		ToolsConfig: string(b.ToolsConfig),
		DataConfig:  string(b.DataConfig),
		TimeSeries:  string(b.TimeSeries),
		State:       string(b.State),
	}
}

// ModelRequest is the body for creating or replacing a model
type ModelRequest struct {
	Name        string          `json:"name" example:"Polder North"`
	Description string          `json:"description,omitempty"`
	Bundle      BundleDocuments `json:"bundle"`
}

// GroupSummary counts the components of one control group
type GroupSummary struct {
	Name        string `json:"name"`
	Inputs      int    `json:"inputs"`
	Outputs     int    `json:"outputs"`
	Expressions int    `json:"expressions"`
	Conditions  int    `json:"conditions"`
	Rules       int    `json:"rules"`
}

// DiagnosticResponse is one finding of decoding a bundle
type DiagnosticResponse struct {
	Severity string `json:"severity" example:"error"`
	Document string `json:"document" example:"rtcToolsConfig.xml"`
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message"`
}

// IssueResponse is one finding of validating a control group
type IssueResponse struct {
	Group     string `json:"group"`
	Kind      string `json:"kind" example:"unresolved-reference"`
	Subject   string `json:"subject"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message"`
}

// ModelResponse describes a loaded model
type ModelResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	Valid       bool                 `json:"valid"`
	Groups      []GroupSummary       `json:"groups"`
	Diagnostics []DiagnosticResponse `json:"diagnostics"`
	Issues      []IssueResponse      `json:"issues"`
}

// ModelsListResponse lists models
type ModelsListResponse struct {
	Models []ModelResponse `json:"models"`
}

// ValidationResponse is the validation report of a model
type ValidationResponse struct {
	Valid  bool            `json:"valid"`
	Issues []IssueResponse `json:"issues"`
}

// StepRequest is the body of a step. Binding keys are input names, or
// "Group/Name" to bind one group only.
type StepRequest struct {
	Time     time.Time          `json:"time"`
	Bindings map[string]float64 `json:"bindings"`
}

// RuleResultResponse is the outcome of one rule in a step
type RuleResultResponse struct {
	Rule    string  `json:"rule"`
	Kind    string  `json:"kind"`
	Output  string  `json:"output"`
	Active  bool    `json:"active"`
	Applied bool    `json:"applied"`
	Value   float64 `json:"value,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// GroupStepResponse is the outcome of one group in a step
type GroupStepResponse struct {
	Group       string               `json:"group"`
	Expressions map[string]float64   `json:"expressions"`
	Conditions  map[string]bool      `json:"conditions"`
	Rules       []RuleResultResponse `json:"rules"`
	Outputs     map[string]float64   `json:"outputs"`
	Errors      []string             `json:"errors,omitempty"`
}

// StepResponse is the outcome of a step
type StepResponse struct {
	Time           time.Time           `json:"time"`
	Groups         []GroupStepResponse `json:"groups"`
	EvaluationTime string              `json:"evaluationTime" example:"120µs"`
}

// EvaluateRequest is the body for evaluating a free-standing expression
type EvaluateRequest struct {
	Expression string             `json:"expression" example:"WaterLevel + 3 * max(Discharge, 0)"`
	Bindings   map[string]float64 `json:"bindings"`
}

// EvaluateResponse is the value of an expression and its canonical form
type EvaluateResponse struct {
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func modelResponse(me *modelengine.ModelEngine) ModelResponse {
	resp := ModelResponse{
		ID:          me.Model.ID,
		Name:        me.Model.Name,
		Description: me.Model.Description,
		CreatedAt:   me.Model.CreatedAt,
		UpdatedAt:   me.Model.UpdatedAt,
		Valid:       me.Valid(),
		Groups:      make([]GroupSummary, 0, len(me.Groups)),
		Diagnostics: make([]DiagnosticResponse, 0, len(me.Diagnostics)),
		Issues:      issues(me.Reports),
	}
	for _, g := range me.Groups {
		resp.Groups = append(resp.Groups, GroupSummary{
			Name:        g.Name,
			Inputs:      len(g.Inputs()),
			Outputs:     len(g.Outputs()),
			Expressions: len(g.Expressions()),
			Conditions:  len(g.Conditions()),
			Rules:       len(g.Rules()),
		})
	}
	for _, d := range me.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, DiagnosticResponse{
			Severity: d.Severity.String(),
			Document: d.Document,
			Subject:  d.Subject,
			Message:  d.Err.Error(),
		})
	}
	return resp
}

func issues(reports []rules.Report) []IssueResponse {
	out := []IssueResponse{}
	for _, r := range reports {
		for _, i := range r.Issues {
			out = append(out, IssueResponse{
				Group:     r.Group,
				Kind:      i.Kind.String(),
				Subject:   i.SubjectKind + " " + i.Subject,
				Reference: i.Reference,
				Message:   i.String(),
			})
		}
	}
	return out
}

func stepResponse(group string, res *rules.StepResult) GroupStepResponse {
	out := GroupStepResponse{
		Group:       group,
		Expressions: res.Expressions,
		Conditions:  res.Conditions,
		Rules:       make([]RuleResultResponse, 0, len(res.Rules)),
		Outputs:     res.Outputs,
	}
	for _, rr := range res.Rules {
		r := RuleResultResponse{
			Rule:    rr.Rule,
			Kind:    rr.Kind,
			Output:  rr.Output,
			Active:  rr.Active,
			Applied: rr.Applied,
			Value:   rr.Value,
		}
		if rr.Error != nil {
			r.Error = rr.Error.Error()
		}
		out.Rules = append(out.Rules, r)
	}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}
