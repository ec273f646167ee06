// Package classifier derives development-practice flags from repository evidence.
package classifier

import (
	"strings"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// TDDKeywords mark test-driven practice
var TDDKeywords = []string{
	"TDD", "BDD", "TEST-DRIVEN", "BEHAVIOR-DRIVEN", "UNIT TEST", "TEST-", "CODE COV",
}

// DevOpsKeywords mark DevOps practice
var DevOpsKeywords = []string{
	"DEVOPS", "CI", "CI/CD", "CD", "CONTINUOUS INTEGRATION", "CONTINUOUS DE", "ACTIONS",
	"IAC", "IAAS", "PAAS", "KUBERNETES", "ANSIBLE", "TERRAFORM", "AUTOMA", "DEPLOY", ".YML",
}

// workflowNoise matches every workflow file name and is ignored for that source
const workflowNoise = ".YML"

// Evidence is what a repository offers for classification, in priority order
type Evidence struct {
	Topics         []string
	WorkflowFiles  []string
	CommitMessages []string
}

// ClassifyTDD reports whether any evidence source mentions a TDD keyword.
// Sources are checked topics first, then workflow files, then commit messages.
func ClassifyTDD(ev Evidence) bool {
	return anyMatch(ev.Topics, TDDKeywords) ||
		anyMatch(ev.WorkflowFiles, TDDKeywords) ||
		anyMatch(ev.CommitMessages, TDDKeywords)
}

// ClassifyDevOps reports whether any evidence source mentions a DevOps keyword.
// It is only evaluated for repositories already classified as TDD.
func ClassifyDevOps(isTDD bool, ev Evidence) bool {
	if !isTDD {
		return false
	}
	return anyMatch(ev.Topics, DevOpsKeywords) ||
		anyMatch(ev.WorkflowFiles, workflowKeywords) ||
		anyMatch(ev.CommitMessages, DevOpsKeywords)
}

// Apply classifies rec from ev. Flags only ever move from false to true, and a
// flag that is already set is not evaluated again.
func Apply(rec *domain.RepositoryRecord, ev Evidence) {
	if !rec.IsTDD && ClassifyTDD(ev) {
		rec.MarkTDD()
	}
	if !rec.IsDevOps && ClassifyDevOps(rec.IsTDD, ev) {
		rec.MarkDevOps()
	}
}

var workflowKeywords = without(DevOpsKeywords, workflowNoise)

func without(keywords []string, drop string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k != drop {
			out = append(out, k)
		}
	}
	return out
}

func anyMatch(texts, keywords []string) bool {
	for _, text := range texts {
		upper := strings.ToUpper(text)
		for _, k := range keywords {
			if strings.Contains(upper, k) {
				return true
			}
		}
	}
	return false
}
