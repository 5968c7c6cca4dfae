// Package handoff builds the structured contract that travels with
// development requests IAN refuses to execute itself. The payload names the
// downstream executor, links the most relevant plan files from tasks/, and
// restates the execution policy so the receiving side cannot miss it.
package handoff

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Target is the executor recorded on every dev-handoff ticket.
const Target = "claude_code"

// ExecutionPolicy is the fixed rule line embedded in every payload.
const ExecutionPolicy = "Development tasks are executed in Claude Code only."

const (
	summaryMaxChars = 500
	defaultLimit    = 3
)

// Payload is the contract stored on the backlog ticket for the downstream
// executor. Field order matches the stored JSON.
type Payload struct {
	HandoffTarget    string   `json:"handoff_target"`
	TicketID         string   `json:"ticket_id"`
	RequestSummary   string   `json:"request_summary"`
	RequestedOutcome string   `json:"requested_outcome"`
	LinkedPlanFiles  []string `json:"linked_plan_files"`
	ExecutionPolicy  string   `json:"execution_policy"`
}

// Marshal renders the payload as the JSON string persisted on the ticket.
func (p Payload) Marshal() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal handoff payload: %w", err)
	}
	return string(b), nil
}

var (
	tokenRe   = regexp.MustCompile(`[a-z0-9]{3,}`)
	stopwords = map[string]bool{
		"the": true, "and": true, "for": true, "with": true,
		"from": true, "this": true, "that": true, "are": true,
	}
	stemSeparators = strings.NewReplacer("_", " ", "-", " ")
)

func tokenize(text string) []string {
	var out []string
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if !stopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// FindRelevantPlanFiles scores every markdown file under <root>/tasks by
// keyword overlap between the request text and the file's path, and returns
// the top matches as root-relative slash paths. Zero-overlap files are
// dropped; ties break on path order.
func FindRelevantPlanFiles(root, requestText string, limit int) []string {
	if limit <= 0 {
		limit = defaultLimit
	}

	tokens := map[string]bool{}
	for _, tok := range tokenize(requestText) {
		tokens[tok] = true
	}
	if len(tokens) == 0 {
		return nil
	}

	type hit struct {
		score int
		rel   string
	}
	var hits []hit

	tasksRoot := filepath.Join(root, "tasks")
	_ = filepath.WalkDir(tasksRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		haystack := strings.ToLower(rel + " " + stemSeparators.Replace(stem))

		score := 0
		for tok := range tokens {
			if strings.Contains(haystack, tok) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{score, rel})
		}
		return nil
	})

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rel < hits[j].rel
	})

	var out []string
	for _, h := range hits {
		out = append(out, h.rel)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Build assembles the handoff payload for one ticket. The request text
// doubles as summary and requested outcome, capped at 500 characters.
func Build(root, ticketID, requestText string) Payload {
	summary := truncate(strings.TrimSpace(requestText), summaryMaxChars)
	if summary == "" {
		summary = "(no summary)"
	}
	linked := FindRelevantPlanFiles(root, requestText, defaultLimit)
	if linked == nil {
		linked = []string{}
	}
	return Payload{
		HandoffTarget:    Target,
		TicketID:         ticketID,
		RequestSummary:   summary,
		RequestedOutcome: summary,
		LinkedPlanFiles:  linked,
		ExecutionPolicy:  ExecutionPolicy,
	}
}

// truncate cuts at a byte boundary without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && (s[max]&0xC0) == 0x80 {
		max--
	}
	return s[:max]
}
