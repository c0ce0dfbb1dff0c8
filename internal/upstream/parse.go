package upstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

func nextCursor(page []byte) string {
	return gjson.GetBytes(page, "nextCursor").String()
}

func parseWorkflows(page []byte) ([]outcome.WorkflowDefinition, error) {
	data, err := pageData(page)
	if err != nil {
		return nil, err
	}
	var out []outcome.WorkflowDefinition
	data.ForEach(func(_, wf gjson.Result) bool {
		def := outcome.WorkflowDefinition{
			ID:       wf.Get("id").String(),
			Name:     wf.Get("name").String(),
			IsActive: wf.Get("active").Bool(),
		}
		wf.Get("tags").ForEach(func(_, tag gjson.Result) bool {
			if name := tag.Get("name").String(); name != "" {
				def.Tags = append(def.Tags, name)
			} else if tag.Type == gjson.String {
				def.Tags = append(def.Tags, tag.Str)
			}
			return true
		})
		if def.ID != "" {
			out = append(out, def)
		}
		return true
	})
	return out, nil
}

func parseExecutions(page []byte) ([]*outcome.Execution, error) {
	data, err := pageData(page)
	if err != nil {
		return nil, err
	}
	var out []*outcome.Execution
	data.ForEach(func(_, raw gjson.Result) bool {
		if ex := parseExecution(raw); ex != nil {
			out = append(out, ex)
		}
		return true
	})
	return out, nil
}

// ParseExecution decodes a single execution document, as returned by the
// platform's execution endpoint.
func ParseExecution(doc []byte) (*outcome.Execution, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	ex := parseExecution(gjson.ParseBytes(doc))
	if ex == nil {
		return nil, fmt.Errorf("%w: execution without id", ErrMalformed)
	}
	return ex, nil
}

func pageData(page []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(page) {
		return gjson.Result{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	data := gjson.GetBytes(page, "data")
	if !data.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: data is not an array", ErrMalformed)
	}
	return data, nil
}

// parseExecution keeps only the json payload of each output item; the rest
// of the run envelope is bookkeeping. runData keys are walked in document
// order so node order is preserved.
func parseExecution(raw gjson.Result) *outcome.Execution {
	id := raw.Get("id").String()
	if id == "" {
		return nil
	}
	ex := &outcome.Execution{
		ID:         id,
		WorkflowID: raw.Get("workflowId").String(),
		Status:     outcome.ExecutionStatus(raw.Get("status").String()),
		StartedAt:  parseTimestamp(raw.Get("startedAt")),
	}
	if stopped := parseTimestamp(raw.Get("stoppedAt")); !stopped.IsZero() {
		ex.FinishedAt = &stopped
	}
	if ex.Status == "" && raw.Get("finished").Bool() {
		ex.Status = outcome.ExecutionSuccess
	}

	nodeTypes := make(map[string]string)
	raw.Get("workflowData.nodes").ForEach(func(_, n gjson.Result) bool {
		nodeTypes[n.Get("name").String()] = n.Get("type").String()
		return true
	})

	raw.Get("data.resultData.runData").ForEach(func(name, runs gjson.Result) bool {
		node := outcome.NodeOutput{Name: name.String(), Type: nodeTypes[name.String()]}
		runs.ForEach(func(_, run gjson.Result) bool {
			var nr outcome.NodeRun
			run.Get("data.main").ForEach(func(_, branch gjson.Result) bool {
				branch.ForEach(func(_, item gjson.Result) bool {
					if payload := item.Get("json"); payload.Exists() {
						nr.Items = append(nr.Items, json.RawMessage(payload.Raw))
					}
					return true
				})
				return true
			})
			node.Runs = append(node.Runs, nr)
			return true
		})
		ex.Nodes = append(ex.Nodes, node)
		return true
	})
	return ex
}

func parseTimestamp(v gjson.Result) time.Time {
	if !v.Exists() || v.Type == gjson.Null {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
