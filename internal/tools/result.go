package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the model as the tool_result
	ForUser string `json:"for_user,omitempty"` // content shown to the owner, when different
	IsError bool   `json:"is_error"`           // marks a tool failure
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}
