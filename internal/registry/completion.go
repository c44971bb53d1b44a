package registry

import (
	"context"
	"fmt"
)

// MaxCompletionResults caps completion/complete responses.
const MaxCompletionResults = 100

// Reference identifies the thing being completed against: a prompt by
// name, or a resource template by its raw URI template string.
type Reference struct {
	Kind string // "ref/prompt" or "ref/resource"
	Name string // prompt name, or the template's raw URI template string
}

// CompletionResult is a completion/complete response.
type CompletionResult struct {
	Values  []string
	HasMore bool
}

// CompletionService resolves a Reference + argument name to its Completable
// callback and invokes it, capping results at MaxCompletionResults.
type CompletionService struct {
	prompts   *PromptRegistry
	resources *ResourceRegistry
}

// NewCompletionService wires a CompletionService to the prompt and resource
// tables it completes against.
func NewCompletionService(prompts *PromptRegistry, resources *ResourceRegistry) *CompletionService {
	return &CompletionService{prompts: prompts, resources: resources}
}

// Complete resolves ref+argName to a Completable callback and invokes it
// with value and ctxArgs, the other already-resolved arguments giving
// context to the completion.
func (c *CompletionService) Complete(ctx context.Context, ref Reference, argName, value string, ctxArgs map[string]string) (*CompletionResult, error) {
	var cb CompletionCallback
	var ok bool

	switch ref.Kind {
	case "ref/prompt":
		cb, ok = c.prompts.completion(ref.Name, argName)
	case "ref/resource":
		cb, ok = c.resources.templateCompletion(ref.Name, argName)
	default:
		return nil, invalidParams(fmt.Sprintf("unknown completion reference kind: %s", ref.Kind))
	}
	if !ok || cb == nil {
		return &CompletionResult{}, nil
	}

	values, hasMore := cb(ctx, value, ctxArgs)
	if len(values) > MaxCompletionResults {
		values = values[:MaxCompletionResults]
		hasMore = true
	}
	return &CompletionResult{Values: values, HasMore: hasMore}, nil
}
