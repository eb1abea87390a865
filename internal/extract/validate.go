package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noahchander/labtree/internal/models"
)

// FieldError is one schema violation at a JSON field path.
type FieldError struct {
	Path    string
	Message string
}

// SchemaValidationError reports every violating field path in a model
// response. It is not retried automatically.
type SchemaValidationError struct {
	Fields []FieldError
}

func (e *SchemaValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "schema validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Path, f.Message)
	}
	return fmt.Sprintf("schema validation failed (%d violations): %s", len(e.Fields), strings.Join(parts, "; "))
}

// ParseResult decodes raw model output into a workflow tree and validates it.
func ParseResult(raw json.RawMessage) (*models.WorkflowExtractionResult, error) {
	var result models.WorkflowExtractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode extraction result: %w", err)
	}
	if err := ValidateResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateResult checks the tree against the WorkflowExtractionResult shape
// and its invariants. Returns nil when valid, otherwise a
// SchemaValidationError listing every violating field path.
func ValidateResult(r *models.WorkflowExtractionResult) error {
	var fields []FieldError
	add := func(path, message string) {
		fields = append(fields, FieldError{Path: path, Message: message})
	}

	if strings.TrimSpace(r.TreeName) == "" {
		add("tree_name", "must not be empty")
	}
	if len(r.Blocks) == 0 {
		add("blocks", "must contain at least one block")
	}

	seenTitles := make(map[string]string)
	for i, block := range r.Blocks {
		bp := fmt.Sprintf("blocks[%d]", i)
		if strings.TrimSpace(block.BlockName) == "" {
			add(bp+".block_name", "must not be empty")
		} else if isGenericBlockName(block.BlockName) {
			add(bp+".block_name", fmt.Sprintf("%q is generic; block names must be domain-specific", block.BlockName))
		}
		if len(block.Nodes) == 0 {
			add(bp+".nodes", "must contain at least one node")
		}

		for j, node := range block.Nodes {
			np := fmt.Sprintf("%s.nodes[%d]", bp, j)
			title := strings.TrimSpace(node.Title)
			if title == "" {
				add(np+".title", "must not be empty")
			} else if prev, dup := seenTitles[strings.ToLower(title)]; dup {
				add(np+".title", fmt.Sprintf("duplicate of node title in %s", prev))
			} else {
				seenTitles[strings.ToLower(title)] = np
			}
			if strings.TrimSpace(node.Content.Text) == "" {
				add(np+".content.text", "must not be empty")
			}
			if node.NodeType != "" && !validNodeType(node.NodeType) {
				add(np+".node_type", fmt.Sprintf("%q is not a known node type", node.NodeType))
			}
			for k, dep := range node.Dependencies {
				dp := fmt.Sprintf("%s.dependencies[%d]", np, k)
				if strings.TrimSpace(dep.ReferencedNodeTitle) == "" {
					add(dp+".referenced_node_title", "must not be empty")
				}
				if !dep.Type.Valid() {
					add(dp+".dependency_type", fmt.Sprintf("%q is not a defined dependency type", dep.Type))
				}
			}
		}
	}

	if len(fields) > 0 {
		return &SchemaValidationError{Fields: fields}
	}
	return nil
}

func validNodeType(t models.NodeType) bool {
	switch t {
	case models.NodeProtocol, models.NodeDataCreation, models.NodeAnalysis, models.NodeResults:
		return true
	}
	return false
}

func isGenericBlockName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, generic := range genericBlockNames {
		if lower == generic {
			return true
		}
		// "Block 3", "Section 2" style names
		if strings.HasPrefix(lower, generic+" ") && len(lower) <= len(generic)+3 {
			return true
		}
	}
	return false
}
