package scim

const (
	PatchOpAdd     = "add"
	PatchOpRemove  = "remove"
	PatchOpReplace = "replace"
)

// PatchOperation is a single RFC 7644 patch operation
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PatchRequest is the body of a PATCH /Users/{id} call
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// NewPatch creates an empty patch request
func NewPatch() *PatchRequest {
	return &PatchRequest{
		Schemas: []string{SchemaPatchOp},
	}
}

// Remove deletes the attribute at path
func (p *PatchRequest) Remove(path string) *PatchRequest {
	p.Operations = append(p.Operations, PatchOperation{Op: PatchOpRemove, Path: path})
	return p
}

// RemoveExtensionField deletes a single extension field
func (p *PatchRequest) RemoveExtensionField(urn, field string) *PatchRequest {
	return p.Remove(ExtensionPath(urn, field))
}

// Replace sets the attribute at path
func (p *PatchRequest) Replace(path string, value any) *PatchRequest {
	p.Operations = append(p.Operations, PatchOperation{Op: PatchOpReplace, Path: path, Value: value})
	return p
}

// Add adds a value to the attribute at path
func (p *PatchRequest) Add(path string, value any) *PatchRequest {
	p.Operations = append(p.Operations, PatchOperation{Op: PatchOpAdd, Path: path, Value: value})
	return p
}

// IsEmpty reports whether the request carries no operation
func (p *PatchRequest) IsEmpty() bool {
	return p == nil || len(p.Operations) == 0
}
