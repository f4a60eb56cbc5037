package script

// Languages a record can be written in. An empty Language means the
// engine's configured default.
const (
	LanguageJavaScript = "javascript"
	LanguageLua        = "lua"
)

// Record is the user-authored part of a script.
type Record struct {
	Name        string      `json:"name" yaml:"name"`
	Author      string      `json:"author,omitempty" yaml:"author,omitempty"`
	URL         string      `json:"url,omitempty" yaml:"url,omitempty"` // set when imported; the record is then read-only
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	Language    string      `json:"language,omitempty" yaml:"language,omitempty"`
	Parameters  []Parameter `json:"parameters" yaml:"parameters"`
	Code        string      `json:"code" yaml:"code"`
}

// ReadOnly reports whether the record was imported from a URL.
func (r Record) ReadOnly() bool { return r.URL != "" }

// Stored is a Record living in a container. Timestamps are Unix
// milliseconds; RunAt is 0 until the script has been run once.
type Stored struct {
	Record
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	RunAt     int64  `json:"runAt"`
}

// Clone returns a deep copy of the parameter slice so the copy can be
// mutated independently.
func (s Stored) Clone() Stored {
	out := s
	if s.Parameters != nil {
		out.Parameters = make([]Parameter, len(s.Parameters))
		copy(out.Parameters, s.Parameters)
	}
	return out
}

// ParameterNames returns the declared parameter names in order.
func (s Stored) ParameterNames() []string {
	names := make([]string, len(s.Parameters))
	for i, p := range s.Parameters {
		names[i] = p.Name
	}
	return names
}

// ParameterValues returns the current parameter values in order.
func (s Stored) ParameterValues() []any {
	values := make([]any, len(s.Parameters))
	for i, p := range s.Parameters {
		values[i] = p.Value
	}
	return values
}

// Patch carries the record fields an update replaces. Nil fields are left
// untouched.
type Patch struct {
	Name        *string     `json:"name,omitempty"`
	Author      *string     `json:"author,omitempty"`
	URL         *string     `json:"url,omitempty"`
	Description *string     `json:"description,omitempty"`
	Version     *string     `json:"version,omitempty"`
	Language    *string     `json:"language,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Code        *string     `json:"code,omitempty"`
}

// PatchFrom builds a Patch that replaces every field with r's.
func PatchFrom(r Record) Patch {
	return Patch{
		Name:        &r.Name,
		Author:      &r.Author,
		URL:         &r.URL,
		Description: &r.Description,
		Version:     &r.Version,
		Language:    &r.Language,
		Parameters:  r.Parameters,
		Code:        &r.Code,
	}
}

func (p Patch) apply(r *Record) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Author != nil {
		r.Author = *p.Author
	}
	if p.URL != nil {
		r.URL = *p.URL
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Version != nil {
		r.Version = *p.Version
	}
	if p.Language != nil {
		r.Language = *p.Language
	}
	if p.Parameters != nil {
		r.Parameters = make([]Parameter, len(p.Parameters))
		copy(r.Parameters, p.Parameters)
	}
	if p.Code != nil {
		r.Code = *p.Code
	}
}
