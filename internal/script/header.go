package script

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// HeaderMarker is the tag that must follow the comment prefix on the first
// non-empty line of a header-annotated script.
const HeaderMarker = "@scriptroom"

var (
	markerRe = regexp.MustCompile(`^\s*(//|--)\s*` + HeaderMarker + `\s*$`)
	attrRe   = regexp.MustCompile(`^\s*(//|--)\s*@(name|author|description|version)\s+(.+?)\s*$`)
	paramRe  = regexp.MustCompile(`^\s*(//|--)\s*@param\s+(\w+)\s+(\w+)\s+(.+?)\s*$`)
)

// HeaderError reports a malformed header. The whole script is rejected.
type HeaderError struct {
	Line int
	Msg  string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("header line %d: %s", e.Line, e.Msg)
}

// Is makes HeaderError match ErrValidation.
func (e *HeaderError) Is(target error) bool { return target == ErrValidation }

// ParseHeader reads the header comment block of code. Without a marker line
// the returned record only carries the code. "--" comments select Lua.
// The code is kept whole, header included.
func ParseHeader(code string) (Record, error) {
	rec := Record{Code: code, Parameters: []Parameter{}}

	type line struct {
		n    int
		text string
	}
	var lines []line
	for i, l := range strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, line{n: i + 1, text: l})
	}
	if len(lines) == 0 {
		return rec, nil
	}

	m := markerRe.FindStringSubmatch(lines[0].text)
	if m == nil {
		return rec, nil
	}
	prefix := m[1]
	if prefix == "--" {
		rec.Language = LanguageLua
	} else {
		rec.Language = LanguageJavaScript
	}

	for _, l := range lines[1:] {
		if am := attrRe.FindStringSubmatch(l.text); am != nil && am[1] == prefix {
			switch am[2] {
			case "name":
				rec.Name = am[3]
			case "author":
				rec.Author = am[3]
			case "description":
				rec.Description = am[3]
			case "version":
				rec.Version = am[3]
			}
			continue
		}

		if pm := paramRe.FindStringSubmatch(l.text); pm != nil && pm[1] == prefix {
			typ := ParameterType(pm[3])
			if !typ.Valid() {
				return Record{}, &HeaderError{
					Line: l.n,
					Msg:  fmt.Sprintf("invalid parameter type %q for parameter %q, must be one of %s", pm[3], pm[2], quotedTypes()),
				}
			}
			rec.Parameters = append(rec.Parameters, Parameter{Name: pm[2], Type: typ, Description: pm[4]})
			continue
		}

		break
	}
	return rec, nil
}

// ParseRecord accepts either a JSON-encoded Record or header-annotated
// source text.
func ParseRecord(text string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(text), &rec); err == nil && rec.Name != "" && rec.Code != "" {
		if rec.Parameters == nil {
			rec.Parameters = []Parameter{}
		}
		return rec, nil
	}
	return ParseHeader(text)
}

func quotedTypes() string {
	quoted := make([]string, len(ParameterTypes))
	for i, t := range ParameterTypes {
		quoted[i] = fmt.Sprintf("%q", string(t))
	}
	return strings.Join(quoted, ", ")
}
