// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package modelfile

import (
	"fmt"
	"strconv"
	"strings"
)

// Modelfile directives.
const (
	DirectiveFrom      = "FROM"
	DirectiveParameter = "PARAMETER"
	DirectiveTemplate  = "TEMPLATE"
	DirectiveSystem    = "SYSTEM"
	DirectiveAdapter   = "ADAPTER"
	DirectiveLicense   = "LICENSE"
)

// Parsed is the content of a rendered Modelfile.
type Parsed struct {
	From     string
	Template string
	System   string
	Adapter  string
	License  string
	// Parameters keeps every value of repeated parameters such as stop, in file order.
	Parameters map[string][]string
}

// Parse reads the directives of a Modelfile. Lines starting with # are comments.
// Values may be double-quoted or wrapped in triple quotes spanning several lines.
func Parse(content string) (*Parsed, error) {
	p := &Parsed{Parameters: map[string][]string{}}
	rest := content
	lineNo := 0
	for rest != "" {
		var line string
		line, rest = cutLine(rest)
		lineNo++
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		directive, args, _ := strings.Cut(trimmed, " ")
		args = strings.TrimSpace(args)
		directive = strings.ToUpper(directive)

		var key string
		if directive == DirectiveParameter {
			key, args, _ = strings.Cut(args, " ")
			args = strings.TrimSpace(args)
			if key == "" || args == "" {
				return nil, fmt.Errorf("line %d: PARAMETER needs a name and a value", lineNo)
			}
		}

		var value string
		switch {
		case strings.HasPrefix(args, `"""`):
			body := args[3:]
			for !strings.Contains(body, `"""`) {
				if rest == "" {
					return nil, fmt.Errorf("line %d: unterminated triple-quoted value", lineNo)
				}
				var next string
				next, rest = cutLine(rest)
				lineNo++
				body += "\n" + next
			}
			value = body[:strings.Index(body, `"""`)]
		case strings.HasPrefix(args, `"`):
			unquoted, err := strconv.Unquote(args)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid quoted value %s", lineNo, args)
			}
			value = unquoted
		default:
			value = args
		}

		switch directive {
		case DirectiveFrom:
			p.From = value
		case DirectiveTemplate:
			p.Template = value
		case DirectiveSystem:
			p.System = value
		case DirectiveAdapter:
			p.Adapter = value
		case DirectiveLicense:
			p.License = value
		case DirectiveParameter:
			p.Parameters[key] = append(p.Parameters[key], value)
		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", lineNo, directive)
		}
	}
	if p.From == "" {
		return nil, fmt.Errorf("modelfile has no FROM directive")
	}
	return p, nil
}

func cutLine(s string) (string, string) {
	line, rest, found := strings.Cut(s, "\n")
	if !found {
		return s, ""
	}
	return line, rest
}
