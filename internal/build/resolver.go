// Package build assembles a self-contained, buildable source tree for a
// strategy script: it resolves include tokens to source/header pairs,
// copies them next to the generated protocol code and emits a build
// manifest describing the executable and its object libraries.
package build

import (
	"fmt"
	"path/filepath"
	"strings"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
)

// Category is the kind of shared code a dependency belongs to.
type Category int

const (
	// CategoryProcessor is shared strategy-support code under processors/common.
	CategoryProcessor Category = iota
	// CategoryService is generated RPC stub and service code.
	CategoryService
)

func (c Category) String() string {
	if c == CategoryService {
		return "service"
	}
	return "processor"
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(b []byte) error {
	switch string(b) {
	case "service":
		*c = CategoryService
	case "processor":
		*c = CategoryProcessor
	default:
		return fmt.Errorf("unknown category %q", b)
	}
	return nil
}

// Dir is the category's path below include/ and src/ in the output tree.
func (c Category) Dir() string {
	if c == CategoryService {
		return "services"
	}
	return filepath.Join("processors", "common")
}

const (
	servicePrefix   = "services/"
	processorPrefix = "processors/common/"

	headerExt = ".h"
	sourceExt = ".cc"
)

// ErrInvalidToken is returned for an include token that names nothing usable.
var ErrInvalidToken = perrors.New(perrors.KindInvalid, "invalid include token")

// Dependency is an include token resolved against a project root.
type Dependency struct {
	Token      string   `json:"token" yaml:"token"`
	Category   Category `json:"category" yaml:"category"`
	BaseName   string   `json:"base_name" yaml:"base_name"`
	HeaderPath string   `json:"header_path" yaml:"header_path"`
	SourcePath string   `json:"source_path" yaml:"source_path"`
}

// Resolve maps an include token to its header and source files under root.
// It performs no I/O; whether the files exist is checked when they are copied.
//
//	services/<name>           -> <root>/includes/services/<name>.h, <root>/src/services/<name>.cc
//	processors/common/<name>  -> <root>/includes/processors/common/<name>.h, ...
//	<name>                    -> <root>/includes/<name>.h, <root>/src/<name>.cc (legacy processor)
func Resolve(token, root string) (Dependency, error) {
	name := normalizeToken(token)

	var (
		category Category
		sub      string
		base     string
	)
	switch {
	case strings.HasPrefix(name, servicePrefix):
		category, sub, base = CategoryService, "services", strings.TrimPrefix(name, servicePrefix)
	case strings.HasPrefix(name, processorPrefix):
		category, sub, base = CategoryProcessor, filepath.Join("processors", "common"), strings.TrimPrefix(name, processorPrefix)
	default:
		category, sub, base = CategoryProcessor, "", name
	}

	if !validBaseName(base) {
		return Dependency{}, perrors.E(perrors.KindInvalid, "resolve "+quote(token), ErrInvalidToken)
	}

	return Dependency{
		Token:      token,
		Category:   category,
		BaseName:   base,
		HeaderPath: filepath.Join(root, "includes", sub, base+headerExt),
		SourcePath: filepath.Join(root, "src", sub, base+sourceExt),
	}, nil
}

// ResolveAll resolves every token, failing on the first malformed one.
func ResolveAll(tokens []string, root string) ([]Dependency, error) {
	deps := make([]Dependency, 0, len(tokens))
	for _, tok := range tokens {
		dep, err := Resolve(tok, root)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// normalizeToken strips whitespace, quoting and a trailing header extension.
// `"processors/common/timers.h"` and `<services/orders.hpp>` are accepted.
func normalizeToken(token string) string {
	s := strings.TrimSpace(token)
	if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
		s = s[1 : len(s)-1]
	}
	s = strings.Trim(s, `"'`)
	s = filepath.ToSlash(strings.TrimSpace(s))
	for _, ext := range []string{".hpp", ".h"} {
		if strings.HasSuffix(s, ext) {
			s = strings.TrimSuffix(s, ext)
			break
		}
	}
	return strings.TrimPrefix(s, "./")
}

func validBaseName(base string) bool {
	if base == "" || strings.HasSuffix(base, "/") {
		return false
	}
	for _, part := range strings.Split(base, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func quote(s string) string { return `"` + s + `"` }
