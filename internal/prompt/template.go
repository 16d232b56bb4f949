// Package prompt renders stage prompt templates. Templates use {{variable}}
// placeholders and {{#if variable}}...{{/if}} conditional blocks.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value; missing variables cause an error.
// {{#if variable}}...{{/if}} blocks are included only if the variable is
// non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		missing = append(missing, m[1])
		return match // leave placeholder for error reporting
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// processConditionals handles {{#if var}}...{{/if}} blocks, supporting
// nesting by resolving innermost blocks first.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		// The last {{#if ...}} before this {{/if}} is the innermost block.
		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		lastOpen := openLocs[len(openLocs)-1]
		openStart, openEnd := lastOpen[0], lastOpen[1]

		m := ifOpenRe.FindStringSubmatch(prefix[openStart:openEnd])
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", prefix[openStart:openEnd])
		}
		varName := m[1]

		body := result[openEnd:closeIdx]
		closeEnd := closeIdx + len(ifCloseStr)

		var replacement string
		if val, ok := vars[varName]; ok && val != "" {
			replacement = body
		}
		result = result[:openStart] + replacement + result[closeEnd:]
	}

	if ifOpenRe.MatchString(result) {
		return "", fmt.Errorf("unclosed conditional block: %s", ifOpenRe.FindString(result))
	}
	return result, nil
}

// LoadTemplate reads a stage template. Project-level overrides (relative to
// workdir) win over the installed built-ins.
func LoadTemplate(templatePath string, workdir string) (string, error) {
	if workdir != "" {
		projectPath := filepath.Join(workdir, templatePath)
		// Prevent path traversal: the resolved path must stay within workdir.
		absProject, err := filepath.Abs(projectPath)
		if err == nil {
			absWorkdir, err2 := filepath.Abs(workdir)
			if err2 == nil && !strings.HasPrefix(absProject, absWorkdir+string(filepath.Separator)) && absProject != absWorkdir {
				return "", fmt.Errorf("template path %q escapes workdir", templatePath)
			}
		}
		if data, err := os.ReadFile(projectPath); err == nil {
			return string(data), nil
		}
	}

	if content, ok := builtinTemplates[filepath.Base(templatePath)]; ok {
		return content, nil
	}

	dir := builtinTemplateDir()
	if dir == "" {
		return "", fmt.Errorf("template %q not found", templatePath)
	}
	builtinPath := filepath.Join(dir, templatePath)
	data, err := os.ReadFile(builtinPath)
	if err != nil {
		return "", fmt.Errorf("template not found at %q (also checked %q): %w", templatePath, builtinPath, err)
	}
	return string(data), nil
}

// builtinTemplateDir returns the path to the installed templates directory.
func builtinTemplateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chainforge", "templates")
}

// InstallBuiltinTemplates writes the built-in templates to
// ~/.chainforge/templates/ if they don't already exist, so users can edit
// them.
func InstallBuiltinTemplates() error {
	dir := builtinTemplateDir()
	if dir == "" {
		return fmt.Errorf("could not determine home directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create templates dir: %w", err)
	}

	for name, content := range builtinTemplates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue // don't overwrite user edits
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write template %q: %w", name, err)
		}
	}
	return nil
}
