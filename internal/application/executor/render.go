package executor

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/aescanero/phaseline/internal/spec"
)

// renderData carries the values stage templates may reference, like
// {{.Branch}} or {{ var "scanner_token" }}.
type renderData struct {
	RunID  string
	Branch string
	Tag    string
	Commit string
	Vars   map[string]string
}

// stageFuncs builds the template functions available inside one stage:
// input/output/cache resolve declared artifact refs to their workdir
// relative paths, var resolves trigger variables.
func stageFuncs(st spec.Stage, data renderData) template.FuncMap {
	paths := func(refs []spec.ArtifactRef) map[string]string {
		m := make(map[string]string, len(refs))
		for _, ref := range refs {
			m[ref.Name] = ref.RelPath()
		}
		return m
	}
	inputs := paths(st.Inputs)
	outputs := paths(st.Outputs)
	caches := paths(st.Caches)

	lookup := func(kind string, m map[string]string) func(string) (string, error) {
		return func(name string) (string, error) {
			p, ok := m[name]
			if !ok {
				return "", fmt.Errorf("stage %s declares no %s named %q", st.ID, kind, name)
			}
			return p, nil
		}
	}

	return template.FuncMap{
		"input":  lookup("input", inputs),
		"output": lookup("output", outputs),
		"cache":  lookup("cache", caches),
		"var": func(name string) (string, error) {
			v, ok := data.Vars[name]
			if !ok {
				return "", fmt.Errorf("undefined variable %q", name)
			}
			return v, nil
		},
	}
}

// render evaluates one template expression. Unresolvable references
// are errors, never silent empty strings.
func render(expr string, funcs template.FuncMap, data renderData) (string, error) {
	tmpl, err := template.New("expr").Option("missingkey=error").Funcs(funcs).Parse(expr)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", expr, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", expr, err)
	}
	return buf.String(), nil
}

// renderCommand renders every argv element of a stage command.
func renderCommand(st spec.Stage, data renderData) ([]string, error) {
	funcs := stageFuncs(st, data)
	args := make([]string, 0, len(st.Run))
	for _, arg := range st.Run {
		rendered, err := render(arg, funcs, data)
		if err != nil {
			return nil, err
		}
		args = append(args, rendered)
	}
	return args, nil
}

// renderEnv renders every environment value of a stage.
func renderEnv(st spec.Stage, data renderData) (map[string]string, error) {
	funcs := stageFuncs(st, data)
	env := make(map[string]string, len(st.Env))
	for key, value := range st.Env {
		rendered, err := render(value, funcs, data)
		if err != nil {
			return nil, err
		}
		env[key] = rendered
	}
	return env, nil
}

// renderCacheKey renders a declared cache key against the trigger
// context. Cache keys see the run data but no stage-local refs.
func renderCacheKey(key string, data renderData) (string, error) {
	return render(key, template.FuncMap{
		"var": func(name string) (string, error) {
			v, ok := data.Vars[name]
			if !ok {
				return "", fmt.Errorf("undefined variable %q", name)
			}
			return v, nil
		},
	}, data)
}
