// File path: internal/prompt/registry.go
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/prompts"

	"github.com/skyreach/opinioncore/internal/common"
)

// Task names one logical LLM job. Every task resolves to its own template.
type Task string

const (
	TaskEntityExtract     Task = "entity_extract"
	TaskRelationExtract   Task = "relation_extract"
	TaskTag               Task = "tag"
	TaskTimeLabel         Task = "time_label"
	TaskTimeRange         Task = "time_range"
	TaskTimeMatch         Task = "time_match"
	TaskQueryExpand       Task = "query_expand"
	TaskSummaryStrict     Task = "summary_strict"
	TaskSummarySupplement Task = "summary_supplement"
)

// ErrTemplateNotFound is returned when a task has no usable template. The
// failure is scoped to that task; other tasks keep working.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Registry resolves templates per task and per topic namespace. Resolution
// order: <root>/<topic>/<task>.tmpl, <root>/default/<task>.tmpl, then the
// baked-in default. A template file that exists but fails to parse poisons
// only its own task.
type Registry struct {
	root string

	mu    sync.Mutex
	cache map[string]resolved
}

type resolved struct {
	template prompts.PromptTemplate
	err      error
}

// NewRegistry builds a registry rooted at dir. An empty dir serves only the
// baked-in defaults.
func NewRegistry(dir string) *Registry {
	return &Registry{root: strings.TrimSpace(dir), cache: make(map[string]resolved)}
}

// Render produces the final prompt for a task in a topic namespace.
func (r *Registry) Render(topic string, task Task, vars map[string]any) (string, error) {
	res := r.resolve(topic, task)
	if res.err != nil {
		return "", res.err
	}
	out, err := res.template.Format(vars)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", task, err)
	}
	return out, nil
}

func (r *Registry) resolve(topic string, task Task) resolved {
	key := strings.TrimSpace(topic) + "/" + string(task)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[key]; ok {
		return cached
	}
	res := r.load(topic, task)
	r.cache[key] = res
	return res
}

func (r *Registry) load(topic string, task Task) resolved {
	vars := taskVariables[task]
	if r.root != "" {
		candidates := []string{
			filepath.Join(r.root, strings.TrimSpace(topic), string(task)+".tmpl"),
			filepath.Join(r.root, "default", string(task)+".tmpl"),
		}
		for _, path := range candidates {
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return resolved{err: fmt.Errorf("read %s: %w", path, err)}
			}
			tpl := prompts.NewPromptTemplate(string(data), vars)
			common.Logger().Debug("prompt: template loaded", "task", task, "path", path)
			return resolved{template: tpl}
		}
	}
	text, ok := defaultTemplates[task]
	if !ok {
		return resolved{err: fmt.Errorf("%w: task %s", ErrTemplateNotFound, task)}
	}
	return resolved{template: prompts.NewPromptTemplate(text, vars)}
}

var taskVariables = map[Task][]string{
	TaskEntityExtract:     {"text"},
	TaskRelationExtract:   {"text", "entities"},
	TaskTag:               {"text"},
	TaskTimeLabel:         {"doc", "sample"},
	TaskTimeRange:         {"query"},
	TaskTimeMatch:         {"time", "labels"},
	TaskQueryExpand:       {"query"},
	TaskSummaryStrict:     {"query", "context"},
	TaskSummarySupplement: {"query", "context"},
}
