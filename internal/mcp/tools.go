package mcp

import (
	"context"
	"errors"
	"fmt"

	"autobranch/internal/browser"
	"autobranch/internal/config"
	"autobranch/internal/fill"
	"autobranch/internal/watch"
	"autobranch/internal/workitem"
)

// WatcherStatusTool reports the browser connection and every watched page.
type WatcherStatusTool struct {
	manager *browser.Manager
}

func (t *WatcherStatusTool) Name() string { return "watcher_status" }

func (t *WatcherStatusTool) Description() string {
	return "Report the browser connection state and the fill statistics for every watched page."
}

func (t *WatcherStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *WatcherStatusTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	statuses := t.manager.Status()
	pages := make([]map[string]interface{}, 0, len(statuses))
	for _, st := range statuses {
		pages = append(pages, map[string]interface{}{
			"id":          st.Page.ID,
			"url":         st.Page.URL,
			"title":       st.Page.Title,
			"attached_at": st.Page.AttachedAt,
			"stats":       st.Stats,
		})
	}
	return map[string]interface{}{
		"success":     true,
		"connected":   t.manager.IsConnected(),
		"control_url": t.manager.ControlURL(),
		"pages":       pages,
	}, nil
}

// ListEpisodesTool returns recent episode summaries, optionally for one page.
type ListEpisodesTool struct {
	manager *browser.Manager
}

func (t *ListEpisodesTool) Name() string { return "list_episodes" }

func (t *ListEpisodesTool) Description() string {
	return "List recent dialog episodes and their outcomes (filled, skipped, timeout, abandoned)."
}

func (t *ListEpisodesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"page_id": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one watched page. Omit for all pages.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of episodes to return (default 20).",
			},
		},
	}
}

func (t *ListEpisodesTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pageID := getStringArg(args, "page_id")
	limit := getIntArg(args, "limit", 20)

	var episodes []watch.Summary
	if pageID != "" {
		_, w, ok := t.manager.Get(pageID)
		if !ok {
			return nil, fmt.Errorf("page not found: %s", pageID)
		}
		_, episodes = w.Snapshot()
	} else {
		for _, st := range t.manager.Status() {
			episodes = append(episodes, st.Recent...)
		}
	}

	if limit > 0 && len(episodes) > limit {
		episodes = episodes[len(episodes)-limit:]
	}
	return map[string]interface{}{
		"success":  true,
		"count":    len(episodes),
		"episodes": episodes,
	}, nil
}

// PreviewBranchNameTool runs the parse and format pipeline on raw link text
// without touching any page.
type PreviewBranchNameTool struct {
	branch config.BranchConfig
}

func (t *PreviewBranchNameTool) Name() string { return "preview_branch_name" }

func (t *PreviewBranchNameTool) Description() string {
	return "Parse work-item link text and show the branch name that would be written, without touching the browser."
}

func (t *PreviewBranchNameTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Link text, e.g. \"Task 123: Add login page\".",
			},
		},
		"required": []string{"text"},
	}
}

func (t *PreviewBranchNameTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	text := getStringArg(args, "text")
	if text == "" {
		return nil, errors.New("text is required")
	}

	rec, ok := workitem.Parse(text)
	if !ok {
		return map[string]interface{}{
			"success": false,
			"matched": false,
			"error":   "text does not match the work-item pattern",
		}, nil
	}

	return map[string]interface{}{
		"success":   true,
		"matched":   true,
		"work_item": rec.ID,
		"title":     rec.Title,
		"branch":    workitem.BranchName(t.branch.Prefix, rec, t.branch.GetPunctuation()),
	}, nil
}

// FillFieldTool writes a value into a field on a watched page through the
// same canonical write path the watcher uses.
type FillFieldTool struct {
	manager *browser.Manager
}

func (t *FillFieldTool) Name() string { return "fill_field" }

func (t *FillFieldTool) Description() string {
	return "Write a value into an input on a watched page via the framework-visible write path. Refuses to overwrite existing content unless force is set."
}

func (t *FillFieldTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"page_id": map[string]interface{}{
				"type":        "string",
				"description": "Watched page id from watcher_status.",
			},
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector for the target input.",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Value to write.",
			},
			"force": map[string]interface{}{
				"type":        "boolean",
				"description": "Overwrite even when the field already has content (default false).",
			},
		},
		"required": []string{"page_id", "selector", "value"},
	}
}

func (t *FillFieldTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pageID := getStringArg(args, "page_id")
	selector := getStringArg(args, "selector")
	value := getStringArg(args, "value")
	force := getBoolArg(args, "force", false)
	if pageID == "" || selector == "" {
		return nil, errors.New("page_id and selector are required")
	}

	_, w, ok := t.manager.Get(pageID)
	if !ok {
		return nil, fmt.Errorf("page not found: %s", pageID)
	}

	tree := w.Tree()
	input, found := tree.Find(tree.Document(), selector)
	if !found {
		return nil, fmt.Errorf("no element matching %q", selector)
	}

	if force {
		if err := tree.SetValue(input, value); err != nil {
			return nil, fmt.Errorf("set value: %w", err)
		}
		return map[string]interface{}{"success": true, "wrote": true, "forced": true}, nil
	}

	writer := fill.New(tree, false)
	wrote, err := writer.Fill(input, value)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "wrote": wrote}, nil
}
