// Package board models the markdown board document: YAML front matter,
// columns, tasks, and the !!!include(path)!!! directives that pull
// satellite files into the structured view.
//
// The package owns the content formats the sync engine shuttles around
// but deliberately knows nothing about synchronization: it parses and
// serializes, the engine decides when.
package board

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// FrontMatter is the optional YAML header of a board document.
type FrontMatter struct {
	Title    string            `yaml:"title,omitempty"`
	Autosave bool              `yaml:"autosave,omitempty"`
	Settings map[string]string `yaml:"settings,omitempty"`
}

// Task is one card on the board.
type Task struct {
	Title       string
	Description string
	// IncludePath is set when the task body is pulled from a file.
	IncludePath string
}

// Column is one lane of the board.
type Column struct {
	Title string
	Tasks []Task
	// IncludePath is set when the column's tasks are pulled from a file.
	IncludePath string
}

// Document is a parsed board.
type Document struct {
	FrontMatter FrontMatter
	Columns     []Column
}

const frontMatterFence = "---"

// SplitFrontMatter separates an optional YAML front matter block from
// the markdown body. A document without front matter returns the zero
// FrontMatter and the full content.
func SplitFrontMatter(content string) (FrontMatter, string, error) {
	var fm FrontMatter

	if !strings.HasPrefix(content, frontMatterFence+"\n") {
		return fm, content, nil
	}
	rest := content[len(frontMatterFence)+1:]
	end := strings.Index(rest, "\n"+frontMatterFence)
	if end < 0 {
		return fm, content, nil
	}
	header := rest[:end]
	body := rest[end+len(frontMatterFence)+1:]
	body = strings.TrimPrefix(body, "\n")

	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return FrontMatter{}, content, fmt.Errorf("invalid front matter: %w", err)
	}
	return fm, body, nil
}

// markdown is the shared goldmark instance; the default parser covers
// everything board documents use.
var markdown = goldmark.New()

// ParseDocument builds the structured board from document content.
// Level-2 headings open columns; top-level list items under a column are
// its tasks. Include directives in a column heading line attach a column
// include; directives inside a task attach a task include.
func ParseDocument(content string) (*Document, error) {
	fm, body, err := SplitFrontMatter(content)
	if err != nil {
		return nil, err
	}

	src := []byte(body)
	root := markdown.Parser().Parse(text.NewReader(src))

	doc := &Document{FrontMatter: fm}
	var current *Column

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			if n.Level != 2 {
				continue
			}
			title := blockText(n, src)
			col := Column{Title: stripDirectives(title)}
			if refs := findDirectives(title); len(refs) > 0 {
				col.IncludePath = refs[0]
			}
			doc.Columns = append(doc.Columns, col)
			current = &doc.Columns[len(doc.Columns)-1]

		case *ast.List:
			if current == nil {
				continue
			}
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				itemText := blockText(item, src)
				task := parseTaskLine(itemText)
				current.Tasks = append(current.Tasks, task)
			}
		}
	}
	return doc, nil
}

// parseTaskLine interprets one list item as a task. The first line is
// the title, the rest the description; an include directive replaces the
// description source.
func parseTaskLine(item string) Task {
	task := Task{}
	if refs := findDirectives(item); len(refs) > 0 {
		task.IncludePath = refs[0]
	}
	clean := stripDirectives(item)
	title, desc, found := strings.Cut(clean, "\n")
	task.Title = strings.TrimSpace(title)
	if found {
		task.Description = strings.TrimSpace(desc)
	}
	return task
}

// blockText extracts the raw text of a block node and its children.
func blockText(node ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
