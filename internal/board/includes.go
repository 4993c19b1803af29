package board

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/markboard/markboard/internal/engine"
)

// includeDirective matches !!!include(path)!!! anywhere in text.
var includeDirective = regexp.MustCompile(`!!!include\(([^)]+)\)!!!`)

// findDirectives returns the include paths referenced in a text chunk,
// in order of appearance.
func findDirectives(s string) []string {
	var out []string
	for _, m := range includeDirective.FindAllStringSubmatch(s, -1) {
		p := strings.TrimSpace(m[1])
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripDirectives removes include directives from a text chunk.
func stripDirectives(s string) string {
	return strings.TrimSpace(includeDirective.ReplaceAllString(s, ""))
}

// Scanner discovers include references for the sync engine. Discovery is
// recursive: an include file may itself reference further includes.
// Roles are derived from where a directive sits in the document:
//
//   - in a level-2 heading (a column): include-structured
//   - inside a list item (a task): include-leaf-content
//   - anywhere else (free-standing content): include-plain
//
// Transitive references found inside include files are classified the
// same way within that file's own structure.
type Scanner struct {
	// Root is the directory relative include paths resolve against.
	Root string
}

// NewScanner creates a scanner rooted at the primary document's
// directory.
func NewScanner(root string) *Scanner {
	return &Scanner{Root: root}
}

// Scan implements engine.IncludeScanner. Cycles are tolerated: a file is
// visited once. Unreadable include files contribute their reference but
// no transitive ones; the engine surfaces the read problem through its
// own hydration path.
func (s *Scanner) Scan(content string) ([]engine.IncludeRef, error) {
	visited := make(map[string]bool)
	var refs []engine.IncludeRef

	var walk func(content, baseRel string)
	walk = func(content, baseRel string) {
		for _, ref := range scanContent(content) {
			rel := joinRel(baseRel, ref.RelPath)
			key := engine.PathKey(rel)
			if key == "" || visited[key] {
				continue
			}
			visited[key] = true
			refs = append(refs, engine.IncludeRef{RelPath: rel, Role: ref.Role})

			nested, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(key)))
			if err != nil {
				continue
			}
			walk(string(nested), dirOf(rel))
		}
	}
	walk(content, "")
	return refs, nil
}

// scanContent classifies the directives of one document by their
// markdown context.
func scanContent(content string) []engine.IncludeRef {
	_, body, err := SplitFrontMatter(content)
	if err != nil {
		body = content
	}

	src := []byte(body)
	root := markdown.Parser().Parse(text.NewReader(src))

	var refs []engine.IncludeRef
	seen := make(map[string]bool)
	add := func(path string, role engine.Role) {
		key := engine.PathKey(path)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, engine.IncludeRef{RelPath: path, Role: role})
	}

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch b := n.(type) {
		case *ast.Heading:
			if b.Level == 2 {
				for _, p := range findDirectives(blockText(b, src)) {
					add(p, engine.RoleIncludeStructured)
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.ListItem:
			for _, p := range findDirectives(blockText(b, src)) {
				add(p, engine.RoleIncludeLeafContent)
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			for _, p := range findDirectives(blockText(b, src)) {
				add(p, engine.RoleIncludePlain)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return refs
}

// joinRel resolves a directive path found in a file at baseRel.
func joinRel(baseRel, ref string) string {
	ref = strings.TrimSpace(strings.ReplaceAll(ref, "\\", "/"))
	if baseRel == "" {
		return ref
	}
	joined := strings.TrimSuffix(baseRel, "/") + "/" + ref
	return joined
}

// dirOf returns the directory part of a normalized relative path.
func dirOf(rel string) string {
	key := engine.PathKey(rel)
	dir := filepath.ToSlash(filepath.Dir(filepath.FromSlash(key)))
	if dir == "." {
		return ""
	}
	return dir
}

// Validate reports directives whose targets escape the board root; the
// engine refuses to track those.
func Validate(refs []engine.IncludeRef) error {
	for _, ref := range refs {
		key := engine.PathKey(ref.RelPath)
		if strings.HasPrefix(key, "../") || key == ".." {
			return fmt.Errorf("include %s escapes the board directory", ref.RelPath)
		}
	}
	return nil
}
