package board

import "strings"

// taskIncludeSeparator sits between a task's title and its description
// in a task include file. One constant, used by both the serialize and
// parse paths, so the two can never disagree about the separator.
const taskIncludeSeparator = "\n\n"

// columnTaskSeparator delimits tasks inside a column include file.
const columnTaskSeparator = "\n---\n"

// SerializeTaskInclude renders a task for its include file: the title,
// a blank line, then the description.
func SerializeTaskInclude(task Task) string {
	title := strings.TrimSpace(task.Title)
	desc := strings.TrimSpace(task.Description)
	if desc == "" {
		return title
	}
	return title + taskIncludeSeparator + desc
}

// ParseTaskInclude reads a task include file: everything before the
// first blank line is the title, the remainder the description.
func ParseTaskInclude(content string) Task {
	content = strings.TrimSpace(content)
	title, desc, found := strings.Cut(content, taskIncludeSeparator)
	task := Task{Title: strings.TrimSpace(title)}
	if found {
		task.Description = strings.TrimSpace(desc)
	}
	return task
}

// SerializeColumnInclude renders a column's tasks for its include file,
// separated by horizontal rules.
func SerializeColumnInclude(tasks []Task) string {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, SerializeTaskInclude(t))
	}
	return strings.Join(parts, columnTaskSeparator)
}

// ParseColumnInclude reads a column include file into its tasks. Empty
// segments (stray separators) are dropped.
func ParseColumnInclude(content string) []Task {
	var tasks []Task
	for _, part := range strings.Split(content, columnTaskSeparator) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		tasks = append(tasks, ParseTaskInclude(part))
	}
	return tasks
}
