package bootstrap

import (
	"os"
	"path/filepath"
)

// WorkspaceFileNames lists the well-known context files read from a
// workspace root at session start, in the order they're assembled into the
// system prompt. BOOTSTRAP.md is first-run-only and auto-removed once the
// agent clears it; the rest persist across sessions.
var WorkspaceFileNames = []string{
	"BOOTSTRAP.md",
	"SOUL.md",
	"IDENTITY.md",
	"AGENTS.md",
	"USER.md",
	"TOOLS.md",
	"HEARTBEAT.md",
}

// File is a single bootstrap context file read from disk, before
// truncation/budgeting. Missing is true if the file doesn't exist — callers
// skip these rather than erroring, since most workspaces only populate a
// handful of the well-known names.
type File struct {
	Name    string
	Content string
	Missing bool
}

// ContextFile is a truncated, budget-clamped file ready for system prompt
// injection. See BuildContextFiles.
type ContextFile struct {
	Path    string
	Content string
}

// LoadWorkspaceFiles reads the well-known bootstrap files from a workspace
// root. Files that don't exist are returned with Missing set rather than
// omitted, so callers can tell "empty" apart from "absent" if they care.
func LoadWorkspaceFiles(workspace string) []File {
	files := make([]File, 0, len(WorkspaceFileNames))
	for _, name := range WorkspaceFileNames {
		data, err := os.ReadFile(filepath.Join(workspace, name))
		if err != nil {
			files = append(files, File{Name: name, Missing: true})
			continue
		}
		files = append(files, File{Name: name, Content: string(data)})
	}
	return files
}
