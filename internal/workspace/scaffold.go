package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AgentsFile is the instructions file the agent reads from a workspace root.
const AgentsFile = "AGENTS.md"

// ErrExists is returned when a scaffold target is already present.
var ErrExists = errors.New("file already exists")

const agentsTemplate = `# Repository Guidelines

## Project Structure
Describe where source, tests and assets live.

## Build and Test Commands
List the commands used to build, lint and test the project.

## Coding Style
Note formatting tools, naming conventions and patterns to follow.

## Commit Guidelines
Describe the commit message format and what a good change looks like.
`

// ScaffoldAgents writes an AGENTS.md template into dir. An existing file is
// never overwritten.
func ScaffoldAgents(dir string) (string, error) {
	path := filepath.Join(dir, AgentsFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return path, fmt.Errorf("%s: %w", path, ErrExists)
		}
		return "", fmt.Errorf("creating %s: %w", AgentsFile, err)
	}
	if _, err := f.WriteString(agentsTemplate); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", AgentsFile, err)
	}
	return path, f.Close()
}
