package pipeline

import "github.com/JakeFAU/siteshot/internal/workspace"

// Workspace is one job's scratch directory.
type Workspace interface {
	Path() string
	WriteFile(name string, data []byte) (string, error)
	ReadFile(name string) ([]byte, error)
	Remove() error
}

// Workspaces creates job directories.
type Workspaces interface {
	Create(jobID string) (Workspace, error)
}

type localWorkspaces struct {
	manager *workspace.Manager
}

// LocalWorkspaces adapts a workspace.Manager.
func LocalWorkspaces(m *workspace.Manager) Workspaces {
	return localWorkspaces{manager: m}
}

func (l localWorkspaces) Create(jobID string) (Workspace, error) {
	dir, err := l.manager.Create(jobID)
	if err != nil {
		return nil, err
	}
	return dir, nil
}
