package models

// RepositoryConfig is the static configuration for one routable repository.
type RepositoryConfig struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	RepositoryPath   string   `json:"repositoryPath" yaml:"repository_path"`
	RepositoryURL    string   `json:"repositoryUrl" yaml:"repository_url"`
	WorkspaceBaseDir string   `json:"workspaceBaseDir" yaml:"workspace_base_dir"`
	BaseBranch       string   `json:"baseBranch" yaml:"base_branch"`
	TrackerWorkspace string   `json:"trackerWorkspace" yaml:"tracker_workspace"`
	SetupScript      string   `json:"setupScript,omitempty" yaml:"setup_script"`
	RoutingLabels    []string `json:"routingLabels,omitempty" yaml:"routing_labels"`
	TeamKeys         []string `json:"teamKeys,omitempty" yaml:"team_keys"`
	ProjectKeys      []string `json:"projectKeys,omitempty" yaml:"project_keys"`
}

// HasRoutingRules reports whether any routing hints are configured.
// A repository with none acts as the workspace catch-all.
func (r RepositoryConfig) HasRoutingRules() bool {
	return len(r.RoutingLabels) > 0 || len(r.TeamKeys) > 0 || len(r.ProjectKeys) > 0
}
