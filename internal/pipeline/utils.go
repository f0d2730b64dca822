package pipeline

import (
	"strings"
)

// extractRepoName extracts the repository name from a path or URL
func extractRepoName(repo string) string {
	repo = strings.TrimRight(repo, "/")

	name := repo
	if i := strings.LastIndexAny(repo, "/\\"); i >= 0 && i < len(repo)-1 {
		name = repo[i+1:]
	}

	return strings.TrimSuffix(name, ".git")
}

// repoIdentity returns the project name and the repository slug recorded on
// every row. Hosted URLs yield owner/name, as does a local checkout whose
// remoteURL is hosted; other local paths yield the directory name.
func repoIdentity(source, remoteURL, configuredName string) (project, repo string) {
	repo = extractRepoName(source)
	if slug, ok := hostedSlug(source); ok {
		repo = slug
	} else if slug, ok := hostedSlug(remoteURL); ok {
		repo = slug
	}

	project = configuredName
	if project == "" {
		project = extractRepoName(source)
	}
	return project, repo
}

// hostedSlug returns owner/name for a URL on a known hosting service.
func hostedSlug(url string) (string, bool) {
	for _, host := range []string{"github.com", "gitlab.com", "bitbucket.org"} {
		if strings.Contains(url, host) {
			if owner, name := parseHostedGitURL(url, host); owner != "" {
				return owner + "/" + name, true
			}
			return "", false
		}
	}
	return "", false
}

// parseHostedGitURL is a generic parser for hosted git services
func parseHostedGitURL(url, host string) (owner, repo string) {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "git@")

	// SSH form host:owner/repo
	url = strings.Replace(url, ":", "/", 1)

	url = strings.TrimPrefix(url, host+"/")
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")

	parts := strings.Split(url, "/")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}

	return "", url
}
