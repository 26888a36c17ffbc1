package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

// Binding is one KV namespace bound to a Pages deployment.
type Binding struct {
	Name        string `json:"name" yaml:"name"`
	NamespaceID string `json:"namespace_id" yaml:"namespace_id"`
}

type pagesProject struct {
	DeploymentConfigs struct {
		Production struct {
			KVNamespaces map[string]struct {
				NamespaceID string `json:"namespace_id"`
			} `json:"kv_namespaces"`
		} `json:"production"`
	} `json:"deployment_configs"`
}

// Bindings returns the production KV namespace bindings of a Pages
// project, sorted by variable name. A project without bindings yields an
// empty slice.
func (c *Client) Bindings(ctx context.Context, project string) ([]Binding, error) {
	if project == "" {
		return nil, fmt.Errorf("project name is required")
	}

	var p pagesProject
	if _, err := c.Do(ctx, http.MethodGet, "pages/projects/"+url.PathEscape(project), nil, nil, &p); err != nil {
		return nil, fmt.Errorf("failed to read pages project %s: %w", project, err)
	}

	kv := p.DeploymentConfigs.Production.KVNamespaces
	bindings := make([]Binding, 0, len(kv))
	for name, ns := range kv {
		bindings = append(bindings, Binding{Name: name, NamespaceID: ns.NamespaceID})
	}
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Name < bindings[j].Name
	})

	return bindings, nil
}
