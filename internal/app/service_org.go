package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"extrapl/api/internal/store"
	"extrapl/api/internal/util"
)

var subdomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$`)

var reservedSubdomains = map[string]struct{}{
	"www": {}, "api": {}, "app": {}, "admin": {}, "mail": {}, "status": {},
}

type CreateOrgInput struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

func (s *Service) CreateOrg(ctx context.Context, in CreateOrgInput) (map[string]any, error) {
	name := strings.TrimSpace(in.Name)
	subdomain := strings.ToLower(strings.TrimSpace(in.Subdomain))
	if name == "" {
		return nil, validationError("name is required")
	}
	if !subdomainRe.MatchString(subdomain) {
		return nil, validationError("subdomain must be 3-63 lowercase alphanumeric characters or hyphens")
	}
	if _, reserved := reservedSubdomains[subdomain]; reserved {
		return nil, domainError(http.StatusConflict, "SUBDOMAIN_TAKEN", "Subdomain is not available", nil)
	}
	if _, err := s.store.GetOrgBySubdomain(ctx, subdomain); err == nil {
		return nil, domainError(http.StatusConflict, "SUBDOMAIN_TAKEN", "Subdomain is not available", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	org := store.Organization{
		ID:        util.NewID("org"),
		Name:      name,
		Subdomain: subdomain,
	}
	if err := s.store.InsertOrg(ctx, org); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        org.ID,
		"name":      org.Name,
		"subdomain": org.Subdomain,
		"url":       "https://" + org.Subdomain + "." + s.cfg.BaseDomain,
	}, nil
}

func (s *Service) GetOrg(ctx context.Context, orgID string) (map[string]any, error) {
	org, err := s.store.GetOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        org.ID,
		"name":      org.Name,
		"subdomain": org.Subdomain,
		"createdAt": org.CreatedAt,
	}, nil
}

func (s *Service) UpdateOrg(ctx context.Context, orgID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if err := s.store.UpdateOrg(ctx, orgID, name); err != nil {
		return nil, err
	}
	return s.GetOrg(ctx, orgID)
}

func (s *Service) ListOrgMembers(ctx context.Context, orgID string) (map[string]any, error) {
	members, err := s.store.ListOrgMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, map[string]any{
			"id":          m.ID,
			"email":       m.Email,
			"displayName": m.DisplayName,
			"role":        m.Role,
			"verified":    m.IsEmailVerified,
		})
	}
	return map[string]any{"members": items}, nil
}
