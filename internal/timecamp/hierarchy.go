package timecamp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// MaxBreadcrumbLevels is how deep a group path is kept.
const MaxBreadcrumbLevels = 4

// UserHierarchy is the enrichment attached to every record of a user.
type UserHierarchy struct {
	Email       string
	DisplayName string
	GroupName   string
	Breadcrumb [MaxBreadcrumbLevels]string
}

type apiUser struct {
	UserID      FlexString `json:"user_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	GroupID     FlexString `json:"group_id"`
}

type apiGroup struct {
	GroupID  FlexString `json:"group_id"`
	Name     string     `json:"name"`
	ParentID FlexString `json:"parent_id"`
}

// HierarchyCache resolves users to their hierarchy. It lives for one Fetch
// call and never evicts.
type HierarchyCache struct {
	client *Client
	users  map[string]UserHierarchy
	groups map[string]apiGroup
	loaded bool
}

// NewHierarchyCache returns an empty cache backed by c.
func NewHierarchyCache(c *Client) *HierarchyCache {
	return &HierarchyCache{client: c, users: make(map[string]UserHierarchy)}
}

// Resolve returns the hierarchy of userID, fetching it on first use.
// Unknown users yield an empty hierarchy; only source failures error.
func (h *HierarchyCache) Resolve(ctx context.Context, userID string) (UserHierarchy, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == "0" {
		return UserHierarchy{}, nil
	}
	if uh, ok := h.users[userID]; ok {
		return uh, nil
	}

	uh, err := h.lookup(ctx, userID)
	if err != nil {
		return UserHierarchy{}, err
	}
	h.users[userID] = uh
	return uh, nil
}

// Len reports how many users are cached.
func (h *HierarchyCache) Len() int {
	return len(h.users)
}

func (h *HierarchyCache) lookup(ctx context.Context, userID string) (UserHierarchy, error) {
	u, err := h.fetchUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			h.client.log.Debug(ctx, "user not found, leaving hierarchy empty", "user_id", userID)
			return UserHierarchy{}, nil
		}
		return UserHierarchy{}, err
	}

	uh := UserHierarchy{Email: u.Email, DisplayName: u.DisplayName}

	gid := string(u.GroupID)
	if gid == "" || gid == "0" {
		return uh, nil
	}

	if err := h.loadGroups(ctx); err != nil {
		return UserHierarchy{}, err
	}

	g, ok := h.groups[gid]
	if !ok {
		h.client.log.Debug(ctx, "group not in tree", "user_id", userID, "group_id", gid)
		return uh, nil
	}

	uh.GroupName = g.Name
	path := h.path(gid)
	copy(uh.Breadcrumb[:], path)
	return uh, nil
}

func (h *HierarchyCache) fetchUser(ctx context.Context, userID string) (apiUser, error) {
	var u apiUser
	resp, err := h.client.getJSON(ctx, "user/"+url.PathEscape(userID), nil, &u)
	if err != nil {
		return apiUser{}, err
	}
	if resp.status == http.StatusNoContent {
		return apiUser{}, nil
	}
	return u, nil
}

// loadGroups fetches the whole group tree once.
func (h *HierarchyCache) loadGroups(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	var list []apiGroup
	if _, err := h.client.getJSON(ctx, "group", nil, &list); err != nil {
		return fmt.Errorf("load group tree: %w", err)
	}
	h.groups = make(map[string]apiGroup, len(list))
	for _, g := range list {
		h.groups[string(g.GroupID)] = g
	}
	h.loaded = true
	return nil
}

// path walks parents up to the root and returns names root first,
// truncated to MaxBreadcrumbLevels. Cycles end the walk. A parent missing
// from the tree makes the oldest known ancestor the root.
func (h *HierarchyCache) path(gid string) []string {
	var rev []string
	seen := make(map[string]bool)
	for gid != "" && gid != "0" && !seen[gid] {
		g, ok := h.groups[gid]
		if !ok {
			break
		}
		seen[gid] = true
		rev = append(rev, g.Name)
		gid = string(g.ParentID)
	}

	n := len(rev)
	out := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		// An unnamed group would leave a gap in the levels.
		if rev[i] == "" {
			break
		}
		out = append(out, rev[i])
	}
	if len(out) > MaxBreadcrumbLevels {
		out = out[:MaxBreadcrumbLevels]
	}
	return out
}
