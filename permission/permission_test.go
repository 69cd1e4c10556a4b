package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveProjectModeratorOverride(t *testing.T) {
	p := ResolveProject(RoleModerator, ProjectView{}, nil)
	require := assert.New(t)
	require.NotNil(p)
	require.Equal(ProjectAll, *p)
}

func TestResolveProjectDirectMembership(t *testing.T) {
	member := &TeamMember{Accepted: true, Permissions: ProjectEditDetails | ProjectUploadVersion}
	p := ResolveProject(RoleDeveloper, ProjectView{TeamMember: member}, nil)
	assert.NotNil(t, p)
	assert.Equal(t, member.Permissions, *p)
}

func TestResolveProjectUnacceptedMembershipIgnored(t *testing.T) {
	member := &TeamMember{Accepted: false, Permissions: ProjectAll}
	orgID := int64(1)
	p := ResolveProject(RoleDeveloper, ProjectView{TeamMember: member, OrganizationID: &orgID, Visible: true}, nil)
	assert.NotNil(t, p)
	assert.Equal(t, ProjectNone, *p)
}

func TestResolveProjectViaOrganizationDefault(t *testing.T) {
	orgID := int64(7)
	org := &OrganizationView{
		TeamMember:                &TeamMember{Accepted: true, OrgPermissions: OrgEditBody},
		DefaultProjectPermissions: ProjectEditBody,
	}
	p := ResolveProject(RoleDeveloper, ProjectView{OrganizationID: &orgID}, org)
	assert.NotNil(t, p)
	assert.Equal(t, ProjectEditBody, *p)
}

func TestResolveProjectOrganizationOverrideNarrowsDefault(t *testing.T) {
	orgID := int64(7)
	org := &OrganizationView{
		// OrgPermissions only covers edit-body; the org's default also grants
		// view-analytics, but the member's override never mentions it.
		TeamMember:                &TeamMember{Accepted: true, OrgPermissions: OrgEditBody},
		DefaultProjectPermissions: ProjectEditBody | ProjectViewAnalytics,
	}
	p := ResolveProject(RoleDeveloper, ProjectView{OrganizationID: &orgID}, org)
	assert.NotNil(t, p)
	assert.Equal(t, ProjectEditBody, *p)
}

func TestResolveProjectVisibleNonMemberGetsEmptySet(t *testing.T) {
	p := ResolveProject(RoleDeveloper, ProjectView{Visible: true}, nil)
	assert.NotNil(t, p)
	assert.Equal(t, ProjectNone, *p)
}

func TestResolveProjectHiddenNonMemberGetsNil(t *testing.T) {
	p := ResolveProject(RoleDeveloper, ProjectView{Visible: false}, nil)
	assert.Nil(t, p)
}

func TestResolveOrganizationModeratorOverride(t *testing.T) {
	p := ResolveOrganization(RoleAdmin, OrganizationView{})
	assert.NotNil(t, p)
	assert.Equal(t, OrgAll, *p)
}
