// Package permission implements the project/organization permission bitflags
// and the resolver that maps a (user, resource) pair onto them.
package permission

// ProjectPermissions is the per-project capability bitflag.
type ProjectPermissions uint64

const (
	ProjectEditDetails ProjectPermissions = 1 << iota
	ProjectEditBody
	ProjectUploadVersion
	ProjectDeleteVersion
	ProjectManageInvites
	ProjectEditMember
	ProjectRemoveMember
	ProjectDeleteProject
	ProjectViewAnalytics
	ProjectViewPayouts

	ProjectNone ProjectPermissions = 0
)

// ProjectAll is the union of every project permission bit.
var ProjectAll = ProjectEditDetails | ProjectEditBody | ProjectUploadVersion |
	ProjectDeleteVersion | ProjectManageInvites | ProjectEditMember |
	ProjectRemoveMember | ProjectDeleteProject | ProjectViewAnalytics | ProjectViewPayouts

func (p ProjectPermissions) Contains(other ProjectPermissions) bool {
	return p&other == other
}

// Intersect returns the bits set in both p and other.
func (p ProjectPermissions) Intersect(other ProjectPermissions) ProjectPermissions {
	return p & other
}

// OrganizationPermissions is the per-organization capability bitflag.
type OrganizationPermissions uint64

const (
	OrgEditDetails OrganizationPermissions = 1 << iota
	OrgEditBody
	OrgManageInvites
	OrgEditMember
	OrgRemoveMember
	OrgDeleteOrganization
	OrgViewAnalytics
	OrgViewPayouts
	OrgAddProject
	OrgRemoveProject

	OrgNone OrganizationPermissions = 0
)

var OrgAll = OrgEditDetails | OrgEditBody | OrgManageInvites | OrgEditMember |
	OrgRemoveMember | OrgDeleteOrganization | OrgViewAnalytics | OrgViewPayouts |
	OrgAddProject | OrgRemoveProject

func (o OrganizationPermissions) Contains(other OrganizationPermissions) bool {
	return o&other == other
}

// Role is the site-wide user role, independent of per-resource permissions.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// IsMod reports whether the role carries the site-wide moderator override.
func (r Role) IsMod() bool {
	return r == RoleModerator || r == RoleAdmin
}

// TeamMember is the minimal shape the resolver needs from a project/org team
// membership record, owned by the (out of scope) team data model.
type TeamMember struct {
	Accepted    bool
	Permissions ProjectPermissions
	OrgPermissions OrganizationPermissions
}

// ProjectView is the minimal shape of a project the resolver needs.
type ProjectView struct {
	// TeamMember is the caller's membership on the project's own team, if any.
	TeamMember *TeamMember
	// OrganizationID is set when the project belongs to an organization.
	OrganizationID *int64
	// Visible reports whether the project is non-hidden: searchable, unlisted,
	// archived, or withheld.
	Visible bool
}

// OrganizationView is the minimal shape of an organization the resolver needs.
type OrganizationView struct {
	TeamMember              *TeamMember
	DefaultProjectPermissions ProjectPermissions
}

// ResolveProject applies, in order: site-wide role override, then direct
// team membership, then organization default permissions intersected with
// the member's organization-permission overrides, then an empty read-only
// view for non-hidden projects, then nil (invisible — callers must 404, never
// 401/403, to avoid leaking existence).
func ResolveProject(role Role, project ProjectView, org *OrganizationView) *ProjectPermissions {
	if role.IsMod() {
		p := ProjectAll
		return &p
	}
	if project.TeamMember != nil && project.TeamMember.Accepted {
		p := project.TeamMember.Permissions
		return &p
	}
	if project.OrganizationID != nil && org != nil && org.TeamMember != nil && org.TeamMember.Accepted {
		p := org.DefaultProjectPermissions.Intersect(mapOrgToProjectOverride(org.TeamMember.OrgPermissions))
		return &p
	}
	if project.Visible {
		p := ProjectNone
		return &p
	}
	return nil
}

// mapOrgToProjectOverride projects the OrganizationPermissions bits that have
// a same-named ProjectPermissions counterpart onto that counterpart. Bits
// with no counterpart on either side (OrgDeleteOrganization/OrgAddProject/
// OrgRemoveProject on the org side, ProjectUploadVersion/ProjectDeleteVersion/
// ProjectDeleteProject on the project side) never pass through.
func mapOrgToProjectOverride(o OrganizationPermissions) ProjectPermissions {
	var p ProjectPermissions
	if o.Contains(OrgEditDetails) {
		p |= ProjectEditDetails
	}
	if o.Contains(OrgEditBody) {
		p |= ProjectEditBody
	}
	if o.Contains(OrgManageInvites) {
		p |= ProjectManageInvites
	}
	if o.Contains(OrgEditMember) {
		p |= ProjectEditMember
	}
	if o.Contains(OrgRemoveMember) {
		p |= ProjectRemoveMember
	}
	if o.Contains(OrgViewAnalytics) {
		p |= ProjectViewAnalytics
	}
	if o.Contains(OrgViewPayouts) {
		p |= ProjectViewPayouts
	}
	return p
}

// ResolveOrganization is the organization analogue of ResolveProject.
func ResolveOrganization(role Role, org OrganizationView) *OrganizationPermissions {
	if role.IsMod() {
		p := OrgAll
		return &p
	}
	if org.TeamMember != nil && org.TeamMember.Accepted {
		p := org.TeamMember.OrgPermissions
		return &p
	}
	return nil
}
