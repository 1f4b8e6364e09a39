package permission

import (
	"fmt"

	"github.com/user/formforge/internal/storage"
)

// Action is a form-level capability.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionSubmit Action = "submit"
	ActionDelete Action = "delete"
	ActionManage Action = "manage"
)

// Can reports whether the user may perform the action on the form.
// Superadmins and admins can do anything. The creator holds every
// capability on their own form except deletion, which is admin-only.
// ACL membership grants edit to editors, view to editors and viewers,
// and submit to submitters; a published public form is submittable by
// anyone.
func Can(user storage.User, form *storage.Form, action Action) bool {
	if user.HasRole(storage.RoleSuperadmin) || user.HasRole(storage.RoleAdmin) {
		return true
	}
	if sameID(form.CreatedBy, user.ID) {
		return action != ActionDelete
	}

	switch action {
	case ActionView:
		return inList(form.Editors, user.ID) || inList(form.Viewers, user.ID)
	case ActionEdit:
		return inList(form.Editors, user.ID)
	case ActionSubmit:
		if form.IsPublic && form.Status == storage.FormPublished {
			return true
		}
		return inList(form.Submitters, user.ID)
	case ActionDelete, ActionManage:
		return false
	}
	return false
}

// CanModerate reports whether the user may change a response's
// approval status on the form: the creator, anyone in the form's
// editor list, or a publisher/manager with view access.
func CanModerate(user storage.User, form *storage.Form) bool {
	if user.HasRole(storage.RoleSuperadmin) || user.HasRole(storage.RoleAdmin) {
		return true
	}
	if sameID(form.CreatedBy, user.ID) {
		return true
	}
	if inList(form.Editors, user.ID) {
		return true
	}
	if user.HasRole(storage.RolePublisher) || user.HasRole(storage.RoleManager) {
		return Can(user, form, ActionView)
	}
	return false
}

// CanReadResponse reports whether the user may read the given
// response: anyone who can view the form, or the submitter themselves.
func CanReadResponse(user storage.User, form *storage.Form, resp *storage.FormResponse) bool {
	if Can(user, form, ActionView) {
		return true
	}
	return sameID(resp.SubmittedBy, user.ID)
}

// sameID compares identifiers through string coercion. Ids arrive from
// JSON payloads, path values and stored documents; comparing their
// string forms avoids type mismatches.
func sameID(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func inList(list []string, id string) bool {
	for _, item := range list {
		if sameID(item, id) {
			return true
		}
	}
	return false
}
