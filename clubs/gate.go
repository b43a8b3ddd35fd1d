package clubs

// CanAssignRole decides whether an actor may change a target member's role.
// Only the club president assigns roles, and with disallowSelf the president
// cannot change their own role through this path: nobody else could promote
// them back after an accidental self-demotion.
func CanAssignRole(isPresident bool, actorUserID, targetUserID int, disallowSelf bool) bool {
	if !isPresident {
		return false
	}
	if disallowSelf && actorUserID == targetUserID {
		return false
	}
	return true
}
