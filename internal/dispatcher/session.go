package dispatcher

// Session holds one connection's authentication context (spec.md §4.9).
// An empty user means admin, consistently with internal/player,
// internal/turn, and internal/game's "empty caller id = admin" rule.
type Session struct {
	user string
}

// User returns the session's current user id ("" for admin).
func (s *Session) User() string { return s.user }

// SetUser implements the USER verb: switches the session's identity;
// an empty string reverts to the admin context.
func (s *Session) SetUser(uid string) { s.user = uid }

func (s *Session) isAdmin() bool { return s.user == "" }

// PermissionLevel names the access levels checkPermission understands.
type PermissionLevel int

const (
	// PermRead is satisfied by anyone who can see the game at all.
	PermRead PermissionLevel = iota
	// PermPlay is satisfied by a user on one of the game's slots.
	PermPlay
	// PermOwn is satisfied by the game's owner.
	PermOwn
)

// PermissionError is the uniform error checkPermission raises
// (spec.md §4.9).
type PermissionError struct {
	Level PermissionLevel
}

func (e *PermissionError) Error() string { return "dispatcher: permission denied" }

// checkPermission raises a uniform permission-denied error if the
// session's user cannot exercise level on the given game's permission
// set; admin always passes (spec.md §4.9).
func checkPermission(sess *Session, perm gamePermissions, level PermissionLevel) error {
	if sess.isAdmin() {
		return nil
	}
	switch level {
	case PermOwn:
		if !perm.UserIsOwner {
			return &PermissionError{Level: level}
		}
	case PermPlay:
		if !perm.UserIsActive && !perm.UserIsOwner {
			return &PermissionError{Level: level}
		}
	case PermRead:
		if !perm.CanRead {
			return &PermissionError{Level: level}
		}
	}
	return nil
}

// gamePermissions is the subset of internal/game.Permissions
// checkPermission consults, kept local to avoid widening this file's
// import surface.
type gamePermissions struct {
	UserIsOwner  bool
	UserIsActive bool
	CanRead      bool
}
