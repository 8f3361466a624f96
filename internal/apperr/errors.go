package apperr

var (
	ErrUserNotFound          = NotFound("user not found")
	ErrGroupNotFound         = NotFound("group not found")
	ErrMessageNotFound       = NotFound("message not found")
	ErrFriendRequestNotFound = NotFound("friend request not found")
	ErrNotFriends            = NotFound("users are not friends")
	ErrMemberNotFound        = NotFound("user is not a member of this group")

	ErrUsernameTaken        = AlreadyExists("username already exists")
	ErrAlreadyFriends       = AlreadyExists("already friends")
	ErrDuplicateRequest     = AlreadyExists("friend request already sent")
	ErrReverseRequestExists = AlreadyExists("this user has already sent you a friend request")
	ErrAlreadyMember        = AlreadyExists("user is already a member of this group")

	ErrNotFriend        = Forbidden("you can only message your friends")
	ErrNotGroupMember   = Forbidden("you are not a member of this group")
	ErrNotMessageOwner  = Forbidden("only the sender can delete this message")
	ErrNotGroupOwner    = Forbidden("only the group owner can do this")
	ErrIdentityMismatch = Forbidden("you can only act as yourself")

	ErrInvalidCredentials = InvalidArg("invalid username or password")
	ErrSelfFriend         = InvalidArg("you cannot befriend yourself")
)
