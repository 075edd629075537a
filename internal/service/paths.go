package service

// Logical store paths used by the live-collaboration core. The store
// guarantees per-path ordering only, so nothing here may rely on the
// relative order of writes landing under different roots.

func presencePath(userID string) string { return "userStatus/" + userID }

func inviteInboxPath(userID string) string { return "liveWorkoutInvites/" + userID }

func invitePath(toUserID, inviteID string) string {
	return "liveWorkoutInvites/" + toUserID + "/" + inviteID
}

func sessionPath(sessionID string) string { return "liveWorkouts/" + sessionID }

func exercisePath(sessionID, exerciseID string) string {
	return "liveWorkouts/" + sessionID + "/exercises/" + exerciseID
}

func setPath(sessionID, exerciseID, setID string) string {
	return "liveWorkouts/" + sessionID + "/exercises/" + exerciseID + "/sets/" + setID
}

// sessionIndexPath is the per-user pointer to a session; the session itself
// is stored once under liveWorkouts, never duplicated per participant.
func sessionIndexPath(userID, sessionID string) string {
	return "userLiveWorkouts/" + userID + "/" + sessionID
}

func notificationInboxPath(userID string) string {
	return "liveWorkoutNotifications/" + userID
}

func notificationPath(userID, sessionID string) string {
	return "liveWorkoutNotifications/" + userID + "/" + sessionID
}

func usernamePath(name string) string { return "usernames/" + name }

func postLikesPath(postID string) string { return "postLikes/" + postID }

func messagesRootPath() string { return "messages" }

func messagePath(messageID string) string { return messagesRootPath() + "/" + messageID }
