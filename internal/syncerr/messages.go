package syncerr

var userMessages = map[Kind]string{
	KindConnectionFailed: "Connection failed, please check your network settings",
	KindRoomNotFound:     "The room does not exist or has expired, please check the room code",
	KindInvalidRoomCode:  "Invalid room code, it must be 6 characters",
	KindPermissionDenied: "Permission denied, please check the remote store configuration",
	KindNetworkError:     "Network error, please check your connection",
	KindAlreadyInRoom:    "Already in a room, leave it first",
	KindNotInitialized:   "Sync is not initialized, please try again",
	KindSyncFailed:       "Sync failed, please try again",
	KindUnknown:          "An unknown error occurred, please try again",
}

// UserMessage returns the user-facing text for kind
func UserMessage(kind Kind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}

// FriendlyMessage returns the user-facing text for any error
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	return UserMessage(Classify(err).Kind)
}
