package session

import (
	"slices"

	"github.com/flemzord/pelican/pkg/update"
)

// ListMode selects whether an id list allows or denies.
type ListMode int

// List modes.
const (
	Include ListMode = iota
	Exclude
)

func kindFilter(kinds []update.Kind) func(*update.Update) bool {
	if len(kinds) == 0 {
		return func(*update.Update) bool { return true }
	}
	kinds = slices.Clone(kinds)
	return func(u *update.Update) bool { return u.Kind.In(kinds) }
}

// PerChat spawns one session per chat.
func PerChat(kinds ...update.Kind) Spawner {
	match := kindFilter(kinds)
	return func(u *update.Update) (int64, bool) {
		if !match(u) {
			return 0, false
		}
		return u.ChatID()
	}
}

// PerChatList spawns per chat, restricted by an id list.
func PerChatList(ids []int64, mode ListMode, kinds ...update.Kind) Spawner {
	return listed(PerChat(kinds...), ids, mode)
}

// PerChatType spawns per chat for the given chat types, such as
// "private" or "supergroup".
func PerChatType(types []string, kinds ...update.Kind) Spawner {
	match := kindFilter(kinds)
	types = slices.Clone(types)
	return func(u *update.Update) (int64, bool) {
		if !match(u) || u.Chat == nil || !slices.Contains(types, u.Chat.Type) {
			return 0, false
		}
		return u.Chat.ID, true
	}
}

// PerUser spawns one session per user.
func PerUser(kinds ...update.Kind) Spawner {
	match := kindFilter(kinds)
	return func(u *update.Update) (int64, bool) {
		if !match(u) {
			return 0, false
		}
		return u.UserID()
	}
}

// PerUserList spawns per user, restricted by an id list.
func PerUserList(ids []int64, mode ListMode, kinds ...update.Kind) Spawner {
	return listed(PerUser(kinds...), ids, mode)
}

func listed(base Spawner, ids []int64, mode ListMode) Spawner {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(u *update.Update) (int64, bool) {
		id, ok := base(u)
		if !ok {
			return 0, false
		}
		_, in := set[id]
		if in != (mode == Include) {
			return 0, false
		}
		return id, true
	}
}
