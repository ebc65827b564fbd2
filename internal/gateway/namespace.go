package gateway

import (
	"errors"

	"github.com/ricirt/marketplace-realtime/internal/channel"
	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// Namespace groups connections that share an authorization policy and a
// command set.
type Namespace string

const (
	NamespaceChat          Namespace = "chat"
	NamespaceCRM           Namespace = "crm"
	NamespaceNotifications Namespace = "notifications"
	NamespacePresence      Namespace = "presence"
)

// ErrForbiddenNamespace is returned when an identity lacks the role a
// namespace requires.
var ErrForbiddenNamespace = errors.New("namespace requires a role the caller does not have")

func ParseNamespace(s string) (Namespace, bool) {
	switch ns := Namespace(s); ns {
	case NamespaceChat, NamespaceCRM, NamespaceNotifications, NamespacePresence:
		return ns, true
	}
	return "", false
}

// Authorize reports whether id may connect to ns.
func (ns Namespace) Authorize(id domain.Identity) error {
	if ns == NamespaceCRM && !id.HasRole(domain.RoleSeller) {
		return ErrForbiddenNamespace
	}
	return nil
}

// staticChannels are the channels joined on connect that need no lookup.
// Conversation channels of the chat namespace are added by the server.
// Notifications travel on the identity channel, which every namespace joins
// exactly once.
func (ns Namespace) staticChannels(userID string) []string {
	chans := []string{channel.UserChannel(userID)}
	if ns == NamespaceCRM {
		chans = append(chans, channel.CRMChannel(userID))
	}
	return chans
}
