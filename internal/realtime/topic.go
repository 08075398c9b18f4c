package realtime

import (
	"fmt"
	"strings"
)

// TopicKind classifies the audience a topic addresses.
type TopicKind string

const (
	TopicDevice       TopicKind = "device"
	TopicLocation     TopicKind = "location"
	TopicGlobalAlerts TopicKind = "global-alerts"
	TopicUser         TopicKind = "user"
)

// Topic is one named audience sessions subscribe to. Device, location
// and user topics carry the entity id, the global alert feed does not.
type Topic struct {
	Kind TopicKind
	ID   string
}

// DeviceTopic addresses subscribers of one device.
func DeviceTopic(id string) Topic {
	return Topic{Kind: TopicDevice, ID: id}
}

// LocationTopic addresses subscribers of one location.
func LocationTopic(id string) Topic {
	return Topic{Kind: TopicLocation, ID: id}
}

// GlobalAlertsTopic addresses every subscriber of the global alert feed.
func GlobalAlertsTopic() Topic {
	return Topic{Kind: TopicGlobalAlerts}
}

// UserTopic addresses the sessions of one user.
func UserTopic(id string) Topic {
	return Topic{Kind: TopicUser, ID: id}
}

// String renders the wire form, e.g. "device:dev-1" or "global-alerts".
func (t Topic) String() string {
	if t.Kind == TopicGlobalAlerts {
		return string(TopicGlobalAlerts)
	}
	return string(t.Kind) + ":" + t.ID
}

// Validate checks kind and id shape.
func (t Topic) Validate() error {
	switch t.Kind {
	case TopicGlobalAlerts:
		if t.ID != "" {
			return fmt.Errorf("%w: %s takes no id", ErrInvalidTopic, TopicGlobalAlerts)
		}
		return nil
	case TopicDevice, TopicLocation, TopicUser:
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("%w: %s topic requires an id", ErrInvalidTopic, t.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTopic, t.Kind)
	}
}

// ParseTopic parses the wire form produced by String.
func ParseTopic(raw string) (Topic, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(TopicGlobalAlerts) {
		return GlobalAlertsTopic(), nil
	}
	kind, id, found := strings.Cut(raw, ":")
	if !found {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	topic := Topic{Kind: TopicKind(kind), ID: id}
	if err := topic.Validate(); err != nil {
		return Topic{}, err
	}
	return topic, nil
}
