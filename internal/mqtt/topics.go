//go:build !no_mqtt

package mqtt

import "strings"

// topics is the room's topic layout:
//
//	<prefix>/<room>/metadata             retained shared document
//	<prefix>/<room>/messages/<channel>   protocol messages
//	<prefix>/<room>/presence/<id>        retained online/offline
type topics struct {
	base string
}

func newTopics(prefix, room string) topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "scriptroom"
	}
	return topics{base: prefix + "/" + room}
}

func (t topics) metadata() string { return t.base + "/metadata" }

func (t topics) messages() string { return t.base + "/messages/#" }

func (t topics) message(channel string) string { return t.base + "/messages/" + channel }

func (t topics) presence(id string) string { return t.base + "/presence/" + id }

// channel extracts the channel from a message topic.
func (t topics) channel(topic string) (string, bool) {
	ch, ok := strings.CutPrefix(topic, t.base+"/messages/")
	if !ok || ch == "" {
		return "", false
	}
	return ch, true
}
