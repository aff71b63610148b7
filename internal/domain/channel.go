package domain

import "fmt"

// Channel is the per-session metadata of one logical signal line.
type Channel struct {
	Index   int
	Name    string
	Enabled bool
}

func DefaultChannelName(index int) string {
	return fmt.Sprintf("Channel %d", index)
}

// NewChannels builds n enabled channels. Empty or missing names fall back to
// the default.
func NewChannels(n int, names []string) []Channel {
	out := make([]Channel, n)
	for i := range out {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if name == "" {
			name = DefaultChannelName(i)
		}
		out[i] = Channel{Index: i, Name: name, Enabled: true}
	}
	return out
}

func ChannelNames(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = ch.Name
	}
	return out
}
