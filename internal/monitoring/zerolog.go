package monitoring

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologLogf adapts l to the Logf signature. A leading "[component]" tag
// in the formatted message becomes the component field.
func ZerologLogf(l zerolog.Logger) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		component, rest := splitComponent(msg)
		event := l.Info()
		if component != "" {
			event = event.Str("component", component)
		}
		event.Msg(rest)
	}
}

func splitComponent(msg string) (component, rest string) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return "", msg
	}
	return msg[1:end], strings.TrimSpace(msg[end+1:])
}
