package control

import (
	"fmt"
	"strings"
)

// Command is a request coming from the host.
type Command string

const (
	CommandDisarm  Command = "DISARM"
	CommandArmAway Command = "ARM_AWAY"
	CommandArmHome Command = "ARM_HOME"
	CommandOn      Command = "ON"
	CommandOff     Command = "OFF"
)

var commands = []Command{
	CommandDisarm,
	CommandArmAway,
	CommandArmHome,
	CommandOn,
	CommandOff,
}

// ParseCommand parses a command name, ignoring case and surrounding spaces.
func ParseCommand(s string) (Command, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, c := range commands {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid command %q", s)
}
