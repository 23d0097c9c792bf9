package control

import (
	"context"
	"strconv"
	"strings"
)

// Command names accepted by Execute. Front ends add their own prefix.
const (
	CmdStart     = "obs_start"
	CmdStop      = "obs_stop"
	CmdConfigure = "obs_configure_replay"
	CmdStartRB   = "obs_start_replay"
	CmdStopRB    = "obs_stop_replay"
	CmdSave      = "obs_save_replay"
	CmdClip      = "clip"
	CmdStatus    = "obs_status"
)

// Commands lists the primary command names in help order.
var Commands = []string{CmdStart, CmdStop, CmdConfigure, CmdStartRB, CmdStopRB, CmdSave, CmdStatus}

// Known reports whether name is a command (aliases included).
func Known(name string) bool {
	switch strings.ToLower(name) {
	case CmdStart, CmdStop, CmdConfigure, CmdStartRB, CmdStopRB, CmdSave, CmdClip, CmdStatus:
		return true
	}
	return false
}

// Execute dispatches a command by name. args are the words after the
// command; progress receives interim messages for long-running commands.
func (s *Service) Execute(ctx context.Context, name string, args []string, progress func(string)) Reply {
	switch strings.ToLower(name) {
	case CmdStart:
		return s.StartApp(ctx)
	case CmdStop:
		return s.StopApp(ctx)
	case CmdConfigure:
		if len(args) == 0 {
			return fail("Usage: " + CmdConfigure + " <seconds>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fail("Replay buffer duration must be a whole number of seconds.")
		}
		return s.ConfigureBuffer(ctx, n)
	case CmdStartRB:
		return s.StartBuffer(ctx)
	case CmdStopRB:
		return s.StopBuffer(ctx)
	case CmdSave, CmdClip:
		return s.SaveAndArchive(ctx, progress)
	case CmdStatus:
		return s.Status(ctx)
	}
	return fail("Unknown command " + strconv.Quote(name))
}
