package command

import "github.com/keshon/elchicle/pkg/cmd"

type Deps struct {
	Orchestrator Orchestrator
	Queue        Queue
	Diag         DiagFunc
	Prefix       string
}

// RegisterAll registers every chat command with the same middleware chain.
func RegisterAll(reg *cmd.Registry, d Deps, mws ...cmd.Middleware) {
	for _, c := range []DiscordCommand{
		&PlayCommand{Orchestrator: d.Orchestrator},
		&PlaylistCommand{Orchestrator: d.Orchestrator},
		&SkipCommand{Queue: d.Queue},
		&StopCommand{Orchestrator: d.Orchestrator},
		&PauseCommand{Queue: d.Queue},
		&ResumeCommand{Queue: d.Queue},
		&SeekCommand{Queue: d.Queue},
		&InterruptCommand{Orchestrator: d.Orchestrator},
		&QueueCommand{Queue: d.Queue},
		&RemoveCommand{Queue: d.Queue},
		&ShuffleCommand{Queue: d.Queue},
		&LoopCommand{Queue: d.Queue},
		&VolumeCommand{Queue: d.Queue},
		&NowPlayingCommand{Queue: d.Queue},
		&HelpCommand{Registry: reg, Prefix: d.Prefix},
		&DiagCommand{Collect: d.Diag},
	} {
		RegisterCommand(reg, c, mws...)
	}
}
