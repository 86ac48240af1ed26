// Command stepflow runs YAML workflows and inspects their recorded sessions.
//
// Sessions are persisted under state.base_dir as append-only history files,
// so a failed run can be resumed with --resume and any past state can be
// printed with the replay command.
package main
