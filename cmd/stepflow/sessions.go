package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/stepflow/config"
	"github.com/BaSui01/stepflow/workflow/state"
	"go.uber.org/zap"
)

// =============================================================================
// 🗂️ sessions / replay 命令
// =============================================================================

// stringList 可重复的字符串参数
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseTimeFlag 接受 RFC3339 或 YYYY-MM-DD（本地时区）
func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// openRepository 打开配置中的文件仓库，只读命令不需要 Store 之外的组件
func openRepository(cfg *config.Config) (*state.FileRepository, error) {
	logger, _ := initLogger(cfg.Log)
	return state.NewFileRepository(cfg.State.BaseDir, logger.With(zap.String("command", "sessions")))
}

func runSessions(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: stepflow sessions <list|show> [options]")
	}
	switch args[0] {
	case "list":
		return runSessionsList(ctx, args[1:], out)
	case "show":
		return runSessionsShow(ctx, args[1:], out)
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", args[0])
	}
}

func runSessionsList(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sessions list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Path to config file")
	workflowName := fs.String("workflow", "", "Only sessions of this workflow")
	status := fs.String("status", "", "Only sessions with this status")
	since := fs.String("since", "", "Started at or after (RFC3339 or YYYY-MM-DD)")
	until := fs.String("until", "", "Started at or before (RFC3339 or YYYY-MM-DD)")
	limit := fs.Int("limit", 0, "Maximum number of sessions")
	asJSON := fs.Bool("json", false, "Print JSON")
	var tags stringList
	fs.Var(&tags, "tag", "Require tag (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter, err := buildFilter(*workflowName, *status, *since, *until, tags, *limit)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}

	sessions, err := repo.ListSessions(ctx, filter)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, sessions)
	}
	printSessionTable(out, sessions)
	return nil
}

// buildFilter 校验命令行参数并构建会话过滤条件
func buildFilter(workflowName, status, since, until string, tags []string, limit int) (state.SessionFilter, error) {
	filter := state.SessionFilter{
		WorkflowName: workflowName,
		Status:       state.WorkflowStatus(status),
		Tags:         tags,
		Limit:        limit,
	}
	switch filter.Status {
	case "", state.WorkflowPending, state.WorkflowRunning, state.WorkflowCompleted,
		state.WorkflowFailed, state.WorkflowCancelled:
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}
	if limit < 0 {
		return filter, fmt.Errorf("limit must not be negative")
	}

	var err error
	if filter.Since, err = parseTimeFlag(since); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTimeFlag(until); err != nil {
		return filter, err
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return filter, fmt.Errorf("--until is before --since")
	}
	return filter, nil
}

func printSessionTable(out io.Writer, sessions []state.SessionSummary) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tWORKFLOW\tSTATUS\tSTARTED\tSTEPS\tTAGS")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			s.SessionID, s.WorkflowName, s.Status,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.CompletedSteps, s.StepCount, strings.Join(s.Tags, ","))
	}
	_ = tw.Flush()
}

func runSessionsShow(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sessions show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Path to config file")
	asJSON := fs.Bool("json", false, "Print the full state as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: stepflow sessions show [options] <session-id>")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}

	st, err := repo.Load(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, st)
	}
	printState(out, st)
	return nil
}

func runReplay(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Path to config file")
	stepName := fs.String("step", "", "Return the earliest state containing this step")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: stepflow replay [--step name] <session-id>")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}

	store := state.NewStore(repo, storeConfig(cfg.State))
	st, err := store.Replay(ctx, fs.Arg(0), *stepName)
	if err != nil {
		return err
	}
	return writeJSON(out, st)
}

// printState 打印会话概要与步骤表
func printState(out io.Writer, st *state.WorkflowState) {
	fmt.Fprintf(out, "Session:  %s\n", st.SessionID)
	fmt.Fprintf(out, "Workflow: %s\n", st.WorkflowName)
	fmt.Fprintf(out, "Status:   %s\n", st.Status)
	fmt.Fprintf(out, "Started:  %s\n", st.StartedAt.Local().Format(time.RFC3339))
	if st.CompletedAt != nil {
		fmt.Fprintf(out, "Finished: %s (%s)\n",
			st.CompletedAt.Local().Format(time.RFC3339),
			st.CompletedAt.Sub(st.StartedAt).Round(time.Millisecond))
	}
	if st.Metadata.ResumedFrom != "" {
		fmt.Fprintf(out, "Resumed:  %s\n", st.Metadata.ResumedFrom)
	}
	if len(st.Metadata.Tags) > 0 {
		fmt.Fprintf(out, "Tags:     %s\n", strings.Join(st.Metadata.Tags, ","))
	}
	if st.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", st.Error)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTEP\tSTATUS\tDURATION\tMESSAGES\tERROR")
	for _, step := range st.Steps {
		duration := "-"
		if step.CompletedAt != nil && !step.StartedAt.IsZero() {
			duration = step.CompletedAt.Sub(step.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			step.Index, step.Name, step.Status, duration, len(step.Transcript), step.Error)
	}
	_ = tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
