package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/cron"
	"github.com/nextlevelbuilder/oxicrab-gw/pkg/protocol"
)

// cronCmd manages scheduled jobs directly against the on-disk job store, no
// running gateway required. The gateway reads that file only when it opens
// its store at startup, so a gateway that is already running does not see
// changes made here.
func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd())
	cmd.AddCommand(cronDisableCmd())
	return cmd
}

func openCronStore() (*cron.Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	store, err := cron.NewStore(filepath.Join(dir, "cron", "jobs.json"))
	if err != nil {
		return nil, infraError("open cron store: %w", err)
	}
	return store, nil
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpCronList)
			store, err := openCronStore()
			if err != nil {
				return err
			}
			jobs := store.List()
			if len(jobs) == 0 {
				fmt.Println("no scheduled jobs")
				return nil
			}
			for _, j := range jobs {
				status := "enabled"
				if !j.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s\t%s\t%s\t%s\truns=%d\n", j.ID, j.Name, status, j.Schedule.Kind, j.RunCount)
			}
			return nil
		},
	}
}

func cronAddCmd() *cobra.Command {
	var (
		name     string
		every    string
		cronExpr string
		channel  string
		chatID   string
		message  string
		agent    bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpCronAdd)
			if message == "" {
				return userError("--message is required")
			}
			if channel == "" || chatID == "" {
				return userError("--channel and --chat-id are required")
			}

			sched := cron.Schedule{}
			switch {
			case every != "":
				d, err := time.ParseDuration(every)
				if err != nil {
					return userError("invalid --every: %w", err)
				}
				sched.Kind = cron.ScheduleEvery
				sched.EveryMs = d.Milliseconds()
			case cronExpr != "":
				sched.Kind = cron.ScheduleCron
				sched.Expr = cronExpr
			default:
				return userError("one of --every or --cron is required")
			}

			payloadKind := cron.PayloadEcho
			if agent {
				payloadKind = cron.PayloadAgentTurn
			}

			store, err := openCronStore()
			if err != nil {
				return err
			}
			job := &cron.Job{
				ID:      uuid.NewString(),
				Name:    name,
				Enabled: true,
				Targets: []cron.Target{{Channel: channel, ChatID: chatID}},
				Schedule: sched,
				Payload:  cron.Payload{Kind: payloadKind, Message: message},
			}
			if err := store.Put(job); err != nil {
				return infraError("save job: %w", err)
			}
			fmt.Println(job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&every, "every", "", "fire every duration (e.g. 30m, 1h)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression")
	cmd.Flags().StringVar(&channel, "channel", "", "delivery channel")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "delivery chat id")
	cmd.Flags().StringVar(&message, "message", "", "echo text, or the agent prompt with --agent")
	cmd.Flags().BoolVar(&agent, "agent", false, "run the message through the agent instead of echoing it verbatim")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpCronRemove)
			store, err := openCronStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return infraError("remove job: %w", err)
			}
			return nil
		},
	}
}

func setCronEnabled(jobID string, enabled bool) error {
	store, err := openCronStore()
	if err != nil {
		return err
	}
	job, ok := store.Get(jobID)
	if !ok {
		return userError("no such job %q", jobID)
	}
	job.Enabled = enabled
	if err := store.Put(job); err != nil {
		return infraError("save job: %w", err)
	}
	return nil
}

func cronEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <job-id>",
		Short: "Enable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logOp(protocol.OpCronEnable)
			return setCronEnabled(args[0], true)
		},
	}
}

func cronDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <job-id>",
		Short: "Disable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setCronEnabled(args[0], false)
		},
	}
}
