package main

import (
	"context"
	"fmt"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/lithammer/shortuuid/v4"
	"github.com/spf13/cobra"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/limiter"
	"github.com/hrygo/intentgate/ai/observability/logging"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one message against the configured store and backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		caller, _ := cmd.Flags().GetString("caller")
		tz, _ := cmd.Flags().GetString("tz")
		id, _ := cmd.Flags().GetString("id")
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("--text is required")
		}
		if id == "" {
			id = "cli:" + shortuuid.New()
		}

		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}
		// Keep stdout for the result.
		logger := logging.Setup(instanceProfile.Mode, "error")

		ctx := context.Background()
		g, err := newGateway(ctx, instanceProfile, logger)
		if err != nil {
			return err
		}
		defer g.store.Close()

		msg := &ai.IncomingMessage{ID: id, CallerID: caller, Text: text, Timestamp: time.Now()}
		res, classifyErr := g.ensemble.Classify(ctx, msg, tz)
		printResult(cmd.OutOrStdout(), msg, res, classifyErr)

		if usage, err := g.limiter.Snapshot(ctx, caller); err == nil {
			printUsage(cmd.OutOrStdout(), usage)
		}
		if errors.Is(classifyErr, ai.ErrAllBackendsFailed) {
			return nil
		}
		return classifyErr
	},
}

func init() {
	classifyCmd.Flags().String("text", "", "message text")
	classifyCmd.Flags().String("caller", "cli", "caller id charged for the call")
	classifyCmd.Flags().String("tz", "", "caller IANA timezone, e.g. Asia/Shanghai")
	classifyCmd.Flags().String("id", "", "message id; a random id is used when empty")
}

func printResult(w io.Writer, msg *ai.IncomingMessage, res *ai.Result, err error) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", bold("message:"), msg.ID)

	status := statusColor(res.Status).Sprint(res.Status)
	if res.Reason != "" {
		status += " (" + res.Reason + ")"
	}
	fmt.Fprintf(w, "%s %s\n", bold("status:"), status)
	fmt.Fprintf(w, "%s %s  %s %.2f  %s %s\n",
		bold("intent:"), color.CyanString(string(res.Intent)),
		bold("confidence:"), res.Confidence,
		bold("agreement:"), res.Agreement)
	if res.NeedsClarification {
		color.New(color.FgYellow).Fprintln(w, "needs clarification")
	}

	for _, v := range res.Votes {
		if v.Failed {
			fmt.Fprintf(w, "  %s %-12s %s (%dms)\n", color.RedString("x"), v.Backend, v.Error, v.LatencyMs)
			continue
		}
		fmt.Fprintf(w, "  %s %-12s %s %.2f (%dms)\n", color.GreenString("v"), v.Backend, v.Intent, v.Confidence, v.LatencyMs)
	}
	if err != nil {
		fmt.Fprintf(w, "%s %v\n", color.RedString("error:"), err)
	}
}

func printUsage(w io.Writer, u *limiter.Usage) {
	fmt.Fprintf(w, "usage: day %d/%d  hour %d/%d  caller %d/%d\n",
		u.Daily, u.DailyLimit, u.Hourly, u.HourlyLimit, u.Caller, u.CallerDailyLimit)
}

func statusColor(s ai.Status) *color.Color {
	switch s {
	case ai.StatusClassified, ai.StatusCached:
		return color.New(color.FgGreen)
	case ai.StatusDuplicate, ai.StatusStale, ai.StatusLimited:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
