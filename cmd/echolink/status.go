package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/echolink/internal/control"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show monitor state",
		Long: `Displays the running monitor's state, counters and the latest event.

If a local daemon is running, the request is sent over its control socket.
Pass --server to target a daemon directly over TCP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addClientFlags(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	conn, transport, err := dialDaemon(cmd, v)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("timeout"))
	defer cancel()
	st, err := control.NewClient(conn).Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(st.AsMap(), "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(enc))
		return nil
	}
	printStatus(cmd.OutOrStdout(), st, transport)
	return nil
}

func printStatus(out io.Writer, st *structpb.Struct, transport string) {
	f := st.GetFields()
	mon := f["monitor"].GetStructValue().GetFields()

	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", f["version"].GetStringValue())
	fmt.Fprintf(w, "Transport:\t%s\n", transport)
	fmt.Fprintf(w, "Uptime:\t%s\n", f["uptime"].GetStringValue())
	fmt.Fprintf(w, "State:\t%s\n", mon["state"].GetStringValue())
	fmt.Fprintf(w, "Source:\t%s (every %s, min %d chars)\n",
		mon["source"].GetStringValue(), mon["interval"].GetStringValue(), num(mon["min_text_length"]))
	if !mon["enabled"].GetBoolValue() {
		fmt.Fprintf(w, "Polling:\tdisabled\n")
	}
	fmt.Fprintf(w, "Processed:\t%d\n", num(mon["processed_count"]))
	fmt.Fprintf(w, "Duplicates:\t%d\n", num(mon["duplicates"]))
	fmt.Fprintf(w, "Too short:\t%d\n", num(mon["suppressed"]))
	fmt.Fprintf(w, "Failed polls:\t%d\n", num(mon["failures"]))
	if _, ok := mon["position"]; ok {
		fmt.Fprintf(w, "File offset:\t%d\n", num(mon["position"]))
	}
	if ts := mon["last_emit_at"].GetStringValue(); ts != "" {
		fmt.Fprintf(w, "Last emitted:\t%s\n", fmtStamp(ts))
	}
	if e := mon["last_error"].GetStringValue(); e != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", e)
	}

	if sinks := f["sinks"].GetListValue(); sinks != nil {
		names := make([]string, 0, len(sinks.GetValues()))
		for _, s := range sinks.GetValues() {
			names = append(names, s.GetStringValue())
		}
		if len(names) == 0 {
			names = append(names, "none")
		}
		fmt.Fprintf(w, "Sinks:\t%s (%d events published)\n", strings.Join(names, ", "), num(f["received"]))
	}
	if sp := f["speaker"].GetStructValue().GetFields(); sp != nil {
		fmt.Fprintf(w, "Speech:\t%d spoken, %d failed, %d dropped, %d queued\n",
			num(sp["spoken"]), num(sp["failed"]), num(sp["dropped"]), num(sp["queued"]))
		if p := sp["last_file"].GetStringValue(); p != "" {
			fmt.Fprintf(w, "Last audio:\t%s\n", p)
		}
	}
	if ev := f["latest"].GetStructValue().GetFields(); ev != nil {
		fmt.Fprintf(w, "Latest:\t%s from %s, %d chars, %s\n",
			ev["id"].GetStringValue(), ev["source"].GetStringValue(),
			num(ev["chars"]), fmtStamp(ev["observed_at"].GetStringValue()))
	}
	_ = w.Flush()
}

func num(v *structpb.Value) int64 { return int64(v.GetNumberValue()) }

func fmtStamp(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("15:04:05"), fmtAge(t))
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
